package cache

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// Worker 定期执行 PurgeExpired 与 Sweep。interval <= 0 时 Run 立即返回。
type Worker struct {
	provider Provider
	interval time.Duration
	logger   logrus.FieldLogger
}

// NewWorker 构造后台维护任务。
func NewWorker(provider Provider, interval time.Duration, logger logrus.FieldLogger) *Worker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Worker{provider: provider, interval: interval, logger: logger}
}

// Run 阻塞直到 ctx 结束，单轮失败只记录日志。
func (w *Worker) Run(ctx context.Context) error {
	if w.interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.WithError(err).WithField("action", "cache_worker").Warn("cache_worker_failed")
			}
		}
	}
}

// RunOnce 执行一轮维护：先清理过期条目，再清扫临时文件。
func (w *Worker) RunOnce(ctx context.Context) error {
	c, err := w.provider.Cache()
	if err != nil {
		return err
	}
	if err := c.PurgeExpired(ctx); err != nil {
		return err
	}
	result, err := c.Sweep(ctx)
	if err != nil {
		return err
	}
	w.logger.WithFields(logrus.Fields{
		"action":  "cache_worker",
		"backend": c.Name(),
		"swept":   result.Deleted,
	}).Debug("cache_worker_round")
	return nil
}
