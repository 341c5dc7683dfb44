package cache

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/imgcache/internal/config"
)

// Provider 返回当前生效的缓存实例，HTTP 层与后台任务只依赖该接口。
type Provider interface {
	Cache() (Cache, error)
}

// Selector 根据配置解析出具体后端，并在进程内共享同一个实例。
// 实例在首次调用 Cache() 时构造，Reload 在后端配置变化时丢弃旧实例。
type Selector struct {
	mu      sync.Mutex
	cfg     config.CacheConfig
	logger  logrus.FieldLogger
	metrics *Metrics
	current Cache
}

var _ Provider = (*Selector)(nil)

// NewSelector 保存配置，不立即构造后端。
func NewSelector(cfg config.CacheConfig, logger logrus.FieldLogger, metrics *Metrics) *Selector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Selector{cfg: cfg, logger: logger, metrics: metrics}
}

// Cache 返回共享实例，必要时按当前配置构造。
func (s *Selector) Cache() (Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return s.current, nil
	}
	c, err := New(s.cfg, s.logger, s.metrics)
	if err != nil {
		return nil, err
	}
	s.current = c
	s.logger.WithFields(logrus.Fields{
		"action":  "cache_select",
		"backend": c.Name(),
	}).Info("缓存后端已就绪")
	return c, nil
}

// Reload 替换配置；配置未变化时保留现有实例。
func (s *Selector) Reload(cfg config.CacheConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg == s.cfg {
		return
	}
	s.cfg = cfg
	s.current = nil
}

// Config 返回当前配置副本。
func (s *Selector) Config() config.CacheConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// New 按配置构造后端；未知后端返回 KindConfiguration 错误。
func New(cfg config.CacheConfig, logger logrus.FieldLogger, metrics *Metrics) (Cache, error) {
	expireBy, err := ParseExpireBy(cfg.ExpireBy)
	if err != nil {
		return nil, configError("select", err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendFilesystem:
		return NewFilesystemCache(FilesystemOptions{
			Root:                cfg.Root,
			DirectoryDepth:      cfg.DirectoryDepth,
			DirectoryNameLength: cfg.DirectoryNameLength,
			TTL:                 cfg.TTL.DurationValue(),
			ExpireBy:            expireBy,
			MinCleanableAge:     cfg.MinCleanableAge.DurationValue(),
			Logger:              logger,
			Metrics:             metrics,
		})
	case BackendHeap:
		return NewHeapCache(HeapOptions{
			MaxSize:  cfg.HeapMaxSize,
			TTL:      cfg.TTL.DurationValue(),
			ExpireBy: expireBy,
			Logger:   logger,
			Metrics:  metrics,
		}), nil
	default:
		return nil, configError("select", fmt.Errorf("unknown cache backend: %s", cfg.Backend))
	}
}
