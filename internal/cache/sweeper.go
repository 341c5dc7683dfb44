package cache

import (
	"context"
	"io/fs"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultMinCleanableAge 是清扫器的默认最小年龄，更年轻的文件可能仍在写入中。
const DefaultMinCleanableAge = 10 * time.Minute

// sweeper 删除孤立的临时文件与零字节文件，但只处理修改时间早于 minAge 的文件，
// 避免与仍在写入的 atomicWriter 竞争。
type sweeper struct {
	minAge time.Duration
	now    func() time.Time
	logger logrus.FieldLogger
}

func (s sweeper) cleanable(info fs.FileInfo) bool {
	if !IsTempFile(info.Name()) && info.Size() != 0 {
		return false
	}
	return s.now().Sub(info.ModTime()) > s.minAge
}

func (s sweeper) sweep(ctx context.Context, roots []string) (SweepResult, error) {
	var result SweepResult
	for _, root := range roots {
		err := walkFiles(ctx, root, s.logger, func(path string, info fs.FileInfo) {
			result.Scanned++
			if !s.cleanable(info) {
				return
			}
			if err := removeFile(path); err != nil {
				result.Failed++
				s.logger.WithError(err).WithField("path", path).Warn("cache_sweep_remove_failed")
				return
			}
			result.Deleted++
		})
		if err != nil {
			return result, err
		}
	}
	return result, nil
}
