package cache

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// walkFiles 遍历 root 下的全部普通文件。单个条目出错只记录日志并继续，
// 只有 ctx 结束才会中断遍历；root 不存在视为空目录。
func walkFiles(ctx context.Context, root string, logger logrus.FieldLogger, fn func(path string, info fs.FileInfo)) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			logger.WithError(err).WithField("path", path).Warn("cache_walk_failed")
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				logger.WithError(err).WithField("path", path).Warn("cache_stat_failed")
			}
			return nil
		}
		fn(path, info)
		return nil
	})
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return err
	}
	return nil
}

// removeFile 删除单个文件，已不存在视为成功。
func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
