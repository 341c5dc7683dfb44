package cache

import (
	"bufio"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// atomicWriter 把字节写入临时文件，Close 时先关闭文件句柄再 rename 到规范路径；
// 空文件直接删除。无论成功与否，写入登记都只释放一次，重复 Close 返回第一次的结果。
type atomicWriter struct {
	file     *os.File
	buf      *bufio.Writer
	tempPath string
	destPath string
	logger   logrus.FieldLogger
	release  func()
	onCommit func(size int64)

	writeErr error
	once     sync.Once
	closeErr error
}

func newAtomicWriter(destPath string, logger logrus.FieldLogger, release func(), onCommit func(int64)) (*atomicWriter, error) {
	tempPath := TempPath(destPath)
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, ioError("create_temp", tempPath, err)
	}
	return &atomicWriter{
		file:     file,
		buf:      bufio.NewWriterSize(file, 32*1024),
		tempPath: tempPath,
		destPath: destPath,
		logger:   logger,
		release:  release,
		onCommit: onCommit,
	}, nil
}

func (w *atomicWriter) Write(p []byte) (int, error) {
	if w.writeErr != nil {
		return 0, w.writeErr
	}
	n, err := w.buf.Write(p)
	if err != nil {
		w.writeErr = ioError("write", w.tempPath, err)
		return n, w.writeErr
	}
	return n, nil
}

func (w *atomicWriter) Close() error {
	w.once.Do(func() {
		w.closeErr = w.finish()
	})
	return w.closeErr
}

func (w *atomicWriter) finish() error {
	defer w.release()

	flushErr := w.buf.Flush()
	closeErr := w.file.Close()

	// 写入或落盘失败时内容不完整，不能进入规范路径
	if err := errors.Join(w.writeErr, flushErr, closeErr); err != nil {
		w.removeTemp()
		return ioError("close", w.tempPath, err)
	}

	info, err := os.Stat(w.tempPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			w.logger.WithField("path", w.tempPath).Warn("cache_temp_vanished")
			return nil
		}
		w.removeTemp()
		return ioError("stat_temp", w.tempPath, err)
	}
	if info.Size() == 0 {
		w.removeTemp()
		return nil
	}

	if err := os.Rename(w.tempPath, w.destPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			w.logger.WithError(concurrencyError("rename", w.destPath, err)).Warn("cache_rename_raced")
			return nil
		}
		w.removeTemp()
		return ioError("rename", w.destPath, err)
	}
	if w.onCommit != nil {
		w.onCommit(info.Size())
	}
	return nil
}

func (w *atomicWriter) removeTemp() {
	if err := os.Remove(w.tempPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		w.logger.WithError(err).WithField("path", w.tempPath).Warn("cache_temp_remove_failed")
	}
}

// discardWriter 在重复写入时返回：丢弃全部字节，Close 无副作用。
type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

func (discardWriter) Close() error {
	return nil
}

// IsDiscard 判断 Writer 是否为重复写入时返回的丢弃型 Writer。
func IsDiscard(w io.Writer) bool {
	_, ok := w.(discardWriter)
	return ok
}

// Fill 把 r 的内容流式写入 w 并关闭 w，每个分块之间检查 ctx。
// 写入句柄即使在出错时也会完成 rename，调用方如不希望缓存部分结果，应在返回错误后显式 Purge。
func Fill(ctx context.Context, w io.WriteCloser, r io.Reader) (int64, error) {
	written, err := copyWithContext(ctx, w, r)
	closeErr := w.Close()
	if err == nil {
		err = closeErr
	}
	return written, err
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
