package cache

import (
	"errors"
	"fmt"
)

// Kind 区分错误的严重程度，调用方通过 errors.Is 匹配，而不是解析错误信息。
type Kind int

const (
	// KindIO 表示文件系统读写失败。读写路径上返回给调用方，best-effort 路径上只记录日志。
	KindIO Kind = iota
	// KindConfiguration 表示缺少必需配置，缓存无法初始化。
	KindConfiguration
	// KindConcurrency 表示并发异常（例如 rename 时临时文件已被并发删除），最终状态仍然合法。
	KindConcurrency
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindConcurrency:
		return "concurrency"
	default:
		return "io"
	}
}

// 与 Kind 对应的哨兵错误，供 errors.Is 使用。
var (
	ErrIO            = errors.New("cache io error")
	ErrConfiguration = errors.New("cache configuration error")
	ErrConcurrency   = errors.New("cache concurrency anomaly")
)

// CacheError 统一包装缓存层错误，Op/Path 便于日志定位。
type CacheError struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *CacheError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("cache %s (%s): %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("cache %s %s (%s): %v", e.Op, e.Path, e.Kind, e.Err)
}

func (e *CacheError) Unwrap() error {
	return e.Err
}

// Is 让 errors.Is(err, ErrIO) 等写法按 Kind 匹配。
func (e *CacheError) Is(target error) bool {
	switch target {
	case ErrIO:
		return e.Kind == KindIO
	case ErrConfiguration:
		return e.Kind == KindConfiguration
	case ErrConcurrency:
		return e.Kind == KindConcurrency
	}
	return false
}

func ioError(op, path string, err error) error {
	return &CacheError{Kind: KindIO, Op: op, Path: path, Err: err}
}

func configError(op string, err error) error {
	return &CacheError{Kind: KindConfiguration, Op: op, Err: err}
}

func concurrencyError(op, path string, err error) error {
	return &CacheError{Kind: KindConcurrency, Op: op, Path: path, Err: err}
}
