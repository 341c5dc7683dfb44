package cache

import (
	"fmt"
	"io/fs"
	"strings"
	"time"
)

// ExpireBy 决定 TTL 以哪个时间戳为起点。
type ExpireBy string

const (
	// ExpireByAccess 使用最后访问时间；平台无法提供 atime 时显式回退到修改时间。
	ExpireByAccess ExpireBy = "access"
	// ExpireByModified 始终使用修改时间。
	ExpireByModified ExpireBy = "modified"
)

// ParseExpireBy 规范化配置值，空字符串视为 access。
func ParseExpireBy(raw string) (ExpireBy, error) {
	switch ExpireBy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ExpireByAccess:
		return ExpireByAccess, nil
	case ExpireByModified:
		return ExpireByModified, nil
	default:
		return "", fmt.Errorf("unsupported expire clock: %s", raw)
	}
}

// AccessTimeSupported 表示当前平台能否读取 atime。
func AccessTimeSupported() bool {
	return accessTimeSupported
}

// expiryClock 判断条目是否超过 TTL。ttl <= 0 表示永不过期。
type expiryClock struct {
	ttl time.Duration
	by  ExpireBy
	now func() time.Time
}

func (c expiryClock) enabled() bool {
	return c.ttl > 0
}

// reference 返回计算年龄的起点时间。
func (c expiryClock) reference(info fs.FileInfo) time.Time {
	if c.by == ExpireByAccess {
		if atime, ok := accessTime(info); ok {
			return atime
		}
	}
	return info.ModTime()
}

func (c expiryClock) expired(info fs.FileInfo) bool {
	if !c.enabled() {
		return false
	}
	return c.now().Sub(c.reference(info)) > c.ttl
}

// expiredAt 用于内存后端，直接比较时间戳。
func (c expiryClock) expiredAt(ref time.Time) bool {
	if !c.enabled() {
		return false
	}
	return c.now().Sub(ref) > c.ttl
}
