package config

import (
	"errors"
	"strings"
)

var supportedBackends = map[string]struct{}{
	"filesystem": {},
	"heap":       {},
}

const supportedBackendList = "filesystem|heap"

// 十六进制 MD5 摘要共 32 个字符，分片层级不能超出。
const digestLength = 32

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}

	return c.Cache.Validate()
}

// Validate 校验缓存配置，错误以 FieldError 形式返回。
func (c CacheConfig) Validate() error {
	backend := strings.ToLower(strings.TrimSpace(c.Backend))
	if backend == "" {
		backend = "filesystem"
	}
	if _, ok := supportedBackends[backend]; !ok {
		return newFieldError(cacheField("Backend"), "仅支持 "+supportedBackendList)
	}

	if backend == "filesystem" {
		if strings.TrimSpace(c.Root) == "" {
			return newFieldError(cacheField("Root"), "不能为空")
		}
		if c.DirectoryDepth < 0 {
			return newFieldError(cacheField("DirectoryDepth"), "不能为负数")
		}
		if c.DirectoryNameLength < 0 {
			return newFieldError(cacheField("DirectoryNameLength"), "不能为负数")
		}
		if c.DirectoryDepth*c.DirectoryNameLength > digestLength {
			return newFieldError(cacheField("DirectoryDepth"), "DirectoryDepth × DirectoryNameLength 不能超过 32")
		}
	}
	if c.TTL.DurationValue() < 0 {
		return newFieldError(cacheField("TTL"), "不能为负数")
	}
	if c.MinCleanableAge.DurationValue() < 0 {
		return newFieldError(cacheField("MinCleanableAge"), "不能为负数")
	}
	if c.WorkerInterval.DurationValue() < 0 {
		return newFieldError(cacheField("WorkerInterval"), "不能为负数")
	}
	switch strings.ToLower(strings.TrimSpace(c.ExpireBy)) {
	case "", "access", "modified":
	default:
		return newFieldError(cacheField("ExpireBy"), "仅支持 access/modified")
	}
	if backend == "heap" && c.HeapMaxSize < 0 {
		return newFieldError(cacheField("HeapMaxSize"), "不能为负数")
	}
	return nil
}
