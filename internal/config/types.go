package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// MillisDuration 与 Duration 相同，但纯数字按毫秒解析。
type MillisDuration time.Duration

// UnmarshalText 接受 Go Duration 字符串或纯数字毫秒值。
func (d *MillisDuration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = MillisDuration(0)
		return nil
	}
	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = MillisDuration(parsed)
		return nil
	}
	if intVal, err := parseInt(raw); err == nil {
		*d = MillisDuration(time.Duration(intVal) * time.Millisecond)
		return nil
	}
	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration。
func (d MillisDuration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行参数：管理端口与日志。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
}

// CacheConfig 描述缓存后端。字段均可比较，Selector 依赖 == 判断配置是否变化。
type CacheConfig struct {
	// Backend 取值 filesystem 或 heap。
	Backend string `mapstructure:"Backend"`
	// Root 下包含 source/、image/、info/ 三个区域目录。
	Root                string `mapstructure:"Root"`
	DirectoryDepth      int    `mapstructure:"DirectoryDepth"`
	DirectoryNameLength int    `mapstructure:"DirectoryNameLength"`
	// TTL 为 0 时条目永不过期。
	TTL Duration `mapstructure:"TTL"`
	// MinCleanableAge 以下的临时文件/空文件不会被清扫；纯数字单位为毫秒。
	MinCleanableAge MillisDuration `mapstructure:"MinCleanableAge"`
	// ExpireBy 取值 access 或 modified。
	ExpireBy       string   `mapstructure:"ExpireBy"`
	WorkerInterval Duration `mapstructure:"WorkerInterval"`
	HeapMaxSize    int64    `mapstructure:"HeapMaxSize"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Cache  CacheConfig  `mapstructure:"Cache"`
}

// UsesFilesystem 表示当前是否使用文件系统后端。
func (c CacheConfig) UsesFilesystem() bool {
	backend := strings.ToLower(strings.TrimSpace(c.Backend))
	return backend == "" || backend == "filesystem"
}
