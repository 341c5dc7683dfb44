package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	defaultDirectoryDepth      = 3
	defaultDirectoryNameLength = 2
	defaultMinCleanableAge     = 10 * time.Minute
	defaultHeapMaxSize         = 256 * 1024 * 1024
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyCacheDefaults(&cfg.Cache)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Cache.UsesFilesystem() {
		absRoot, err := filepath.Abs(cfg.Cache.Root)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Cache.Root = absRoot
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("Cache.Backend", "filesystem")
	v.SetDefault("Cache.DirectoryDepth", defaultDirectoryDepth)
	v.SetDefault("Cache.DirectoryNameLength", defaultDirectoryNameLength)
	v.SetDefault("Cache.TTL", 0)
	v.SetDefault("Cache.MinCleanableAge", "10m")
	v.SetDefault("Cache.ExpireBy", "access")
	v.SetDefault("Cache.WorkerInterval", 0)
	v.SetDefault("Cache.HeapMaxSize", defaultHeapMaxSize)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if strings.TrimSpace(g.LogLevel) == "" {
		g.LogLevel = "info"
	}
}

func applyCacheDefaults(c *CacheConfig) {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = "filesystem"
	}
	if c.DirectoryDepth == 0 {
		c.DirectoryDepth = defaultDirectoryDepth
	}
	if c.DirectoryNameLength == 0 {
		c.DirectoryNameLength = defaultDirectoryNameLength
	}
	if c.MinCleanableAge.DurationValue() == 0 {
		c.MinCleanableAge = MillisDuration(defaultMinCleanableAge)
	}
	c.ExpireBy = strings.ToLower(strings.TrimSpace(c.ExpireBy))
	if c.ExpireBy == "" {
		c.ExpireBy = "access"
	}
	if c.HeapMaxSize == 0 {
		c.HeapMaxSize = defaultHeapMaxSize
	}
}

// durationDecodeHook 解析 Duration 与 MillisDuration 字段：字符串优先按 Go Duration 解析，
// 纯数字分别以秒、毫秒为单位。
func durationDecodeHook() mapstructure.DecodeHookFunc {
	secondsType := reflect.TypeOf(Duration(0))
	millisType := reflect.TypeOf(MillisDuration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		switch to {
		case secondsType:
			d, err := decodeDuration(data, time.Second)
			if err != nil {
				return nil, err
			}
			return Duration(d), nil
		case millisType:
			d, err := decodeDuration(data, time.Millisecond)
			if err != nil {
				return nil, err
			}
			return MillisDuration(d), nil
		default:
			return data, nil
		}
	}
}

func decodeDuration(data interface{}, unit time.Duration) (time.Duration, error) {
	switch v := data.(type) {
	case string:
		if v == "" {
			return 0, nil
		}
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed, nil
		}
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(n * float64(unit)), nil
		}
		return 0, fmt.Errorf("无法解析 Duration 字段: %s", v)
	case int:
		return time.Duration(v) * unit, nil
	case int64:
		return time.Duration(v) * unit, nil
	case float64:
		return time.Duration(v * float64(unit)), nil
	case time.Duration:
		return v, nil
	case Duration:
		return time.Duration(v), nil
	case MillisDuration:
		return time.Duration(v), nil
	default:
		return 0, fmt.Errorf("不支持的 Duration 类型: %T", v)
	}
}
