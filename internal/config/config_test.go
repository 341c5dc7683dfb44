package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.ListenPort == 0 {
		t.Fatalf("ListenPort 应当被解析")
	}
	if !filepath.IsAbs(cfg.Cache.Root) {
		t.Fatalf("Root 应被转换为绝对路径，得到 %s", cfg.Cache.Root)
	}
	if cfg.Cache.TTL.DurationValue() != 24*time.Hour {
		t.Fatalf("TTL 解析错误: %s", cfg.Cache.TTL.DurationValue())
	}
	if cfg.Cache.MinCleanableAge.DurationValue() != 10*time.Minute {
		t.Fatalf("MinCleanableAge 解析错误: %s", cfg.Cache.MinCleanableAge.DurationValue())
	}
	if cfg.Cache.WorkerInterval.DurationValue() != time.Hour {
		t.Fatalf("WorkerInterval 解析错误: %s", cfg.Cache.WorkerInterval.DurationValue())
	}
}

func TestValidateRejectsMissingRoot(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")

	_, err := Load(cfgPath)
	if err == nil {
		t.Fatalf("缺少 Root 的配置应返回错误")
	}
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "Cache.Root" {
		t.Fatalf("应返回 Cache.Root 字段错误，得到 %v", err)
	}
}

func TestLoadAppliesCacheDefaults(t *testing.T) {
	path := writeTempConfig(t, `
[Cache]
Root = "./data"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Cache.Backend != "filesystem" {
		t.Fatalf("默认后端应为 filesystem，得到 %s", cfg.Cache.Backend)
	}
	if cfg.Cache.DirectoryDepth != 3 || cfg.Cache.DirectoryNameLength != 2 {
		t.Fatalf("目录分片默认值错误: %d/%d", cfg.Cache.DirectoryDepth, cfg.Cache.DirectoryNameLength)
	}
	if cfg.Cache.TTL.DurationValue() != 0 {
		t.Fatalf("TTL 默认应为 0（不过期）")
	}
	if cfg.Cache.ExpireBy != "access" {
		t.Fatalf("ExpireBy 默认应为 access，得到 %s", cfg.Cache.ExpireBy)
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestCacheBackendValidation(t *testing.T) {
	testCases := []struct {
		name      string
		backend   string
		root      string
		shouldErr bool
	}{
		{"filesystem ok", "filesystem", "./data", false},
		{"default backend", "", "./data", false},
		{"heap without root", "heap", "", false},
		{"filesystem without root", "filesystem", "", true},
		{"unsupported backend", "s3", "./data", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Cache.Backend = tc.backend
			cfg.Cache.Root = tc.root
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for backend %q", tc.backend)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for backend %q: %v", tc.backend, err)
			}
		})
	}
}

func TestValidateRejectsOversizedSharding(t *testing.T) {
	cfg := validConfig()
	cfg.Cache.DirectoryDepth = 9
	cfg.Cache.DirectoryNameLength = 4
	if err := cfg.Validate(); err == nil {
		t.Fatalf("分片层级超过摘要长度时应报错")
	}
}

func TestValidateRejectsUnknownExpireBy(t *testing.T) {
	cfg := validConfig()
	cfg.Cache.ExpireBy = "created"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("未知 ExpireBy 应报错")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort: 5000,
			LogLevel:   "info",
		},
		Cache: CacheConfig{
			Backend:             "filesystem",
			Root:                "./data",
			DirectoryDepth:      3,
			DirectoryNameLength: 2,
			TTL:                 Duration(time.Hour),
			MinCleanableAge:     MillisDuration(10 * time.Minute),
			ExpireBy:            "access",
		},
	}
}
