package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("ANY_IMGCACHE_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" {
		t.Fatalf("flag 应高于环境变量，得到 %s", opts.configPath)
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "valid.toml"), checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "missing.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
}

func TestRunVersionOutput(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "imgcache") {
		t.Fatalf("version 输出应包含 imgcache 标识")
	}
}

func TestParseCLIFlagsMaintenance(t *testing.T) {
	t.Setenv("ANY_IMGCACHE_CONFIG", "")

	opts, err := parseCLIFlags([]string{"--purge", "cats", "--sweep"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.purgeID != "cats" || !opts.sweep || opts.purgeAll {
		t.Fatalf("维护参数解析错误: %+v", opts)
	}
	if !opts.maintenanceMode() {
		t.Fatalf("应进入维护模式")
	}
	if opts.configPath != "config.toml" {
		t.Fatalf("默认配置路径应为 config.toml，得到 %s", opts.configPath)
	}
}

func TestRunPurgeIdentifier(t *testing.T) {
	useBufferWriters(t)
	root := filepath.Join(t.TempDir(), "cache")
	configPath := writeFilesystemConfig(t, root)

	source := filepath.Join(root, "source")
	code := run(cliOptions{configPath: configPath, sweep: true})
	if code != 0 {
		t.Fatalf("sweep 应成功，得到 %d: %s", code, stdErrBuffer().String())
	}
	if _, err := os.Stat(source); err != nil {
		t.Fatalf("缓存区域目录应已创建: %v", err)
	}

	code = run(cliOptions{configPath: configPath, purgeID: "cats", purgeAll: true})
	if code != 0 {
		t.Fatalf("purge 应成功，得到 %d: %s", code, stdErrBuffer().String())
	}
}

func TestRunRejectsUnknownBackend(t *testing.T) {
	useBufferWriters(t)
	configPath := writeConfigFile(t, `
[Cache]
Backend = "s3"
Root = "/tmp/imgcache"
`)
	code := run(cliOptions{configPath: configPath, checkOnly: true})
	if code == 0 {
		t.Fatalf("未知后端应返回非零退出码")
	}
	if !strings.Contains(stdErrBuffer().String(), "Backend") {
		t.Fatalf("错误信息应指出 Backend 字段: %s", stdErrBuffer().String())
	}
}
