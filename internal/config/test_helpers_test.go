package config

import (
	"os"
	"path/filepath"
	"testing"
)

// testConfigPath 返回 testdata 下的固定配置文件路径。
func testConfigPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join("testdata", name)
}

// writeCacheConfig 生成只包含 [Cache] 表的最小配置，extra 追加在表内。
func writeCacheConfig(t *testing.T, backend, extra string) string {
	t.Helper()
	return writeTempConfig(t, "[Cache]\nBackend = \""+backend+"\"\n"+extra)
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}
