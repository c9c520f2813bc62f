package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, ".hypermerge", cfg.DataDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "default", cfg.RedisChannelPrefix)
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.File)
	assert.Equal(t, filepath.Join(".hypermerge", "hypermerge.db"), cfg.DatabasePath())
}

func TestLoad_DefaultFileInWorkingDir(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, DefaultConfigFileName, "data-dir: /var/lib/hm\nlog-format: json\n")

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/hm", cfg.DataDir)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, DefaultConfigFileName, cfg.File)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "custom.yaml", "data-dir: from-file\nredis-addr: file:6379\nlog-level: warn\n")
	t.Setenv("HYPERMERGE_REDIS_ADDR", "env:6379")

	v := New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, RegisterFlags(v, fs))
	require.NoError(t, fs.Parse([]string{"--log-level", "debug"}))

	cfg, err := Load(v, path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.DataDir, "file over default")
	assert.Equal(t, "env:6379", cfg.RedisAddr, "env over file")
	assert.Equal(t, "debug", cfg.LogLevel, "flag over file")
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"level.yaml":  "log-level: loud\n",
		"format.yaml": "log-format: xml\n",
		"prefix.yaml": "redis-addr: localhost:6379\nredis-channel-prefix: \"\"\n",
		"broken.yaml": "data-dir: [unterminated\n",
	} {
		_, err := Load(New(), writeFile(t, dir, name, content))
		assert.Error(t, err, name)
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{LogLevel: "warn", LogFormat: "json"}
	log := cfg.Logger(&buf)

	log.Info("hidden")
	log.Warn("shown", "doc", "abc")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"doc":"abc"`)
}
