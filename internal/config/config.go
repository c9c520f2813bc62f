// Package config loads hypermerge settings from a YAML file, HYPERMERGE_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DataDirKey            = "data-dir"
	RedisAddrKey          = "redis-addr"
	RedisChannelPrefixKey = "redis-channel-prefix"
	LogLevelKey           = "log-level"
	LogFormatKey          = "log-format"

	EnvPrefix             = "HYPERMERGE"
	DefaultConfigFileName = "hypermerge.yaml"
	DatabaseFileName      = "hypermerge.db"
)

// Config is the resolved configuration.
type Config struct {
	DataDir            string
	RedisAddr          string
	RedisChannelPrefix string
	LogLevel           string
	LogFormat          string

	// File is the config file that was read, or empty.
	File string
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(DataDirKey, ".hypermerge")
	v.SetDefault(RedisAddrKey, "")
	v.SetDefault(RedisChannelPrefixKey, "default")
	v.SetDefault(LogLevelKey, "info")
	v.SetDefault(LogFormatKey, "text")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// RegisterFlags adds the config flags to fs and binds them to v.
func RegisterFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	fs.String(DataDirKey, v.GetString(DataDirKey), "directory holding the change log")
	fs.String(RedisAddrKey, "", "Redis address for the event bus (empty disables it)")
	fs.String(RedisChannelPrefixKey, v.GetString(RedisChannelPrefixKey), "namespace for event bus channels")
	fs.String(LogLevelKey, v.GetString(LogLevelKey), "log level: debug, info, warn, error")
	fs.String(LogFormatKey, v.GetString(LogFormatKey), "log format: text or json")

	for _, key := range []string{DataDirKey, RedisAddrKey, RedisChannelPrefixKey, LogLevelKey, LogFormatKey} {
		if err := v.BindPFlag(key, fs.Lookup(key)); err != nil {
			return fmt.Errorf("bind flag %s: %w", key, err)
		}
	}
	return nil
}

// Load reads path, or DefaultConfigFileName in the working directory when
// path is empty, and resolves the configuration. A missing default file is
// not an error; a missing explicit file is.
func Load(v *viper.Viper, path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFileName
	}

	var file string
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return Config{}, fmt.Errorf("config file %q is a directory", path)
	case err == nil:
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", path, err)
		}
		file = path
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("config file %q: %w", path, err)
	}

	cfg := Config{
		DataDir:            strings.TrimSpace(v.GetString(DataDirKey)),
		RedisAddr:          strings.TrimSpace(v.GetString(RedisAddrKey)),
		RedisChannelPrefix: strings.TrimSpace(v.GetString(RedisChannelPrefixKey)),
		LogLevel:           strings.ToLower(strings.TrimSpace(v.GetString(LogLevelKey))),
		LogFormat:          strings.ToLower(strings.TrimSpace(v.GetString(LogFormatKey))),
		File:               file,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", c.LogFormat)
	}
	if c.DataDir == "" {
		return fmt.Errorf("%s must not be empty", DataDirKey)
	}
	if c.RedisAddr != "" && c.RedisChannelPrefix == "" {
		return fmt.Errorf("%s must not be empty when %s is set", RedisChannelPrefixKey, RedisAddrKey)
	}
	return nil
}

// DatabasePath is the change log file inside DataDir.
func (c Config) DatabasePath() string {
	return filepath.Join(c.DataDir, DatabaseFileName)
}

// Logger builds a slog logger writing to w.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
