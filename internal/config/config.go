// Package config loads keyshare settings from defaults, keyshare.yaml, the
// KEYSHARE_* environment and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sensiblebit/keyshare/internal/archive"
)

// Config is the resolved configuration.
type Config struct {
	LogLevel        string        `mapstructure:"log_level"`
	DB              string        `mapstructure:"db"`
	ContentTypes    []string      `mapstructure:"content_types"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	AccessTimeout   time.Duration `mapstructure:"access_timeout"`
	Archive         ArchiveConfig `mapstructure:"archive"`
	MetricsTextfile string        `mapstructure:"metrics_textfile"`
}

// ArchiveConfig bounds archive expansion.
type ArchiveConfig struct {
	MaxEntrySize  int64 `mapstructure:"max_entry_size"`
	MaxTotalSize  int64 `mapstructure:"max_total_size"`
	MaxEntryCount int   `mapstructure:"max_entry_count"`
	MaxRatio      int64 `mapstructure:"max_ratio"`
}

// Defaults returns the default settings keyed by configuration key.
func Defaults() map[string]any {
	limits := archive.DefaultLimits()
	return map[string]any{
		"log_level":               "info",
		"db":                      "",
		"content_types":           DefaultContentTypes(),
		"connect_timeout":         "5s",
		"fetch_timeout":           "10s",
		"access_timeout":          "5m",
		"archive.max_entry_size":  limits.MaxEntrySize,
		"archive.max_total_size":  limits.MaxTotalSize,
		"archive.max_entry_count": limits.MaxEntryCount,
		"archive.max_ratio":       limits.MaxDecompressionRatio,
		"metrics_textfile":        "",
	}
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"log-level":        "log_level",
	"db":               "db",
	"content-types":    "content_types",
	"metrics-textfile": "metrics_textfile",
}

// configDir returns the user or system configuration directory.
func configDir(system bool) (string, error) {
	if system {
		if runtime.GOOS == "windows" {
			return filepath.Join(os.Getenv("ProgramData"), "keyshare"), nil
		}
		return "/etc/keyshare", nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not get user config directory: %w", err)
	}
	return filepath.Join(dir, "keyshare"), nil
}

// Load resolves the configuration. A non-empty configFile must exist; the
// standard locations are optional. flags may be nil.
func Load(flags *pflag.FlagSet, configFile string) (Config, error) {
	v := viper.New()
	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	v.SetConfigName("keyshare")
	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	}
	if dir, err := configDir(false); err == nil {
		v.AddConfigPath(dir)
	}
	if dir, err := configDir(true); err == nil {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("keyshare")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("binding flag --%s: %w", name, err)
				}
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the enabled content types and archive limits.
func (c Config) Validate() error {
	for _, id := range c.ContentTypes {
		if _, ok := LookupContentType(id); !ok {
			return fmt.Errorf("content_types: unknown content type %q", id)
		}
	}
	if c.Archive.MaxEntrySize <= 0 || c.Archive.MaxTotalSize <= 0 || c.Archive.MaxEntryCount <= 0 || c.Archive.MaxRatio <= 0 {
		return errors.New("archive limits must be positive")
	}
	return nil
}

// ArchiveLimits returns the archive limits.
func (c Config) ArchiveLimits() archive.Limits {
	return archive.Limits{
		MaxDecompressionRatio: c.Archive.MaxRatio,
		MaxTotalSize:          c.Archive.MaxTotalSize,
		MaxEntryCount:         c.Archive.MaxEntryCount,
		MaxEntrySize:          c.Archive.MaxEntrySize,
	}
}
