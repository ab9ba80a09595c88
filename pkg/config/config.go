// Package config loads server settings from defaults, an optional config
// file, and PANELFLOW_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved server configuration.
type Config struct {
	// Listen is the address the websocket server binds to.
	Listen string `mapstructure:"listen"`
	// DocsDir is the root directory of the document library.
	DocsDir string `mapstructure:"docs_dir"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`

	Cache  CacheConfig  `mapstructure:"cache"`
	Policy PolicyConfig `mapstructure:"policy"`
	Trace  TraceConfig  `mapstructure:"trace"`
}

// CacheConfig selects and tunes the result cache backend.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend string `mapstructure:"backend"`
	// RedisURL is a redis:// connection URL, used when Backend is redis.
	RedisURL string `mapstructure:"redis_url"`
	// TTL is the default time-to-live for cached command results.
	TTL time.Duration `mapstructure:"ttl"`
}

// PolicyConfig points at the access-control policy file.
type PolicyConfig struct {
	// File is a YAML policy with allow/deny lists and redaction rules.
	// Empty means no command restrictions.
	File string `mapstructure:"file"`
}

// TraceConfig controls the JSONL audit trail.
type TraceConfig struct {
	// Path is the audit file; empty disables tracing.
	Path string `mapstructure:"path"`
}

// Load reads configuration. cfgFile may be empty, in which case
// panelflow.yaml is searched in the working directory and ~/.panelflow/.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen", ":8422")
	v.SetDefault("docs_dir", "docs")
	v.SetDefault("log_level", "info")
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_url", "redis://localhost:6379/0")
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("policy.file", "")
	v.SetDefault("trace.path", "")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("panelflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.panelflow")
	}

	v.SetEnvPrefix("PANELFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
