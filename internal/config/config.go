// Package config loads the doctor engine configuration from file and
// environment. Defaults mirror the engine's built-in defaults so a missing
// config file yields a fully working setup.
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// EngineConfig is the full tuning surface of the diagnostic engine.
type EngineConfig struct {
	// Executor
	CheckTimeout   time.Duration `mapstructure:"check_timeout"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	RateLimit      float64       `mapstructure:"rate_limit"`

	// Circuit breaker
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`

	// Result cache
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	CacheMaxSize int           `mapstructure:"cache_max_size"`

	// Resource limits
	MaxMemoryMB int           `mapstructure:"max_memory_mb"`
	MaxCPUTime  time.Duration `mapstructure:"max_cpu_time"`

	// Paths
	DatabasePath string `mapstructure:"database_path"`
	DataDir      string `mapstructure:"data_dir"`
	BackupDir    string `mapstructure:"backup_dir"`
	ConfigPath   string `mapstructure:"config_path"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration from the given file (optional) and the
// ARCHIVIO_DOCTOR_* environment, applying engine defaults for anything
// unset. An empty path skips the file and uses defaults plus environment.
func Load(path string) (*EngineConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ARCHIVIO_DOCTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	var cfg EngineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("check_timeout", 30*time.Second)
	v.SetDefault("max_concurrency", 2)
	v.SetDefault("rate_limit", 0)
	v.SetDefault("failure_threshold", 3)
	v.SetDefault("reset_timeout", 30*time.Second)
	v.SetDefault("cache_ttl", 5*time.Minute)
	v.SetDefault("cache_max_size", 100)
	v.SetDefault("max_memory_mb", 2048)
	v.SetDefault("max_cpu_time", 10*time.Minute)
	v.SetDefault("database_path", "data/archivio.db")
	v.SetDefault("data_dir", "data")
	v.SetDefault("backup_dir", "backups")
	v.SetDefault("config_path", "config/archivio.yaml")
	v.SetDefault("log_level", "info")
}
