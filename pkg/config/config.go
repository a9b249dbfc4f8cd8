package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "ZFSMON"

// Config holds the application configuration
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`

	// Storage
	DBDriver     string        `mapstructure:"db_driver"`
	DBDSN        string        `mapstructure:"db_dsn"`
	MaxOpenConns int           `mapstructure:"db_max_open_conns"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`  // info or debug
	LogFormat string `mapstructure:"log_format"` // text or json

	MetricsEnabled bool `mapstructure:"metrics_enabled"`
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	return &Config{
		ListenAddr:     ":4567",
		DBDriver:       "sqlite",
		DBDSN:          "zfsmon.db",
		StaleAfter:     time.Hour,
		LogLevel:       "info",
		LogFormat:      "text",
		MetricsEnabled: true,
	}
}

// Load reads the configuration. Values come from, in increasing order of
// precedence: defaults, the config file, a .env file in the working
// directory and ZFSMON_* environment variables. An empty configFile looks
// for an optional config.yaml in the working directory and /etc/zfsmon.
func Load(configFile string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	defaults := NewConfig()
	v.SetDefault("listen_addr", defaults.ListenAddr)
	v.SetDefault("db_driver", defaults.DBDriver)
	v.SetDefault("db_dsn", defaults.DBDSN)
	v.SetDefault("db_max_open_conns", defaults.MaxOpenConns)
	v.SetDefault("stale_after", defaults.StaleAfter)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_format", defaults.LogFormat)
	v.SetDefault("metrics_enabled", defaults.MetricsEnabled)

	if err := readConfig(v, configFile); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readConfig binds ZFSMON_* variables and reads the config file into v
func readConfig(v *viper.Viper, configFile string) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/zfsmon")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Validate checks the configuration for values the server cannot run with
func (c *Config) Validate() error {
	var errs error
	if c.ListenAddr == "" {
		errs = multierr.Append(errs, errors.New("listen_addr is required"))
	}
	switch c.DBDriver {
	case "sqlite", "sqlite3":
	case "postgres":
		if c.DBDSN == "" || c.DBDSN == NewConfig().DBDSN {
			errs = multierr.Append(errs, errors.New("db_dsn is required for postgres"))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("unsupported db_driver %q", c.DBDriver))
	}
	if c.DBDSN == "" {
		errs = multierr.Append(errs, errors.New("db_dsn is required"))
	}
	if c.MaxOpenConns < 0 {
		errs = multierr.Append(errs, fmt.Errorf("db_max_open_conns must not be negative, got %d", c.MaxOpenConns))
	}
	if c.StaleAfter <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("stale_after must be positive, got %s", c.StaleAfter))
	}
	if c.LogLevel != "info" && c.LogLevel != "debug" {
		errs = multierr.Append(errs, fmt.Errorf("unsupported log_level %q", c.LogLevel))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = multierr.Append(errs, fmt.Errorf("unsupported log_format %q", c.LogFormat))
	}
	return errs
}

// IsDebug reports whether debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}
