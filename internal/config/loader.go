// Package config loads maintd configuration from defaults, an optional
// maintd.yaml, MAINTD_* environment variables, and runtime overrides,
// in increasing order of precedence.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Database DatabaseConfig
	Logging  LoggingConfig
	License  LicenseConfig
	Worker   WorkerConfig
	Server   ServerConfig
	Metrics  MetricsConfig
}

type DatabaseConfig struct {
	Path string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type LicenseConfig struct {
	Tier string
	// ExpiresAt is RFC 3339; empty means the license never expires.
	ExpiresAt string `mapstructure:"expires_at"`
}

// ExpiryTime parses ExpiresAt; the zero time means no expiry.
func (c LicenseConfig) ExpiryTime() (time.Time, error) {
	if strings.TrimSpace(c.ExpiresAt) == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, c.ExpiresAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse license.expires_at: %w", err)
	}
	return t, nil
}

type WorkerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type MetricsConfig struct {
	Enabled bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "maintd.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("license.tier", "community")
	v.SetDefault("license.expires_at", "")

	v.SetDefault("worker.poll_interval", 10*time.Second)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("metrics.enabled", true)
}

// Load resolves the effective configuration. Later overrides maps win
// over earlier ones, and all overrides win over file and env values.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	_ = ctx

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MAINTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("maintd")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/maintd")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	for _, o := range overrides {
		if err := v.MergeConfigMap(o); err != nil {
			return nil, fmt.Errorf("merge overrides: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if _, err := cfg.License.ExpiryTime(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
