// Package config loads and validates the application configuration from
// config file, environment variables, and defaults via Viper.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Default configuration values. Production safe.
const (
	DefaultServerAddress  = ":8080"
	DefaultReadTimeout    = 15 * time.Second
	DefaultWriteTimeout   = 15 * time.Second
	DefaultIdleTimeout    = 60 * time.Second
	DefaultStorageRoot    = "./data"
	DefaultRequestTimeout = 30 * time.Second
	DefaultRateLimit      = 1.0
	DefaultRateBurst      = 1
	DefaultMergePeriod    = 24 * time.Hour
	DefaultThreshold      = 0.9
	DefaultUserAgent      = "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:73.0) Gecko/20100101 Firefox/73.0"
)

var (
	// ErrMissingSubject is returned when no crawl subject is configured.
	ErrMissingSubject = errors.New("crawler.subject is required")
	// ErrNoSources is returned when no source namespace is enabled.
	ErrNoSources = errors.New("at least one source must be enabled")
	// ErrInvalidThreshold is returned for a similarity threshold outside (0, 1].
	ErrInvalidThreshold = errors.New("merger.similarity_threshold must be in (0, 1]")
	// ErrInvalidPeriod is returned for a non-positive merge period.
	ErrInvalidPeriod = errors.New("merger.period must be positive")
	// ErrInvalidSchedule is returned for an unparsable merger cron expression.
	ErrInvalidSchedule = errors.New("merger.schedule is not a valid cron expression")
	// ErrInvalidRateLimit is returned for a non-positive crawl rate limit.
	ErrInvalidRateLimit = errors.New("crawler.rate_limit must be positive")
)

// Config is the root application configuration.
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Logger  LoggerConfig  `mapstructure:"logger"`
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Merger  MergerConfig  `mapstructure:"merger"`
	// Initial field values per source namespace, applied before any values
	// persisted in the data directory.
	Sources map[string]map[string]string `mapstructure:"sources"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level string `mapstructure:"level"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address        string        `mapstructure:"address"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// StorageConfig holds record store settings.
type StorageConfig struct {
	Root string `mapstructure:"root"`
}

// CrawlerConfig holds crawl subsystem settings.
type CrawlerConfig struct {
	// Display name of the tracked author
	Subject string `mapstructure:"subject"`
	// Enabled source namespaces
	Sources        []string      `mapstructure:"sources"`
	UserAgent      string        `mapstructure:"user_agent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// Outbound requests per second
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// MergerConfig holds merge engine settings.
type MergerConfig struct {
	Period              time.Duration `mapstructure:"period"`
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	// Optional cron expression overriding the fixed period
	Schedule string `mapstructure:"schedule"`
}

// SetDefaults registers every default value on the given Viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app", map[string]any{
		"name":        "citehub",
		"environment": "production",
		"debug":       false,
	})

	v.SetDefault("logger", map[string]any{
		"level": "info",
	})

	v.SetDefault("server", map[string]any{
		"address":         DefaultServerAddress,
		"read_timeout":    DefaultReadTimeout.String(),
		"write_timeout":   DefaultWriteTimeout.String(),
		"idle_timeout":    DefaultIdleTimeout.String(),
		"allowed_origins": []string{"*"},
	})

	v.SetDefault("storage", map[string]any{
		"root": DefaultStorageRoot,
	})

	v.SetDefault("crawler", map[string]any{
		"sources":         []string{"scholar"},
		"user_agent":      DefaultUserAgent,
		"request_timeout": DefaultRequestTimeout.String(),
		"rate_limit":      DefaultRateLimit,
		"rate_burst":      DefaultRateBurst,
	})

	v.SetDefault("merger", map[string]any{
		"period":               DefaultMergePeriod.String(),
		"similarity_threshold": DefaultThreshold,
		"schedule":             "",
	})
}

// Load unmarshals and validates the configuration held by v. Defaults are
// applied first, so a Viper instance that read no file still yields a
// complete configuration.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the application cannot run
// with.
func (c *Config) Validate() error {
	if c.Crawler.Subject == "" {
		return ErrMissingSubject
	}
	if len(c.Crawler.Sources) == 0 {
		return ErrNoSources
	}
	if c.Crawler.RateLimit <= 0 {
		return ErrInvalidRateLimit
	}
	if c.Merger.SimilarityThreshold <= 0 || c.Merger.SimilarityThreshold > 1 {
		return ErrInvalidThreshold
	}
	if c.Merger.Period <= 0 {
		return ErrInvalidPeriod
	}
	if c.Merger.Schedule != "" {
		if _, err := cron.ParseStandard(c.Merger.Schedule); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidSchedule, err.Error())
		}
	}
	return nil
}

// MergeSchedule returns the parsed cron schedule, or nil when the merger runs
// on its fixed period.
func (c *Config) MergeSchedule() cron.Schedule {
	if c.Merger.Schedule == "" {
		return nil
	}
	schedule, err := cron.ParseStandard(c.Merger.Schedule)
	if err != nil {
		return nil
	}
	return schedule
}
