package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// DefaultBatchBytes is the cumulative tile size that closes an analyze batch.
const DefaultBatchBytes = 5 << 20

// DefaultThumbnailLimit is how many leading tiles get display handles.
const DefaultThumbnailLimit = 200

// Config holds all client configuration.
type Config struct {
	Service   ServiceConfig
	Upload    UploadConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Metrics   MetricsConfig
}

// ServiceConfig holds processing service connection settings.
type ServiceConfig struct {
	URL     string        `envconfig:"SERVICE_URL" default:"http://localhost:8000"`
	Timeout time.Duration `envconfig:"SERVICE_TIMEOUT" default:"5m"`
	// Retries must stay 0 against services that accumulate analyze state.
	Retries int `envconfig:"SERVICE_RETRIES" default:"0"`
}

// UploadConfig holds chunked upload settings.
type UploadConfig struct {
	BatchBytes     int64 `envconfig:"UPLOAD_BATCH_BYTES" default:"5242880"`
	ThumbnailLimit int   `envconfig:"UPLOAD_THUMBNAIL_LIMIT" default:"200"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds client-side rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64 `envconfig:"RATE_LIMIT_RPS" default:"0"`
	Burst             int     `envconfig:"RATE_LIMIT_BURST" default:"1"`
}

// MetricsConfig toggles metric collection.
type MetricsConfig struct {
	Enabled bool `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			URL:     "http://localhost:8000",
			Timeout: 5 * time.Minute,
			Retries: 0,
		},
		Upload: UploadConfig{
			BatchBytes:     DefaultBatchBytes,
			ThumbnailLimit: DefaultThumbnailLimit,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 0,
			Burst:             1,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate checks values envconfig cannot constrain.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Service.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid SERVICE_URL %q", c.Service.URL)
	}
	if c.Service.Timeout <= 0 {
		return fmt.Errorf("SERVICE_TIMEOUT must be positive, got %s", c.Service.Timeout)
	}
	if c.Service.Retries < 0 {
		return fmt.Errorf("SERVICE_RETRIES cannot be negative")
	}
	if c.Upload.BatchBytes <= 0 {
		return fmt.Errorf("UPLOAD_BATCH_BYTES must be positive, got %d", c.Upload.BatchBytes)
	}
	if c.Upload.ThumbnailLimit < 0 {
		return fmt.Errorf("UPLOAD_THUMBNAIL_LIMIT cannot be negative")
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS cannot be negative")
	}
	return nil
}
