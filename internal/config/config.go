// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrKIEAPIKeyRequired is returned when KIE_API_KEY is not set.
	ErrKIEAPIKeyRequired = errors.New("config: KIE_API_KEY is required")
	// ErrCallbackSecretRequired is returned when CALLBACK_SECRET is not set.
	ErrCallbackSecretRequired = errors.New("config: CALLBACK_SECRET is required")
	// ErrInvalidPollConfig is returned when poller settings are not positive.
	ErrInvalidPollConfig = errors.New("config: poll settings must be positive")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port          int    `env:"PORT, default=8080" json:"port"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" json:"public_base_url,omitempty"`

	// Provider settings
	KIEAPIKey  string `env:"KIE_API_KEY, required" json:"-"` // Masked in JSON
	KIEBaseURL string `env:"KIE_BASE_URL, default=https://api.kie.ai" json:"kie_base_url"`

	// Callback settings
	CallbackSecret   string        `env:"CALLBACK_SECRET, required" json:"-"` // Masked in JSON
	CallbackTokenTTL time.Duration `env:"CALLBACK_TOKEN_TTL, default=48h" json:"callback_token_ttl"`

	// Persistence settings; an empty DSN selects the in-memory repository.
	DatabaseURL string `env:"DATABASE_URL" json:"-"` // Masked in JSON

	// Billing settings
	BillingRatesFile string `env:"BILLING_RATES_FILE" json:"billing_rates_file,omitempty"`

	// Poller settings
	PollInterval    time.Duration `env:"POLL_INTERVAL, default=15s" json:"poll_interval"`
	PollStaleAfter  time.Duration `env:"POLL_STALE_AFTER, default=30s" json:"poll_stale_after"`
	PollBatchSize   int           `env:"POLL_BATCH_SIZE, default=100" json:"poll_batch_size"`
	PollConcurrency int           `env:"POLL_CONCURRENCY, default=4" json:"poll_concurrency"`

	// Archive settings
	ArchiveDir string `env:"ARCHIVE_DIR" json:"archive_dir,omitempty"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// ArchiveEnabled returns true if results should be mirrored.
func (c *Config) ArchiveEnabled() bool {
	return c.S3Enabled() || c.ArchiveDir != ""
}

// PostgresEnabled returns true if a database DSN is configured.
func (c *Config) PostgresEnabled() bool {
	return c.DatabaseURL != ""
}

// LoadDotEnv loads variables from .env files into the process environment.
// Missing files are ignored and existing variables are never overridden.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env", ".env.local"}
	}
	for _, p := range paths {
		_ = godotenv.Load(p)
	}
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "KIE_API_KEY") {
			return nil, ErrKIEAPIKeyRequired
		}
		if strings.Contains(err.Error(), "CALLBACK_SECRET") {
			return nil, ErrCallbackSecretRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.KIEAPIKey == "" {
		return ErrKIEAPIKeyRequired
	}
	if c.CallbackSecret == "" {
		return ErrCallbackSecretRequired
	}
	if c.PollInterval <= 0 || c.PollStaleAfter <= 0 || c.PollBatchSize <= 0 || c.PollConcurrency <= 0 {
		return ErrInvalidPollConfig
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, PublicBaseURL: %s, KIEBaseURL: %s, Postgres: %t, BillingRatesFile: %s, PollInterval: %s, PollStaleAfter: %s, PollConcurrency: %d, ArchiveDir: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.PublicBaseURL,
		c.KIEBaseURL,
		c.PostgresEnabled(),
		c.BillingRatesFile,
		c.PollInterval,
		c.PollStaleAfter,
		c.PollConcurrency,
		c.ArchiveDir,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
