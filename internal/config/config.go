// Package config provides configuration management for the vidscribe service.
// Configuration is loaded from environment variables (optionally seeded from a
// .env file) with sensible defaults, then validated.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// Default values
	DefaultPort        = 8080
	DefaultLogLevel    = "info"
	DefaultDatabaseDSN = "vidscribe.db"

	DefaultMuxAPIURL    = "https://api.mux.com"
	DefaultMuxStreamURL = "https://stream.mux.com"
	DefaultMuxImageURL  = "https://image.mux.com"

	DefaultAIProvider = "gemini"
	DefaultAIModel    = "gemini-2.5-flash"

	DefaultUploadCORSOrigin   = "*"
	DefaultTranscriptLanguage = "en"
	DefaultTranscriptName     = "English CC"

	DefaultDatabaseRetries       = 10
	DefaultUpstreamTimeout       = 15 * time.Second
	DefaultEnrichmentTimeout     = 2 * time.Minute
	DefaultEnrichmentMaxAttempts = 5
	DefaultEnrichmentRetryBase   = time.Minute
	DefaultEnrichmentRetryMax    = 30 * time.Minute
	DefaultSweepInterval         = 30 * time.Second
	DefaultPollSettleDelay       = 2 * time.Second
	DefaultPollRetries           = 5
	DefaultPollInterval          = 2 * time.Second
	DefaultPollDeadline          = 45 * time.Second
	DefaultShutdownTimeout       = 10 * time.Second
)

type Config struct {
	Port     int    `mapstructure:"PORT" validate:"min=1,max=65535"`
	LogLevel string `mapstructure:"LOG_LEVEL" validate:"oneof=debug info warn warning error"`
	APIToken string `mapstructure:"API_TOKEN"`

	DatabaseDSN     string `mapstructure:"DATABASE_DSN" validate:"required"`
	DatabaseRetries int    `mapstructure:"DATABASE_RETRIES" validate:"min=1"`

	MuxTokenID       string `mapstructure:"MUX_TOKEN_ID" validate:"required"`
	MuxTokenSecret   string `mapstructure:"MUX_TOKEN_SECRET" validate:"required"`
	MuxWebhookSecret string `mapstructure:"MUX_WEBHOOK_SECRET"`
	MuxAPIURL        string `mapstructure:"MUX_API_URL" validate:"required,url"`
	MuxStreamURL     string `mapstructure:"MUX_STREAM_URL" validate:"required,url"`
	MuxImageURL      string `mapstructure:"MUX_IMAGE_URL" validate:"required,url"`

	UploadCORSOrigin   string `mapstructure:"UPLOAD_CORS_ORIGIN" validate:"required"`
	TranscriptLanguage string `mapstructure:"TRANSCRIPT_LANGUAGE" validate:"required"`
	TranscriptName     string `mapstructure:"TRANSCRIPT_NAME" validate:"required"`

	AIProvider string `mapstructure:"AI_PROVIDER" validate:"oneof=gemini openai"`
	AIModel    string `mapstructure:"AI_MODEL" validate:"required"`
	AIAPIKey   string `mapstructure:"AI_API_KEY" validate:"required"`
	AIAPIURL   string `mapstructure:"AI_API_URL" validate:"omitempty,url"`

	UpstreamTimeout       time.Duration `mapstructure:"UPSTREAM_TIMEOUT" validate:"gt=0"`
	EnrichmentTimeout     time.Duration `mapstructure:"ENRICHMENT_TIMEOUT" validate:"gt=0"`
	EnrichmentMaxAttempts int           `mapstructure:"ENRICHMENT_MAX_ATTEMPTS" validate:"min=1"`
	EnrichmentRetryBase   time.Duration `mapstructure:"ENRICHMENT_RETRY_BASE" validate:"gt=0"`
	EnrichmentRetryMax    time.Duration `mapstructure:"ENRICHMENT_RETRY_MAX" validate:"gtefield=EnrichmentRetryBase"`
	SweepInterval         time.Duration `mapstructure:"SWEEP_INTERVAL" validate:"gt=0"`

	PollSettleDelay time.Duration `mapstructure:"POLL_SETTLE_DELAY" validate:"gte=0"`
	PollRetries     int           `mapstructure:"POLL_RETRIES" validate:"min=0,max=20"`
	PollInterval    time.Duration `mapstructure:"POLL_INTERVAL" validate:"gte=0"`
	// PollDeadline caps a blocking upload check; it must finish inside the
	// HTTP server's 60s write timeout.
	PollDeadline time.Duration `mapstructure:"POLL_DEADLINE" validate:"gt=0,lt=60s"`

	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

var defaults = map[string]any{
	"PORT":                    DefaultPort,
	"LOG_LEVEL":               DefaultLogLevel,
	"API_TOKEN":               "",
	"DATABASE_DSN":            DefaultDatabaseDSN,
	"DATABASE_RETRIES":        DefaultDatabaseRetries,
	"MUX_TOKEN_ID":            "",
	"MUX_TOKEN_SECRET":        "",
	"MUX_WEBHOOK_SECRET":      "",
	"MUX_API_URL":             DefaultMuxAPIURL,
	"MUX_STREAM_URL":          DefaultMuxStreamURL,
	"MUX_IMAGE_URL":           DefaultMuxImageURL,
	"UPLOAD_CORS_ORIGIN":      DefaultUploadCORSOrigin,
	"TRANSCRIPT_LANGUAGE":     DefaultTranscriptLanguage,
	"TRANSCRIPT_NAME":         DefaultTranscriptName,
	"AI_PROVIDER":             DefaultAIProvider,
	"AI_MODEL":                DefaultAIModel,
	"AI_API_KEY":              "",
	"AI_API_URL":              "",
	"UPSTREAM_TIMEOUT":        DefaultUpstreamTimeout,
	"ENRICHMENT_TIMEOUT":      DefaultEnrichmentTimeout,
	"ENRICHMENT_MAX_ATTEMPTS": DefaultEnrichmentMaxAttempts,
	"ENRICHMENT_RETRY_BASE":   DefaultEnrichmentRetryBase,
	"ENRICHMENT_RETRY_MAX":    DefaultEnrichmentRetryMax,
	"SWEEP_INTERVAL":          DefaultSweepInterval,
	"POLL_SETTLE_DELAY":       DefaultPollSettleDelay,
	"POLL_RETRIES":            DefaultPollRetries,
	"POLL_INTERVAL":           DefaultPollInterval,
	"POLL_DEADLINE":           DefaultPollDeadline,
	"SHUTDOWN_TIMEOUT":        DefaultShutdownTimeout,
}

// Load reads configuration from the environment. If envFile is non-empty and
// exists, its values are loaded first without overriding variables that are
// already set.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	v.AutomaticEnv()

	cfg := Config{}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.AIProvider = strings.ToLower(strings.TrimSpace(cfg.AIProvider))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// WebhookSignatureRequired reports whether inbound notifications must carry a
// valid provider signature.
func (c *Config) WebhookSignatureRequired() bool {
	return c.MuxWebhookSecret != ""
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
