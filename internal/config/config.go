// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
	DatabasePath     string `envconfig:"DATABASE_PATH" default:"./data/groupwatch.db"`
	LogLevel         string `envconfig:"LOG_LEVEL" default:"info"`
	MetricsAddr      string `envconfig:"METRICS_ADDR" default:""`

	VerifierURL     string        `envconfig:"VERIFIER_URL" required:"true"`
	VerifierTimeout time.Duration `envconfig:"VERIFIER_TIMEOUT" default:"20s"`
	VerifierRetries int           `envconfig:"VERIFIER_RETRIES" default:"2"`

	EmbedServerURL string        `envconfig:"EMBED_SERVER_URL" default:""`
	EmbedTimeout   time.Duration `envconfig:"EMBED_TIMEOUT" default:"10s"`

	SubscriptionCacheTTL time.Duration `envconfig:"SUBSCRIPTION_CACHE_TTL" default:"60s"`

	MinNgramScore     float64 `envconfig:"MIN_NGRAM_SCORE" default:"0.1"`
	MinSemanticScore  float64 `envconfig:"MIN_SEMANTIC_SCORE" default:"0.3"`
	SemanticWeight    float64 `envconfig:"SEMANTIC_WEIGHT" default:"0.5"`
	FallbackThreshold float64 `envconfig:"FALLBACK_THRESHOLD" default:"0.7"`

	MessageConcurrency int `envconfig:"MESSAGE_CONCURRENCY" default:"8"`
	VerifyConcurrency  int `envconfig:"VERIFY_CONCURRENCY" default:"3"`

	AllowChannels bool `envconfig:"ALLOW_CHANNELS" default:"false"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Validate checks that numeric knobs are inside their working ranges.
func (c *Config) Validate() error {
	if c.MinNgramScore < 0 || c.MinNgramScore > 1 {
		return fmt.Errorf("MIN_NGRAM_SCORE must be in [0,1], got %g", c.MinNgramScore)
	}
	if c.MinSemanticScore < 0 || c.MinSemanticScore > 1 {
		return fmt.Errorf("MIN_SEMANTIC_SCORE must be in [0,1], got %g", c.MinSemanticScore)
	}
	if c.SemanticWeight < 0 || c.SemanticWeight > 1 {
		return fmt.Errorf("SEMANTIC_WEIGHT must be in [0,1], got %g", c.SemanticWeight)
	}
	if c.FallbackThreshold < 0 || c.FallbackThreshold > 1 {
		return fmt.Errorf("FALLBACK_THRESHOLD must be in [0,1], got %g", c.FallbackThreshold)
	}
	if c.VerifierRetries < 0 {
		return fmt.Errorf("VERIFIER_RETRIES must be >= 0, got %d", c.VerifierRetries)
	}
	if c.MessageConcurrency < 1 {
		return fmt.Errorf("MESSAGE_CONCURRENCY must be >= 1, got %d", c.MessageConcurrency)
	}
	if c.VerifyConcurrency < 1 {
		return fmt.Errorf("VERIFY_CONCURRENCY must be >= 1, got %d", c.VerifyConcurrency)
	}
	if c.SubscriptionCacheTTL <= 0 {
		return fmt.Errorf("SUBSCRIPTION_CACHE_TTL must be positive, got %s", c.SubscriptionCacheTTL)
	}
	return nil
}
