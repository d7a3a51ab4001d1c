package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Config holds the configuration for the reaction engine service.
// Environment variables are automatically parsed from the REACTOR_ prefix.
type Config struct {
	// HTTP Configuration
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Ledger store selection: sqlite (default) or postgres
	DBDriver    string `envconfig:"DB_DRIVER" default:"auto"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"data/reactor.db"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`

	// Rule/identity/temporal configuration file (YAML)
	RulesPath string `envconfig:"RULES_PATH" default:"rules.yaml"`

	// Webhook verification
	WebhookSecret       string        `envconfig:"WEBHOOK_SECRET" default:""`
	WebhookRequireSig   bool          `envconfig:"WEBHOOK_REQUIRE_SIG" default:"false"`
	WebhookUseTimestamp bool          `envconfig:"WEBHOOK_USE_TIMESTAMP" default:"false"`
	WebhookTSSkew       time.Duration `envconfig:"WEBHOOK_TS_SKEW" default:"5m"`
	WebhookBodyLimit    int64         `envconfig:"WEBHOOK_BODY_LIMIT" default:"1048576"`

	// Task/calendar sink
	SinkBaseURL string        `envconfig:"SINK_BASE_URL" default:"http://localhost:3000"`
	SinkTimeout time.Duration `envconfig:"SINK_TIMEOUT" default:"7s"`
	SinkRPS     float64       `envconfig:"SINK_RPS" default:"5"`

	// Health probes
	HealthIntervalSeconds     int `envconfig:"HEALTH_INTERVAL_SECONDS" default:"30"`
	HealthProbeTimeoutSeconds int `envconfig:"HEALTH_PROBE_TIMEOUT_SECONDS" default:"2"`

	// Retry worker
	RetryBatchSize   int           `envconfig:"RETRY_BATCH_SIZE" default:"50"`
	RetryInterval    time.Duration `envconfig:"RETRY_INTERVAL" default:"10s"`
	RetryMaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"2"`
}

// ResolveDefaults derives DBDriver when set to "auto" or empty and validates
// the selection.
func (c *Config) ResolveDefaults() error {
	if c.DBDriver == "" || c.DBDriver == "auto" {
		if c.PostgresDSN != "" {
			c.DBDriver = "postgres"
		} else {
			c.DBDriver = "sqlite"
		}
	}

	switch c.DBDriver {
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("REACTOR_SQLITE_PATH is required when DB_DRIVER=sqlite")
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("REACTOR_POSTGRES_DSN is required when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}

	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if c.WebhookRequireSig && c.WebhookSecret == "" {
		return fmt.Errorf("REACTOR_WEBHOOK_SECRET is required when WEBHOOK_REQUIRE_SIG=true")
	}
	return nil
}

// New creates a new Config by parsing environment variables.
// Variables should be prefixed with REACTOR_, e.g. REACTOR_HTTP_PORT.
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("REACTOR", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("db_driver", cfg.DBDriver).
		Int("port", cfg.HTTPPort).
		Str("rules_path", cfg.RulesPath).
		Str("sink_base_url", cfg.SinkBaseURL).
		Bool("webhook_require_sig", cfg.WebhookRequireSig).
		Msg("Configuration loaded")

	return &cfg, nil
}

// GetHTTPAddr returns the HTTP server address.
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
