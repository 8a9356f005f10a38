package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration
type Config struct {
	// SportsDataIO API
	SportsDataAPIKey  string        `envconfig:"SPORTSDATA_API_KEY" required:"true"`
	SportsDataBaseURL string        `envconfig:"SPORTSDATA_BASE_URL" default:"https://api.sportsdata.io/v3/cfb"`
	SportsDataTimeout time.Duration `envconfig:"SPORTSDATA_TIMEOUT" default:"10s"`

	// Prediction service (internal). The predictions source is only
	// registered when this is set.
	PredictionsBaseURL string `envconfig:"PREDICTIONS_BASE_URL" default:""`

	// Source catalog
	SourcesFile     string            `envconfig:"SOURCES_FILE" default:""`
	TemplateVars    map[string]string `envconfig:"TEMPLATE_VARS" default:"season:2025,week:1"`
	RateLimitWindow time.Duration     `envconfig:"RATE_LIMIT_WINDOW" default:"60s"`

	// Database (latest snapshot store)
	EnableSnapshotStore bool   `envconfig:"ENABLE_SNAPSHOT_STORE" default:"false"`
	DatabaseHost        string `envconfig:"DATABASE_HOST" default:"localhost"`
	DatabasePort        int    `envconfig:"DATABASE_PORT" default:"5432"`
	DatabaseName        string `envconfig:"DATABASE_NAME" default:"ncaaf_v5"`
	DatabaseUser        string `envconfig:"DATABASE_USER" default:"ncaaf_user"`
	DatabasePassword    string `envconfig:"DATABASE_PASSWORD" default:""`
	DatabaseSSLMode     string `envconfig:"DATABASE_SSL_MODE" default:"disable"`

	// Redis (cache mirror)
	EnableRedisMirror bool          `envconfig:"ENABLE_REDIS_MIRROR" default:"false"`
	RedisHost         string        `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort         int           `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword     string        `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB           int           `envconfig:"REDIS_DB" default:"0"`
	RedisKeyPrefix    string        `envconfig:"REDIS_KEY_PREFIX" default:"feedcache:"`
	RedisRetention    time.Duration `envconfig:"REDIS_RETENTION" default:"24h"`

	// Application
	AppEnv   string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// HTTP read API
	IngestionPort   int           `envconfig:"INGESTION_PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	SinkTimeout     time.Duration `envconfig:"SINK_TIMEOUT" default:"5s"`

	// API Rate Limiting (requests per second on /v1 routes)
	APIRateLimit  int `envconfig:"API_RATE_LIMIT" default:"100"`
	APIBurstLimit int `envconfig:"API_BURST_LIMIT" default:"20"`

	// Caching TTL (in seconds) for the built-in sources
	CacheTTLScores      int `envconfig:"CACHE_TTL_SCORES" default:"120"`      // 2 minutes
	CacheTTLOdds        int `envconfig:"CACHE_TTL_ODDS" default:"300"`        // 5 minutes
	CacheTTLProps       int `envconfig:"CACHE_TTL_PROPS" default:"300"`       // 5 minutes
	CacheTTLPredictions int `envconfig:"CACHE_TTL_PREDICTIONS" default:"600"` // 10 minutes

	// Monitoring
	EnableMetrics bool `envconfig:"ENABLE_METRICS" default:"true"`
}

// Load loads configuration from environment variables
// It first attempts to load from .env file if in development mode
func Load() (*Config, error) {
	// Try to load .env file (ignore error if doesn't exist)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.SportsDataAPIKey == "" {
		return fmt.Errorf("SPORTSDATA_API_KEY is required")
	}

	if c.EnableSnapshotStore && c.DatabasePassword == "" {
		return fmt.Errorf("DATABASE_PASSWORD is required when ENABLE_SNAPSHOT_STORE is set")
	}

	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive, got %s", c.RateLimitWindow)
	}

	if c.APIRateLimit < 0 || c.APIBurstLimit < 0 {
		return fmt.Errorf("API_RATE_LIMIT and API_BURST_LIMIT must not be negative")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// MustLoad loads configuration or panics on error
// Use this in main() where we want to fail fast
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
