package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the process configuration, read from the environment.
type Config struct {
	Environment        string        `envconfig:"ENVIRONMENT" default:"development"`
	Port               string        `envconfig:"PORT" default:"8080"`
	SiteURL            string        `envconfig:"SITE_URL" default:"http://localhost:3000"`
	CORSAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	ShutdownTimeout    time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	EnableMetrics      bool          `envconfig:"ENABLE_METRICS" default:"true"`
	RateLimitPerMinute int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`
	RateLimitBurst     int           `envconfig:"RATE_LIMIT_BURST" default:"30"`
	MaintenanceMode    bool          `envconfig:"MAINTENANCE_MODE" default:"false"`
	MaintenanceMessage string        `envconfig:"MAINTENANCE_MESSAGE" default:"Trust My MRR is undergoing maintenance. Please try again shortly."`

	DatabaseDriver string `envconfig:"DATABASE_DRIVER" default:"postgres"`
	DatabaseURL    string `envconfig:"DATABASE_URL"`

	RedisURL            string   `envconfig:"REDIS_URL"`
	RedisSentinelAddrs  []string `envconfig:"REDIS_SENTINEL_ADDRS"`
	RedisSentinelMaster string   `envconfig:"REDIS_SENTINEL_MASTER"`

	JWTSecret        string `envconfig:"JWT_SECRET"`
	SecretsMasterKey string `envconfig:"SECRETS_MASTER_KEY"`
	AdminAPIKey      string `envconfig:"ADMIN_API_KEY"`

	StripeSecretKey     string        `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string        `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeAPIURL        string        `envconfig:"STRIPE_API_URL"`
	StripeMaxRetries    int64         `envconfig:"STRIPE_MAX_RETRIES" default:"2"`
	StripeTimeout       time.Duration `envconfig:"STRIPE_TIMEOUT" default:"30s"`
	AdStripePriceID     string        `envconfig:"AD_STRIPE_PRICE_ID"`
	AdSpotsFile         string        `envconfig:"AD_SPOTS_FILE"`

	MetricsCacheTTL    time.Duration `envconfig:"METRICS_CACHE_TTL" default:"1h"`
	MetricsConcurrency int           `envconfig:"METRICS_CONCURRENCY" default:"8"`

	XBearerToken       string        `envconfig:"X_BEARER_TOKEN"`
	XClientID          string        `envconfig:"X_CLIENT_ID"`
	XClientSecret      string        `envconfig:"X_CLIENT_SECRET"`
	XAPIBaseURL        string        `envconfig:"X_API_BASE_URL" default:"https://api.twitter.com"`
	XProfileTTL        time.Duration `envconfig:"X_PROFILE_TTL" default:"24h"`
	XRequestsPerMinute int           `envconfig:"X_REQUESTS_PER_MINUTE" default:"60"`

	StorageBackend   string `envconfig:"STORAGE_BACKEND" default:"local"`
	StorageLocalDir  string `envconfig:"STORAGE_LOCAL_DIR" default:"./data/assets"`
	StoragePublicURL string `envconfig:"STORAGE_PUBLIC_URL" default:"http://localhost:8080/assets"`
	S3Bucket         string `envconfig:"S3_BUCKET"`
	S3Region         string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Endpoint       string `envconfig:"S3_ENDPOINT"`
	S3AccessKeyID    string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey      string `envconfig:"S3_SECRET_ACCESS_KEY"`

	EnableJobs          bool          `envconfig:"ENABLE_JOBS" default:"true"`
	AdExpiryInterval    time.Duration `envconfig:"AD_EXPIRY_INTERVAL" default:"5m"`
	MetricsWarmInterval time.Duration `envconfig:"METRICS_WARM_INTERVAL" default:"1h"`
	FounderSyncInterval time.Duration `envconfig:"FOUNDER_SYNC_INTERVAL" default:"24h"`
	LeaderboardSize     int           `envconfig:"LEADERBOARD_SIZE" default:"20"`
}

// Load reads .env (or ../.env) when present and processes the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		_ = godotenv.Load("../.env")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	cfg.Environment = GetEnvironment()
	cfg.SiteURL = strings.TrimRight(cfg.SiteURL, "/")

	if cfg.DatabaseDriver == "sqlite" && cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "trustmymrr.db"
	}
	return &cfg, nil
}

// IsProduction reports whether the config targets production.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction || c.Environment == "prod"
}

// Addr is the listen address.
func (c *Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

// DevJWTSecret is used outside production when JWT_SECRET is unset.
const DevJWTSecret = "dev-only-management-token-signing-key-9f2c"

// JWTSigningKey returns the configured secret or the development fallback.
func (c *Config) JWTSigningKey() string {
	if c.JWTSecret != "" {
		return c.JWTSecret
	}
	return DevJWTSecret
}

// MasterKey returns the configured master key, generating an ephemeral one
// outside production so local runs work without setup.
func (c *Config) MasterKey() (string, error) {
	if c.SecretsMasterKey != "" {
		return c.SecretsMasterKey, nil
	}
	if c.IsProduction() {
		return "", fmt.Errorf("SECRETS_MASTER_KEY is required in production")
	}
	key, err := GenerateMasterKey()
	if err != nil {
		return "", err
	}
	fmt.Fprintln(os.Stderr, "WARNING: SECRETS_MASTER_KEY not set; stored API keys will be unreadable after restart")
	return key, nil
}
