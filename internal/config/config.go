// Package config handles application configuration.
package config

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/hkdf"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port    int
	BaseURL string

	// Database
	DatabaseURL    string // local libsql DSN, e.g. "file:flipdeck.db"
	TursoSyncURL   string // if set, DatabaseURL is an embedded replica of this primary
	TursoAuthToken string

	// Clerk Authentication
	ClerkIssuerURL     string // e.g., "https://xxx.clerk.accounts.dev"
	ClerkSecretKey     string // Clerk Backend API secret key (sk_xxx)
	ClerkWebhookSecret string // Svix signing secret for Clerk webhooks

	// Stripe (credit recharge packs)
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeCreditPacks   map[string]int64 // Stripe price ID -> credits granted

	// Collector upload tokens
	UploadTokenSecret string
	UploadTokenKey    []byte // HKDF-derived HS256 signing key
	UploadTokenTTL    time.Duration

	// Supply API (backend task/market ingestion)
	SupplyAPIKey string

	// Community jobs
	JobExpiryWindow     time.Duration // no progress within this window -> expired
	ExpirySweepInterval time.Duration
	QuotaRetentionDays  int

	// Scheduling (cron expressions, standard 5-field)
	MonthlyResetSchedule string
	QuotaPruneSchedule   string

	// Estimations
	EstimationDedupeWindow time.Duration

	// CORS
	CORSOrigins []string

	// Deployment mode
	DeploymentMode string // "hosted" or "selfhosted"
	AdminEnabled   bool
	AdminUserIDs   []string // Clerk user IDs granted superadmin without the metadata flag

	// Metrics
	MetricsEnabled bool

	// Scale-to-zero: exit after this long without traffic (0 disables)
	IdleShutdownTimeout time.Duration

	// Object Storage (Tigris/S3-compatible)
	StorageEnabled   bool
	StorageEndpoint  string // AWS_ENDPOINT_URL_S3 for Tigris
	StorageAccessKey string // AWS_ACCESS_KEY_ID
	StorageSecretKey string // AWS_SECRET_ACCESS_KEY
	StorageBucket    string // Bucket name (one per environment)
	StorageRegion    string // Region (auto for Tigris)
	ConfigBucket     string // Bucket for runtime config objects (defaults to StorageBucket)
	PlansConfigKey   string // S3 key of plan overrides
	LogFiltersKey    string // S3 key of log filter rules

	// Exports
	ExportURLExpiry time.Duration
}

// Load reads configuration from a .env file (if present) and environment variables.
func Load() (*Config, error) {
	// Missing .env is normal in production.
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnvInt("PORT", 8080),
		BaseURL:        getEnv("BASE_URL", "http://localhost:8080"),
		DatabaseURL:    getEnv("DATABASE_URL", "file:flipdeck.db"),
		TursoSyncURL:   getEnv("TURSO_SYNC_URL", ""),
		TursoAuthToken: getEnv("TURSO_AUTH_TOKEN", ""),

		ClerkIssuerURL:     getEnv("CLERK_ISSUER_URL", ""),
		ClerkSecretKey:     getEnv("CLERK_SECRET_KEY", ""),
		ClerkWebhookSecret: getEnv("CLERK_WEBHOOK_SECRET", ""),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeCreditPacks:   getEnvCreditPacks("STRIPE_CREDIT_PACKS"),

		UploadTokenSecret: getEnv("UPLOAD_TOKEN_SECRET", ""),
		UploadTokenTTL:    getEnvDuration("UPLOAD_TOKEN_TTL", 6*time.Hour),

		SupplyAPIKey: getEnv("SUPPLY_API_KEY", ""),

		JobExpiryWindow:     getEnvDuration("JOB_EXPIRY_WINDOW", 20*time.Minute),
		ExpirySweepInterval: getEnvDuration("EXPIRY_SWEEP_INTERVAL", time.Minute),
		QuotaRetentionDays:  getEnvInt("QUOTA_RETENTION_DAYS", 35),

		MonthlyResetSchedule: getEnv("MONTHLY_RESET_SCHEDULE", "5 0 * * *"),
		QuotaPruneSchedule:   getEnv("QUOTA_PRUNE_SCHEDULE", "30 3 * * *"),

		EstimationDedupeWindow: getEnvDuration("ESTIMATION_DEDUPE_WINDOW", 10*time.Second),

		CORSOrigins:    getEnvSlice("CORS_ORIGINS", []string{"http://localhost:3000"}),
		DeploymentMode: getEnv("DEPLOYMENT_MODE", "hosted"),
		AdminEnabled:   getEnvBool("ADMIN_ENABLED", true),
		AdminUserIDs:   getEnvSlice("ADMIN_USER_IDS", nil),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),

		IdleShutdownTimeout: getEnvDuration("IDLE_SHUTDOWN_TIMEOUT", 0),

		// Object Storage (Tigris/S3-compatible) - uses Fly's standard env vars
		StorageEndpoint:  getEnv("AWS_ENDPOINT_URL_S3", ""),
		StorageAccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
		StorageSecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		StorageBucket:    getEnvWithFallback("BUCKET_NAME", "STORAGE_BUCKET", ""),
		StorageRegion:    getEnv("AWS_REGION", "auto"),
		PlansConfigKey:   getEnv("PLANS_CONFIG_KEY", "config/plans.json"),
		LogFiltersKey:    getEnv("LOG_FILTERS_KEY", "config/logfilters.json"),

		ExportURLExpiry: getEnvDuration("EXPORT_URL_EXPIRY", 15*time.Minute),
	}

	cfg.StorageEnabled = cfg.StorageBucket != "" && cfg.StorageEndpoint != ""
	cfg.ConfigBucket = getEnv("CONFIG_BUCKET", cfg.StorageBucket)

	if cfg.IsSelfHosted() {
		cfg.AdminEnabled = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.UploadTokenKey = deriveUploadTokenKey(cfg.UploadTokenSecret)

	return cfg, nil
}

// Validate reports the first missing or malformed required setting.
func (c *Config) Validate() error {
	if c.DeploymentMode != "hosted" && c.DeploymentMode != "selfhosted" {
		return fmt.Errorf("DEPLOYMENT_MODE must be hosted or selfhosted, got %q", c.DeploymentMode)
	}
	if c.DeploymentMode == "hosted" && c.ClerkIssuerURL == "" {
		return fmt.Errorf("CLERK_ISSUER_URL is required for hosted mode")
	}
	if len(c.UploadTokenSecret) < 32 {
		return fmt.Errorf("UPLOAD_TOKEN_SECRET must be at least 32 characters")
	}
	if c.JobExpiryWindow <= 0 {
		return fmt.Errorf("JOB_EXPIRY_WINDOW must be positive")
	}
	return nil
}

// IsSelfHosted returns true if running in self-hosted mode.
func (c *Config) IsSelfHosted() bool {
	return c.DeploymentMode == "selfhosted"
}

// StripeEnabled returns true if recharge webhooks can be verified.
func (c *Config) StripeEnabled() bool {
	return c.StripeWebhookSecret != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

func getEnvWithFallback(primary, fallback, defaultValue string) string {
	if value := os.Getenv(primary); value != "" {
		return value
	}
	if value := os.Getenv(fallback); value != "" {
		return value
	}
	return defaultValue
}

// getEnvCreditPacks parses "price_abc:100,price_def:500" into a price->credits map.
// Malformed or non-positive entries are skipped.
func getEnvCreditPacks(key string) map[string]int64 {
	packs := make(map[string]int64)
	for _, entry := range getEnvSlice(key, nil) {
		priceID, credits, ok := strings.Cut(entry, ":")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(credits), 10, 64)
		if err != nil || n <= 0 {
			continue
		}
		packs[strings.TrimSpace(priceID)] = n
	}
	return packs
}

// deriveUploadTokenKey creates a 32-byte HS256 key from the configured secret using HKDF.
func deriveUploadTokenKey(secret string) []byte {
	salt := []byte("flipdeck-api-upload-token-v1")
	info := []byte("hs256-upload-token")

	hkdfReader := hkdf.New(sha256.New, []byte(secret), salt, info)

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		panic("hkdf: failed to derive key: " + err.Error())
	}

	return key
}
