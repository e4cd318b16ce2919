package config

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// StorageDriver selects the persistence backend: "postgres" or "memory".
	StorageDriver string

	// Session tokens
	JWTSecret       string
	JWTAccessExpiry time.Duration

	// External identity provider
	OIDCIssuerURL string
	OIDCClientID  string

	// Payments
	StripeWebhookSecret string

	// Redeemable codes
	RedeemCodes             []string
	RedeemValidity          time.Duration
	RedeemAttemptsPerMinute int

	// Entitlement read cache
	EntitlementCacheTTL  time.Duration
	EntitlementCacheSize int

	// Audit archive
	AuditArchiveBucket string
	AuditArchivePrefix string
	S3Endpoint         string
	S3Region           string
	S3AccessKey        string
	S3SecretKey        string

	// Observability
	SentryDSN string
	AppEnv    string

	// Server
	Port        string
	CORSOrigins string
}

// Load reads configuration from the environment, after applying an optional .env file.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	storage := getEnv("STORAGE_DRIVER", "postgres")

	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "mizan"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		StorageDriver: storage,

		JWTSecret:       getEnv("JWT_SECRET", ""),
		JWTAccessExpiry: parseDuration(getEnv("JWT_ACCESS_EXPIRY", "24h"), 24*time.Hour),

		OIDCIssuerURL: getEnv("OIDC_ISSUER_URL", "https://accounts.google.com"),
		OIDCClientID:  getEnv("OIDC_CLIENT_ID", ""),

		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		RedeemCodes:             parseList(getEnv("REDEEM_CODES", "")),
		RedeemValidity:          parseDuration(getEnv("REDEEM_VALIDITY", "8760h"), 365*24*time.Hour),
		RedeemAttemptsPerMinute: parseInt(getEnv("REDEEM_ATTEMPTS_PER_MINUTE", "5"), 5),

		EntitlementCacheTTL:  parseTTL(getEnv("ENTITLEMENT_CACHE_TTL", ""), defaultCacheTTL(storage)),
		EntitlementCacheSize: parseInt(getEnv("ENTITLEMENT_CACHE_SIZE", "10000"), 10000),

		AuditArchiveBucket: getEnv("AUDIT_ARCHIVE_BUCKET", ""),
		AuditArchivePrefix: getEnv("AUDIT_ARCHIVE_PREFIX", "audit/"),
		S3Endpoint:         getEnv("S3_ENDPOINT", ""),
		S3Region:           getEnv("S3_REGION", "us-east-1"),
		S3AccessKey:        getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:        getEnv("S3_SECRET_KEY", ""),

		SentryDSN: getEnv("SENTRY_DSN", ""),
		AppEnv:    getEnv("APP_ENV", "development"),

		Port:        getEnv("PORT", "8080"),
		CORSOrigins: getEnv("CORS_ORIGINS", "*"),
	}
}

// Validate reports missing settings the server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch c.StorageDriver {
	case "postgres":
		if c.DBPassword == "" {
			errs = append(errs, errors.New("DB_PASSWORD is required for the postgres driver"))
		}
	case "memory":
	default:
		errs = append(errs, errors.New("STORAGE_DRIVER must be postgres or memory"))
	}
	return errors.Join(errs...)
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

// defaultCacheTTL keeps the entitlement cache off when the store can be shared by several replicas:
// a grant or revoke only invalidates the cache of the instance that made it.
func defaultCacheTTL(storage string) time.Duration {
	if storage == "memory" {
		return 30 * time.Second
	}
	return 0
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// parseTTL is parseDuration that also accepts zero, meaning "disabled".
func parseTTL(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
