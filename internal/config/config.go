package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewRateLimitProfilesHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBSQLitePath      string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	Redis     RedisConfig
	RateLimit RateLimitConfig
	Usage     UsageConfig
	Coupon    CouponConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RateLimitConfig selects the window counter backend and its failure behaviour.
type RateLimitConfig struct {
	Enabled       bool
	Backend       string
	FailurePolicy string
	KeyPrefix     string
	SweepInterval time.Duration
}

type UsageConfig struct {
	DefaultTimezone string
	CloseEnabled    bool
	CloseInterval   time.Duration
	CloseGrace      time.Duration
	CloseLockTTL    time.Duration
}

type CouponConfig struct {
	ProviderEnabled       bool
	StripeSecretKey       string
	StripeAPIURL          string
	ProviderFailurePolicy string
	ProviderTimeout       time.Duration
}

const (
	CounterBackendRedis  = "redis"
	CounterBackendMemory = "memory"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "quota"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		NodeID:       getenvInt64("SNOWFLAKE_NODE", 1),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "quota"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBSQLitePath:      getenv("DATABASE_SQLITE_PATH", "quota.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", true),
			Backend:       strings.ToLower(getenv("RATE_LIMIT_BACKEND", CounterBackendRedis)),
			FailurePolicy: getenv("RATE_LIMIT_FAILURE_POLICY", "fail_closed"),
			KeyPrefix:     getenv("RATE_LIMIT_KEY_PREFIX", "quota:rl"),
			SweepInterval: getenvDuration("RATE_LIMIT_SWEEP_INTERVAL", 5*time.Minute),
		},
		Usage: UsageConfig{
			DefaultTimezone: getenv("USAGE_DEFAULT_TIMEZONE", "UTC"),
			CloseEnabled:    getenvBool("USAGE_CLOSE_ENABLED", true),
			CloseInterval:   getenvDuration("USAGE_CLOSE_INTERVAL", time.Hour),
			CloseGrace:      getenvDuration("USAGE_CLOSE_GRACE", 72*time.Hour),
			CloseLockTTL:    getenvDuration("USAGE_CLOSE_LOCK_TTL", 5*time.Minute),
		},
		Coupon: CouponConfig{
			ProviderEnabled:       getenvBool("COUPON_PROVIDER_ENABLED", false),
			StripeSecretKey:       strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			StripeAPIURL:          strings.TrimSpace(getenv("STRIPE_API_URL", "")),
			ProviderFailurePolicy: getenv("COUPON_PROVIDER_FAILURE_POLICY", "fail_open"),
			ProviderTimeout:       getenvDuration("COUPON_PROVIDER_TIMEOUT", 3*time.Second),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt(key string, def int) int {
	return int(getenvInt64(key, int64(def)))
}

// getenvDuration accepts Go durations ("90s") or bare seconds ("90").
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return def
}
