package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	Telemetry TelemetryConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Stripe    StripeConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Checkout  CheckoutURLs
	Scheduler SchedulerConfig
	Recovery  RecoveryConfig
	Archive   ArchiveConfig

	CORSAllowedOrigins []string
}

// TelemetryConfig drives the zap logger and the OTLP trace and metric exporters.
type TelemetryConfig struct {
	LogLevel      string
	LogFormat     string
	OTLPEnabled   bool
	OTLPEndpoint  string
	OTLPProtocol  string
	SamplingRatio float64
}

// StripeConfig carries one secret key per processor mode.
type StripeConfig struct {
	TestSecretKey string
	LiveSecretKey string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RateLimitConfig bounds public checkout per client. Rates are tokens per second.
type RateLimitConfig struct {
	CheckoutClientRate    float64
	CheckoutClientBurst   int
	CheckoutEndpointRate  float64
	CheckoutEndpointBurst int
}

// CheckoutURLs are the redirect targets handed to the processor.
type CheckoutURLs struct {
	SuccessURL string
	CancelURL  string
}

type SchedulerConfig struct {
	Enabled          bool
	ReconcileEvery   time.Duration
	ReconcileTimeout time.Duration
	BatchSize        int
}

type RecoveryConfig struct {
	PendingThreshold time.Duration
}

type ArchiveConfig struct {
	Bucket string
	Region string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "ledger"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		NodeID:            getenvInt64("NODE_ID", 1),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		Telemetry: TelemetryConfig{
			LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OTLPEnabled:   getenvBool("OTEL_ENABLED", true),
			OTLPEndpoint:  strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
			OTLPProtocol:  strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		Stripe: StripeConfig{
			TestSecretKey: strings.TrimSpace(getenv("STRIPE_SECRET_KEY_TEST", "")),
			LiveSecretKey: strings.TrimSpace(getenv("STRIPE_SECRET_KEY_LIVE", "")),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       int(getenvInt64("REDIS_DB", 0)),
		},
		RateLimit: RateLimitConfig{
			CheckoutClientRate:    getenvFloat("RATE_LIMIT_CHECKOUT_CLIENT_RATE", 0.2),
			CheckoutClientBurst:   int(getenvInt64("RATE_LIMIT_CHECKOUT_CLIENT_BURST", 5)),
			CheckoutEndpointRate:  getenvFloat("RATE_LIMIT_CHECKOUT_ENDPOINT_RATE", 20),
			CheckoutEndpointBurst: int(getenvInt64("RATE_LIMIT_CHECKOUT_ENDPOINT_BURST", 100)),
		},
		Checkout: CheckoutURLs{
			SuccessURL: getenv("CHECKOUT_SUCCESS_URL", "http://localhost:3000/donation-success?session_id={CHECKOUT_SESSION_ID}"),
			CancelURL:  getenv("CHECKOUT_CANCEL_URL", "http://localhost:3000/support"),
		},
		Scheduler: SchedulerConfig{
			Enabled:          getenvBool("SCHEDULER_ENABLED", true),
			ReconcileEvery:   getenvDuration("RECONCILE_INTERVAL", 6*time.Hour),
			ReconcileTimeout: getenvDuration("RECONCILE_TIMEOUT", 10*time.Minute),
			BatchSize:        int(getenvInt64("RECONCILE_BATCH_SIZE", 200)),
		},
		Recovery: RecoveryConfig{
			PendingThreshold: getenvDuration("RECOVERY_PENDING_THRESHOLD", time.Hour),
		},
		Archive: ArchiveConfig{
			Bucket: strings.TrimSpace(getenv("REPORT_ARCHIVE_BUCKET", "")),
			Region: getenv("AWS_REGION", "us-east-1"),
		},
		CORSAllowedOrigins: splitList(getenv("CORS_ALLOWED_ORIGINS", "*")),
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

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
