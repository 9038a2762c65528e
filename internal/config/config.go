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

	AuthTokenSecret string
	AuthTokenTTL    time.Duration

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

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Razorpay RazorpayConfig
	Provider ProviderConfig
	UPI      UPIConfig

	// TxnTTL is how long a PENDING transaction may wait for payment
	// confirmation before the sweeper cancels it.
	TxnTTL time.Duration
}

// RazorpayConfig is the payment-gateway credential set.
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	BaseURL       string
}

// ProviderConfig is the FASTag recharge provider credential set.
type ProviderConfig struct {
	Name          string
	RechargeURL   string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
}

// UPIConfig covers the direct-UPI (no gateway) channel and its
// reconciliation inputs.
type UPIConfig struct {
	PayeeVPA      string
	PayeeName     string
	WebhookSecret string
	CSVDir        string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:         getenv("APP_SERVICE", "fastag"),
		AppVersion:      getenv("APP_VERSION", "0.1.0"),
		Environment:     getenv("ENVIRONMENT", "development"),
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		AuthTokenSecret: strings.TrimSpace(getenv("AUTH_TOKEN_SECRET", "")),
		AuthTokenTTL:    getenvDuration("AUTH_TOKEN_TTL", 24*time.Hour),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "fastag"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		Razorpay: RazorpayConfig{
			KeyID:         strings.TrimSpace(getenv("RAZORPAY_KEY_ID", "")),
			KeySecret:     strings.TrimSpace(getenv("RAZORPAY_KEY_SECRET", "")),
			WebhookSecret: strings.TrimSpace(getenv("RAZORPAY_WEBHOOK_SECRET", "")),
			BaseURL:       getenv("RAZORPAY_BASE_URL", "https://api.razorpay.com/v1"),
		},
		Provider: ProviderConfig{
			Name:          getenv("PROVIDER_NAME", "CYRUS"),
			RechargeURL:   strings.TrimSpace(getenv("CYRUS_RECHARGE_URL", "")),
			APIKey:        strings.TrimSpace(getenv("CYRUS_API_KEY", "")),
			WebhookSecret: strings.TrimSpace(getenv("CYRUS_WEBHOOK_SECRET", "")),
			Timeout:       getenvDuration("CYRUS_TIMEOUT", 10*time.Second),
		},
		UPI: UPIConfig{
			PayeeVPA:      strings.ToLower(strings.TrimSpace(getenv("UPI_PAYEE_VPA", ""))),
			PayeeName:     getenv("UPI_PAYEE_NAME", "FASTag Recharge"),
			WebhookSecret: strings.TrimSpace(getenv("UPI_WEBHOOK_SECRET", "")),
			CSVDir:        strings.TrimSpace(getenv("UPI_CSV_DIR", "")),
		},

		TxnTTL: getenvDuration("FASTAG_TXN_TTL", 48*time.Hour),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
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
	if err != nil {
		return def
	}
	return parsed
}
