package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the execution engine.
type Config struct {
	Port      string
	DBPath    string
	JWTSecret string

	// Trading mode
	DryRun         bool
	Account        string
	InitialBalance float64

	// Paper venue simulation
	PaperFeeRate     float64 // decimal (e.g. 0.0004 = 4 bps)
	PaperSlippageBps float64

	// Control loop
	CycleInterval     time.Duration
	ReconcileInterval time.Duration
	SweepInterval     time.Duration
	MaxOrderAge       time.Duration

	// Order submission
	MaxRetries     int
	RetryBaseDelay time.Duration
	QueueSize      int

	// Price feed
	EnableFeed bool
	FeedURL    string

	// Risk file (limits + correlation matrix)
	RiskFile string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the engine still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:              getEnv("PORT", "8080"),
		DBPath:            getEnv("DB_PATH", "./data/polyagent.db"),
		JWTSecret:         getEnv("JWT_SECRET", "dev-secret"),
		DryRun:            getEnv("DRY_RUN", "true") == "true",
		Account:           getEnv("ACCOUNT_ADDRESS", "0xpaper"),
		InitialBalance:    getEnvFloat("INITIAL_BALANCE", 10000.0),
		PaperFeeRate:      getEnvFloat("PAPER_FEE_RATE", 0.0),
		PaperSlippageBps:  getEnvFloat("PAPER_SLIPPAGE_BPS", 0),
		CycleInterval:     getEnvDuration("CYCLE_INTERVAL", 5*time.Second),
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", 10*time.Second),
		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", 30*time.Second),
		MaxOrderAge:       getEnvDuration("MAX_ORDER_AGE", 5*time.Minute),
		MaxRetries:        getEnvInt("SUBMIT_MAX_RETRIES", 3),
		RetryBaseDelay:    getEnvDuration("SUBMIT_RETRY_DELAY", time.Second),
		QueueSize:         getEnvInt("SUBMIT_QUEUE_SIZE", 100),
		EnableFeed:        getEnv("ENABLE_PRICE_FEED", "false") == "true",
		FeedURL:           getEnv("PRICE_FEED_URL", ""),
		RiskFile:          getEnv("RISK_FILE", ""),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
