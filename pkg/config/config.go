package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds environment-driven process settings. Trading parameters live
// in the YAML file referenced by TradingConfigPath (see trading.go).
type Config struct {
	Port      string
	DBPath    string
	JWTSecret string

	TradingConfigPath string

	// Paper execution simulates fills locally instead of hitting a broker.
	PaperTrading bool

	// InitialBalance, when set, overrides capital.total from the trading
	// YAML. Zero means the YAML value stands.
	InitialBalance float64

	// Order-execution boundary
	ExecTimeoutMs int // per submission attempt
	ExecWorkers   int
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:              getEnv("PORT", "8080"),
		DBPath:            getEnv("DB_PATH", "./data/gann.db"),
		JWTSecret:         getEnv("JWT_SECRET", "dev-secret"),
		TradingConfigPath: getEnv("TRADING_CONFIG", "./trading.yaml"),
		PaperTrading:      getEnv("PAPER_TRADING", "true") == "true",
		InitialBalance:    getEnvFloat("INITIAL_BALANCE", 0),
		ExecTimeoutMs:     getEnvInt("EXEC_TIMEOUT_MS", 5000),
		ExecWorkers:       getEnvInt("EXEC_WORKERS", 4),
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
