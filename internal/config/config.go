// Package config provides configuration for turngate.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the turngate configuration.
type Config struct {
	// Server settings
	HTTPPort int
	RPCAddr  string

	// Database
	DatabaseURL string

	// Oracle
	Mock           bool
	OracleProvider string
	OracleURL      string
	OracleAPIKey   string
	OracleModel    string
	OracleTimeout  time.Duration

	// Prompts and policy
	PromptDir      string
	PipelinesFile  string
	PolicyDir      string
	PolicySourceID string

	// Turns
	AccessResolverMode string
	HistoryWindow      int
	TurnConcurrency    int
	OutboxTTL          time.Duration
	OutboxSweep        time.Duration

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables. A .env file in the
// working directory is read first when present.
func Load() *Config {
	_ = godotenv.Load()
	cfg := &Config{
		HTTPPort:           getEnvInt("HTTP_PORT", 8080),
		RPCAddr:            getEnv("RPC_ADDR", ""),
		DatabaseURL:        getEnv("DATABASE_URL", "file:turngate.db?cache=shared&mode=rwc"),
		Mock:               getEnv("TURNGATE_MODE", "") == "MOCK",
		OracleProvider:     getEnv("ORACLE_PROVIDER", "litellm"),
		OracleURL:          getEnv("ORACLE_URL", "http://localhost:4000"),
		OracleAPIKey:       getEnv("ORACLE_API_KEY", ""),
		OracleModel:        getEnv("ORACLE_MODEL", "gpt-4o-mini"),
		OracleTimeout:      time.Duration(getEnvInt("ORACLE_TIMEOUT_MS", 30000)) * time.Millisecond,
		PromptDir:          getEnv("PROMPT_DIR", ""),
		PipelinesFile:      getEnv("PIPELINES_FILE", ""),
		PolicyDir:          getEnv("POLICY_DIR", ""),
		PolicySourceID:     getEnv("POLICY_SOURCE_ID", ""),
		AccessResolverMode: getEnv("ACCESS_RESOLVER_MODE", "oracle"),
		HistoryWindow:      getEnvInt("TURN_HISTORY_WINDOW", 10),
		TurnConcurrency:    getEnvInt("TURN_CONCURRENCY", 4),
		OutboxTTL:          time.Duration(getEnvInt("OUTBOX_TTL_MS", 3600000)) * time.Millisecond,
		OutboxSweep:        time.Duration(getEnvInt("OUTBOX_SWEEP_MS", 60000)) * time.Millisecond,
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
