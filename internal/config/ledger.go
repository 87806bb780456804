package config

import (
	"os"
	"strconv"
	"time"
)

type LedgerConfig struct {
	LockMaxWait   time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
	DirectoryTTL  time.Duration
	ListLimit     int
}

func LoadLedgerConfig() *LedgerConfig {
	return &LedgerConfig{
		LockMaxWait:   getEnvAsDuration("LEDGER_LOCK_MAX_WAIT", 2*time.Second),
		RetryAttempts: getEnvAsInt("LEDGER_RETRY_ATTEMPTS", 3),
		RetryBackoff:  getEnvAsDuration("LEDGER_RETRY_BACKOFF", 50*time.Millisecond),
		DirectoryTTL:  getEnvAsDuration("DIRECTORY_CACHE_TTL", 30*time.Second),
		ListLimit:     getEnvAsInt("LEDGER_LIST_LIMIT", 50),
	}
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
