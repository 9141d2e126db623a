package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	APIURL      string
	Port        int
	LogLevel    string
	APIToken    string
	AdminKey    string
	CaseID      string
	ArchetypeID string

	RequestTimeout time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration

	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int

	NatsURL   string
	NatsToken string
}

func Load() Config {
	return Config{
		APIURL:      envStr("GAVEL_API_URL", "http://localhost:8000"),
		Port:        envInt("GAVEL_PORT", 8760),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		APIToken:    envStr("GAVEL_API_TOKEN", ""),
		AdminKey:    envStr("GAVEL_ADMIN_KEY", ""),
		CaseID:      envStr("GAVEL_CASE_ID", ""),
		ArchetypeID: envStr("GAVEL_ARCHETYPE", "common_sense"),

		RequestTimeout: envDuration("GAVEL_REQUEST_TIMEOUT", 15*time.Second),
		MaxRetries:     envInt("GAVEL_MAX_RETRIES", 2),
		RetryBaseDelay: envDuration("GAVEL_RETRY_BASE_DELAY", 300*time.Millisecond),

		ReconnectBaseDelay:   envDuration("GAVEL_RECONNECT_BASE_DELAY", time.Second),
		ReconnectMaxDelay:    envDuration("GAVEL_RECONNECT_MAX_DELAY", 30*time.Second),
		ReconnectMaxAttempts: envInt("GAVEL_RECONNECT_MAX_ATTEMPTS", 5),

		// Event publishing is off unless NATS_URL is set.
		NatsURL:   envStr("NATS_URL", ""),
		NatsToken: envStr("NATS_TOKEN", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// envDuration accepts Go duration strings ("1.5s") or bare milliseconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
