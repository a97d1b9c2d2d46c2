package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port   string
	DBPath string
	// Redis - presence directory disabled when empty
	RedisURL    string
	PresenceTTL time.Duration
	// Code execution
	PistonURL      string
	ExecuteTimeout time.Duration
	// Identity - token verification disabled when empty
	JWTSecret       string
	EnforceReadOnly bool
	CORSOrigin      string
	// WebSocket limits
	MessagesPerSecond float64
	MessageBurst      int
	ConnectsPerMinute int
	// Journal retention
	RetentionMaxAge   time.Duration
	RetentionInterval time.Duration
}

// Load reads the environment, after applying an optional .env file from
// the working directory. Variables already set are not overridden.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:              getenv("PORT", "5000"),
		DBPath:            getenv("RELAY_DB_PATH", "./data/relay.db"),
		RedisURL:          getenv("REDIS_URL", ""),
		PresenceTTL:       time.Duration(getenvInt("PRESENCE_TTL_SECONDS", 120)) * time.Second,
		PistonURL:         getenv("PISTON_API_URL", "https://emkc.org/api/v2/piston/execute"),
		ExecuteTimeout:    time.Duration(getenvInt("EXECUTE_TIMEOUT_SECONDS", 30)) * time.Second,
		JWTSecret:         getenv("AUTH_JWT_SECRET", ""),
		EnforceReadOnly:   getenvBool("RELAY_ENFORCE_READ_ONLY", false),
		CORSOrigin:        getenv("CORS_ORIGIN", "*"),
		MessagesPerSecond: float64(getenvInt("WS_MESSAGES_PER_SECOND", 100)),
		MessageBurst:      getenvInt("WS_MESSAGE_BURST", 200),
		ConnectsPerMinute: getenvInt("WS_CONNECTS_PER_MINUTE", 60),
		RetentionMaxAge:   getenvDuration("JOURNAL_RETENTION_HOURS", 168, time.Hour),
		RetentionInterval: getenvDuration("JOURNAL_PRUNE_INTERVAL_MINUTES", 60, time.Minute),
	}
}

// Addr is the listen address for Port
func (c Config) Addr() string {
	return ":" + strings.TrimPrefix(c.Port, ":")
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// Reads a whole number of units; non-positive values fall back.
func getenvDuration(key string, fallback int, unit time.Duration) time.Duration {
	n := getenvInt(key, fallback)
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * unit
}
