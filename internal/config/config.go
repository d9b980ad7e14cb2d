package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the daemon and the sync core need, sourced from the
// environment with an optional .env file.
type Config struct {
	// Identity of the authenticated session the core syncs for.
	UserID string

	// Backend endpoints.
	BackendURL   string
	WSURL        string
	AMQPURL      string
	AMQPExchange string

	// Poll cadences and cache tuning.
	CountPollInterval   time.Duration
	MessagePollInterval time.Duration
	StaleAfter          time.Duration
	ReconnectInterval   time.Duration
	NotificationTTL     time.Duration

	// Daemon surface.
	ListenAddr string
	LogLevel   string
	LogFormat  string

	// Tracing.
	OTLPEndpoint   string
	TracingEnabled bool

	// Embedded stub backend (demo and integration testing only).
	EmbeddedBackend bool
	DBDriver        string
	DBDSN           string
}

// Load reads configuration from the environment. A missing .env file is not an
// error.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		UserID:              getEnv("SYNC_USER_ID", "demo-coach"),
		BackendURL:          getEnv("BACKEND_URL", "http://localhost:8083"),
		WSURL:               getEnv("BACKEND_WS_URL", "ws://localhost:8083/ws/events"),
		AMQPURL:             getEnv("AMQP_URL", ""),
		AMQPExchange:        getEnv("AMQP_EXCHANGE", "messaging.events"),
		CountPollInterval:   getDuration("COUNT_POLL_INTERVAL", 30*time.Second),
		MessagePollInterval: getDuration("MESSAGE_POLL_INTERVAL", 4*time.Second),
		StaleAfter:          getDuration("CACHE_STALE_AFTER", 30*time.Second),
		ReconnectInterval:   getDuration("PUSH_RECONNECT_INTERVAL", 5*time.Second),
		NotificationTTL:     getDuration("NOTIFICATION_TTL", 5*time.Second),
		ListenAddr:          getEnv("LISTEN_ADDR", ":8090"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "console"),
		OTLPEndpoint:        getEnv("OTLP_ENDPOINT", "localhost:4317"),
		TracingEnabled:      getBool("TRACING_ENABLED", false),
		EmbeddedBackend:     getBool("BACKEND_EMBEDDED", false),
		DBDriver:            getEnv("BACKEND_DB_DRIVER", "sqlite3"),
		DBDSN:               getEnv("BACKEND_DB_DSN", "file:messaging.db?cache=shared"),
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

func getBool(key string, fallback bool) bool {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return b
}
