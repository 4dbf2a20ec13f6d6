package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the core runtime configuration for the service.
// Values are primarily sourced from environment variables, with
// sensible defaults where appropriate. See .env.example.
//
// The queue key, counter-cache key and batch size are deliberately
// configuration rather than package globals; the flusher receives them
// at construction.
type Config struct {
	ListenAddr string

	DatabaseURL string
	RedisURL    string

	// FlushToken authorizes POST /v1/flush. If empty, the endpoint is
	// disabled and only the internal scheduler triggers flushes.
	FlushToken string

	// AnalyticsEnabled gates the whole pipeline: when false a flush
	// drains nothing and archives nothing.
	AnalyticsEnabled bool

	// Timezone is an IANA zone name used for calendar-date bucketing.
	// An unknown name falls back to UTC at the point of use.
	Timezone string

	// PrecisionDays is the raw-retention window: page views older than
	// the start of the local day PrecisionDays ago are folded into the
	// daily archive and deleted. 0 disables archival.
	PrecisionDays int

	// RetentionDays is the archive lifetime. 0 keeps archives forever.
	RetentionDays int

	FlushBatchSize int
	FlushInterval  time.Duration

	QueueKey        string
	CounterCacheKey string
	FlushLockKey    string
	FlushLockTTL    time.Duration
}

// Load reads configuration from environment variables and applies defaults.
func Load() *Config {
	return &Config{
		ListenAddr:       getenv("APP_LISTEN_ADDR", ":8080"),
		DatabaseURL:      os.Getenv("APP_DATABASE_URL"),
		RedisURL:         getenv("APP_REDIS_URL", "redis://localhost:6379/0"),
		FlushToken:       os.Getenv("APP_FLUSH_TOKEN"),
		AnalyticsEnabled: getenvBool("APP_ANALYTICS_ENABLED", true),
		Timezone:         getenv("APP_TIMEZONE", "UTC"),
		PrecisionDays:    getenvInt("APP_PRECISION_DAYS", 7),
		RetentionDays:    getenvInt("APP_RETENTION_DAYS", 365),
		FlushBatchSize:   getenvInt("APP_FLUSH_BATCH_SIZE", 500),
		FlushInterval:    getenvDuration("APP_FLUSH_INTERVAL", 10*time.Minute),
		QueueKey:         getenv("APP_QUEUE_KEY", "pageflux:events"),
		CounterCacheKey:  getenv("APP_COUNTER_KEY", "pageflux:views"),
		FlushLockKey:     getenv("APP_FLUSH_LOCK_KEY", "pageflux:flush-lock"),
		FlushLockTTL:     getenvDuration("APP_FLUSH_LOCK_TTL", 2*time.Minute),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
