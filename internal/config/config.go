package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full configuration surface of the queue service. All
// values come from the environment (optionally a .env file); defaults
// are the documented fallbacks below.
type Config struct {
	Port string

	// Per-owner admission limits.
	RequestsPerMinute int
	RequestsPerHour   int

	// Scheduler limits protecting shared upstream capacity.
	ConcurrentRequests int
	DispatchPerMinute  int

	// Retry policy.
	RetryAttempts  int
	RetryMinDelay  time.Duration
	RetryMaxDelay  time.Duration
	AttemptTimeout time.Duration

	CacheTTL time.Duration

	// FallbackEnabled lets the client facade try the next healthy
	// provider after a retryable failure.
	FallbackEnabled bool

	// FailOpen controls rate-limiter behavior when the counter store
	// is unavailable: true allows the request through.
	FailOpen bool

	// RedisURL, when set, backs the rate-limit counters and the
	// response cache with Redis instead of in-process memory.
	RedisURL string

	// Request-history store.
	StorageBackend string // "sqlite" or "pebble"
	StoragePath    string

	AnthropicAPIKey string
	AnthropicModel  string
	OpenAIAPIKey    string
	OpenAIModel     string
}

func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		RequestsPerMinute:  getEnvInt("REQUESTS_PER_MINUTE", 10),
		RequestsPerHour:    getEnvInt("REQUESTS_PER_HOUR", 100),
		ConcurrentRequests: getEnvInt("CONCURRENT_REQUESTS", 5),
		DispatchPerMinute:  getEnvInt("DISPATCH_PER_MINUTE", 60),
		RetryAttempts:      getEnvInt("RETRY_ATTEMPTS", 3),
		RetryMinDelay:      getEnvDuration("RETRY_MIN_DELAY", time.Second),
		RetryMaxDelay:      getEnvDuration("RETRY_MAX_DELAY", 30*time.Second),
		AttemptTimeout:     getEnvDuration("ATTEMPT_TIMEOUT", 2*time.Minute),
		CacheTTL:           getEnvDuration("CACHE_TTL", time.Hour),
		FallbackEnabled:    getEnvBool("FALLBACK_ENABLED", true),
		FailOpen:           getEnvBool("RATE_LIMIT_FAIL_OPEN", true),
		RedisURL:           getEnv("REDIS_URL", ""),
		StorageBackend:     getEnv("STORAGE_BACKEND", "sqlite"),
		StoragePath:        getEnv("STORAGE_PATH", "./data/aiqueue.db"),
		AnthropicAPIKey:    getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:     getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-latest"),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:        getEnv("OPENAI_MODEL", "gpt-4o-mini"),
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.RequestsPerMinute <= 0 {
		return fmt.Errorf("REQUESTS_PER_MINUTE must be positive")
	}
	if c.RequestsPerHour < c.RequestsPerMinute {
		return fmt.Errorf("REQUESTS_PER_HOUR must be >= REQUESTS_PER_MINUTE")
	}
	if c.ConcurrentRequests <= 0 {
		return fmt.Errorf("CONCURRENT_REQUESTS must be positive")
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("RETRY_ATTEMPTS must not be negative")
	}
	if c.RetryMaxDelay < c.RetryMinDelay {
		return fmt.Errorf("RETRY_MAX_DELAY must be >= RETRY_MIN_DELAY")
	}
	switch c.StorageBackend {
	case "sqlite", "pebble", "none":
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND: %s", c.StorageBackend)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
