package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the core runtime configuration for the collector.
// Values are primarily sourced from environment variables, with
// sensible defaults where appropriate. See .env.example.
type Config struct {
	AdminUser     string
	AdminPassword string

	DatabaseURL string

	// RetentionDays is how long error records are kept before the
	// retention worker deletes them.
	RetentionDays int

	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	LogLevel  string
	LogFormat string

	// InternalAPIKey and InternalProjectID let the collector report its own
	// 5xx responses into one of its projects. Both must be set, otherwise
	// self-reporting is disabled.
	InternalAPIKey    string
	InternalProjectID string
	// InternalBufferPath is where self-reports that could not be delivered
	// are buffered. Empty keeps them in memory only.
	InternalBufferPath string
}

// Load reads configuration from environment variables and applies defaults.
func Load() *Config {
	cfg := &Config{
		AdminUser:          getenv("APP_ADMIN_USER", "admin"),
		AdminPassword:      getenv("APP_ADMIN_PASSWORD", "changeme"),
		DatabaseURL:        os.Getenv("APP_DATABASE_URL"),
		ListenAddr:         getenv("APP_LISTEN_ADDR", ":3000"),
		RetentionDays:      30,
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		LogLevel:           getenv("APP_LOG_LEVEL", "info"),
		LogFormat:          getenv("APP_LOG_FORMAT", "text"),
		InternalAPIKey:     getenv("APP_INTERNAL_API_KEY", ""),
		InternalProjectID:  getenv("APP_INTERNAL_PROJECT_ID", ""),
		InternalBufferPath: getenv("APP_INTERNAL_BUFFER_PATH", ""),
	}

	if v := os.Getenv("APP_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			cfg.RetentionDays = days
		}
	}
	cfg.ReadTimeout = getduration("APP_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = getduration("APP_WRITE_TIMEOUT", cfg.WriteTimeout)

	return cfg
}

// SelfReporting reports whether the collector should track its own failures.
func (c *Config) SelfReporting() bool {
	return c.InternalAPIKey != "" && c.InternalProjectID != ""
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getduration accepts Go duration strings ("15s") or a plain number of seconds.
func getduration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return def
}
