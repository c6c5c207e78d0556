package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env string `env:"ENV" default:"dev"`

	Port string `env:"PORT" default:"8080"`

	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:""` // json | text (empty: text in dev, json otherwise)

	StateBackend string `env:"STATE_BACKEND" default:"memory"` // memory | mysql | sqlite
	MySQLDSN     string `env:"DB_DSN" default:""`              // required when STATE_BACKEND=mysql
	SQLitePath   string `env:"SQLITE_PATH" default:"productimporter.db"`

	// Optional: run migrations at startup (dev convenience)
	RunMigrations bool `env:"RUN_MIGRATIONS" default:"false"`

	SessionBackend string        `env:"SESSION_BACKEND" default:"store"` // store | redis
	RedisURL       string        `env:"REDIS_URL" default:"redis://localhost:6379/0"`
	SessionTTL     time.Duration `env:"SESSION_TTL" default:"168h"`

	Import  ImportConfig
	Webhook WebhookConfig

	NATSURL           string `env:"NATS_URL" default:""`
	NATSSubjectPrefix string `env:"NATS_SUBJECT_PREFIX" default:"catalog"`

	AuthRequired bool `env:"AUTH_REQUIRED" default:"false"`
}

type ImportConfig struct {
	BatchSize      int    `env:"IMPORT_BATCH_SIZE" default:"1000"`
	Concurrency    int    `env:"IMPORT_CONCURRENCY" default:"4"`
	ErrorLogLimit  int    `env:"IMPORT_ERROR_LOG_LIMIT" default:"1000"`
	MaxUploadBytes int64  `env:"MAX_UPLOAD_BYTES" default:"104857600"`
	SpoolDir       string `env:"UPLOAD_SPOOL_DIR" default:""` // empty: os.TempDir()
}

type WebhookConfig struct {
	Timeout     time.Duration `env:"WEBHOOK_TIMEOUT" default:"10s"`
	MaxRetries  int           `env:"WEBHOOK_MAX_RETRIES" default:"3"`
	Backoff     time.Duration `env:"WEBHOOK_BACKOFF" default:"500ms"`
	Concurrency int           `env:"WEBHOOK_CONCURRENCY" default:"8"`
	RatePerSec  float64       `env:"WEBHOOK_RATE_PER_SEC" default:"0"` // 0 disables limiting
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:            getenv("ENV", "dev"),
		Port:           getenv("PORT", "8080"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogFormat:      getenv("LOG_FORMAT", ""),
		StateBackend:   getenv("STATE_BACKEND", "memory"),
		MySQLDSN:       getenv("DB_DSN", ""),
		SQLitePath:     getenv("SQLITE_PATH", "productimporter.db"),
		RunMigrations:  getenvBool("RUN_MIGRATIONS", false),
		SessionBackend: getenv("SESSION_BACKEND", "store"),
		RedisURL:       getenv("REDIS_URL", "redis://localhost:6379/0"),
		SessionTTL:     getenvDuration("SESSION_TTL", 7*24*time.Hour),
		Import: ImportConfig{
			BatchSize:      getenvInt("IMPORT_BATCH_SIZE", 1000),
			Concurrency:    getenvInt("IMPORT_CONCURRENCY", 4),
			ErrorLogLimit:  getenvInt("IMPORT_ERROR_LOG_LIMIT", 1000),
			MaxUploadBytes: getenvInt64("MAX_UPLOAD_BYTES", 100*1024*1024),
			SpoolDir:       getenv("UPLOAD_SPOOL_DIR", ""),
		},
		Webhook: WebhookConfig{
			Timeout:     getenvDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			MaxRetries:  getenvInt("WEBHOOK_MAX_RETRIES", 3),
			Backoff:     getenvDuration("WEBHOOK_BACKOFF", 500*time.Millisecond),
			Concurrency: getenvInt("WEBHOOK_CONCURRENCY", 8),
			RatePerSec:  getenvFloat("WEBHOOK_RATE_PER_SEC", 0),
		},
		NATSURL:           getenv("NATS_URL", ""),
		NATSSubjectPrefix: getenv("NATS_SUBJECT_PREFIX", "catalog"),
		AuthRequired:      getenvBool("AUTH_REQUIRED", false),
	}
	return cfg
}

// IsDev reports whether the service runs in a local/dev environment.
func (c Config) IsDev() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "dev")
}

func getenv(key string, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getenvBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getenvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvInt64(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getenvFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
