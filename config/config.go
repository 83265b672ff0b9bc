package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server  ServerConfig
	Logger  LoggerConfig
	SQLite  SQLiteConfig
	Redis   RedisConfig
	Engine  EngineConfig
	Janitor JanitorConfig
}

type ServerConfig struct {
	AppEnv          string
	Port            string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

type LoggerConfig struct {
	Level             string
	Encoding          string
	Development       bool
	DisableCaller     bool
	DisableStacktrace bool
}

type SQLiteConfig struct {
	Path          string
	AllowNegative bool
	Seed          bool
}

// RedisConfig enables the distributed conference lock when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

type EngineConfig struct {
	RetryAttempts int
	RetryBackoff  time.Duration
}

type JanitorConfig struct {
	Enabled  bool
	Interval time.Duration
	MaxAge   time.Duration
}

func LoadEnv() *Config {
	appEnv := getEnv("APP_ENV", "development")
	dev := appEnv == "development"

	return &Config{
		Server: ServerConfig{
			AppEnv:          appEnv,
			Port:            getEnv("PORT", "8080"),
			AllowedOrigins:  getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Logger: LoggerConfig{
			Level:             getEnv("LOGGER_LEVEL", defaultLevel(dev)),
			Encoding:          getEnv("LOGGER_ENCODING", defaultEncoding(dev)),
			Development:       dev,
			DisableCaller:     getEnvBool("LOGGER_DISABLE_CALLER", false),
			DisableStacktrace: getEnvBool("LOGGER_DISABLE_STACKTRACE", true),
		},
		SQLite: SQLiteConfig{
			Path:          getEnv("DB_PATH", "./conference.db"),
			AllowNegative: getEnvBool("LEDGER_ALLOW_NEGATIVE", true),
			Seed:          getEnvBool("SEED_DEMO_DATA", false),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			LockTTL:  getEnvDuration("REDIS_LOCK_TTL", 30*time.Second),
		},
		Engine: EngineConfig{
			RetryAttempts: getEnvInt("ENGINE_RETRY_ATTEMPTS", 3),
			RetryBackoff:  getEnvDuration("ENGINE_RETRY_BACKOFF", 50*time.Millisecond),
		},
		Janitor: JanitorConfig{
			Enabled:  getEnvBool("JANITOR_ENABLED", false),
			Interval: getEnvDuration("JANITOR_INTERVAL", time.Hour),
			MaxAge:   getEnvDuration("JANITOR_MAX_AGE", 72*time.Hour),
		},
	}
}

func defaultLevel(dev bool) string {
	if dev {
		return "debug"
	}
	return "info"
}

func defaultEncoding(dev bool) string {
	if dev {
		return "console"
	}
	return "json"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts time.ParseDuration syntax ("90s", "72h").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return strings.Split(value, ",")
	}
	return fallback
}
