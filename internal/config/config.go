package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds configuration for the proxy.
type Config struct {
	HTTPPort string

	// Upstream settings
	BackendURL    string
	BackendAPIKey string

	// Route table settings
	RoutesFile           string
	RouteHostOverride    string
	RoutesReloadInterval time.Duration

	// Rate limit settings
	RateLimit         int
	RateWindowSeconds int
	RateLimitBackend  string // "ledger", "redis" or "memory"

	// Whether the aggregated /v1/models path is rate limited and written to
	// the usage ledger like any other request.
	AccountModelsList bool

	UsersTable    string
	RequestsTable string

	Database DatabaseConfig
	Cache    CacheConfig
	Redis    RedisConfig
	Log      LogConfig
}

// DatabaseConfig holds credential-store connection settings.
type DatabaseConfig struct {
	User     string
	Password string
	Name     string
	Host     string
	Port     string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN builds the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Name, c.User, c.Password, c.SSLMode,
	)
}

// CacheConfig holds credential cache settings. A zero TTL disables caching.
type CacheConfig struct {
	UserCacheSize int
	UserCacheTTL  time.Duration
}

// RedisConfig holds Redis connection settings, used only when the rate limit
// backend is "redis".
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string // "text" or "json"
}

// RateWindow returns the rate limit window as a duration.
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.RateWindowSeconds) * time.Second
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val == "true" || val == "1"
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

// loadEnvFiles reads optional env files without overriding variables that are
// already set, matching the precedence of the deployment scripts.
func loadEnvFiles(paths ...string) {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		_ = godotenv.Load(path)
	}
}

// Load reads configuration from env files and environment variables.
func Load() (*Config, error) {
	loadEnvFiles("runtime/config.env", ".env")

	cfg := &Config{
		HTTPPort: getEnvString("HTTP_PORT", "8080"),

		BackendURL:    getEnvString("LLAMA_SERVER_BACKEND_URL", "http://127.0.0.1:8002"),
		BackendAPIKey: getEnvString("LLAMA_SERVER_API_KEY", ""),

		RoutesFile:           getEnvString("LLAMA_PROXY_ROUTES_FILE", ""),
		RouteHostOverride:    getEnvString("LLAMA_PROXY_ROUTE_HOST", ""),
		RoutesReloadInterval: getEnvDuration("LLAMA_PROXY_ROUTES_RELOAD_INTERVAL", 30*time.Second),

		RateLimit:         getEnvInt("LLAMA_PROXY_RATE_LIMIT", 60),
		RateWindowSeconds: getEnvInt("LLAMA_PROXY_RATE_WINDOW_SECONDS", 60),
		RateLimitBackend:  getEnvString("LLAMA_PROXY_RATE_LIMIT_BACKEND", "ledger"),

		AccountModelsList: getEnvBool("LLAMA_PROXY_ACCOUNT_MODELS_LIST", false),

		UsersTable:    getEnvString("LLAMA_SERVER_USERS_TABLE", "llama_users"),
		RequestsTable: getEnvString("LLAMA_SERVER_REQUESTS_TABLE", "llama_requests"),

		Database: DatabaseConfig{
			User:     os.Getenv("POSTGRES_AUTH_USER"),
			Password: os.Getenv("POSTGRES_AUTH_PASSWORD"),
			Name:     os.Getenv("POSTGRES_AUTH_DB"),
			Host:     getEnvString("POSTGRES_AUTH_HOST", "localhost"),
			Port:     getEnvString("POSTGRES_AUTH_PORT", "5432"),
			SSLMode:  getEnvString("POSTGRES_AUTH_SSLMODE", "disable"),

			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		},
		Cache: CacheConfig{
			UserCacheSize: getEnvInt("CACHE_USER_SIZE", 1000),
			UserCacheTTL:  getEnvDuration("CACHE_USER_TTL", 30*time.Second),
		},
		Redis: RedisConfig{
			Address:  getEnvString("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Log: LogConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "text"),
		},
	}

	if cfg.Database.User == "" || cfg.Database.Password == "" || cfg.Database.Name == "" {
		return nil, fmt.Errorf("missing database config: set POSTGRES_AUTH_USER, POSTGRES_AUTH_PASSWORD and POSTGRES_AUTH_DB")
	}

	switch cfg.RateLimitBackend {
	case "ledger", "redis", "memory":
	default:
		return nil, fmt.Errorf("invalid LLAMA_PROXY_RATE_LIMIT_BACKEND %q: must be ledger, redis or memory", cfg.RateLimitBackend)
	}

	return cfg, nil
}
