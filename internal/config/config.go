package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error" | "critical"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	SourcesFile     string        // path to sources.yaml
	HarvestInterval time.Duration // serve mode: time between harvest cycles (default: 24h)
	Workers         int           // sources harvested in parallel
	FetchTimeout    time.Duration // per-request timeout, 0 = none
	UserAgent       string        // optional, defaults to urnharvest/<version>
	MaxRequests     int           // documents per source run before giving up, 0 = no limit

	// Store
	Store             string        // "postgres" | "memory"
	DatabaseURL       string        // required when Store is postgres
	DBMaxOpenConns    int           // pool size
	DBMaxIdleConns    int           // idle connections kept
	DBConnMaxLifetime time.Duration // recycle connections after this long

	// Redis (optional, empty RedisAddr => in-process locking and no run history)
	RedisAddr             string        // ex: "localhost:6379"
	RedisUser             string        // optional
	RedisPassword         string        // optional
	RedisPasswordRequired bool          // true => require password, false => allow empty password
	RedisDB               int           // Redis DB number
	RedisDT               time.Duration // Redis dial timeout (ex: 5s)
	RedisRT               time.Duration // Redis read timeout (ex: 3s)
	RedisWT               time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait          time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout      time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize         int           // Redis connection pool size
	RedisConnectTimeout   time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval    time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold    int           // warn after this many attempts
	LockTTL               time.Duration // per-source lock lease, refreshed while a harvest runs

	AllowedCIDRS []string // optional, restrict POST /harvest to specific IPs (e.g. "1.2.3.4, 10.0.0.0/8")
	TrustProxy   bool     // true => trust X-Forwarded-For headers
}

// Load reads the configuration from the environment, after loading .env
// files. It panics on invalid required settings.
func Load() *Config {
	if err := loadEnvFiles(); err != nil {
		panic(fmt.Sprintf("❌ FATAL: %v", err))
	}

	cfg := &Config{
		// Server settings
		ListenPort:      getenv("URNH_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("URNH_SHUTDOWN_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:  getenv("URNH_LOG_LEVEL", "info"),
		PrettyLog: mustBool("URNH_PRETTY_LOG", false),

		// Harvesting
		SourcesFile:     getenv("URNH_SOURCES_FILE", "sources.yaml"),
		HarvestInterval: mustDuration("URNH_HARVEST_INTERVAL", 24*time.Hour),
		Workers:         getenvInt("URNH_WORKERS", 2),
		FetchTimeout:    mustDuration("URNH_FETCH_TIMEOUT", 0),
		UserAgent:       getenv("URNH_USER_AGENT", ""),
		MaxRequests:     getenvInt("URNH_MAX_REQUESTS", 16384),

		// Store
		Store:             getenv("URNH_STORE", StorePostgres),
		DBMaxOpenConns:    getenvInt("URNH_DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns:    getenvInt("URNH_DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: mustDuration("URNH_DB_CONN_MAX_LIFETIME", 30*time.Minute),

		// Redis settings
		RedisAddr:             getenv("URNH_REDIS_ADDR", ""),
		RedisUser:             getenv("URNH_REDIS_USERNAME", ""),
		RedisPasswordRequired: mustBool("URNH_REDIS_PASSWORD_REQUIRED", false),
		RedisPassword:         getenv("URNH_REDIS_PASSWORD", ""),
		RedisDB:               getenvInt("URNH_REDIS_DB", 0),
		RedisDT:               mustDuration("URNH_REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               mustDuration("URNH_REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               mustDuration("URNH_REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:          mustDuration("URNH_REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:      mustDuration("URNH_REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:         getenvInt("URNH_REDIS_POOL_SIZE", 10),
		RedisConnectTimeout:   mustDuration("URNH_REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:    mustDuration("URNH_REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:    getenvInt("URNH_REDIS_WARN_THRESHOLD", 3),
		LockTTL:               mustDuration("URNH_LOCK_TTL", 2*time.Minute),

		// Access restrictions
		AllowedCIDRS: parseAllowedIPs(getenv("URNH_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("URNH_TRUST_PROXY", false),
	}

	switch cfg.Store {
	case StorePostgres:
		cfg.DatabaseURL = requireEnv("URNH_DATABASE_URL")
	case StoreMemory:
	default:
		panic(fmt.Sprintf("❌ FATAL: URNH_STORE must be %q or %q, got %q", StorePostgres, StoreMemory, cfg.Store))
	}

	if cfg.Workers < 1 {
		panic(fmt.Sprintf("❌ FATAL: URNH_WORKERS must be >= 1, got %d", cfg.Workers))
	}

	// Validate Redis password configuration
	if cfg.RedisAddr != "" && cfg.RedisPasswordRequired && cfg.RedisPassword == "" {
		panic("❌ FATAL: URNH_REDIS_PASSWORD is required when URNH_REDIS_PASSWORD_REQUIRED=true")
	}

	return cfg
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.RedisPassword != "" {
		c.RedisPassword = "***REDACTED***"
	}
	if c.RedisUser != "" {
		c.RedisUser = "***REDACTED***"
	}
	if c.DatabaseURL != "" {
		c.DatabaseURL = "***REDACTED***"
	}
	return c
}

// loadEnvFiles loads ENV_FILE if set, otherwise .env.local then .env.
// Variables already in the environment win; missing files are ignored.
func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	for _, name := range []string{".env.local", ".env"} {
		if err := godotenv.Load(name); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", name, err)
		}
	}
	return nil
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return v
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
