package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

type Config struct {
	// Application
	AppName string
	AppEnv  string
	Port    string

	// Database (optional driver switch via ENV, default: sqlite)
	DBDriver     string
	DBConnection string

	// Completion notices. Empty RedisURL keeps notices inside this process.
	RedisURL            string
	CompletionSlotTTL   time.Duration
	CompletionFreshness time.Duration
	ContextIdleTTL      time.Duration
	CalendarTimezone    string
	calendarLocation    *time.Location

	// Goal cleanup
	GoalCleanupAge      time.Duration
	GoalCleanupInterval time.Duration // 0 disables the background sweeper

	// Security
	JWTSecret     string // Optional: bearer tokens are only verified when set
	JWTExpiry     time.Duration
	APIRateLimit  int
	APIRateWindow time.Duration

	// Observability (optional)
	SentryDSN string
}

func Load() *Config {
	// Load .env file if it exists
	err := godotenv.Load()
	if err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg := &Config{
		// Application
		AppName: envString("APP_NAME", "Tendwell"),
		AppEnv:  envRequired("APP_ENV"), // Required: 'development' or 'production'
		Port:    envString("PORT", "8090"),

		// Database
		DBDriver:     envString("DB_DRIVER", "sqlite"),
		DBConnection: envString("DB_CONNECTION", "./data/tendwell.db?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"),

		// Completion notices
		RedisURL:            envString("REDIS_URL", ""),
		CompletionSlotTTL:   envDuration("COMPLETION_SLOT_TTL", 24*time.Hour),
		CompletionFreshness: envDuration("COMPLETION_FRESHNESS", 5*time.Second),
		ContextIdleTTL:      envDuration("CONTEXT_IDLE_TTL", 30*time.Minute),
		CalendarTimezone:    envString("CALENDAR_TIMEZONE", ""),

		// Goal cleanup
		GoalCleanupAge:      envDuration("GOAL_CLEANUP_AGE", 30*24*time.Hour), // 30 days
		GoalCleanupInterval: envDuration("GOAL_CLEANUP_INTERVAL", 6*time.Hour),

		// Security
		JWTSecret:     envString("JWT_SECRET", ""),
		JWTExpiry:     envDuration("JWT_EXPIRY", 168*time.Hour), // 7 days
		APIRateLimit:  envInt("API_RATE_LIMIT", 120),
		APIRateWindow: envDuration("API_RATE_WINDOW", time.Minute),

		// Observability
		SentryDSN: envString("SENTRY_DSN", ""),
	}

	cfg.calendarLocation = loadLocation(cfg.CalendarTimezone)

	// Production: validate required services
	if cfg.IsProduction() {
		validateProduction(cfg)
	}

	return cfg
}

// validateProduction ensures production deployments do not fall back to
// development-only defaults.
func validateProduction(cfg *Config) {
	if cfg.JWTSecret == "" {
		slog.Error("production deployment requires JWT_SECRET",
			"hint", "set APP_ENV=development to accept unauthenticated requests locally")
		os.Exit(1)
	}
}

func loadLocation(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("config invalid timezone, using local time", "key", "CALENDAR_TIMEZONE", "value", name)
		return time.Local
	}
	return loc
}

func envString(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		value = def
	}
	return value
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config invalid int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return i
}

func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func envRequired(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	slog.Error("config required env var missing", "key", key)
	os.Exit(1)
	return ""
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// CalendarLocation is the zone completions are bucketed into calendar days.
func (c *Config) CalendarLocation() *time.Location {
	if c.calendarLocation == nil {
		return time.Local
	}
	return c.calendarLocation
}

// AuthEnabled reports whether bearer tokens are verified.
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}
