package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBURL             string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisURL string

	MetricsPush MetricsPushConfig

	ClickUp   ClickUpConfig
	Sync      SyncConfig
	Numbering NumberingConfig
	RateLimit RateLimitConfig
}

// ClickUpConfig configures the ClickUp integration.
type ClickUpConfig struct {
	APIToken        string
	BaseURL         string
	WebhookSecret   string
	PageSize        int
	MaxPages        int
	IncludeClosed   bool
	IncludeArchived bool
	RateLimitPerMin int
	Lists           map[string]string
}

// SyncConfig configures scheduled and externally triggered sync passes.
type SyncConfig struct {
	Interval         time.Duration
	SchedulerEnabled bool
	CronSecret       string
}

// NumberingConfig configures document number allocation.
type NumberingConfig struct {
	Strategy      string
	MaxAttempts   int
	Timezone      string
	OffertePrefix string
	FactuurPrefix string
}

// RateLimitConfig bounds request frequency per identity.
type RateLimitConfig struct {
	ManualSyncInterval time.Duration
	DocumentInterval   time.Duration
}

// MetricsPushConfig ships metrics from processes that expose no /metrics
// endpoint, such as the standalone scheduler.
type MetricsPushConfig struct {
	Exporter  string
	Endpoint  string
	AuthToken string
	Interval  time.Duration
}

// DefaultSyncInterval is the scheduled reconciliation cadence.
const DefaultSyncInterval = 15 * time.Minute

const (
	NumberingStrategyCounter = "counter"
	NumberingStrategyRetry   = "retry"
)

// Entity types mirrored from ClickUp, in sync order.
var ClickUpEntityTypes = []string{"list", "lead", "company", "contact", "assignment", "invoice"}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "kantoor"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            strings.ToLower(strings.TrimSpace(getenv("DATABASE_TYPE", "postgres"))),
		DBURL:             strings.TrimSpace(getenv("DATABASE_URL", "")),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "kantoor"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "kantoor.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		RedisURL:          strings.TrimSpace(getenv("REDIS_URL", "")),
		MetricsPush: MetricsPushConfig{
			Exporter:  strings.ToLower(strings.TrimSpace(getenv("METRICS_PUSH_EXPORTER", ""))),
			Endpoint:  strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
			Interval:  getenvDuration("METRICS_PUSH_INTERVAL", time.Minute),
		},
		ClickUp: ClickUpConfig{
			APIToken:        strings.TrimSpace(getenv("CLICKUP_API_TOKEN", "")),
			BaseURL:         strings.TrimRight(getenv("CLICKUP_API_BASE_URL", "https://api.clickup.com/api/v2"), "/"),
			WebhookSecret:   strings.TrimSpace(getenv("CLICKUP_WEBHOOK_SECRET", "")),
			PageSize:        getenvInt("CLICKUP_PAGE_SIZE", 100),
			MaxPages:        getenvInt("CLICKUP_MAX_PAGES", 100),
			IncludeClosed:   getenvBool("CLICKUP_INCLUDE_CLOSED", true),
			IncludeArchived: getenvBool("CLICKUP_INCLUDE_ARCHIVED", true),
			RateLimitPerMin: getenvInt("CLICKUP_RATE_LIMIT_PER_MIN", 100),
			Lists:           loadClickUpLists(),
		},
		Sync: SyncConfig{
			Interval:         getenvDuration("SYNC_INTERVAL", DefaultSyncInterval),
			SchedulerEnabled: getenvBool("SYNC_SCHEDULER_ENABLED", true),
			CronSecret:       strings.TrimSpace(getenv("CRON_SECRET", "")),
		},
		Numbering: NumberingConfig{
			Strategy:      normalizeStrategy(getenv("NUMBERING_STRATEGY", NumberingStrategyCounter)),
			MaxAttempts:   getenvInt("NUMBERING_MAX_ATTEMPTS", 8),
			Timezone:      getenv("NUMBERING_TIMEZONE", "Europe/Amsterdam"),
			OffertePrefix: getenv("NUMBERING_OFFERTE_PREFIX", "OFF"),
			FactuurPrefix: getenv("NUMBERING_FACTUUR_PREFIX", "FAC"),
		},
		RateLimit: RateLimitConfig{
			ManualSyncInterval: getenvDuration("RATE_LIMIT_MANUAL_SYNC_INTERVAL", 30*time.Second),
			DocumentInterval:   getenvDuration("RATE_LIMIT_DOCUMENT_INTERVAL", 0),
		},
	}

	return cfg
}

// HasClickUpLists reports whether at least one list id is configured.
func (c ClickUpConfig) HasClickUpLists() bool {
	for _, id := range c.Lists {
		if strings.TrimSpace(id) != "" {
			return true
		}
	}
	return false
}

func loadClickUpLists() map[string]string {
	lists := make(map[string]string, len(ClickUpEntityTypes))
	keys := map[string]string{
		"list":       "CLICKUP_LIST_ID_LISTS",
		"lead":       "CLICKUP_LIST_ID_LEADS",
		"company":    "CLICKUP_LIST_ID_COMPANIES",
		"contact":    "CLICKUP_LIST_ID_CONTACTS",
		"assignment": "CLICKUP_LIST_ID_ASSIGNMENTS",
		"invoice":    "CLICKUP_LIST_ID_INVOICES",
	}
	for _, entityType := range ClickUpEntityTypes {
		if id := strings.TrimSpace(os.Getenv(keys[entityType])); id != "" {
			lists[entityType] = id
		}
	}
	return lists
}

func normalizeStrategy(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case NumberingStrategyRetry:
		return NumberingStrategyRetry
	default:
		return NumberingStrategyCounter
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
