package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	StorageEnabled   bool

	QuotaBackend   string
	QuotaFile      string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	CollectCity    string
	CollectState   string
	CollectSources []string
	CollectLimit   int

	CollectTimeout time.Duration
	MaxConcurrency int
	RateLimitWait  time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	DedupThreshold      float64
	DedupRadiusM        float64
	DedupConfidenceBand float64

	LogLevel      string
	MetricsAddr   string
	CSVOutputPath string
	ChromeBin     string

	ProvidersFile string
	Providers     []ProviderConfig
}

// Load reads the .env file, then the provider catalogue, and returns a
// populated Config struct.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	cfg := &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "collector"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "collector123"),
		PostgresDB:       getEnv("POSTGRES_DB", "property_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		StorageEnabled:   getEnvBool("STORAGE_ENABLED", true),

		QuotaBackend:   strings.ToLower(getEnv("QUOTA_BACKEND", "file")),
		QuotaFile:      getEnv("QUOTA_FILE", "./data/quota.json"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "property-collector:quota"),

		CollectCity:    getEnv("COLLECT_CITY", "San Francisco"),
		CollectState:   getEnv("COLLECT_STATE", "CA"),
		CollectSources: getEnvList("COLLECT_SOURCES", nil),
		CollectLimit:   getEnvInt("COLLECT_LIMIT", 0),

		CollectTimeout: getEnvDuration("COLLECT_TIMEOUT", 2*time.Minute),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 8),
		RateLimitWait:  getEnvDuration("RATE_LIMIT_WAIT", 30*time.Second),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		RetryBaseDelay: getEnvDuration("RETRY_BASE_DELAY", time.Second),
		RetryMaxDelay:  getEnvDuration("RETRY_MAX_DELAY", 30*time.Second),

		DedupThreshold:      getEnvFloat("DEDUP_THRESHOLD", 0.85),
		DedupRadiusM:        getEnvFloat("DEDUP_RADIUS_M", 150),
		DedupConfidenceBand: getEnvFloat("DEDUP_CONFIDENCE_BAND", 0.1),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		MetricsAddr:   getEnv("METRICS_ADDR", ""),
		CSVOutputPath: getEnv("CSV_OUTPUT_PATH", "./output/raw_records.csv"),
		ChromeBin:     getEnv("CHROME_BIN", ""),

		ProvidersFile: getEnv("PROVIDERS_FILE", "providers.yaml"),
	}

	providers, err := LoadProviders(cfg.ProvidersFile)
	if err != nil {
		return nil, err
	}
	cfg.Providers = providers
	return cfg, nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") or whole seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

// getEnvList splits a comma separated value, dropping empty items.
func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
