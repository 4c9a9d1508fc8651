package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Secrets (from .env)
	AlphaVantageAPIKey string `yaml:"alpha_vantage_api_key"`
	WebhookURL         string `yaml:"webhook_url"`
	AppName            string `yaml:"app_name"`
	APIKey             string `yaml:"api_key"`
	CORSAllowOrigin    string `yaml:"cors_allow_origin"`

	// Quotes
	QuoteProvider          string  `yaml:"quote_provider"`
	QuoteIncludeDaily      bool    `yaml:"quote_include_daily"`
	QuoteCacheTTLHours     int     `yaml:"quote_cache_ttl_hours"`
	UpstreamTimeoutSeconds int     `yaml:"upstream_timeout_seconds"`
	UpstreamMaxCallsPerDay int     `yaml:"upstream_max_calls_per_day"`
	UpstreamMaxCallsPerMin int     `yaml:"upstream_max_calls_per_minute"`
	SyntheticBasePrice     float64 `yaml:"synthetic_base_price"`
	DefaultSymbol          string  `yaml:"default_symbol"`

	// Cache storage
	CacheBackend    string `yaml:"cache_backend"` // postgres | sqlite | memory
	CacheSQLitePath string `yaml:"cache_sqlite_path"`

	// Database
	DBHost     string `yaml:"db_host"`
	DBPort     int    `yaml:"db_port"`
	DBName     string `yaml:"db_name"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBMaxConns int    `yaml:"db_max_conns"`

	// API
	APIPort int `yaml:"api_port"`

	// Cache warming
	WarmSymbols []string `yaml:"warm_symbols"`
	WarmCron    string   `yaml:"warm_cron"`
}

func defaults() *Config {
	return &Config{
		AppName:                "KakeiboWhatIf",
		CORSAllowOrigin:        "*",
		QuoteProvider:          "alphavantage",
		QuoteCacheTTLHours:     24,
		UpstreamTimeoutSeconds: 8,
		UpstreamMaxCallsPerDay: 25,
		UpstreamMaxCallsPerMin: 5,
		SyntheticBasePrice:     450,
		DefaultSymbol:          "SPY",
		CacheBackend:           "postgres",
		CacheSQLitePath:        "data/quote_cache.db",
		DBHost:                 "localhost",
		DBPort:                 5432,
		DBName:                 "kakeibo_whatif",
		DBMaxConns:             10,
		APIPort:                3000,
		WarmCron:               "0 */6 * * *",
	}
}

// Load layers configuration: built-in defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables (.env included).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// Secrets
	cfg.AlphaVantageAPIKey = envStr("ALPHA_VANTAGE_API_KEY", cfg.AlphaVantageAPIKey)
	cfg.WebhookURL = envStr("WEBHOOK_URL", cfg.WebhookURL)
	cfg.AppName = envStr("APP_NAME", cfg.AppName)
	cfg.APIKey = envStr("API_KEY", cfg.APIKey)
	cfg.CORSAllowOrigin = envStr("CORS_ALLOW_ORIGIN", cfg.CORSAllowOrigin)

	// Quotes
	cfg.QuoteProvider = strings.ToLower(envStr("QUOTE_PROVIDER", cfg.QuoteProvider))
	cfg.QuoteIncludeDaily = envBool("QUOTE_INCLUDE_DAILY", cfg.QuoteIncludeDaily)
	cfg.QuoteCacheTTLHours = envInt("QUOTE_CACHE_TTL_HOURS", cfg.QuoteCacheTTLHours)
	cfg.UpstreamTimeoutSeconds = envInt("UPSTREAM_TIMEOUT_SECONDS", cfg.UpstreamTimeoutSeconds)
	cfg.UpstreamMaxCallsPerDay = envInt("UPSTREAM_MAX_CALLS_PER_DAY", cfg.UpstreamMaxCallsPerDay)
	cfg.UpstreamMaxCallsPerMin = envInt("UPSTREAM_MAX_CALLS_PER_MINUTE", cfg.UpstreamMaxCallsPerMin)
	cfg.SyntheticBasePrice = envFloat("SYNTHETIC_BASE_PRICE", cfg.SyntheticBasePrice)
	cfg.DefaultSymbol = strings.ToUpper(envStr("DEFAULT_SYMBOL", cfg.DefaultSymbol))

	// Cache storage
	cfg.CacheBackend = strings.ToLower(envStr("CACHE_BACKEND", cfg.CacheBackend))
	cfg.CacheSQLitePath = envStr("CACHE_SQLITE_PATH", cfg.CacheSQLitePath)

	// Database
	cfg.DBHost = envStr("DB_HOST", cfg.DBHost)
	cfg.DBPort = envInt("DB_PORT", cfg.DBPort)
	cfg.DBName = envStr("DB_NAME", cfg.DBName)
	cfg.DBUser = envStr("DB_USER", cfg.DBUser)
	cfg.DBPassword = envStr("DB_PASSWORD", cfg.DBPassword)
	cfg.DBMaxConns = envInt("DB_MAX_CONNS", cfg.DBMaxConns)

	// API
	cfg.APIPort = envInt("API_PORT", cfg.APIPort)

	// Cache warming
	cfg.WarmSymbols = envList("WARM_SYMBOLS", cfg.WarmSymbols)
	cfg.WarmCron = envStr("WARM_CRON", cfg.WarmCron)

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string

	switch c.QuoteProvider {
	case "alphavantage", "yahoo":
	default:
		errs = append(errs, fmt.Sprintf("QUOTE_PROVIDER must be alphavantage or yahoo, got %q", c.QuoteProvider))
	}
	switch c.CacheBackend {
	case "postgres", "sqlite", "memory":
	default:
		errs = append(errs, fmt.Sprintf("CACHE_BACKEND must be postgres, sqlite or memory, got %q", c.CacheBackend))
	}
	if c.QuoteCacheTTLHours <= 0 {
		errs = append(errs, "QUOTE_CACHE_TTL_HOURS must be positive")
	}
	if c.UpstreamTimeoutSeconds <= 0 {
		errs = append(errs, "UPSTREAM_TIMEOUT_SECONDS must be positive")
	}
	if c.SyntheticBasePrice <= 0 {
		errs = append(errs, "SYNTHETIC_BASE_PRICE must be positive")
	}
	if c.DBMaxConns < 0 {
		errs = append(errs, "DB_MAX_CONNS must not be negative")
	}
	if c.CacheBackend == "sqlite" && c.CacheSQLitePath == "" {
		errs = append(errs, "CACHE_SQLITE_PATH is required for the sqlite cache backend")
	}

	if c.QuoteProvider == "alphavantage" && c.AlphaVantageAPIKey == "" {
		fmt.Println("[WARN] ALPHA_VANTAGE_API_KEY not set, every cache miss will fall back to stale or synthetic data")
	}
	if c.UpstreamMaxCallsPerDay == 0 && c.UpstreamMaxCallsPerMin == 0 {
		fmt.Println("[WARN] UPSTREAM_MAX_CALLS_PER_DAY and UPSTREAM_MAX_CALLS_PER_MINUTE are both 0, upstream budget is unguarded")
	}
	if c.APIKey == "" {
		fmt.Println("[WARN] API_KEY not set, REST API has no authentication")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

func (c *Config) Print() {
	fmt.Printf("=== %s Configuration ===\n", c.AppName)
	fmt.Printf("Quote Provider: %s (%s)\n", c.QuoteProvider,
		boolLabel(c.QuoteProvider != "alphavantage" || c.AlphaVantageAPIKey != "", "ready", "no API key"))
	fmt.Printf("Include Daily: %v\n", c.QuoteIncludeDaily)
	fmt.Printf("Default Symbol: %s\n", c.DefaultSymbol)
	fmt.Println("--------------------------------------")
	fmt.Println("Cache:")
	fmt.Printf("  Backend: %s\n", c.CacheBackend)
	if c.CacheBackend == "sqlite" {
		fmt.Printf("  SQLite Path: %s\n", c.CacheSQLitePath)
	}
	fmt.Printf("  TTL: %d hours\n", c.QuoteCacheTTLHours)
	fmt.Printf("  Synthetic Base Price: $%.2f\n", c.SyntheticBasePrice)
	fmt.Println("--------------------------------------")
	fmt.Println("Upstream Budget:")
	fmt.Printf("  Timeout: %ds\n", c.UpstreamTimeoutSeconds)
	fmt.Printf("  Per Day: %s\n", limitLabel(c.UpstreamMaxCallsPerDay))
	fmt.Printf("  Per Minute: %s\n", limitLabel(c.UpstreamMaxCallsPerMin))
	fmt.Println("--------------------------------------")
	fmt.Printf("Database: %s@%s:%d/%s (max %d conns)\n", c.DBUser, c.DBHost, c.DBPort, c.DBName, c.DBMaxConns)
	fmt.Printf("API Port: %d (auth %s)\n", c.APIPort, boolLabel(c.APIKey != "", "on", "off"))
	fmt.Printf("Webhook: %s\n", boolLabel(c.WebhookURL != "", "configured", "not set"))
	if len(c.WarmSymbols) > 0 {
		fmt.Printf("Warming: %s on %q\n", strings.Join(c.WarmSymbols, ","), c.WarmCron)
	}
	fmt.Println("======================================")
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// --- helpers ---

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "true" || v == "1" || v == "yes"
	}
	return fallback
}

// envList splits a comma-separated value, upper-casing and dropping blanks.
func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.ToUpper(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func limitLabel(n int) string {
	if n <= 0 {
		return "unlimited"
	}
	return strconv.Itoa(n)
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
