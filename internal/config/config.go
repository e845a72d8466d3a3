// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/fxlens/fxlens/internal/market"
)

// ProviderConfig declares the static quota and call limits for one upstream API.
// A zero Limit means the provider is treated as unlimited.
type ProviderConfig struct {
	Limit       int           // max calls per Period
	Period      time.Duration // quota window length
	DailyCap    int           // optional additional per-day cap (0 = none)
	MinSpacing  time.Duration // minimum gap between consecutive calls
	CallTimeout time.Duration // per-call network timeout
	MaxInFlight int           // simultaneous in-flight call cap
}

// HealthWeights tunes the health score composition. The score stays
// monotonically non-increasing in error rate and quota pressure for any
// non-negative weights.
type HealthWeights struct {
	QuotaWeight      float64
	ErrorWeight      float64
	LatencyWeight    float64
	LatencyThreshold time.Duration // latency considered acceptable
}

// BackupConfig holds optional S3-compatible backup credentials.
// Backup is disabled unless all fields are set.
type BackupConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	RetentionDays   int
}

// Configured reports whether every credential needed for backups is set.
func (b BackupConfig) Configured() bool {
	return b.Endpoint != "" && b.AccessKeyID != "" && b.SecretAccessKey != "" && b.Bucket != ""
}

// Config holds application configuration
type Config struct {
	DataDir         string
	Port            int
	LogLevel        string
	DevMode         bool
	AlphaVantageKey string

	Pairs     []string // all tracked pairs
	CorePairs []string // reduced set served while emergency mode is active

	Providers map[string]ProviderConfig
	Priority  map[market.Kind][]string      // provider order per dataset kind
	TTL       map[market.Kind]time.Duration // cache TTL per dataset kind

	// ServeStale marks kinds where an expired cache entry is still acceptable
	// when every provider fails, before degrading to synthetic data.
	ServeStale map[market.Kind]bool

	Health HealthWeights

	PriceRefreshInterval  time.Duration
	SignalRefreshInterval time.Duration

	Backup BackupConfig
}

// Provider names. These match the upstream services the original dashboard
// polls; quotas below mirror their free tiers.
const (
	ProviderYahoo            = "yahoo_finance"
	ProviderAlphaVantage     = "alpha_vantage"
	ProviderExchangeRateAPI  = "exchangerate_api"
	ProviderExchangeRateHost = "exchangerate_host"
	ProviderFawazCurrency    = "fawaz_currency"
)

// Load reads configuration from environment variables
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("FXLENS_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:         absDataDir,
		Port:            getEnvAsInt("FXLENS_PORT", 8080),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DevMode:         getEnvAsBool("DEV_MODE", false),
		AlphaVantageKey: getEnv("ALPHA_VANTAGE_API_KEY", ""),

		Pairs:     getEnvAsList("FXLENS_PAIRS", defaultPairs),
		CorePairs: getEnvAsList("FXLENS_CORE_PAIRS", defaultCorePairs),

		Providers: defaultProviders(),
		Priority: map[market.Kind][]string{
			market.KindPrice: {
				ProviderExchangeRateAPI,
				ProviderExchangeRateHost,
				ProviderFawazCurrency,
				ProviderYahoo,
				ProviderAlphaVantage,
			},
			market.KindCandles: {
				ProviderYahoo,
				ProviderAlphaVantage,
			},
		},
		TTL: map[market.Kind]time.Duration{
			market.KindPrice:   5 * time.Minute,
			market.KindCandles: time.Hour,
			market.KindSignals: 10 * time.Minute,
		},
		ServeStale: map[market.Kind]bool{
			market.KindPrice:   false, // live prices are refetched, never served stale
			market.KindCandles: true,  // historical bars rarely change retroactively
			market.KindSignals: true,
		},
		Health: HealthWeights{
			QuotaWeight:      1.0,
			ErrorWeight:      1.0,
			LatencyWeight:    0.5,
			LatencyThreshold: 2 * time.Second,
		},
		PriceRefreshInterval:  getEnvAsDuration("FXLENS_PRICE_REFRESH", time.Minute),
		SignalRefreshInterval: getEnvAsDuration("FXLENS_SIGNAL_REFRESH", 10*time.Minute),
		Backup: BackupConfig{
			Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
			Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
			RetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

var defaultPairs = []string{
	"EURUSD", "GBPUSD", "USDJPY", "USDCHF",
	"AUDUSD", "USDCAD", "NZDUSD", "EURGBP",
}

// defaultCorePairs is the subset still refreshed while emergency mode is
// active and quota pressure is high.
var defaultCorePairs = []string{"EURUSD", "GBPUSD", "USDJPY"}

// defaultProviders mirrors the free-tier limits of the upstream APIs.
func defaultProviders() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		ProviderYahoo: {
			Limit:       100,
			Period:      time.Hour,
			MinSpacing:  time.Second,
			CallTimeout: 10 * time.Second,
			MaxInFlight: 2,
		},
		ProviderAlphaVantage: {
			Limit:       20,
			Period:      time.Hour,
			DailyCap:    20,
			MinSpacing:  3 * time.Second,
			CallTimeout: 15 * time.Second,
			MaxInFlight: 1,
		},
		ProviderExchangeRateAPI: {
			Limit:       50,
			Period:      time.Hour,
			MinSpacing:  1500 * time.Millisecond,
			CallTimeout: 10 * time.Second,
			MaxInFlight: 2,
		},
		ProviderExchangeRateHost: {
			Limit:       500,
			Period:      time.Hour,
			MinSpacing:  500 * time.Millisecond,
			CallTimeout: 10 * time.Second,
			MaxInFlight: 4,
		},
		ProviderFawazCurrency: {
			Limit:       1000,
			Period:      time.Hour,
			MinSpacing:  200 * time.Millisecond,
			CallTimeout: 10 * time.Second,
			MaxInFlight: 4,
		},
	}
}

// Validate checks if required configuration is present. A failure here is
// fatal at startup - the process must not serve requests with broken config.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if len(c.Pairs) == 0 {
		return fmt.Errorf("at least one currency pair must be configured")
	}
	for kind := range c.Priority {
		if _, ok := c.TTL[kind]; !ok {
			return fmt.Errorf("no cache TTL configured for dataset kind %q", kind)
		}
	}
	for _, pair := range c.Pairs {
		if _, _, err := market.SplitPair(pair); err != nil {
			return fmt.Errorf("invalid configured pair %q: %w", pair, err)
		}
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
