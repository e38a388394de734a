package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/passbi/splitticket/internal/cache"
	"github.com/passbi/splitticket/internal/db"
	"github.com/passbi/splitticket/internal/discount"
	"github.com/passbi/splitticket/internal/models"
	"github.com/passbi/splitticket/internal/pricing"
)

// Cache backends
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// PricingConfig configures the pricing source and the resilient client
type PricingConfig struct {
	BaseURL   string
	UserAgent string
	Options   pricing.Options
}

// CacheConfig configures the quote cache
type CacheConfig struct {
	Backend    string
	TTL        time.Duration
	MaxEntries int
}

// APIConfig configures the HTTP server
type APIConfig struct {
	Port               string
	RateLimitPerMinute int
	RateLimitPerDay    int
}

// Config is the complete runtime configuration
type Config struct {
	Pricing         PricingConfig
	MatrixWorkers   int
	Cache           CacheConfig
	Redis           *cache.Config
	Database        *db.Config
	API             APIConfig
	DefaultTraveler models.TravelerConfig
}

// Load reads the configuration from environment variables
func Load() (*Config, error) {
	defaults := pricing.DefaultOptions()

	card, err := discount.ParseDiscountCard(getEnv("DEFAULT_DISCOUNT_CARD", ""))
	if err != nil {
		return nil, fmt.Errorf("DEFAULT_DISCOUNT_CARD: %w", err)
	}

	cfg := &Config{
		Pricing: PricingConfig{
			BaseURL:   getEnv("PRICING_BASE_URL", pricing.DefaultBahnURL),
			UserAgent: getEnv("PRICING_USER_AGENT", ""),
			Options: pricing.Options{
				BaseDelay:      getDuration("PRICING_BASE_DELAY", defaults.BaseDelay),
				RateLimitBase:  getDuration("PRICING_RATE_LIMIT_BASE", defaults.RateLimitBase),
				MaxBackoff:     getDuration("PRICING_MAX_BACKOFF", defaults.MaxBackoff),
				Jitter:         getDuration("PRICING_JITTER", defaults.Jitter),
				TransientStep:  getDuration("PRICING_TRANSIENT_STEP", defaults.TransientStep),
				MaxAttempts:    getInt("PRICING_MAX_ATTEMPTS", defaults.MaxAttempts),
				RequestTimeout: getDuration("PRICING_REQUEST_TIMEOUT", defaults.RequestTimeout),
			},
		},
		MatrixWorkers: getInt("MATRIX_WORKERS", 4),
		Cache: CacheConfig{
			Backend:    getEnv("CACHE_BACKEND", CacheBackendMemory),
			TTL:        getDuration("CACHE_TTL", 30*time.Minute),
			MaxEntries: getInt("CACHE_MAX_ENTRIES", 1000),
		},
		Redis:    cache.LoadConfigFromEnv(),
		Database: db.LoadConfigFromEnv(),
		API: APIConfig{
			Port:               getEnv("API_PORT", "8080"),
			RateLimitPerMinute: getInt("RATE_LIMIT_PER_MINUTE", 10),
			RateLimitPerDay:    getInt("RATE_LIMIT_PER_DAY", 500),
		},
		DefaultTraveler: models.TravelerConfig{
			Age:            getInt("DEFAULT_AGE", 30),
			DiscountCard:   card,
			HasTransitPass: getBool("DEFAULT_TRANSIT_PASS", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that cannot be defaulted
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if !c.Redis.Enabled() {
			return fmt.Errorf("CACHE_BACKEND=redis requires REDIS_HOST")
		}
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.Cache.Backend)
	}

	if c.MatrixWorkers < 1 {
		return fmt.Errorf("MATRIX_WORKERS must be positive, got %d", c.MatrixWorkers)
	}
	if c.Pricing.Options.MaxAttempts < 1 {
		return fmt.Errorf("PRICING_MAX_ATTEMPTS must be positive, got %d", c.Pricing.Options.MaxAttempts)
	}
	if c.DefaultTraveler.Age < 0 {
		return fmt.Errorf("DEFAULT_AGE must not be negative, got %d", c.DefaultTraveler.Age)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func getBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}
