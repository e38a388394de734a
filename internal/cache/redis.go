package cache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/redis/go-redis/v9"
)

const quoteTag = "splitticket-quotes"

var (
	client   *redis.Client
	clientMu sync.Mutex
)

// Config holds Redis configuration
type Config struct {
	Host       string
	Port       int
	Password   string
	DB         int
	TLSEnabled bool
}

// LoadConfigFromEnv loads Redis configuration from environment variables.
// An empty REDIS_HOST leaves Redis disabled.
func LoadConfigFromEnv() *Config {
	port, _ := strconv.Atoi(getEnv("REDIS_PORT", "6379"))
	db, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	return &Config{
		Host:       getEnv("REDIS_HOST", ""),
		Port:       port,
		Password:   getEnv("REDIS_PASSWORD", ""),
		DB:         db,
		TLSEnabled: getEnv("REDIS_TLS_ENABLED", "false") == "true",
	}
}

// Enabled reports whether a Redis host is configured
func (c *Config) Enabled() bool {
	return c.Host != ""
}

// Addr returns the host:port address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NewClient creates a Redis client and checks the connection
func NewClient(ctx context.Context, config *Config) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:         config.Addr(),
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	}

	// Managed Redis offerings usually require TLS
	if config.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return rdb, nil
}

// GetClient returns the global Redis client (singleton pattern), connecting
// it from config on first use. Later calls return the same client until Close.
func GetClient(ctx context.Context, config *Config) (*redis.Client, error) {
	clientMu.Lock()
	defer clientMu.Unlock()

	if client != nil {
		return client, nil
	}
	if config == nil || !config.Enabled() {
		return nil, errors.New("REDIS_HOST not set")
	}

	rdb, err := NewClient(ctx, config)
	if err != nil {
		return nil, err
	}
	client = rdb
	return client, nil
}

// Close closes the Redis client
func Close() {
	clientMu.Lock()
	defer clientMu.Unlock()

	if client != nil {
		client.Close()
		client = nil
	}
}

// HealthCheck performs a health check on the Redis connection
func HealthCheck(ctx context.Context, rdb *redis.Client) error {
	if rdb == nil {
		return errors.New("Redis client not initialized")
	}

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("Redis ping failed: %w", err)
	}

	return nil
}

// PoolStats returns Redis connection pool stats
func PoolStats(rdb *redis.Client) map[string]interface{} {
	poolStats := rdb.PoolStats()

	return map[string]interface{}{
		"hits":        poolStats.Hits,
		"misses":      poolStats.Misses,
		"timeouts":    poolStats.Timeouts,
		"total_conns": poolStats.TotalConns,
		"idle_conns":  poolStats.IdleConns,
		"stale_conns": poolStats.StaleConns,
	}
}

// RedisStore is a quote store shared between processes. Values are JSON
// encoded entries tagged so they can be purged without touching other keys.
type RedisStore struct {
	cache *gocache.Cache[string]

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

// NewRedisStore creates a store on top of an existing Redis client
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	redisStore := redisstore.NewRedis(rdb, store.WithExpiration(ttl))

	return &RedisStore{
		cache: gocache.New[string](redisStore),
	}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	value, err := s.cache.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		s.misses.Add(1)
		return nil, nil // cache miss
	}
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal([]byte(value), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached quote: %w", err)
	}

	s.hits.Add(1)
	return &entry, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal quote: %w", err)
	}

	if err := s.cache.Set(ctx, key, string(data), store.WithTags([]string{quoteTag})); err != nil {
		return err
	}
	s.sets.Add(1)
	return nil
}

// Clear removes every quote written by this store
func (s *RedisStore) Clear(ctx context.Context) error {
	return s.cache.Invalidate(ctx, store.WithInvalidateTags([]string{quoteTag}))
}

// Stats returns a snapshot of the lookup counters of this process
func (s *RedisStore) Stats() Stats {
	return Stats{
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
		Sets:   s.sets.Load(),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
