package engine

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/passbi/splitticket/internal/analysis"
	"github.com/passbi/splitticket/internal/cache"
	"github.com/passbi/splitticket/internal/config"
	"github.com/passbi/splitticket/internal/db"
	"github.com/passbi/splitticket/internal/metrics"
	"github.com/passbi/splitticket/internal/pricing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Engine holds the wired components shared by the API server and the CLI
type Engine struct {
	Config  *config.Config
	Metrics *metrics.Metrics
	Store   cache.Store
	Client  *pricing.Client
	Service *analysis.Service

	// Optional, nil when not configured
	Redis   *redis.Client
	Pool    *pgxpool.Pool
	History *db.AnalysisRepository
}

// Option adjusts how the engine is built
type Option func(*options)

type options struct {
	adapter    pricing.Adapter
	httpClient *http.Client
}

// WithAdapter replaces the bahn.de adapter
func WithAdapter(adapter pricing.Adapter) Option {
	return func(o *options) {
		o.adapter = adapter
	}
}

// WithHTTPClient sets the HTTP client of the bahn.de adapter
func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *options) {
		o.httpClient = httpClient
	}
}

// New connects the configured backends and wires the pricing client, the
// quote cache and the analysis service. reg may be nil.
func New(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, opts ...Option) (*Engine, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{
		Config:  cfg,
		Metrics: metrics.New(reg),
	}

	if cfg.Redis.Enabled() {
		rdb, err := cache.GetClient(ctx, cfg.Redis)
		if err != nil {
			if cfg.Cache.Backend == config.CacheBackendRedis {
				return nil, err
			}
			log.Warn().Err(err).Msg("Redis unavailable, continuing without it")
		} else {
			e.Redis = rdb
			log.Info().Str("addr", cfg.Redis.Addr()).Msg("Redis connection established")
		}
	}

	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		e.Store = cache.NewRedisStore(e.Redis, cfg.Cache.TTL)
	default:
		e.Store = cache.NewMemoryStore(cfg.Cache.MaxEntries, cfg.Cache.TTL)
	}

	if cfg.Database.Enabled() {
		pool, err := db.GetDB()
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		e.Pool = pool
		e.History = db.NewAnalysisRepository(pool)
		log.Info().Str("host", cfg.Database.Host).Msg("Database connection established")
	}

	adapter := o.adapter
	if adapter == nil {
		adapter = pricing.NewBahnAdapter(cfg.Pricing.BaseURL, cfg.Pricing.UserAgent, o.httpClient)
	}

	e.Client = pricing.NewClient(adapter, cfg.Pricing.Options,
		pricing.WithStore(e.Store),
		pricing.WithMetrics(e.Metrics),
	)
	e.Service = analysis.NewService(e.Client,
		analysis.WithWorkers(cfg.MatrixWorkers),
		analysis.WithMetrics(e.Metrics),
	)

	return e, nil
}

// Recorder returns the analysis history as a recorder, or nil without a database
func (e *Engine) Recorder() analysis.Recorder {
	if e.History == nil {
		return nil
	}
	return e.History
}

// Close releases the backend connections
func (e *Engine) Close() {
	if e.Redis != nil {
		cache.Close()
	}
	if e.Pool != nil {
		db.Close()
	}
}
