package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/passbi/splitticket/internal/cache"
	"github.com/passbi/splitticket/internal/discount"
	"github.com/passbi/splitticket/internal/metrics"
	"github.com/passbi/splitticket/internal/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Options tunes the resilient client
type Options struct {
	BaseDelay      time.Duration // minimum spacing between any two source calls
	RateLimitBase  time.Duration // first wait after a rate-limit response
	MaxBackoff     time.Duration // cap for rate-limit waits
	Jitter         time.Duration // upper bound of the random part of rate-limit waits
	TransientStep  time.Duration // linear step for transient failures
	MaxAttempts    int           // attempts per quote across both retry paths
	RequestTimeout time.Duration
}

// DefaultOptions returns the production defaults
func DefaultOptions() Options {
	return Options{
		BaseDelay:      500 * time.Millisecond,
		RateLimitBase:  time.Second,
		MaxBackoff:     60 * time.Second,
		Jitter:         250 * time.Millisecond,
		TransientStep:  500 * time.Millisecond,
		MaxAttempts:    4,
		RequestTimeout: 30 * time.Second,
	}
}

// Stats holds client counters
type Stats struct {
	AdapterCalls  int64 `json:"adapter_calls"`
	CacheHits     int64 `json:"cache_hits"`
	CacheMisses   int64 `json:"cache_misses"`
	RateLimited   int64 `json:"rate_limited"`
	Transient     int64 `json:"transient"`
	NoConnection  int64 `json:"no_connection"`
	TerminalFails int64 `json:"terminal_failures"`
}

type counters struct {
	adapterCalls  atomic.Int64
	cacheHits     atomic.Int64
	cacheMisses   atomic.Int64
	rateLimited   atomic.Int64
	transient     atomic.Int64
	noConnection  atomic.Int64
	terminalFails atomic.Int64
}

// Option configures a Client
type Option func(*Client)

// WithClock replaces the system clock
func WithClock(clock Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithJitter replaces the random source used for rate-limit jitter.
// The function receives the configured upper bound.
func WithJitter(jitter func(max time.Duration) time.Duration) Option {
	return func(c *Client) {
		c.jitter = jitter
	}
}

// WithStore sets the quote cache. Without one every quote hits the source.
func WithStore(store cache.Store) Option {
	return func(c *Client) {
		c.store = store
	}
}

// WithMetrics records client events as Prometheus metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// Client wraps an Adapter with a shared throttle, a quote cache and retries.
// One client is shared by every worker of a matrix build.
type Client struct {
	adapter Adapter
	opts    Options
	gate    *Gate
	clock   Clock
	jitter  func(time.Duration) time.Duration
	store   cache.Store
	metrics *metrics.Metrics
	flights singleflight.Group
	stats   counters
}

// NewClient creates a resilient client around adapter
func NewClient(adapter Adapter, opts Options, options ...Option) *Client {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	c := &Client{
		adapter: adapter,
		opts:    opts,
		clock:   systemClock{},
		jitter:  uniformJitter,
	}
	for _, option := range options {
		option(c)
	}
	c.gate = NewGate(opts.BaseDelay, c.clock)

	return c
}

// Quote returns the price of origin -> destination for the traveler.
// A (nil, nil) result means the source has no connection for the segment.
// Failures the client gives up on wrap ErrTerminalFetchFailure.
func (c *Client) Quote(ctx context.Context, origin, destination models.Stop, travelDate time.Time, traveler models.TravelerConfig) (*models.SegmentQuote, error) {
	key := cache.QuoteKey(origin.StationID, destination.StationID, travelDate, traveler)

	if entry := c.lookup(ctx, key); entry != nil {
		c.stats.cacheHits.Add(1)
		c.metrics.CacheLookup(true)
		return withIndices(entry.Quote, origin.Index, destination.Index), nil
	}
	c.stats.cacheMisses.Add(1)
	c.metrics.CacheLookup(false)

	req := SegmentRequest{
		Origin:      origin,
		Destination: destination,
		TravelDate:  travelDate,
		Traveler:    traveler,
	}

	// Concurrent misses for the same key share one fetch. It runs detached
	// so a caller that gives up does not fail the others waiting on it.
	fetchCtx := context.WithoutCancel(ctx)
	flight := c.flights.DoChan(key, func() (interface{}, error) {
		if entry := c.lookup(fetchCtx, key); entry != nil {
			return entry.Quote, nil
		}

		quote, err := c.fetch(fetchCtx, req)
		if err != nil {
			return nil, err
		}

		c.remember(fetchCtx, key, quote)
		return quote, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-flight:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if result.Err != nil {
			return nil, result.Err
		}
		return withIndices(result.Val.(*models.SegmentQuote), origin.Index, destination.Index), nil
	}
}

// Stats returns a snapshot of the client counters
func (c *Client) Stats() Stats {
	return Stats{
		AdapterCalls:  c.stats.adapterCalls.Load(),
		CacheHits:     c.stats.cacheHits.Load(),
		CacheMisses:   c.stats.cacheMisses.Load(),
		RateLimited:   c.stats.rateLimited.Load(),
		Transient:     c.stats.transient.Load(),
		NoConnection:  c.stats.noConnection.Load(),
		TerminalFails: c.stats.terminalFails.Load(),
	}
}

// Options returns the options the client runs with
func (c *Client) Options() Options {
	return c.opts
}

func (c *Client) fetch(ctx context.Context, req SegmentRequest) (*models.SegmentQuote, error) {
	from, to := req.Origin.Index, req.Destination.Index
	rateLimits := newRateLimitBackOff(c.opts.RateLimitBase, c.opts.MaxBackoff)
	transients := newLinearBackOff(c.opts.TransientStep)

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if err := c.gate.Wait(ctx); err != nil {
			return nil, err
		}

		offer, err := c.call(ctx, req)
		if err == nil {
			quote := discount.Apply(offer, req.Traveler, from, to)
			return &quote, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		if errors.Is(err, ErrNoConnectionFound) {
			c.stats.noConnection.Add(1)
			log.Debug().Int("from", from).Int("to", to).Msg("No connection found")
			return nil, nil
		}

		lastErr = err
		last := attempt == c.opts.MaxAttempts

		var rateLimited *RateLimitedError
		var transient *TransientError
		switch {
		case errors.As(err, &rateLimited):
			c.stats.rateLimited.Add(1)
			step := rateLimits.NextBackOff()
			if last {
				break
			}
			wait := rateLimitWait(step, rateLimited.RetryAfter, c.opts.MaxBackoff, c.jitter(c.opts.Jitter))
			c.metrics.RetryWait(metrics.OutcomeRateLimited, wait)
			log.Warn().
				Int("from", from).
				Int("to", to).
				Int("attempt", attempt).
				Dur("wait", wait).
				Msg("Rate limited by pricing source, backing off")

			// Every caller of the gate waits, not only this one
			c.gate.PushCoolDown(c.clock.Now().Add(wait))

		case errors.As(err, &transient):
			c.stats.transient.Add(1)
			wait := transients.NextBackOff()
			if last {
				break
			}
			c.metrics.RetryWait(metrics.OutcomeTransient, wait)
			log.Warn().
				Err(err).
				Int("from", from).
				Int("to", to).
				Int("attempt", attempt).
				Dur("wait", wait).
				Msg("Transient pricing failure, retrying")

			if err := c.clock.Sleep(ctx, wait); err != nil {
				return nil, err
			}

		default:
			c.stats.terminalFails.Add(1)
			return nil, fmt.Errorf("%w: segment %d->%d: %v", ErrTerminalFetchFailure, from, to, err)
		}
	}

	c.stats.terminalFails.Add(1)
	return nil, fmt.Errorf("%w: segment %d->%d: giving up after %d attempts: %v",
		ErrTerminalFetchFailure, from, to, c.opts.MaxAttempts, lastErr)
}

// call runs one adapter request under the per-request timeout
func (c *Client) call(ctx context.Context, req SegmentRequest) (models.Offer, error) {
	callCtx := ctx
	if c.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}

	c.stats.adapterCalls.Add(1)
	start := time.Now()
	offer, err := c.adapter.PriceSegment(callCtx, req)
	c.metrics.ObserveRequest(outcomeOf(err), time.Since(start))

	return offer, err
}

func (c *Client) lookup(ctx context.Context, key string) *cache.Entry {
	if c.store == nil {
		return nil
	}

	entry, err := c.store.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Quote cache read failed")
		return nil
	}
	return entry
}

func (c *Client) remember(ctx context.Context, key string, quote *models.SegmentQuote) {
	if c.store == nil {
		return
	}

	entry := cache.Entry{Quote: quote, StoredAt: c.clock.Now()}
	if err := c.store.Set(ctx, key, entry); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Quote cache write failed")
	}
}

func outcomeOf(err error) string {
	var rateLimited *RateLimitedError
	var transient *TransientError
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrNoConnectionFound):
		return metrics.OutcomeNoConnection
	case errors.As(err, &rateLimited):
		return metrics.OutcomeRateLimited
	case errors.As(err, &transient):
		return metrics.OutcomeTransient
	default:
		return metrics.OutcomeTerminal
	}
}

// withIndices returns a copy of quote placed at from -> to. Cached quotes
// are shared and must not be modified.
func withIndices(quote *models.SegmentQuote, from, to int) *models.SegmentQuote {
	if quote == nil {
		return nil
	}
	q := *quote
	q.From = from
	q.To = to
	return &q
}
