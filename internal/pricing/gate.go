package pricing

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Gate spaces out calls to the pricing source. All callers sharing a gate
// get consecutive slots at least one spacing apart, and nobody passes before
// the cool-down deadline set after a rate-limit response.
type Gate struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	coolDown time.Time
	clock    Clock
}

// NewGate creates a gate with the given minimum spacing between calls.
// A spacing of zero disables spacing but keeps the cool-down.
func NewGate(spacing time.Duration, clock Clock) *Gate {
	limit := rate.Inf
	if spacing > 0 {
		limit = rate.Every(spacing)
	}
	if clock == nil {
		clock = systemClock{}
	}

	return &Gate{
		limiter: rate.NewLimiter(limit, 1),
		clock:   clock,
	}
}

// Wait blocks until the caller may issue its request
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	now := g.clock.Now()
	start := now
	if g.coolDown.After(start) {
		start = g.coolDown
	}
	reservation := g.limiter.ReserveN(start, 1)
	delay := reservation.DelayFrom(now)
	g.mu.Unlock()

	if delay <= 0 {
		return ctx.Err()
	}

	if err := g.clock.Sleep(ctx, delay); err != nil {
		g.mu.Lock()
		reservation.CancelAt(g.clock.Now())
		g.mu.Unlock()
		return err
	}

	return nil
}

// PushCoolDown holds every caller back until the given time. An earlier
// deadline than the current one is ignored.
func (g *Gate) PushCoolDown(until time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if until.After(g.coolDown) {
		g.coolDown = until
	}
}

// CoolDown returns the current cool-down deadline
func (g *Gate) CoolDown() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.coolDown
}
