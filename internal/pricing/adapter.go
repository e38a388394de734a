package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/passbi/splitticket/internal/models"
)

var (
	// ErrNoConnectionFound is returned by an adapter when the source has no
	// priced connection for the segment. It is never retried.
	ErrNoConnectionFound = errors.New("no connection found")

	// ErrTerminalFetchFailure is wrapped by every error the client gives up on
	ErrTerminalFetchFailure = errors.New("terminal fetch failure")
)

// RateLimitedError means the source refused the request because of rate
// limiting. RetryAfter is zero when the source did not say.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
	}
	return "rate limited"
}

// TransientError is a failure that is likely to go away on retry:
// timeouts, dropped connections and 5xx responses
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient failure (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// SegmentRequest asks the source for the cheapest connection Origin -> Destination
// departing at the origin's scheduled departure on TravelDate
type SegmentRequest struct {
	Origin      models.Stop
	Destination models.Stop
	TravelDate  time.Time
	Traveler    models.TravelerConfig
}

// Adapter is the leaf that talks to a pricing source. Implementations return
// a priced Offer, ErrNoConnectionFound, a *RateLimitedError, a *TransientError
// or any other error, which the client treats as terminal.
type Adapter interface {
	PriceSegment(ctx context.Context, req SegmentRequest) (models.Offer, error)
}

// AdapterFunc adapts a function to the Adapter interface
type AdapterFunc func(ctx context.Context, req SegmentRequest) (models.Offer, error)

func (f AdapterFunc) PriceSegment(ctx context.Context, req SegmentRequest) (models.Offer, error) {
	return f(ctx, req)
}
