package graph

import (
	"context"
	"sync"
	"time"

	"github.com/passbi/splitticket/internal/metrics"
	"github.com/passbi/splitticket/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

const defaultWorkers = 4

// Quoter prices a single segment. A (nil, nil) result means no connection.
type Quoter interface {
	Quote(ctx context.Context, origin, destination models.Stop, travelDate time.Time, traveler models.TravelerConfig) (*models.SegmentQuote, error)
}

// ProgressFunc receives the number of finished segments out of total.
// Calls are serialised and processed only grows.
type ProgressFunc func(processed, total int)

// BuilderOption configures a Builder
type BuilderOption func(*Builder)

// WithWorkers sets the number of concurrent quote requests
func WithWorkers(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithProgress registers a progress callback
func WithProgress(fn ProgressFunc) BuilderOption {
	return func(b *Builder) {
		b.progress = fn
	}
}

// WithMetrics records build reports
func WithMetrics(m *metrics.Metrics) BuilderOption {
	return func(b *Builder) {
		b.metrics = m
	}
}

// Builder prices every sub-route of an itinerary
type Builder struct {
	quoter   Quoter
	workers  int
	progress ProgressFunc
	metrics  *metrics.Metrics
}

// NewBuilder creates a new matrix builder
func NewBuilder(quoter Quoter, options ...BuilderOption) *Builder {
	b := &Builder{
		quoter:  quoter,
		workers: defaultWorkers,
	}
	for _, option := range options {
		option(b)
	}
	return b
}

type segment struct {
	from int
	to   int
}

// Build requests one quote for every pair i < j whose origin has a scheduled
// departure. Segments without a quote are left out of the matrix and never
// abort the build. Once ctx is cancelled no further segments are started;
// requests already running finish and the partial matrix is returned.
func (b *Builder) Build(ctx context.Context, stops []models.Stop, travelDate time.Time, traveler models.TravelerConfig) (*SegmentMatrix, models.BuildReport) {
	start := time.Now()

	stops = normalizeStops(stops)
	segments := eligibleSegments(stops)
	matrix := NewSegmentMatrix(len(stops))
	report := models.BuildReport{Total: len(segments)}

	log.Info().
		Int("stops", len(stops)).
		Int("segments", len(segments)).
		Int("workers", b.workers).
		Msg("Building segment matrix")

	var mu sync.Mutex
	processed := 0
	record := func(update func(*models.BuildReport), counted bool) {
		mu.Lock()
		defer mu.Unlock()
		update(&report)
		if !counted {
			return
		}
		processed++
		if b.progress != nil {
			b.progress(processed, report.Total)
		}
	}

	// In-flight requests are not interrupted by cancellation
	detached := context.WithoutCancel(ctx)

	p := pool.New().WithMaxGoroutines(b.workers)
	for _, seg := range segments {
		seg := seg
		if ctx.Err() != nil {
			record(func(r *models.BuildReport) { r.Skipped++ }, false)
			continue
		}

		p.Go(func() {
			if ctx.Err() != nil {
				record(func(r *models.BuildReport) { r.Skipped++ }, false)
				return
			}

			origin, destination := stops[seg.from], stops[seg.to]
			quote, err := b.quoter.Quote(detached, origin, destination, travelDate, traveler)

			switch {
			case err != nil:
				log.Warn().Err(err).Int("from", seg.from).Int("to", seg.to).Msg("Segment could not be priced")
				record(func(r *models.BuildReport) { r.Failed++ }, true)

			case quote == nil:
				log.Debug().Int("from", seg.from).Int("to", seg.to).Msg("No connection for segment")
				record(func(r *models.BuildReport) { r.NoConnection++ }, true)

			default:
				if err := matrix.Set(*quote); err != nil {
					log.Warn().Err(err).Int("from", seg.from).Int("to", seg.to).Msg("Discarding segment quote")
					record(func(r *models.BuildReport) { r.Failed++ }, true)
					return
				}
				log.Debug().
					Int("from", seg.from).
					Int("to", seg.to).
					Str("price", quote.Price.String()).
					Bool("transit_pass", quote.TransitPassEligible).
					Msg("Segment priced")
				record(func(r *models.BuildReport) { r.Priced++ }, true)
			}
		})
	}
	p.Wait()

	report.Duration = time.Since(start)
	b.metrics.ObserveBuild(report)

	event := log.Info()
	if ctx.Err() != nil {
		event = log.Warn().Bool("cancelled", true)
	}
	event.
		Int("priced", report.Priced).
		Int("no_connection", report.NoConnection).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Dur("duration", report.Duration).
		Msg("Segment matrix built")

	return matrix, report
}

// normalizeStops returns a copy of stops indexed by position
func normalizeStops(stops []models.Stop) []models.Stop {
	normalized := make([]models.Stop, len(stops))
	for i, stop := range stops {
		stop.Index = i
		normalized[i] = stop
	}
	return normalized
}

// eligibleSegments lists (i, j), i < j, in row order, skipping origins
// without a scheduled departure
func eligibleSegments(stops []models.Stop) []segment {
	var segments []segment
	for i := 0; i < len(stops); i++ {
		if !stops[i].CanDepart() {
			continue
		}
		for j := i + 1; j < len(stops); j++ {
			segments = append(segments, segment{from: i, to: j})
		}
	}
	return segments
}
