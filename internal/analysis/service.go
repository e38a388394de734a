package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/passbi/splitticket/internal/graph"
	"github.com/passbi/splitticket/internal/itinerary"
	"github.com/passbi/splitticket/internal/metrics"
	"github.com/passbi/splitticket/internal/models"
	"github.com/passbi/splitticket/internal/routing"
	"github.com/rs/zerolog/log"
)

var (
	// ErrInvalidItinerary is returned for stop lists the engine cannot use
	ErrInvalidItinerary = itinerary.ErrInvalid

	// ErrDirectPriceUnavailable is returned when no direct price was given
	// and the full route could not be priced
	ErrDirectPriceUnavailable = errors.New("direct price unavailable")
)

// Request describes one analysis
type Request struct {
	ID          string
	Stops       []models.Stop
	TravelDate  time.Time
	Traveler    models.TravelerConfig
	DirectPrice *models.Cents
}

// Option configures a Service
type Option func(*Service)

// WithWorkers sets the matrix builder concurrency
func WithWorkers(n int) Option {
	return func(s *Service) {
		s.workers = n
	}
}

// WithMetrics records build and plan metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// Service runs split-ticket analyses: it resolves the direct price, builds
// the segment matrix and optimizes the ticket plan
type Service struct {
	quoter  graph.Quoter
	workers int
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewService creates a service on top of a quoter, usually a *pricing.Client
func NewService(quoter graph.Quoter, options ...Option) *Service {
	s := &Service{
		quoter: quoter,
		now:    time.Now,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Validate checks a request without running it
func (s *Service) Validate(req Request) error {
	return itinerary.Validate(req.Stops)
}

// Run executes an analysis. Cancelling ctx stops the matrix build; the plan
// is then computed from the segments priced so far and the result is
// marked as cancelled.
func (s *Service) Run(ctx context.Context, req Request, progress graph.ProgressFunc) (*models.Analysis, error) {
	if err := s.Validate(req); err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	logger := log.With().Str("analysis", id).Logger()

	direct, err := s.directPrice(ctx, req)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Int("stops", len(req.Stops)).
		Str("direct_price", direct.String()).
		Msg("Starting split-ticket analysis")

	builder := graph.NewBuilder(s.quoter,
		graph.WithWorkers(s.workers),
		graph.WithProgress(progress),
		graph.WithMetrics(s.metrics),
	)
	matrix, report := builder.Build(ctx, req.Stops, req.TravelDate, req.Traveler)

	plan := routing.Optimize(req.Stops, matrix, direct)
	s.metrics.ObservePlan(plan)

	a := &models.Analysis{
		ID:         id,
		CreatedAt:  s.now().UTC(),
		TravelDate: req.TravelDate,
		Traveler:   req.Traveler,
		Stops:      req.Stops,
		Plan:       plan,
		Report:     report,
		Cancelled:  ctx.Err() != nil,
	}

	logger.Info().
		Bool("recommended", plan.Recommended).
		Int("tickets", len(plan.Tickets)).
		Str("total", plan.Total.String()).
		Str("savings", plan.Savings.String()).
		Bool("cancelled", a.Cancelled).
		Msg("Analysis finished")

	return a, nil
}

func (s *Service) directPrice(ctx context.Context, req Request) (models.Cents, error) {
	if req.DirectPrice != nil {
		return *req.DirectPrice, nil
	}

	first, last := req.Stops[0], req.Stops[len(req.Stops)-1]
	quote, err := s.quoter.Quote(ctx, first, last, req.TravelDate, req.Traveler)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDirectPriceUnavailable, err)
	}
	if quote == nil {
		return 0, fmt.Errorf("%w: no connection from %s to %s", ErrDirectPriceUnavailable, first.Name, last.Name)
	}

	return quote.Price, nil
}
