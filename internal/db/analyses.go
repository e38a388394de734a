package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/passbi/splitticket/internal/models"
)

// ErrNotFound is returned when no analysis has the requested ID
var ErrNotFound = errors.New("analysis not found")

// Querier is the subset of *pgxpool.Pool the repository needs
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schema = `
	CREATE TABLE IF NOT EXISTS analysis_run (
		id                 UUID PRIMARY KEY,
		created_at         TIMESTAMPTZ NOT NULL,
		travel_date        DATE NOT NULL,
		traveler           JSONB NOT NULL,
		stops              JSONB NOT NULL,
		direct_price_cents BIGINT NOT NULL,
		total_cents        BIGINT NOT NULL,
		savings_cents      BIGINT NOT NULL,
		best_split_cents   BIGINT,
		recommended        BOOLEAN NOT NULL,
		cancelled          BOOLEAN NOT NULL DEFAULT FALSE,
		tickets            JSONB NOT NULL,
		report             JSONB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_analysis_run_created_at ON analysis_run (created_at DESC);
`

// AnalysisRepository stores finished analyses in PostgreSQL
type AnalysisRepository struct {
	db Querier
}

// NewAnalysisRepository creates a repository on top of a pool or transaction
func NewAnalysisRepository(db Querier) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// EnsureSchema creates the analysis_run table when missing
func (r *AnalysisRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Save inserts or replaces an analysis
func (r *AnalysisRepository) Save(ctx context.Context, a *models.Analysis) error {
	traveler, err := json.Marshal(a.Traveler)
	if err != nil {
		return fmt.Errorf("failed to marshal traveler: %w", err)
	}
	stops, err := json.Marshal(a.Stops)
	if err != nil {
		return fmt.Errorf("failed to marshal stops: %w", err)
	}
	tickets, err := json.Marshal(a.Plan.Tickets)
	if err != nil {
		return fmt.Errorf("failed to marshal tickets: %w", err)
	}
	report, err := json.Marshal(a.Report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	var bestSplit *int64
	if a.Plan.PathFound {
		v := int64(a.Plan.BestSplit)
		bestSplit = &v
	}

	query := `
		INSERT INTO analysis_run (
			id,
			created_at,
			travel_date,
			traveler,
			stops,
			direct_price_cents,
			total_cents,
			savings_cents,
			best_split_cents,
			recommended,
			cancelled,
			tickets,
			report
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			total_cents = EXCLUDED.total_cents,
			savings_cents = EXCLUDED.savings_cents,
			best_split_cents = EXCLUDED.best_split_cents,
			recommended = EXCLUDED.recommended,
			cancelled = EXCLUDED.cancelled,
			tickets = EXCLUDED.tickets,
			report = EXCLUDED.report
	`

	_, err = r.db.Exec(ctx, query,
		a.ID,
		a.CreatedAt,
		a.TravelDate,
		traveler,
		stops,
		int64(a.Plan.DirectPrice),
		int64(a.Plan.Total),
		int64(a.Plan.Savings),
		bestSplit,
		a.Plan.Recommended,
		a.Cancelled,
		tickets,
		report,
	)
	if err != nil {
		return fmt.Errorf("failed to save analysis %s: %w", a.ID, err)
	}

	return nil
}

// Get loads an analysis by ID
func (r *AnalysisRepository) Get(ctx context.Context, id string) (*models.Analysis, error) {
	query := `
		SELECT id::text, created_at, travel_date, traveler, stops,
		       direct_price_cents, total_cents, savings_cents, best_split_cents,
		       recommended, cancelled, tickets, report
		FROM analysis_run
		WHERE id = $1
	`

	var (
		a                      models.Analysis
		travelDate             time.Time
		traveler, stops        []byte
		tickets, report        []byte
		direct, total, savings int64
		bestSplit              *int64
	)

	err := r.db.QueryRow(ctx, query, id).Scan(
		&a.ID,
		&a.CreatedAt,
		&travelDate,
		&traveler,
		&stops,
		&direct,
		&total,
		&savings,
		&bestSplit,
		&a.Plan.Recommended,
		&a.Cancelled,
		&tickets,
		&report,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load analysis %s: %w", id, err)
	}

	a.TravelDate = travelDate
	a.Plan.DirectPrice = models.Cents(direct)
	a.Plan.Total = models.Cents(total)
	a.Plan.Savings = models.Cents(savings)
	if bestSplit != nil {
		a.Plan.PathFound = true
		a.Plan.BestSplit = models.Cents(*bestSplit)
	}

	if err := json.Unmarshal(traveler, &a.Traveler); err != nil {
		return nil, fmt.Errorf("failed to unmarshal traveler: %w", err)
	}
	if err := json.Unmarshal(stops, &a.Stops); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stops: %w", err)
	}
	if err := json.Unmarshal(tickets, &a.Plan.Tickets); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tickets: %w", err)
	}
	if err := json.Unmarshal(report, &a.Report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}

	return &a, nil
}
