package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/google/uuid"
	"github.com/passbi/splitticket/internal/analysis"
	"github.com/passbi/splitticket/internal/db"
	"github.com/passbi/splitticket/internal/itinerary"
	"github.com/passbi/splitticket/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// History loads analyses that are no longer held in memory
type History interface {
	Get(ctx context.Context, id string) (*models.Analysis, error)
}

// AnalysisResponse is returned for a single analysis
type AnalysisResponse struct {
	analysis.Job
	Summary *analysis.Summary `json:"summary,omitempty"`
}

// Handler serves the analysis API
type Handler struct {
	jobs     *analysis.Jobs
	defaults models.TravelerConfig
	history  History
	checks   map[string]HealthCheck
}

// HandlerOption configures a Handler
type HandlerOption func(*Handler)

// WithHistory looks up finished analyses in persistent storage
func WithHistory(history History) HandlerOption {
	return func(h *Handler) {
		h.history = history
	}
}

// WithHealthCheck adds a dependency to /health
func WithHealthCheck(name string, check HealthCheck) HandlerOption {
	return func(h *Handler) {
		h.checks[name] = check
	}
}

// NewHandler creates the API handler. defaults fill in traveler fields the
// request leaves out.
func NewHandler(jobs *analysis.Jobs, defaults models.TravelerConfig, options ...HandlerOption) *Handler {
	h := &Handler{
		jobs:     jobs,
		defaults: defaults,
		checks:   make(map[string]HealthCheck),
	}
	for _, option := range options {
		option(h)
	}
	return h
}

// RegisterRoutes mounts the API. limiters run before analysis creation only.
func RegisterRoutes(app *fiber.App, h *Handler, gatherer prometheus.Gatherer, limiters ...fiber.Handler) {
	app.Get("/health", h.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := app.Group("/v1")
	create := append(append([]fiber.Handler{}, limiters...), h.CreateAnalysis)
	v1.Post("/analyses", create...)
	v1.Get("/analyses/:id", h.GetAnalysis)
	v1.Delete("/analyses/:id", h.CancelAnalysis)

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "endpoint not found",
		})
	})
}

// Health handles GET /health
func (h *Handler) Health(c *fiber.Ctx) error {
	checks := fiber.Map{}
	healthy := true

	for name, check := range h.checks {
		if err := check(c.UserContext()); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status := "healthy"
	httpStatus := fiber.StatusOK
	if !healthy {
		status = "unhealthy"
		httpStatus = fiber.StatusServiceUnavailable
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checks": checks,
	})
}

// CreateAnalysis handles POST /v1/analyses. The body is an itinerary; the
// analysis runs in the background.
func (h *Handler) CreateAnalysis(c *fiber.Ctx) error {
	var body itinerary.File
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("invalid request body: %v", err),
		})
	}

	it, err := body.Resolve(h.defaults)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	id, err := h.jobs.Start(analysis.Request{
		Stops:       it.Stops,
		TravelDate:  it.TravelDate,
		Traveler:    it.Traveler,
		DirectPrice: it.DirectPrice,
	})
	if errors.Is(err, analysis.ErrInvalidItinerary) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err != nil {
		return err
	}

	c.Location("/v1/analyses/" + id)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"id":     id,
		"status": analysis.StatusRunning,
	})
}

// GetAnalysis handles GET /v1/analyses/:id
func (h *Handler) GetAnalysis(c *fiber.Ctx) error {
	id, err := analysisID(c)
	if err != nil {
		return err
	}

	if job, ok := h.jobs.Get(id); ok {
		return c.JSON(newAnalysisResponse(job))
	}

	if h.history != nil {
		stored, err := h.history.Get(c.UserContext(), id)
		switch {
		case err == nil:
			job := analysis.Job{
				ID:        stored.ID,
				Status:    analysis.StatusDone,
				Processed: stored.Report.Total - stored.Report.Skipped,
				Total:     stored.Report.Total,
				StartedAt: stored.CreatedAt,
				Result:    stored,
			}
			if stored.Cancelled {
				job.Status = analysis.StatusCancelled
			}
			return c.JSON(newAnalysisResponse(job))
		case !errors.Is(err, db.ErrNotFound):
			log.Error().Err(err).Str("analysis", id).Msg("Failed to load analysis history")
			return fiber.NewError(fiber.StatusInternalServerError, "failed to load analysis")
		}
	}

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "analysis not found",
	})
}

// CancelAnalysis handles DELETE /v1/analyses/:id
func (h *Handler) CancelAnalysis(c *fiber.Ctx) error {
	id, err := analysisID(c)
	if err != nil {
		return err
	}

	if !h.jobs.Cancel(id) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "analysis not found",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"id":     id,
		"status": "cancelling",
	})
}

// ErrorHandler writes errors returned from handlers as JSON
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	if code >= fiber.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}

func analysisID(c *fiber.Ctx) (string, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return "", fiber.NewError(fiber.StatusBadRequest, "invalid analysis id")
	}
	return id.String(), nil
}

func newAnalysisResponse(job analysis.Job) AnalysisResponse {
	resp := AnalysisResponse{Job: job}
	if job.Result != nil {
		summary := analysis.Summarize(job.Result)
		resp.Summary = &summary
	}
	return resp
}
