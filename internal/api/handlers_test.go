package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/passbi/splitticket/internal/analysis"
	"github.com/passbi/splitticket/internal/db"
	"github.com/passbi/splitticket/internal/metrics"
	"github.com/passbi/splitticket/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuoter struct {
	prices map[string]models.Cents
	block  chan struct{}
}

func (q *fakeQuoter) Quote(_ context.Context, origin, destination models.Stop, _ time.Time, _ models.TravelerConfig) (*models.SegmentQuote, error) {
	if q.block != nil {
		<-q.block
	}
	price, ok := q.prices[fmt.Sprintf("%d-%d", origin.Index, destination.Index)]
	if !ok {
		return nil, nil
	}
	return &models.SegmentQuote{From: origin.Index, To: destination.Index, Price: price, Currency: "EUR"}, nil
}

type fakeHistory struct {
	analyses map[string]*models.Analysis
	err      error
}

func (h *fakeHistory) Get(_ context.Context, id string) (*models.Analysis, error) {
	if h.err != nil {
		return nil, h.err
	}
	a, ok := h.analyses[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return a, nil
}

const itineraryBody = `{
	"date": "2026-10-20",
	"stops": [
		{"id": "8000105", "name": "Frankfurt(Main)Hbf", "departure": "08:04"},
		{"id": "8000244", "name": "Mannheim Hbf", "departure": "08:45"},
		{"id": "8000096", "name": "Stuttgart Hbf"}
	]
}`

func newTestApp(quoter *fakeQuoter, options ...HandlerOption) (*fiber.App, *analysis.Jobs) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	jobs := analysis.NewJobs(analysis.NewService(quoter, analysis.WithMetrics(m)), nil)
	h := NewHandler(jobs, models.TravelerConfig{Age: 30}, options...)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	RegisterRoutes(app, h, reg)
	return app, jobs
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func postAnalysis(t *testing.T, app *fiber.App, payload string) *http.Response {
	t.Helper()
	req := httptest.NewRequest("POST", "/v1/analyses", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestCreateAndGetAnalysis(t *testing.T) {
	app, jobs := newTestApp(&fakeQuoter{prices: map[string]models.Cents{"0-1": 2000, "1-2": 1500, "0-2": 4000}})

	resp := postAnalysis(t, app, itineraryBody)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	created := decode(t, resp)
	id := created["id"].(string)
	assert.Equal(t, "/v1/analyses/"+id, resp.Header.Get("Location"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := jobs.Wait(ctx, id)
	require.NoError(t, err)

	resp, err = app.Test(httptest.NewRequest("GET", "/v1/analyses/"+id, nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	got := decode(t, resp)
	assert.Equal(t, "done", got["status"])
	summary := got["summary"].(map[string]any)
	assert.Equal(t, "40.00", summary["direct_price"])
	assert.Equal(t, "5.00", summary["savings"])
	assert.Equal(t, true, summary["recommended"])
	assert.Len(t, summary["tickets"], 2)

	resp, err = app.Test(httptest.NewRequest("GET", "/metrics", nil), -1)
	require.NoError(t, err)
	text, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(text), "splitticket_")
}

func TestCreateAnalysisRejectsBadInput(t *testing.T) {
	app, _ := newTestApp(&fakeQuoter{})

	tests := []struct {
		name    string
		payload string
	}{
		{name: "Malformed JSON", payload: `{"date":`},
		{name: "Single stop", payload: `{"date":"2026-10-20","stops":[{"id":"A","name":"A","departure":"08:00"}]}`},
		{name: "Bad date", payload: `{"date":"tomorrow","stops":[{"id":"A","departure":"08:00"},{"id":"B"}]}`},
		{name: "Unknown card", payload: `{"date":"2026-10-20","traveler":{"discount_card":"GOLD"},"stops":[{"id":"A","departure":"08:00"},{"id":"B"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postAnalysis(t, app, tt.payload)
			assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, decode(t, resp)["error"])
		})
	}
}

func TestGetAnalysis(t *testing.T) {
	stored := &models.Analysis{
		ID:        "7f1d2a3b-0c4d-4e5f-8a9b-0c1d2e3f4a5b",
		CreatedAt: time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC),
		Plan:      models.TicketPlan{Total: 4000, DirectPrice: 4000},
		Report:    models.BuildReport{Total: 3, Priced: 3},
	}

	tests := []struct {
		name    string
		path    string
		history *fakeHistory
		status  int
	}{
		{name: "Invalid id", path: "/v1/analyses/not-a-uuid", status: fiber.StatusBadRequest},
		{name: "Unknown without history", path: "/v1/analyses/" + stored.ID, status: fiber.StatusNotFound},
		{
			name:    "From history",
			path:    "/v1/analyses/" + stored.ID,
			history: &fakeHistory{analyses: map[string]*models.Analysis{stored.ID: stored}},
			status:  fiber.StatusOK,
		},
		{
			name:    "Unknown in history",
			path:    "/v1/analyses/00000000-0000-0000-0000-000000000000",
			history: &fakeHistory{},
			status:  fiber.StatusNotFound,
		},
		{
			name:    "History failure",
			path:    "/v1/analyses/" + stored.ID,
			history: &fakeHistory{err: errors.New("connection refused")},
			status:  fiber.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var options []HandlerOption
			if tt.history != nil {
				options = append(options, WithHistory(tt.history))
			}
			app, _ := newTestApp(&fakeQuoter{}, options...)

			resp, err := app.Test(httptest.NewRequest("GET", tt.path, nil), -1)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestCancelAnalysis(t *testing.T) {
	quoter := &fakeQuoter{prices: map[string]models.Cents{"0-2": 4000}, block: make(chan struct{})}
	app, jobs := newTestApp(quoter)

	resp := postAnalysis(t, app, itineraryBody)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	id := decode(t, resp)["id"].(string)

	resp, err := app.Test(httptest.NewRequest("DELETE", "/v1/analyses/"+id, nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	close(quoter.block)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := jobs.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, analysis.StatusCancelled, job.Status)

	resp, err = app.Test(httptest.NewRequest("DELETE", "/v1/analyses/00000000-0000-0000-0000-000000000000", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	t.Run("Healthy", func(t *testing.T) {
		app, _ := newTestApp(&fakeQuoter{}, WithHealthCheck("redis", func(context.Context) error { return nil }))
		resp, err := app.Test(httptest.NewRequest("GET", "/health", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, "healthy", decode(t, resp)["status"])
	})

	t.Run("Unhealthy", func(t *testing.T) {
		app, _ := newTestApp(&fakeQuoter{},
			WithHealthCheck("redis", func(context.Context) error { return nil }),
			WithHealthCheck("database", func(context.Context) error { return errors.New("database ping failed") }),
		)
		resp, err := app.Test(httptest.NewRequest("GET", "/health", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

		got := decode(t, resp)
		checks := got["checks"].(map[string]any)
		assert.Equal(t, "ok", checks["redis"])
		assert.Equal(t, "database ping failed", checks["database"])
	})
}

func TestUnknownEndpoint(t *testing.T) {
	app, _ := newTestApp(&fakeQuoter{})
	resp, err := app.Test(httptest.NewRequest("GET", "/v2/route-search", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
