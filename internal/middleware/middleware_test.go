package middleware

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimitedApp(t *testing.T, config RateLimitConfig) (*fiber.App, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	app := fiber.New()
	app.Post("/v1/analyses", RateLimitMiddleware(rdb, config), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusAccepted)
	})
	return app, mr
}

func TestRateLimitMiddleware(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 30, 15, 0, time.UTC)

	t.Run("Per minute", func(t *testing.T) {
		app, _ := newLimitedApp(t, RateLimitConfig{PerMinute: 2, PerDay: 100, Now: func() time.Time { return now }})

		for i := 0; i < 2; i++ {
			resp, err := app.Test(httptest.NewRequest("POST", "/v1/analyses", nil), -1)
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
		}

		resp, err := app.Test(httptest.NewRequest("POST", "/v1/analyses", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
		assert.Equal(t, "45", resp.Header.Get("Retry-After"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "rate_limit_exceeded", body["error"])
		assert.Equal(t, "per_minute", body["limit_type"])
	})

	t.Run("Next minute starts a new window", func(t *testing.T) {
		current := now
		app, _ := newLimitedApp(t, RateLimitConfig{PerMinute: 1, Now: func() time.Time { return current }})

		resp, err := app.Test(httptest.NewRequest("POST", "/v1/analyses", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)

		current = now.Add(time.Minute)
		resp, err = app.Test(httptest.NewRequest("POST", "/v1/analyses", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	})

	t.Run("Per day", func(t *testing.T) {
		app, mr := newLimitedApp(t, RateLimitConfig{PerDay: 1, Now: func() time.Time { return now }})

		resp, err := app.Test(httptest.NewRequest("POST", "/v1/analyses", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
		assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining-day"))

		resp, err = app.Test(httptest.NewRequest("POST", "/v1/analyses", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
		assert.Equal(t, "41385", resp.Header.Get("Retry-After"))

		var dayKeys int
		for _, key := range mr.Keys() {
			if mr.TTL(key) > 24*time.Hour {
				dayKeys++
			}
		}
		assert.Equal(t, 1, dayKeys)
	})

	t.Run("Redis down lets requests through", func(t *testing.T) {
		rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
		defer rdb.Close()

		app := fiber.New()
		app.Post("/v1/analyses", RateLimitMiddleware(rdb, RateLimitConfig{PerMinute: 1, PerDay: 1}), func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusAccepted)
		})

		for i := 0; i < 3; i++ {
			resp, err := app.Test(httptest.NewRequest("POST", "/v1/analyses", nil), -1)
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
		}
	})
}

func TestRequestLogMiddleware(t *testing.T) {
	original := log.Logger
	defer func() { log.Logger = original }()

	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)

	app := fiber.New()
	app.Use(RequestLogMiddleware())
	app.Get("/ok", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/missing", func(c *fiber.Ctx) error { return fiber.ErrNotFound })

	resp, err := app.Test(httptest.NewRequest("GET", "/ok", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Response-Time"))
	assert.Contains(t, buf.String(), `"path":"/ok"`)
	assert.Contains(t, buf.String(), `"status":200`)

	buf.Reset()
	resp, err = app.Test(httptest.NewRequest("GET", "/missing", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Contains(t, buf.String(), `"status":404`)
	assert.Contains(t, buf.String(), `"level":"warn"`)
}
