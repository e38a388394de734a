package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const trip = `
date: 2026-10-20
stops:
  - {id: "8000105", name: Frankfurt(Main)Hbf, departure: "08:04"}
  - {id: "8000244", name: Mannheim Hbf, departure: "08:45"}
  - {id: "8000096", name: Stuttgart Hbf}
`

func newBahnServer(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()

	prices := map[string]string{
		"8000105-8000244": `"betrag": 20.0`,
		"8000244-8000096": `"betrag": 15.0`,
		"8000105-8000096": `"betrag": 40.0`,
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		var req struct {
			From string `json:"abfahrtsHalt"`
			To   string `json:"ankunftsHalt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		price, ok := prices[req.From+"-"+req.To]
		if !ok {
			fmt.Fprint(w, `{"verbindungen": []}`)
			return
		}
		fmt.Fprintf(w, `{"verbindungen": [{"angebotsPreis": {%s, "waehrung": "EUR"}, "verbindungsAbschnitte": [{"halte": [{"abfahrtsZeitpunkt": "2026-10-20T08:04:00"}]}]}]}`, price)
	}))
	t.Cleanup(server.Close)
	return server
}

func setupEnv(t *testing.T, baseURL string) string {
	t.Helper()
	for _, key := range []string{"CACHE_BACKEND", "REDIS_HOST", "DB_HOST", "DEFAULT_DISCOUNT_CARD", "MATRIX_WORKERS"} {
		t.Setenv(key, "")
	}
	t.Setenv("PRICING_BASE_URL", baseURL)
	t.Setenv("PRICING_BASE_DELAY", "0s")

	path := filepath.Join(t.TempDir(), "trip.yaml")
	require.NoError(t, os.WriteFile(path, []byte(trip), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out, errOut bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &errOut
	err := app.Run(append([]string{"splitticket"}, args...))
	return out.String(), err
}

func TestAnalyseCommand(t *testing.T) {
	var calls atomic.Int64
	server := newBahnServer(t, &calls)
	path := setupEnv(t, server.URL)

	t.Run("Text output", func(t *testing.T) {
		out, err := run(t, "analyse", "--itinerary", path)
		require.NoError(t, err)

		assert.Contains(t, out, "Direct ticket:   40.00 EUR")
		assert.Contains(t, out, "Savings:         5.00 EUR with 2 tickets")
		assert.Contains(t, out, "Frankfurt(Main)Hbf -> Mannheim Hbf  20.00 EUR")
		assert.Equal(t, int64(3), calls.Load(), "direct price lookup is reused by the matrix build")
	})

	t.Run("JSON output with given direct price", func(t *testing.T) {
		out, err := run(t, "analyse", "-i", path, "--direct-price", "30", "--discount-card", "BC25_2", "--json")
		require.NoError(t, err)

		var summary map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &summary))
		assert.Equal(t, "30.00", summary["direct_price"])
		assert.Equal(t, "30.00", summary["total"])
		assert.Equal(t, false, summary["recommended"])
		assert.Len(t, summary["tickets"], 1)
	})

	t.Run("Invalid flags", func(t *testing.T) {
		_, err := run(t, "analyse", "-i", path, "--discount-card", "GOLD")
		assert.Error(t, err)

		_, err = run(t, "analyse", "-i", path, "--age", "-3")
		assert.Error(t, err)
	})

	t.Run("Missing itinerary", func(t *testing.T) {
		_, err := run(t, "analyse", "-i", filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}

func TestShowRejectsInvalidID(t *testing.T) {
	_, err := run(t, "show", "not-a-uuid")
	assert.ErrorContains(t, err, "invalid analysis id")
}

func TestCacheClearCommand(t *testing.T) {
	setupEnv(t, "http://127.0.0.1:1")
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_HOST", mr.Host())
	t.Setenv("REDIS_PORT", mr.Port())

	require.NoError(t, mr.Set("other", "kept"))

	_, err := run(t, "cache", "clear")
	require.NoError(t, err)
	assert.True(t, mr.Exists("other"))
}
