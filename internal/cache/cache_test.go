package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/passbi/splitticket/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testQuote(price models.Cents) *models.SegmentQuote {
	return &models.SegmentQuote{
		From:          0,
		To:            2,
		Price:         price,
		OriginalPrice: price,
		Currency:      "EUR",
		Departure:     time.Date(2026, 10, 20, 8, 4, 0, 0, time.UTC),
	}
}

func TestQuoteKey(t *testing.T) {
	date := time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)
	traveler := models.TravelerConfig{Age: 30, DiscountCard: models.Discount25Class2}

	key := QuoteKey("8000105", "8000261", date, traveler)
	assert.Equal(t, key, QuoteKey("8000105", "8000261", date.Add(15*time.Hour), traveler), "same calendar day shares a key")
	assert.Contains(t, key, "quote:")

	tests := []struct {
		name  string
		other string
	}{
		{"Swapped stations", QuoteKey("8000261", "8000105", date, traveler)},
		{"Other day", QuoteKey("8000105", "8000261", date.AddDate(0, 0, 1), traveler)},
		{"Other card", QuoteKey("8000105", "8000261", date, models.TravelerConfig{Age: 30})},
		{"Transit pass", QuoteKey("8000105", "8000261", date, models.TravelerConfig{Age: 30, DiscountCard: models.Discount25Class2, HasTransitPass: true})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, key, tt.other)
		})
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Miss then hit", func(t *testing.T) {
		s := NewMemoryStore(10, time.Minute)

		entry, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Nil(t, entry)

		require.NoError(t, s.Set(ctx, "a", Entry{Quote: testQuote(1250)}))
		entry, err = s.Get(ctx, "a")
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, models.Cents(1250), entry.Quote.Price)

		stats := s.Stats()
		assert.Equal(t, int64(1), stats.Hits)
		assert.Equal(t, int64(1), stats.Misses)
		assert.Equal(t, int64(1), stats.Sets)
		require.NotNil(t, stats.Entries)
		assert.Equal(t, 1, *stats.Entries)
	})

	t.Run("No connection entry", func(t *testing.T) {
		s := NewMemoryStore(10, time.Minute)
		require.NoError(t, s.Set(ctx, "a", Entry{}))

		entry, err := s.Get(ctx, "a")
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Nil(t, entry.Quote)
	})

	t.Run("Evicts least recently used", func(t *testing.T) {
		s := NewMemoryStore(2, time.Minute)
		require.NoError(t, s.Set(ctx, "a", Entry{Quote: testQuote(100)}))
		require.NoError(t, s.Set(ctx, "b", Entry{Quote: testQuote(200)}))

		_, err := s.Get(ctx, "a")
		require.NoError(t, err)
		require.NoError(t, s.Set(ctx, "c", Entry{Quote: testQuote(300)}))

		entry, err := s.Get(ctx, "b")
		require.NoError(t, err)
		assert.Nil(t, entry)

		entry, err = s.Get(ctx, "a")
		require.NoError(t, err)
		assert.NotNil(t, entry)
	})

	t.Run("Expires after TTL", func(t *testing.T) {
		s := NewMemoryStore(10, 20*time.Millisecond)
		require.NoError(t, s.Set(ctx, "a", Entry{Quote: testQuote(100)}))

		assert.Eventually(t, func() bool {
			entry, _ := s.Get(ctx, "a")
			return entry == nil
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("Clear", func(t *testing.T) {
		s := NewMemoryStore(10, time.Minute)
		require.NoError(t, s.Set(ctx, "a", Entry{Quote: testQuote(100)}))
		require.NoError(t, s.Clear(ctx))
		require.NotNil(t, s.Stats().Entries)
		assert.Equal(t, 0, *s.Stats().Entries)
	})
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Round trip with TTL", func(t *testing.T) {
		mr, rdb := newTestRedis(t)
		s := NewRedisStore(rdb, 30*time.Minute)

		entry, err := s.Get(ctx, "quote:abc")
		require.NoError(t, err)
		assert.Nil(t, entry)

		require.NoError(t, s.Set(ctx, "quote:abc", Entry{Quote: testQuote(2000)}))
		assert.Equal(t, 30*time.Minute, mr.TTL("quote:abc"))

		entry, err = s.Get(ctx, "quote:abc")
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, models.Cents(2000), entry.Quote.Price)
		assert.True(t, entry.Quote.Departure.Equal(testQuote(0).Departure))

		mr.FastForward(31 * time.Minute)
		entry, err = s.Get(ctx, "quote:abc")
		require.NoError(t, err)
		assert.Nil(t, entry)

		stats := s.Stats()
		assert.Equal(t, int64(1), stats.Hits)
		assert.Equal(t, int64(2), stats.Misses)
		assert.Nil(t, stats.Entries)

		data, err := json.Marshal(stats)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "entries")
	})

	t.Run("Clear only removes quotes", func(t *testing.T) {
		mr, rdb := newTestRedis(t)
		s := NewRedisStore(rdb, time.Hour)

		require.NoError(t, mr.Set("rl:ip:127.0.0.1", "3"))
		require.NoError(t, s.Set(ctx, "quote:a", Entry{Quote: testQuote(100)}))
		require.NoError(t, s.Set(ctx, "quote:b", Entry{}))

		require.NoError(t, s.Clear(ctx))

		assert.False(t, mr.Exists("quote:a"))
		assert.False(t, mr.Exists("quote:b"))
		assert.True(t, mr.Exists("rl:ip:127.0.0.1"))
	})

	t.Run("Corrupt value", func(t *testing.T) {
		mr, rdb := newTestRedis(t)
		s := NewRedisStore(rdb, time.Hour)
		require.NoError(t, mr.Set("quote:bad", "{not json"))

		_, err := s.Get(ctx, "quote:bad")
		assert.Error(t, err)
	})
}

func TestHealthCheck(t *testing.T) {
	mr, rdb := newTestRedis(t)
	assert.NoError(t, HealthCheck(context.Background(), rdb))

	mr.Close()
	assert.Error(t, HealthCheck(context.Background(), rdb))
	assert.Error(t, HealthCheck(context.Background(), nil))
}

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)

	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	config := &Config{Host: mr.Host(), Port: port}
	rdb, err := NewClient(context.Background(), config)
	require.NoError(t, err)
	defer rdb.Close()

	assert.Contains(t, PoolStats(rdb), "total_conns")
}

func TestGetClient(t *testing.T) {
	t.Setenv("REDIS_HOST", "")
	t.Cleanup(Close)

	_, err := GetClient(context.Background(), &Config{})
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	rdb, err := GetClient(context.Background(), &Config{Host: mr.Host(), Port: port})
	require.NoError(t, err)
	assert.Equal(t, mr.Addr(), rdb.Options().Addr)

	again, err := GetClient(context.Background(), nil)
	require.NoError(t, err)
	assert.Same(t, rdb, again)

	Close()
	_, err = GetClient(context.Background(), nil)
	assert.Error(t, err)
}
