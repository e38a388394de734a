package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RateLimitConfig bounds how many analyses a client IP may start
type RateLimitConfig struct {
	PerMinute int
	PerDay    int

	// Now is replaced in tests
	Now func() time.Time
}

type window struct {
	name      string
	key       string
	limit     int
	ttl       time.Duration
	resetAt   time.Time
	errorCode string
	message   string
}

// RateLimitMiddleware counts requests per client IP in fixed minute and day
// windows stored in Redis. Redis errors let the request through.
func RateLimitMiddleware(rdb *redis.Client, config RateLimitConfig) fiber.Handler {
	if config.Now == nil {
		config.Now = time.Now
	}

	return func(c *fiber.Ctx) error {
		now := config.Now().UTC()
		ip := c.IP()

		windows := []window{
			{
				name:      "minute",
				key:       fmt.Sprintf("rl:ip:%s:minute:%d", ip, now.Unix()/60),
				limit:     config.PerMinute,
				ttl:       2 * time.Minute,
				resetAt:   now.Truncate(time.Minute).Add(time.Minute),
				errorCode: "rate_limit_exceeded",
				message:   "Too many analyses per minute",
			},
			{
				name:      "day",
				key:       fmt.Sprintf("rl:ip:%s:day:%s", ip, now.Format("2006-01-02")),
				limit:     config.PerDay,
				ttl:       25 * time.Hour,
				resetAt:   time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC),
				errorCode: "daily_quota_exceeded",
				message:   "Daily quota exceeded",
			},
		}

		for _, w := range windows {
			if w.limit <= 0 {
				continue
			}

			count, err := increment(c.UserContext(), rdb, w.key, w.ttl)
			if err != nil {
				log.Warn().Err(err).Str("window", w.name).Msg("Rate limit check failed, allowing request")
				continue
			}

			c.Set("X-RateLimit-Limit-"+w.name, strconv.Itoa(w.limit))

			if count > int64(w.limit) {
				retryAfter := int64(w.resetAt.Sub(now).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}

				c.Set("X-RateLimit-Remaining-"+w.name, "0")
				c.Set("X-RateLimit-Reset-"+w.name, strconv.FormatInt(w.resetAt.Unix(), 10))
				c.Set(fiber.HeaderRetryAfter, strconv.FormatInt(retryAfter, 10))

				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"error":       w.errorCode,
					"message":     w.message,
					"limit_type":  "per_" + w.name,
					"limit":       w.limit,
					"used":        count,
					"retry_after": retryAfter,
					"reset_at":    w.resetAt.Format(time.RFC3339),
				})
			}

			c.Set("X-RateLimit-Remaining-"+w.name, strconv.FormatInt(int64(w.limit)-count, 10))
		}

		return c.Next()
	}
}

// increment bumps a window counter and makes sure it expires
func increment(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
