package api

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window counter backed by redis, shared across
// instances.
type RateLimiter struct {
	redis  *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func NewRateLimiter(r *redis.Client, prefix string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{redis: r, prefix: prefix, limit: limit, window: window}
}

func (r *RateLimiter) MiddlewareByKey(keyFunc func(c *fiber.Ctx) string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := fmt.Sprintf("%s:%s", r.prefix, keyFunc(c))
		count, err := r.redis.Incr(c.Context(), key).Result()
		if err != nil {
			// fail open: a broken limiter must not take the API down
			return c.Next()
		}
		if count == 1 {
			r.redis.Expire(c.Context(), key, r.window)
		}
		if count > int64(r.limit) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded"})
		}
		return c.Next()
	}
}
