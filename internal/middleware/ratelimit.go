package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/healthdash/backend/internal/http/dto"
	"github.com/healthdash/backend/internal/rbac"
	"github.com/redis/go-redis/v9"
)

// WindowCounter increments key and returns the new count. The key expires
// after window.
type WindowCounter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounter is a WindowCounter backed by INCR and EXPIRE in one transaction.
type RedisCounter struct {
	rdb *redis.Client
}

func NewRedisCounter(rdb *redis.Client) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

func (r *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// RateLimitMiddleware allows limit requests per route and IP in each fixed
// window. The route is taken in canonical form, so /signin, /SIGNIN and
// /signin/ share a bucket. Without a counter, or when it fails, requests pass.
func RateLimitMiddleware(counter WindowCounter, limit int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if counter == nil || limit <= 0 || window <= 0 {
			return c.Next()
		}

		now := time.Now()
		bucket := now.UnixNano() / int64(window)
		key := "healthdash:rl:" + rbac.Clean(c.Path()) + ":" + c.IP() + ":" + strconv.FormatInt(bucket, 10)

		count, err := counter.Incr(c.UserContext(), key, window)
		if err != nil {
			return c.Next()
		}

		remaining := int64(limit) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Set("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(limit) {
			reset := time.Unix(0, (bucket+1)*int64(window)).Sub(now)
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(reset.Seconds())+1))
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.ErrorResponse{
				Error:     "rate limit exceeded",
				Retryable: true,
				RequestID: GetRequestID(c),
			})
		}
		return c.Next()
	}
}
