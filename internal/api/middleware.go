package api

import (
	"context"
	"fmt"
	"time"

	"github.com/fathima-sithara/messaging-service/internal/auth"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const localIdentity = "identity"

type Verifier interface {
	Validate(token string) (string, error)
}

// JWTAuth requires a bearer token and stores the verified identity in Locals.
func JWTAuth(v Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := auth.ParseBearerToken(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
		}
		identity, err := v.Validate(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}
		c.Locals(localIdentity, identity)
		return c.Next()
	}
}

func identityOf(c *fiber.Ctx) string {
	id, _ := c.Locals(localIdentity).(string)
	return id
}

// RateLimiter is a fixed-window limiter backed by redis INCR/EXPIRE.
type RateLimiter struct {
	Redis  *redis.Client
	Prefix string
	Limit  int // requests
	Window time.Duration
	log    *zap.SugaredLogger
}

func NewRateLimiter(r *redis.Client, prefix string, limit int, window time.Duration, log *zap.SugaredLogger) *RateLimiter {
	return &RateLimiter{Redis: r, Prefix: prefix, Limit: limit, Window: window, log: log}
}

// Middleware limits per verified identity, or per client IP when the request
// is unauthenticated. A redis failure lets the request through.
func (r *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := identityOf(c)
		if key == "" {
			key = c.IP()
		}
		ctx, cancel := context.WithTimeout(c.UserContext(), time.Second)
		defer cancel()

		redisKey := fmt.Sprintf("%s:ratelimit:%s", r.Prefix, key)
		count, err := r.Redis.Incr(ctx, redisKey).Result()
		if err != nil {
			r.log.Warnw("rate limiter unavailable", "err", err)
			return c.Next()
		}
		if count == 1 {
			r.Redis.Expire(ctx, redisKey, r.Window)
		}
		if count > int64(r.Limit) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded"})
		}
		return c.Next()
	}
}
