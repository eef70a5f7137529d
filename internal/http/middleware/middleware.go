package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	redisStorage "github.com/gofiber/storage/redis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"

	"invoice-printer/internal/config"
	"invoice-printer/internal/infra/logging"
)

const apiKeyLocal = "api_key"

// limits builds and caches one limiter handler per distinct key limit.
type limits struct {
	cfg   config.Config
	keys  *KeyStore
	store fiber.Storage

	mu       sync.RWMutex
	handlers map[int]fiber.Handler
}

func newLimits(cfg config.Config, keys *KeyStore, store fiber.Storage) *limits {
	return &limits{cfg: cfg, keys: keys, store: store, handlers: make(map[int]fiber.Handler)}
}

func tooManyRequests(c *fiber.Ctx) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    fiber.StatusTooManyRequests,
			"message": "Too Many Requests",
		},
	})
}

// keyLimiter returns a cached limiter for the given key limit, creating one if needed.
func (l *limits) keyLimiter(limit int) fiber.Handler {
	l.mu.RLock()
	h, ok := l.handlers[limit]
	l.mu.RUnlock()
	if ok {
		return h
	}

	h = limiter.New(limiter.Config{
		Max:               limit,
		Expiration:        l.cfg.RateLimiter.Interval,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           l.store,
		KeyGenerator: func(c *fiber.Ctx) string {
			key, _ := c.Locals(apiKeyLocal).(string)
			return "key:" + key
		},
		LimitReached: func(c *fiber.Ctx) error {
			logging.Warn("Rate limit exceeded", "path", c.Path(), "limit", limit)
			return tooManyRequests(c)
		},
	})

	l.mu.Lock()
	if existing, ok := l.handlers[limit]; ok {
		h = existing
	} else {
		l.handlers[limit] = h
	}
	l.mu.Unlock()
	return h
}

// keyRateLimit applies the per-key limit of authenticated requests.
func (l *limits) keyRateLimit() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key, ok := c.Locals(apiKeyLocal).(string)
		if !ok || key == "" {
			return c.Next()
		}
		limit := l.keys.RateLimit(key)
		if limit == 0 {
			return c.Next()
		}
		return l.keyLimiter(limit)(c)
	}
}

func clientFingerprint(c *fiber.Ctx) string {
	sum := sha256.Sum256([]byte(c.IP() + c.Get(fiber.HeaderUserAgent)))
	return hex.EncodeToString(sum[:])
}

// userRateLimit limits anonymous requests by client IP and user agent.
func (l *limits) userRateLimit() fiber.Handler {
	if l.cfg.RateLimiter.UserLimit <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	userLimiter := limiter.New(limiter.Config{
		Max:               l.cfg.RateLimiter.UserLimit,
		Expiration:        l.cfg.RateLimiter.Interval,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           l.store,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "user:" + clientFingerprint(c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			logging.Warn("Rate limit exceeded", "user", clientFingerprint(c), "path", c.Path())
			return tooManyRequests(c)
		},
	})
	return func(c *fiber.Ctx) error {
		// Keyed requests are limited per key instead.
		if key, ok := c.Locals(apiKeyLocal).(string); ok && key != "" {
			return c.Next()
		}
		return userLimiter(c)
	}
}

// NewRateLimitStore returns Redis-backed limiter storage when a Redis host is
// configured, and in-memory storage otherwise or when Redis setup fails.
func NewRateLimitStore(cfg config.Config) (store fiber.Storage) {
	store = memoryStorage.New()
	if cfg.RateLimiter.RedisHost == "" {
		return store
	}
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Redis limiter store init panicked, falling back to memory", "panic", r)
		}
	}()
	store = redisStorage.New(redisStorage.Config{
		Addrs:    []string{cfg.RateLimiter.RedisHost},
		Database: cfg.RateLimiter.RedisDB,
	})
	logging.Info("Using Redis for rate limiting", "addr", cfg.RateLimiter.RedisHost, "db", cfg.RateLimiter.RedisDB)
	return store
}

// Options carries optional collaborators of Register.
type Options struct {
	// Redis is pinged by /ops/ready. Nil means always ready.
	Redis *redis.Client
	// Store backs the rate limiters. Nil selects NewRateLimitStore(cfg).
	Store fiber.Storage
}

// Register attaches global middleware to the app.
func Register(app *fiber.App, cfg config.Config, opts ...Options) {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Store == nil {
		o.Store = NewRateLimitStore(cfg)
	}
	keys := NewKeyStore(cfg.Auth.Keys)
	l := newLimits(cfg, keys, o.Store)

	app.Use(cors.New())

	app.Use(requestid.New(requestid.Config{
		Generator: func() string {
			return xid.New().String()
		},
	}))

	app.Use(healthcheck.New(healthcheck.Config{
		LivenessEndpoint:  "/ops/health",
		ReadinessEndpoint: "/ops/ready",
		ReadinessProbe:    redisReady(o.Redis),
	}))

	if keys.Enabled() {
		app.Use(keyauth.New(keyauth.Config{
			KeyLookup:  "header:X-API-Key",
			ContextKey: apiKeyLocal,
			Validator: func(c *fiber.Ctx, key string) (bool, error) {
				if !keys.Validate(key) {
					return false, ErrInvalidAPIKey
				}
				return true, nil
			},
			Next: func(c *fiber.Ctx) bool {
				if c.Method() == fiber.MethodOptions {
					return true
				}
				return cfg.Auth.AllowAnonymous && c.Get("X-API-Key") == ""
			},
			ErrorHandler: func(c *fiber.Ctx, err error) error {
				// Keyauth can call ErrorHandler with a nil error.
				if err == nil {
					err = fiber.ErrUnauthorized
				}
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": fiber.Map{
						"code":    fiber.StatusUnauthorized,
						"message": err.Error(),
					},
				})
			},
		}))
		app.Use(l.keyRateLimit())
	}

	app.Use(l.userRateLimit())

	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		requestID, _ := c.Locals("requestid").(string)
		status := c.Response().StatusCode()
		if e, ok := err.(*fiber.Error); ok {
			status = e.Code
		}
		logging.Info("Request handled",
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestID,
		)
		return err
	})
}

// redisReady pings rdb; a nil client is always ready.
func redisReady(rdb *redis.Client) func(*fiber.Ctx) bool {
	return func(c *fiber.Ctx) bool {
		if rdb == nil {
			return true
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logging.Warn("Readiness check failed", "error", err)
			return false
		}
		return true
	}
}
