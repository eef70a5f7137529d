package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoice-printer/internal/config"
)

type memStore struct {
	sync.RWMutex
	m map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{m: make(map[string][]byte)}
}

func (s *memStore) Get(key string) ([]byte, error) {
	s.RLock()
	defer s.RUnlock()
	val, ok := s.m[key]
	if !ok {
		return nil, nil
	}
	return val, nil
}

func (s *memStore) Set(key string, val []byte, _ time.Duration) error {
	s.Lock()
	s.m[key] = val
	s.Unlock()
	return nil
}

func (s *memStore) Delete(key string) error {
	s.Lock()
	delete(s.m, key)
	s.Unlock()
	return nil
}

func (s *memStore) Reset() error {
	s.Lock()
	s.m = make(map[string][]byte)
	s.Unlock()
	return nil
}

func (s *memStore) Close() error { return nil }

func newApp(cfg config.Config, opts Options) *fiber.App {
	if opts.Store == nil {
		opts.Store = newMemStore()
	}
	app := fiber.New()
	Register(app, cfg, opts)
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("ok") })
	return app
}

func TestRegister_AddsHealthAndRequestID(t *testing.T) {
	app := newApp(config.Default(), Options{})

	healthReq, _ := http.NewRequest(http.MethodGet, "/ops/health", nil)
	healthResp, err := app.Test(healthReq)
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	if healthResp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected health endpoint 200, got %d", healthResp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("ping request failed: %v", err)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("expected X-Request-Id to be present")
	}
}

func TestRegister_ReadinessPingsRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	app := newApp(config.Default(), Options{Redis: rdb})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ops/ready", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	mr.Close()
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/ops/ready", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestRegister_APIKeyRequiredWhenConfigured(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.Keys = []config.APIKey{{Key: "good"}}
	app := newApp(cfg, Options{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ping", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-API-Key", "bad")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-API-Key", "good")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	// Health stays public.
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/ops/health", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRegister_NoKeysSkipsAuth(t *testing.T) {
	app := newApp(config.Default(), Options{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ping", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	// Any header value is ignored without configured keys.
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-API-Key", "whatever")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRegister_UnknownKeyMessage(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.Keys = []config.APIKey{{Key: "good"}}
	app := newApp(cfg, Options{})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-API-Key", "bad")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), ErrInvalidAPIKey.Error())
}

func TestKeyRateLimit(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimiter.Interval = time.Hour
	cfg.Auth.Keys = []config.APIKey{{Key: "test-token", RateLimit: 2}, {Key: "unlimited"}}
	app := newApp(cfg, Options{})

	makeReq := func(key string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("X-API-Key", key)
		return req
	}

	for i := 0; i < 2; i++ {
		resp, err := app.Test(makeReq("test-token"), -1)
		if err != nil {
			t.Fatalf("request %d failed: %v", i+1, err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("expected 200 but got %d", resp.StatusCode)
		}
	}

	resp, err := app.Test(makeReq("test-token"), -1)
	if err != nil {
		t.Fatalf("exceed request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 but got %d", resp.StatusCode)
	}

	for i := 0; i < 5; i++ {
		resp, err := app.Test(makeReq("unlimited"), -1)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
}

func TestUserRateLimit(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimiter.UserLimit = 2
	cfg.RateLimiter.Interval = time.Hour
	app := newApp(cfg, Options{})

	makeReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("User-Agent", "test-agent")
		req.RemoteAddr = "1.2.3.4:5678"
		return req
	}

	for i := 0; i < 2; i++ {
		resp, err := app.Test(makeReq(), -1)
		if err != nil {
			t.Fatalf("request %d failed: %v", i+1, err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("expected 200 but got %d", resp.StatusCode)
		}
	}

	resp, err := app.Test(makeReq(), -1)
	if err != nil {
		t.Fatalf("third request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 but got %d", resp.StatusCode)
	}
}

func TestNewRateLimitStore_FallsBackToMemory(t *testing.T) {
	cfg := config.Default()
	store := NewRateLimitStore(cfg)
	require.NotNil(t, store)
	require.NoError(t, store.Set("k", []byte("v"), time.Minute))

	// Nothing listens on this port; Redis init fails and memory is used.
	cfg.RateLimiter.RedisHost = "127.0.0.1:1"
	store = NewRateLimitStore(cfg)
	require.NotNil(t, store)
	require.NoError(t, store.Set("k", []byte("v"), time.Minute))
}

func TestNewRateLimitStore_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.RateLimiter.RedisHost = mr.Addr()

	store := NewRateLimitStore(cfg)
	require.NoError(t, store.Set("k", []byte("v"), time.Minute))
	assert.True(t, mr.Exists("k"))
}

func TestKeyStore(t *testing.T) {
	s := NewKeyStore([]config.APIKey{{Key: "a", RateLimit: 5}, {Key: "b"}})
	assert.True(t, s.Enabled())
	assert.True(t, s.Validate("a"))
	assert.False(t, s.Validate("c"))
	assert.Equal(t, 5, s.RateLimit("a"))
	assert.Equal(t, 0, s.RateLimit("b"))

	s.Load(map[string]int{"c": 1})
	assert.False(t, s.Validate("a"))
	assert.True(t, s.Validate("c"))

	assert.False(t, NewKeyStore(nil).Enabled())
}

func TestKeyLimitOverridesUserLimit(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimiter.UserLimit = 2
	cfg.RateLimiter.Interval = time.Hour
	cfg.Auth.AllowAnonymous = true
	// A high key limit so only the user limiter would block if it were applied.
	cfg.Auth.Keys = []config.APIKey{{Key: "test-token", RateLimit: 100}}
	app := newApp(cfg, Options{})

	makeReq := func(withKey bool) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("User-Agent", "test-agent")
		req.RemoteAddr = "1.2.3.4:5678"
		if withKey {
			req.Header.Set("X-API-Key", "test-token")
		}
		return req
	}

	// Exhaust anonymous user limit.
	for i := 0; i < 2; i++ {
		resp, err := app.Test(makeReq(false), -1)
		if err != nil {
			t.Fatalf("anonymous request %d failed: %v", i+1, err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("expected 200 but got %d", resp.StatusCode)
		}
	}
	resp, err := app.Test(makeReq(false), -1)
	if err != nil {
		t.Fatalf("anonymous exceed request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 but got %d", resp.StatusCode)
	}

	// Keyed requests from the same client are not blocked by the user limiter.
	resp, err = app.Test(makeReq(true), -1)
	if err != nil {
		t.Fatalf("keyed request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected keyed request to bypass user limiter, got %d", resp.StatusCode)
	}
}
