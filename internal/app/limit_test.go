package app

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	memoryStorage "github.com/gofiber/storage/memory/v2"

	u "edgessr/internal/utils"
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
	return s.m[key], nil
}

func (s *memStore) Set(key string, val []byte, exp time.Duration) error {
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

func (s *memStore) len() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.m)
}

func limitedApp(cfg u.Config, store fiber.Storage) *fiber.App {
	app := fiber.New()
	app.Use(apiKeyAuth())
	app.Use(keyRateLimitMiddleware(cfg, store))
	app.Use(userRateLimitMiddleware(cfg, store))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })
	return app
}

func clientRequest(key string) *http.Request {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("User-Agent", "test-agent")
	req.RemoteAddr = "1.2.3.4:5678"
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	return req
}

func expectStatus(t *testing.T, app *fiber.App, req *http.Request, want int) {
	t.Helper()
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != want {
		t.Fatalf("expected %d but got %d", want, resp.StatusCode)
	}
}

func TestKeyRateLimitMiddleware(t *testing.T) {
	key := "test-key"
	limit := 2

	u.LoadKeysFromMap(map[string]int{key: limit})
	defer u.ResetKeys()

	cfg := u.Config{}
	cfg.RateLimiter.Interval = time.Hour
	app := limitedApp(cfg, newMemStore())

	for i := 0; i < limit; i++ {
		expectStatus(t, app, clientRequest(key), fiber.StatusOK)
	}
	expectStatus(t, app, clientRequest(key), fiber.StatusTooManyRequests)
}

func TestUserRateLimitMiddleware(t *testing.T) {
	cfg := u.Config{}
	cfg.RateLimiter.EnableUserLimiter = true
	cfg.RateLimiter.UserLimit = 2
	cfg.RateLimiter.Interval = time.Hour

	app := fiber.New()
	app.Use(userRateLimitMiddleware(cfg, newMemStore()))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	for i := 0; i < 2; i++ {
		expectStatus(t, app, clientRequest(""), fiber.StatusOK)
	}
	expectStatus(t, app, clientRequest(""), fiber.StatusTooManyRequests)
}

func TestUserRateLimitDisabled(t *testing.T) {
	app := fiber.New()
	app.Use(userRateLimitMiddleware(u.Config{}, newMemStore()))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	for i := 0; i < 5; i++ {
		expectStatus(t, app, clientRequest(""), fiber.StatusOK)
	}
}

func TestKeyLimitOverridesUserLimit(t *testing.T) {
	key := "test-key"
	// High key limit so only the user limiter could block.
	u.LoadKeysFromMap(map[string]int{key: 100})
	defer u.ResetKeys()

	cfg := u.Config{}
	cfg.RateLimiter.EnableUserLimiter = true
	cfg.RateLimiter.UserLimit = 2
	cfg.RateLimiter.Interval = time.Hour

	app := limitedApp(cfg, newMemStore())

	for i := 0; i < 2; i++ {
		expectStatus(t, app, clientRequest(""), fiber.StatusOK)
	}
	expectStatus(t, app, clientRequest(""), fiber.StatusTooManyRequests)

	// Same client with a key is not blocked by the user limiter.
	expectStatus(t, app, clientRequest(key), fiber.StatusOK)
}

func TestAPIKeyAuth(t *testing.T) {
	app := limitedApp(u.Config{}, newMemStore())

	u.ResetKeys()
	expectStatus(t, app, clientRequest("any"), fiber.StatusServiceUnavailable)
	expectStatus(t, app, clientRequest(""), fiber.StatusOK)

	u.LoadKeysFromMap(map[string]int{"good": 0})
	defer u.ResetKeys()
	expectStatus(t, app, clientRequest("bad"), fiber.StatusUnauthorized)
	expectStatus(t, app, clientRequest("good"), fiber.StatusOK)
}

func TestKeyRateLimit_UsesItsOwnStore(t *testing.T) {
	key := "shared-key"
	u.LoadKeysFromMap(map[string]int{key: 1})
	defer u.ResetKeys()

	cfg := u.Config{}
	cfg.RateLimiter.Interval = time.Hour

	first := newMemStore()
	firstApp := limitedApp(cfg, first)
	expectStatus(t, firstApp, clientRequest(key), fiber.StatusOK)
	expectStatus(t, firstApp, clientRequest(key), fiber.StatusTooManyRequests)
	if first.len() == 0 {
		t.Fatalf("expected limiter state in the first store")
	}

	// A second app with its own store starts with a fresh budget.
	second := newMemStore()
	secondApp := limitedApp(cfg, second)
	expectStatus(t, secondApp, clientRequest(key), fiber.StatusOK)
	if second.len() == 0 {
		t.Fatalf("expected limiter state in the second store")
	}
}

func TestKeyRateLimit_UsesConfiguredInterval(t *testing.T) {
	key := "short-key"
	u.LoadKeysFromMap(map[string]int{key: 1})
	defer u.ResetKeys()

	// The process-wide config must not leak into the limiter.
	prev := u.AppConfig.RateLimiter.Interval
	u.AppConfig.RateLimiter.Interval = time.Hour
	defer func() { u.AppConfig.RateLimiter.Interval = prev }()

	cfg := u.Config{}
	cfg.RateLimiter.Interval = time.Second
	// Entries in the memory storage expire, so the window can elapse.
	app := limitedApp(cfg, memoryStorage.New())

	expectStatus(t, app, clientRequest(key), fiber.StatusOK)
	expectStatus(t, app, clientRequest(key), fiber.StatusTooManyRequests)

	time.Sleep(3500 * time.Millisecond)
	expectStatus(t, app, clientRequest(key), fiber.StatusOK)
}
