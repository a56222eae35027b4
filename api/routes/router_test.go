package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/angelmondragon/cartbridge/internal/cartsync"
	identitypkg "github.com/angelmondragon/cartbridge/internal/identity"
	"github.com/angelmondragon/cartbridge/pkg/config"
	"github.com/angelmondragon/cartbridge/pkg/coreapi"
	"github.com/angelmondragon/cartbridge/pkg/logger"
	pkgredis "github.com/angelmondragon/cartbridge/pkg/redis"
)

const routerCartBody = `{"data":{"id":"cart-1","items":[{"id":"li-1","productId":"p-1","quantity":1,"unitPrice":"4.50","product":{"id":"p-1","name":"Tea"}}]}}`

type cannedCoreClient struct{}

func (c *cannedCoreClient) FetchCart(ctx context.Context, creds coreapi.Credentials) ([]byte, error) {
	return []byte(routerCartBody), nil
}

func (c *cannedCoreClient) AddItem(ctx context.Context, creds coreapi.Credentials, params coreapi.AddItemParams) ([]byte, error) {
	return []byte(routerCartBody), nil
}

func (c *cannedCoreClient) UpdateItem(ctx context.Context, creds coreapi.Credentials, itemID string, params coreapi.UpdateItemParams) ([]byte, error) {
	return []byte(routerCartBody), nil
}

func (c *cannedCoreClient) RemoveItem(ctx context.Context, creds coreapi.Credentials, itemID string) error {
	return nil
}

type memGuestStore struct {
	tokens map[string]string
}

func (s *memGuestStore) StoreGuestTokenNX(ctx context.Context, shopperID, token string, ttl time.Duration) (bool, error) {
	if _, ok := s.tokens[shopperID]; ok {
		return false, nil
	}
	s.tokens[shopperID] = token
	return true, nil
}

func (s *memGuestStore) GetGuestToken(ctx context.Context, shopperID string, ttl time.Duration) (string, error) {
	token, ok := s.tokens[shopperID]
	if !ok {
		return "", pkgredis.Nil
	}
	return token, nil
}

func (s *memGuestStore) ClearGuestToken(ctx context.Context, shopperID string) error {
	delete(s.tokens, shopperID)
	return nil
}

type stubLimiter struct {
	allowed bool
}

func (s *stubLimiter) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	return s.allowed, 1, nil
}

func testRouter(t *testing.T, limiter RateLimiter) http.Handler {
	t.Helper()
	logg := logger.New(logger.Options{
		ServiceName: "routes-test",
		Level:       zerolog.Disabled,
		Output:      io.Discard,
	})

	mgr, err := cartsync.NewManager(cartsync.EngineParams{
		Client: &cannedCoreClient{},
		Logger: logg,
		Config: config.EngineConfig{
			IdentityDebounce:    time.Minute,
			ConfirmRefreshDelay: time.Minute,
		},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(mgr.Close)

	guests, err := identitypkg.NewGuests(&memGuestStore{tokens: map[string]string{}}, time.Hour, logg)
	if err != nil {
		t.Fatalf("NewGuests: %v", err)
	}

	cfg := &config.Config{
		App:       config.AppConfig{Env: "test"},
		JWT:       config.JWTConfig{Secret: "test-secret", Issuer: "cartbridge-test"},
		RateLimit: config.RateLimitConfig{MutationWindow: time.Minute, MutationLimit: 60},
	}

	return NewRouter(Deps{
		Config:   cfg,
		Logger:   logg,
		Engines:  mgr,
		Guests:   guests,
		Limiter:  limiter,
		Registry: prometheus.NewRegistry(),
	})
}

func TestRouterHealthLive(t *testing.T) {
	router := testRouter(t, &stubLimiter{allowed: true})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router := testRouter(t, &stubLimiter{allowed: true})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRouterGuestCartFlow(t *testing.T) {
	router := testRouter(t, &stubLimiter{allowed: true})

	// first contact mints a guest session
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("fetch status = %d, body %s", rec.Code, rec.Body.String())
	}
	token := rec.Header().Get("X-Guest-Token")
	if token == "" {
		t.Fatalf("guest token not minted")
	}
	if !strings.Contains(rec.Body.String(), `"cart-1"`) {
		t.Fatalf("cart not returned: %s", rec.Body.String())
	}

	// the same session adds an item
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(`{"productId":"p-1","quantity":1}`))
	req.Header.Set("X-Guest-Token", token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("add status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestRouterMutationRateLimited(t *testing.T) {
	router := testRouter(t, &stubLimiter{allowed: false})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(`{"productId":"p-1","quantity":1}`))
	req.Header.Set("X-Guest-Token", "tok-known")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
}

func TestRouterReadsNotRateLimited(t *testing.T) {
	router := testRouter(t, &stubLimiter{allowed: false})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("reads must bypass the mutation limiter, status = %d", rec.Code)
	}
}
