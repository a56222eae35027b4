package controllers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/angelmondragon/cartbridge/api/middleware"
	"github.com/angelmondragon/cartbridge/internal/cartsync"
	identitypkg "github.com/angelmondragon/cartbridge/internal/identity"
	pkgconfig "github.com/angelmondragon/cartbridge/pkg/config"
	"github.com/angelmondragon/cartbridge/pkg/coreapi"
	pkgerrors "github.com/angelmondragon/cartbridge/pkg/errors"
	"github.com/angelmondragon/cartbridge/pkg/logger"
)

const cartBody = `{"data":{"id":"cart-1","items":[{"id":"li-1","productId":"p-1","quantity":2,"unitPrice":"9.99","product":{"id":"p-1","name":"Tea"}}]}}`

type cannedCoreClient struct {
	fetchResp []byte
	fetchErr  error
	addResp   []byte
	addErr    error
	update    []byte
	updateErr error
	removeErr error
}

func (c *cannedCoreClient) FetchCart(ctx context.Context, creds coreapi.Credentials) ([]byte, error) {
	return c.fetchResp, c.fetchErr
}

func (c *cannedCoreClient) AddItem(ctx context.Context, creds coreapi.Credentials, params coreapi.AddItemParams) ([]byte, error) {
	return c.addResp, c.addErr
}

func (c *cannedCoreClient) UpdateItem(ctx context.Context, creds coreapi.Credentials, itemID string, params coreapi.UpdateItemParams) ([]byte, error) {
	return c.update, c.updateErr
}

func (c *cannedCoreClient) RemoveItem(ctx context.Context, creds coreapi.Credentials, itemID string) error {
	return c.removeErr
}

type singleEngine struct {
	eng *cartsync.Engine
}

func (s *singleEngine) EngineFor(ownerKey string, creds coreapi.Credentials) (*cartsync.Engine, error) {
	return s.eng, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{
		ServiceName: "controllers-test",
		Level:       zerolog.Disabled,
		Output:      io.Discard,
	})
}

func testEngines(t *testing.T, client *cannedCoreClient) CartEngines {
	t.Helper()
	eng, err := cartsync.NewEngine(cartsync.EngineParams{
		Client: client,
		Logger: testLogger(),
		Config: pkgconfig.EngineConfig{ConfirmRefreshDelay: time.Minute},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(eng.Close)
	return &singleEngine{eng: eng}
}

func guestCtx(req *http.Request) *http.Request {
	id := identitypkg.Identity{Kind: identitypkg.KindGuest, GuestToken: "tok-1"}
	return req.WithContext(middleware.WithIdentity(req.Context(), id))
}

func withItemID(req *http.Request, itemID string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("itemID", itemID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestCartFetch(t *testing.T) {
	handler := CartFetch(testEngines(t, &cannedCoreClient{fetchResp: []byte(cartBody)}), testLogger())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, guestCtx(httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"cart-1"`) {
		t.Fatalf("cart missing from response: %s", body)
	}
	// both item list aliases ship in the projection
	if !strings.Contains(body, `"items"`) || !strings.Contains(body, `"cart_items"`) {
		t.Fatalf("item list aliases missing: %s", body)
	}
}

func TestCartFetchRequiresIdentity(t *testing.T) {
	handler := CartFetch(testEngines(t, &cannedCoreClient{fetchResp: []byte(cartBody)}), testLogger())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestCartAddItem(t *testing.T) {
	handler := CartAddItem(testEngines(t, &cannedCoreClient{addResp: []byte(cartBody)}), testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(`{"productId":"p-1","quantity":2}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, guestCtx(req))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"cart-1"`) {
		t.Fatalf("updated cart missing: %s", rec.Body.String())
	}
}

func TestCartAddItemValidation(t *testing.T) {
	handler := CartAddItem(testEngines(t, &cannedCoreClient{addResp: []byte(cartBody)}), testLogger())

	for name, body := range map[string]string{
		"missing product": `{"quantity":1}`,
		"zero quantity":   `{"productId":"p-1","quantity":0}`,
		"unknown field":   `{"productId":"p-1","quantity":1,"color":"red"}`,
		"not json":        `product=p-1`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, guestCtx(req))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", name, rec.Code)
		}
	}
}

func TestCartUpdateItem(t *testing.T) {
	handler := CartUpdateItem(testEngines(t, &cannedCoreClient{update: []byte(cartBody)}), testLogger())

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/cart/items/li-1", strings.NewReader(`{"quantity":2}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, withItemID(guestCtx(req), "li-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestCartRemoveItem(t *testing.T) {
	handler := CartRemoveItem(testEngines(t, &cannedCoreClient{fetchResp: []byte(cartBody)}), testLogger())

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/cart/items/li-1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, withItemID(guestCtx(req), "li-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestCartRemoveItemMissingID(t *testing.T) {
	handler := CartRemoveItem(testEngines(t, &cannedCoreClient{}), testLogger())

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/cart/items/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, withItemID(guestCtx(req), ""))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCartRefresh(t *testing.T) {
	handler := CartRefresh(testEngines(t, &cannedCoreClient{fetchResp: []byte(cartBody)}), testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/refresh", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, guestCtx(req))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestCartFetchFailedFirstLoadSurfacesError(t *testing.T) {
	client := &cannedCoreClient{fetchErr: pkgerrors.New(pkgerrors.CodeDependency, "core api down")}
	handler := CartFetch(testEngines(t, client), testLogger())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, guestCtx(httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("failed first load must error, status = %d body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"error"`) {
		t.Fatalf("error envelope missing: %s", rec.Body.String())
	}
}

func TestCartRefreshFailureServesPreservedProjection(t *testing.T) {
	client := &cannedCoreClient{fetchResp: []byte(cartBody)}
	eng, err := cartsync.NewEngine(cartsync.EngineParams{
		Client: client,
		Logger: testLogger(),
		Config: pkgconfig.EngineConfig{
			MinRefreshInterval:  time.Millisecond,
			ConfirmRefreshDelay: time.Minute,
		},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(eng.Close)

	if _, err := eng.EnsureLoaded(context.Background()); err != nil {
		t.Fatalf("initial load: %v", err)
	}

	client.fetchResp = nil
	client.fetchErr = pkgerrors.New(pkgerrors.CodeDependency, "core api down")
	time.Sleep(5 * time.Millisecond)

	handler := CartRefresh(&singleEngine{eng: eng}, testLogger())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, guestCtx(httptest.NewRequest(http.MethodPost, "/api/v1/cart/refresh", nil)))

	if rec.Code != http.StatusOK {
		t.Fatalf("refresh failure with a live projection must not error, status = %d body %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"cart-1"`) {
		t.Fatalf("preserved projection missing: %s", body)
	}
	if !strings.Contains(body, `"stale":true`) {
		t.Fatalf("stale flag missing: %s", body)
	}
}

func TestCartRefreshFailureWithoutProjectionErrors(t *testing.T) {
	client := &cannedCoreClient{fetchErr: pkgerrors.New(pkgerrors.CodeDependency, "core api down")}
	handler := CartRefresh(testEngines(t, client), testLogger())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, guestCtx(httptest.NewRequest(http.MethodPost, "/api/v1/cart/refresh", nil)))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("refresh failure with no projection must error, status = %d body %s", rec.Code, rec.Body.String())
	}
}
