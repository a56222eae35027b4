package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	identitypkg "github.com/angelmondragon/cartbridge/internal/identity"
	"github.com/angelmondragon/cartbridge/pkg/config"
	"github.com/angelmondragon/cartbridge/pkg/logger"
	pkgredis "github.com/angelmondragon/cartbridge/pkg/redis"
	"github.com/rs/zerolog"
)

var testJWT = config.JWTConfig{Secret: "test-secret", Issuer: "cartbridge-test"}

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

func testLogger() *logger.Logger {
	return logger.New(logger.Options{
		ServiceName: "middleware-test",
		Level:       zerolog.Disabled,
		Output:      io.Discard,
	})
}

func testGuests(t *testing.T) *identitypkg.Guests {
	t.Helper()
	guests, err := identitypkg.NewGuests(&memGuestStore{tokens: map[string]string{}}, time.Hour, testLogger())
	if err != nil {
		t.Fatalf("NewGuests: %v", err)
	}
	return guests
}

func identityProbe(captured *identitypkg.Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			http.Error(w, "no identity", http.StatusInternalServerError)
			return
		}
		*captured = id
		w.WriteHeader(http.StatusOK)
	})
}

func TestIdentityBearerToken(t *testing.T) {
	signed, err := identitypkg.MintAccessToken(testJWT, time.Now(), "user-1", time.Hour)
	if err != nil {
		t.Fatalf("MintAccessToken: %v", err)
	}

	var captured identitypkg.Identity
	handler := Identity(testJWT, testGuests(t), testLogger())(identityProbe(&captured))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if captured.Kind != identitypkg.KindUser || captured.UserID != "user-1" {
		t.Fatalf("identity = %+v, want user-1", captured)
	}
	if captured.BearerToken != signed {
		t.Fatalf("bearer token not carried through")
	}
}

func TestIdentityRejectsBothCredentials(t *testing.T) {
	signed, err := identitypkg.MintAccessToken(testJWT, time.Now(), "user-1", time.Hour)
	if err != nil {
		t.Fatalf("MintAccessToken: %v", err)
	}

	var captured identitypkg.Identity
	handler := Identity(testJWT, testGuests(t), testLogger())(identityProbe(&captured))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	req.Header.Set("X-Guest-Token", "tok-guest")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestIdentityRejectsInvalidBearer(t *testing.T) {
	var captured identitypkg.Identity
	handler := Identity(testJWT, testGuests(t), testLogger())(identityProbe(&captured))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestIdentityMintsGuestSession(t *testing.T) {
	var captured identitypkg.Identity
	handler := Identity(testJWT, testGuests(t), testLogger())(identityProbe(&captured))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	minted := rec.Header().Get("X-Guest-Token")
	if minted == "" {
		t.Fatalf("minted guest token not exposed to the client")
	}
	if captured.Kind != identitypkg.KindGuest || captured.GuestToken != minted {
		t.Fatalf("identity = %+v, want guest %q", captured, minted)
	}
}

func TestIdentityReusesPresentedGuestToken(t *testing.T) {
	guests := testGuests(t)
	var captured identitypkg.Identity
	handler := Identity(testJWT, guests, testLogger())(identityProbe(&captured))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("X-Guest-Token", "tok-existing")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if captured.GuestToken != "tok-existing" {
		t.Fatalf("guest token = %q, want tok-existing", captured.GuestToken)
	}
	if rec.Header().Get("X-Guest-Token") != "" {
		t.Fatalf("reused token should not be re-announced")
	}
}
