package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/cartbridge/api/responses"
	identitypkg "github.com/angelmondragon/cartbridge/internal/identity"
	"github.com/angelmondragon/cartbridge/pkg/config"
	pkgerrors "github.com/angelmondragon/cartbridge/pkg/errors"
	"github.com/angelmondragon/cartbridge/pkg/logger"
)

const guestTokenHeader = "X-Guest-Token"

// Identity resolves the cart owner for every request. A bearer token wins;
// presenting both a bearer and a guest token is ambiguous and rejected. A
// request with neither gets a fresh guest session, returned to the client
// in the response header.
func Identity(cfg config.JWTConfig, guests *identitypkg.Guests, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			bearer := bearerToken(r)
			guestToken := strings.TrimSpace(r.Header.Get(guestTokenHeader))

			if bearer != "" && guestToken != "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "provide either a bearer token or a guest token, not both"))
				return
			}

			if bearer != "" {
				claims, err := identitypkg.ParseAccessToken(cfg, bearer)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
					return
				}
				id := identitypkg.Identity{
					Kind:        identitypkg.KindUser,
					UserID:      claims.UserID,
					BearerToken: bearer,
				}
				ctx = WithIdentity(ctx, id)
				if logg != nil {
					ctx = logg.WithUserID(ctx, claims.UserID)
				}
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			token, minted, err := guests.Resolve(ctx, guestToken)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			if minted {
				w.Header().Set(guestTokenHeader, token)
			}
			id := identitypkg.Identity{
				Kind:       identitypkg.KindGuest,
				GuestToken: token,
			}
			ctx = WithIdentity(ctx, id)
			if logg != nil {
				ctx = logg.WithGuestToken(ctx, token)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(raw), "bearer ") {
		return strings.TrimSpace(raw[7:])
	}
	return raw
}
