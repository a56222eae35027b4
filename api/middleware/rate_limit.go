package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/cartbridge/api/responses"
	pkgerrors "github.com/angelmondragon/cartbridge/pkg/errors"
	"github.com/angelmondragon/cartbridge/pkg/logger"
)

type rateLimiterStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// MutationRateLimit throttles cart mutations per owner with a redis fixed
// window. Reads are never throttled; a shopper hammering add-to-cart is.
func MutationRateLimit(store rateLimiterStore, limit int, window time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil || limit <= 0 || window <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			id, ok := IdentityFromContext(ctx)
			if !ok {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "identity missing from request context"))
				return
			}

			allowed, count, err := store.FixedWindowAllow(ctx, "cart_mutation:"+id.OwnerKey(), int64(limit), window)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
				return
			}
			if !allowed {
				if logg != nil {
					fields := map[string]any{
						"owner":          id.OwnerKey(),
						"attempts":       count,
						"limit":          limit,
						"window_seconds": int(window.Seconds()),
					}
					logg.Warn(logg.WithFields(ctx, fields), "cart.rate_limit.blocked")
				}
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many cart mutations"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
