package middleware

import (
	"context"

	"github.com/angelmondragon/cartbridge/internal/identity"
)

type contextKey string

const ctxIdentity contextKey = "identity"

// IdentityFromContext returns the resolved cart owner, or false when the
// identity middleware did not run.
func IdentityFromContext(ctx context.Context) (identity.Identity, bool) {
	if ctx == nil {
		return identity.Identity{}, false
	}
	id, ok := ctx.Value(ctxIdentity).(identity.Identity)
	return id, ok
}

// WithIdentity injects the resolved identity into the context.
func WithIdentity(ctx context.Context, id identity.Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxIdentity, id)
}
