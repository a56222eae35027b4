package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/cartbridge/pkg/errors"
	"github.com/angelmondragon/cartbridge/pkg/logger"
	pkgredis "github.com/angelmondragon/cartbridge/pkg/redis"
	"github.com/google/uuid"
)

// GuestStore is the slice of the redis surface the guest session manager
// depends on.
type GuestStore interface {
	StoreGuestTokenNX(ctx context.Context, shopperID, token string, ttl time.Duration) (bool, error)
	GetGuestToken(ctx context.Context, shopperID string, ttl time.Duration) (string, error)
	ClearGuestToken(ctx context.Context, shopperID string) error
}

// Guests manages anonymous cart sessions. A guest token is minted once and
// reused for the life of the session; every access slides its TTL forward.
type Guests struct {
	store GuestStore
	ttl   time.Duration
	logg  *logger.Logger
}

func NewGuests(store GuestStore, ttl time.Duration, logg *logger.Logger) (*Guests, error) {
	if store == nil {
		return nil, fmt.Errorf("guest store required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("guest token ttl must be positive")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Guests{store: store, ttl: ttl, logg: logg}, nil
}

// Resolve returns the guest token to use for this request and whether it
// was freshly minted. A presented token is refreshed and reused; unknown
// tokens are registered rather than rejected so a session outliving its
// redis entry keeps its upstream cart.
func (g *Guests) Resolve(ctx context.Context, presented string) (string, bool, error) {
	presented = strings.TrimSpace(presented)
	if presented != "" {
		_, err := g.store.GetGuestToken(ctx, presented, g.ttl)
		if err == nil {
			return presented, false, nil
		}
		if !errors.Is(err, pkgredis.Nil) {
			return "", false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "guest session lookup failed")
		}
		if _, err := g.store.StoreGuestTokenNX(ctx, presented, presented, g.ttl); err != nil {
			return "", false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "guest session register failed")
		}
		g.logg.Info(g.logg.WithGuestToken(ctx, presented), "re-registered expired guest session")
		return presented, false, nil
	}

	token := uuid.NewString()
	if _, err := g.store.StoreGuestTokenNX(ctx, token, token, g.ttl); err != nil {
		return "", false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "guest session create failed")
	}
	return token, true, nil
}

// Clear drops the guest session, e.g. after its cart merges into a user
// cart at login.
func (g *Guests) Clear(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	if err := g.store.ClearGuestToken(ctx, token); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "guest session clear failed")
	}
	return nil
}
