package identity

import "github.com/angelmondragon/cartbridge/pkg/coreapi"

type Kind string

const (
	KindUser  Kind = "user"
	KindGuest Kind = "guest"
)

// Identity is the resolved cart owner for a request: either an
// authenticated user carrying a bearer token, or an anonymous shopper
// carrying a guest session token.
type Identity struct {
	Kind        Kind
	UserID      string
	BearerToken string
	GuestToken  string
}

// OwnerKey returns the stable key engines are bound to. User carts key on
// the user id so token rotation does not orphan the engine.
func (id Identity) OwnerKey() string {
	if id.Kind == KindUser {
		return "user:" + id.UserID
	}
	return "guest:" + id.GuestToken
}

// Credentials translates the identity into upstream call credentials.
func (id Identity) Credentials() coreapi.Credentials {
	if id.Kind == KindUser {
		return coreapi.Credentials{BearerToken: id.BearerToken}
	}
	return coreapi.Credentials{GuestToken: id.GuestToken}
}
