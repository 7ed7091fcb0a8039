package identity

import (
	"context"
	"time"
)

// Identity is a signed-in player.
type Identity struct {
	PlayerID string
	// Token is the bearer token presented to the directory and host.
	Token     string
	ExpiresAt time.Time
}

// expiresSoon reports whether the token should be renewed before use.
func (i *Identity) expiresSoon(now time.Time) bool {
	if i.ExpiresAt.IsZero() {
		return false
	}
	return now.Add(refreshMargin).After(i.ExpiresAt)
}

const refreshMargin = time.Minute

// Provider signs a player in. SignIn is idempotent: repeated calls return the
// same player, renewing the token when it is close to expiry.
type Provider interface {
	SignIn(ctx context.Context) (*Identity, error)
}
