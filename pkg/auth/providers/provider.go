package providers

import (
	"context"
	"errors"
)

// AuthProvider verifies bearer tokens presented by players.
type AuthProvider interface {
	VerifyToken(ctx context.Context, idToken string) (*TokenClaims, error)
}

// TokenClaims are the claims the lobby relies on.
type TokenClaims struct {
	// UID is the stable player id.
	UID string `json:"uid"`
}

// ErrInvalidToken is wrapped by VerifyToken when a token is malformed,
// expired or signed by someone else.
var ErrInvalidToken = errors.New("invalid token")

func IsInvalidToken(err error) bool {
	return errors.Is(err, ErrInvalidToken)
}
