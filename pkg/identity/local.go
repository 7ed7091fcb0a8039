package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cbodonnell/lobbysync/pkg/auth/providers"
	"github.com/google/uuid"
)

var _ Provider = &LocalProvider{}

// LocalProvider issues tokens with a shared-secret JWT provider, for
// deployments without a Firebase project.
type LocalProvider struct {
	issuer   *providers.JWTAuthProvider
	playerID string
	now      func() time.Time

	lock     sync.Mutex
	identity *Identity
}

type NewLocalProviderOptions struct {
	Issuer *providers.JWTAuthProvider
	// PlayerID is generated when empty.
	PlayerID string
}

func NewLocalProvider(opts NewLocalProviderOptions) *LocalProvider {
	playerID := opts.PlayerID
	if playerID == "" {
		playerID = uuid.NewString()
	}
	return &LocalProvider{
		issuer:   opts.Issuer,
		playerID: playerID,
		now:      time.Now,
	}
}

func (p *LocalProvider) SignIn(_ context.Context) (*Identity, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.identity != nil && !p.identity.expiresSoon(p.now()) {
		return p.identity, nil
	}

	token, expiresAt, err := p.issuer.IssueToken(p.playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %v", err)
	}
	p.identity = &Identity{
		PlayerID:  p.playerID,
		Token:     token,
		ExpiresAt: expiresAt,
	}
	return p.identity, nil
}
