package identity

import (
	"context"
	"testing"
	"time"

	"github.com/cbodonnell/lobbysync/pkg/auth/providers"
	"github.com/cbodonnell/lobbysync/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalProviderIssuesVerifiableToken(t *testing.T) {
	issuer, err := providers.NewJWTAuthProvider(providers.NewJWTAuthProviderOptions{
		Secret: "secret",
		Issuer: "lobbysync",
		TTL:    time.Hour,
	})
	require.NoError(t, err)

	p := NewLocalProvider(NewLocalProviderOptions{Issuer: issuer, PlayerID: "player-1"})
	id, err := p.SignIn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "player-1", id.PlayerID)

	claims, err := issuer.VerifyToken(context.Background(), id.Token)
	require.NoError(t, err)
	assert.Equal(t, "player-1", claims.UID)

	again, err := p.SignIn(context.Background())
	require.NoError(t, err)
	assert.Same(t, id, again)
}

func TestLocalProviderGeneratesPlayerID(t *testing.T) {
	issuer, err := providers.NewJWTAuthProvider(providers.NewJWTAuthProviderOptions{Secret: "secret"})
	require.NoError(t, err)

	a := NewLocalProvider(NewLocalProviderOptions{Issuer: issuer})
	b := NewLocalProvider(NewLocalProviderOptions{Issuer: issuer})

	idA, err := a.SignIn(context.Background())
	require.NoError(t, err)
	idB, err := b.SignIn(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, idA.PlayerID)
	assert.NotEqual(t, idA.PlayerID, idB.PlayerID)
}

func TestNewFromConfig(t *testing.T) {
	p, err := NewFromConfig(config.AuthConfig{
		JWTSecret: "secret",
		JWTIssuer: "lobbysync",
		TokenTTL:  time.Hour,
		PlayerID:  "player-7",
	})
	require.NoError(t, err)
	require.IsType(t, &LocalProvider{}, p)

	id, err := p.SignIn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "player-7", id.PlayerID)

	p, err = NewFromConfig(config.AuthConfig{FirebaseAPIKey: "key"})
	require.NoError(t, err)
	assert.IsType(t, &FirebaseProvider{}, p)

	_, err = NewFromConfig(config.AuthConfig{})
	assert.Error(t, err)
}
