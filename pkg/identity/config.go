package identity

import (
	"github.com/cbodonnell/lobbysync/pkg/auth/providers"
	"github.com/cbodonnell/lobbysync/pkg/config"
)

// NewFromConfig signs in anonymously with Firebase when an API key is
// configured and issues local JWTs otherwise.
func NewFromConfig(cfg config.AuthConfig) (Provider, error) {
	if cfg.FirebaseAPIKey != "" {
		return NewFirebaseProvider(NewFirebaseProviderOptions{APIKey: cfg.FirebaseAPIKey}), nil
	}
	issuer, err := providers.NewJWTAuthProvider(providers.NewJWTAuthProviderOptions{
		Secret: cfg.JWTSecret,
		Issuer: cfg.JWTIssuer,
		TTL:    cfg.TokenTTL,
	})
	if err != nil {
		return nil, err
	}
	return NewLocalProvider(NewLocalProviderOptions{
		Issuer:   issuer,
		PlayerID: cfg.PlayerID,
	}), nil
}
