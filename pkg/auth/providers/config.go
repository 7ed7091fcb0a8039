package providers

import (
	"context"

	"github.com/cbodonnell/lobbysync/pkg/config"
)

// NewFromConfig returns a Firebase provider when a project id is
// configured and a shared-secret JWT provider otherwise.
func NewFromConfig(ctx context.Context, cfg config.AuthConfig) (AuthProvider, error) {
	if cfg.FirebaseProjectID != "" {
		p, err := NewFirebaseAuthProvider(ctx, NewFirebaseAuthProviderOptions{
			ProjectID:       cfg.FirebaseProjectID,
			APIKey:          cfg.FirebaseAPIKey,
			CredentialsFile: cfg.FirebaseCredentialsFile,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	p, err := NewJWTAuthProvider(NewJWTAuthProviderOptions{
		Secret: cfg.JWTSecret,
		Issuer: cfg.JWTIssuer,
		TTL:    cfg.TokenTTL,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
