package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var _ AuthProvider = &JWTAuthProvider{}

// JWTAuthProvider issues and verifies HS256 tokens signed with a shared secret.
// It backs local play without a Firebase project.
type JWTAuthProvider struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

type NewJWTAuthProviderOptions struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

func NewJWTAuthProvider(opts NewJWTAuthProviderOptions) (*JWTAuthProvider, error) {
	if opts.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &JWTAuthProvider{
		secret: []byte(opts.Secret),
		issuer: opts.Issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// IssueToken returns a signed token whose subject is uid.
func (p *JWTAuthProvider) IssueToken(uid string) (string, time.Time, error) {
	now := p.now()
	expiresAt := now.Add(p.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   uid,
		Issuer:    p.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %v", err)
	}
	return signed, expiresAt, nil
}

func (p *JWTAuthProvider) VerifyToken(_ context.Context, idToken string) (*TokenClaims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	}
	if p.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(p.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(idToken, claims, func(t *jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return &TokenClaims{
		UID: claims.Subject,
	}, nil
}
