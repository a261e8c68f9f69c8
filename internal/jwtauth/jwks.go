package jwtauth

import (
	"context"
	"errors"
	"fmt"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ggoodman/tenantauth/tokens"
)

type jwksAuthenticator struct {
	cfg     *Config
	algs    []string
	keyfunc jwt.Keyfunc
}

// NewFromJWKS builds an authenticator that verifies tokens against a remote
// JWKS document. Keys auto-refresh in the background. Only asymmetric
// algorithms are accepted on this path: a JWKS never carries HMAC secrets.
func NewFromJWKS(ctx context.Context, cfg *Config, jwksURI string) (*jwksAuthenticator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("audience is required")
	}
	if jwksURI == "" {
		return nil, errors.New("jwks uri is required")
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	algs := []string{"RS256", "RS384", "RS512"}
	return &jwksAuthenticator{
		cfg:  cfg,
		algs: algs,
		keyfunc: func(t *jwt.Token) (any, error) {
			return kf.Keyfunc(t)
		},
	}, nil
}

func (a *jwksAuthenticator) CheckAuthentication(ctx context.Context, tok string) (*tokens.Claims, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	// Expiry is deferred to checkPolicy with the configured clock and
	// leeway, matching the storage-backed path.
	parser := jwt.NewParser(
		jwt.WithValidMethods(a.algs),
		jwt.WithoutClaimsValidation(),
	)
	parsed, err := parser.Parse(tok, a.keyfunc)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: token verification failed", ErrUnauthorized)
	}

	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: token verification failed", ErrUnauthorized)
	}
	claims := tokens.FromMap(mc)
	if claims == nil {
		return nil, fmt.Errorf("%w: token verification failed", ErrUnauthorized)
	}
	return checkPolicy(a.cfg, claims)
}

var _ Authenticator = (*storeAuthenticator)(nil)
var _ Authenticator = (*jwksAuthenticator)(nil)
