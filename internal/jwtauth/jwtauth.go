// Package jwtauth validates bearer access tokens for one population. Two
// authenticators share a contract: the storage-backed one verifies against
// the population's own signing keys and serves the common case; the JWKS
// one fetches public keys over HTTP for deployments that validate tokens
// minted by a separate issuer process.
package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ggoodman/tenantauth/storage"
	"github.com/ggoodman/tenantauth/tokens"
)

// ErrUnauthorized indicates the token failed validation: signature, issuer,
// audience or expiry. Callers respond 401 and never surface which check
// failed.
var ErrUnauthorized = errors.New("jwtauth: unauthorized")

// ErrInsufficientScope indicates a valid token that does not satisfy the
// scope policy; callers respond 403 where relevant.
var ErrInsufficientScope = errors.New("jwtauth: insufficient_scope")

// Config carries the validation policy for one population's tokens.
type Config struct {
	Issuer   string
	Audience string

	// RequiredScopes gates access beyond authentication. With ScopeModeAny
	// one match suffices; otherwise all are required.
	RequiredScopes []string
	ScopeModeAny   bool

	Leeway time.Duration
	Now    func() time.Time
}

func (c *Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Authenticator validates a compact access token and returns its claims.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (*tokens.Claims, error)
}

type storeAuthenticator struct {
	cfg  *Config
	keys storage.SigningKeyStore
}

// NewFromStore builds an authenticator over the population's own signing
// keys. The token's unverified issuer claim names the key; an issuer with
// no dedicated key record verifies against the default key.
func NewFromStore(cfg *Config, keys storage.SigningKeyStore) (*storeAuthenticator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("audience is required")
	}
	if keys == nil {
		return nil, errors.New("signing key store is required")
	}
	return &storeAuthenticator{cfg: cfg, keys: keys}, nil
}

func (a *storeAuthenticator) CheckAuthentication(ctx context.Context, tok string) (*tokens.Claims, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	// The issuer is read unverified only to pick key material; the claim
	// is trusted solely after the signature check below succeeds.
	iss, ok := tokens.PeekIssuer(tok)
	if !ok {
		return nil, fmt.Errorf("%w: token verification failed", ErrUnauthorized)
	}
	key, err := a.keys.ByID(ctx, iss)
	if errors.Is(err, storage.ErrNotFound) {
		key, err = a.keys.Default(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("signing key lookup: %w", err)
	}
	alg, err := tokens.ParseAlgorithm(key.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("signing key %q: %w", key.ID, err)
	}

	claims := tokens.Decode(tok, tokens.Key{
		ID:        key.ID,
		Algorithm: alg,
		Public:    key.Public,
		Private:   key.Private,
	})
	if claims == nil {
		return nil, fmt.Errorf("%w: token verification failed", ErrUnauthorized)
	}
	return checkPolicy(a.cfg, claims)
}

// checkPolicy applies the issuer, audience, expiry and scope policy to
// signature-verified claims.
func checkPolicy(cfg *Config, claims *tokens.Claims) (*tokens.Claims, error) {
	if claims.Issuer != cfg.Issuer {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrUnauthorized)
	}
	if claims.Audience != cfg.Audience {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}
	if claims.ExpiredAt(cfg.now().Add(-cfg.Leeway)) {
		return nil, fmt.Errorf("%w: token expired", ErrUnauthorized)
	}

	if len(cfg.RequiredScopes) > 0 {
		if cfg.ScopeModeAny {
			ok := false
			for _, want := range cfg.RequiredScopes {
				if claims.HasScope(want) {
					ok = true
					break
				}
			}
			if !ok {
				return nil, fmt.Errorf("%w: need one of %s", ErrInsufficientScope, strings.Join(cfg.RequiredScopes, " "))
			}
		} else {
			for _, want := range cfg.RequiredScopes {
				if !claims.HasScope(want) {
					return nil, fmt.Errorf("%w: missing %s", ErrInsufficientScope, want)
				}
			}
		}
	}
	return claims, nil
}
