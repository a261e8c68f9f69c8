// Package storage defines the persistence contracts the token service
// consumes. The core never owns these entities: users, clients, signing
// keys and refresh tokens are managed by the embedding application, the
// engine only borrows them for the duration of one request.
//
// Implementations must return ErrNotFound for absent records rather than
// nil values, and must honor the atomicity notes on RefreshTokenStore and
// AuthorizationCodeStore: both are the only cross-request shared mutable
// state in the system and both gate single-use semantics.
package storage

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"
)

// ErrNotFound reports an absent record. Stores also return it for records
// that must be indistinguishable from absent ones (revoked refresh tokens,
// consumed authorization codes).
var ErrNotFound = errors.New("storage: not found")

// User is a resource owner. Identifier is the human-facing login handle
// (typically an email address); ID is the stable subject used in tokens.
type User struct {
	ID         string
	Identifier string

	// RestrictedScopes, when non-nil, caps the scopes any token issued to
	// this user may carry. nil means unrestricted.
	RestrictedScopes []string
}

// Client is a registered OAuth2 client. A client with Public set presents
// no secret; a confidential client must present a matching one.
type Client struct {
	ID            string
	Secret        string
	Public        bool
	RedirectURIs  []string
	AllowedGrants []string
}

// AllowsGrant reports whether the client is registered for grant.
func (c *Client) AllowsGrant(grant string) bool {
	for _, g := range c.AllowedGrants {
		if g == grant {
			return true
		}
	}
	return false
}

// ValidateSecret compares the presented secret in constant time. Public
// clients never match: they have nothing to present.
func (c *Client) ValidateSecret(secret string) bool {
	if c.Public || c.Secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Secret), []byte(secret)) == 1
}

// HasRedirectURI reports whether uri is registered for the client.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// SigningKey is the cypher material for one issuer. The ID doubles as the
// JWT issuer string. The core reads keys, it never writes them.
type SigningKey struct {
	ID        string
	Algorithm string
	Public    []byte
	Private   []byte
}

// RefreshToken is a stateful, revocable credential. Tokens are soft-revoked
// only; stores never physically delete them on behalf of the core.
type RefreshToken struct {
	Token     string
	UserID    string
	ClientID  string
	Scope     string // space-delimited
	ExpiresAt time.Time
	Revoked   bool
}

// Scopes splits the space-delimited scope string.
func (t *RefreshToken) Scopes() []string {
	return strings.Fields(t.Scope)
}

// AuthorizationCode is a single-use credential minted after user consent
// and exchanged at the token endpoint.
type AuthorizationCode struct {
	Code        string
	ClientID    string
	UserID      string
	RedirectURI string
	Scope       string
	ExpiresAt   time.Time
	Used        bool
}

// UserStore looks up resource owners.
type UserStore interface {
	ByID(ctx context.Context, id string) (*User, error)
	ByIdentifier(ctx context.Context, identifier string) (*User, error)

	// VerifyCredentials authenticates identifier+password and returns the
	// matching user. The password comparison (hashing scheme, timing) is
	// the store's responsibility; the core only observes ErrNotFound for
	// any credential failure.
	VerifyCredentials(ctx context.Context, identifier, password string) (*User, error)
}

// ClientStore looks up registered clients.
type ClientStore interface {
	ByID(ctx context.Context, id string) (*Client, error)
}

// SigningKeyStore resolves signing keys. ByID addresses a key by issuer
// string; Default returns the tenant's active key, used both for signing
// and as the fallback when a presented token carries an unknown issuer.
type SigningKeyStore interface {
	ByID(ctx context.Context, id string) (*SigningKey, error)
	Default(ctx context.Context) (*SigningKey, error)
	// All lists every active key, for JWKS publication.
	All(ctx context.Context) ([]*SigningKey, error)
}

// RefreshTokenStore persists refresh tokens.
//
// Revoke must be an atomic check-and-set on the revoked flag: it returns
// ErrNotFound when the token is absent OR already revoked. That property is
// what makes concurrent rotation safe - when two requests race on the same
// token, exactly one Revoke succeeds and the loser's grant fails.
type RefreshTokenStore interface {
	// ByToken returns ErrNotFound for absent AND revoked tokens; a revoked
	// token must be indistinguishable from a nonexistent one.
	ByToken(ctx context.Context, token string) (*RefreshToken, error)
	Create(ctx context.Context, t *RefreshToken) error
	Revoke(ctx context.Context, token string) error
}

// AuthorizationCodeStore persists single-use authorization codes. Consume
// atomically marks the code used and returns it; a second Consume of the
// same code returns ErrNotFound.
type AuthorizationCodeStore interface {
	Create(ctx context.Context, c *AuthorizationCode) error
	Consume(ctx context.Context, code string) (*AuthorizationCode, error)
}

// ScopeProvider exposes the tenant's scope catalogue and per-client policy.
type ScopeProvider interface {
	AvailableScopes(ctx context.Context) ([]string, error)
	ScopeExists(ctx context.Context, scope string) (bool, error)
	ScopesForClient(ctx context.Context, clientID string) ([]string, error)
	DefaultScopesForClient(ctx context.Context, clientID string) ([]string, error)
}

// Bundle groups the stores one population is bound to. Every field is
// identity-critical: a population with an incomplete bundle fails fast at
// server construction, never at request time.
type Bundle struct {
	Users         UserStore
	Clients       ClientStore
	Keys          SigningKeyStore
	RefreshTokens RefreshTokenStore
	Codes         AuthorizationCodeStore
	Scopes        ScopeProvider
}

// Validate reports the first missing store.
func (b Bundle) Validate() error {
	switch {
	case b.Users == nil:
		return errors.New("storage: bundle missing user store")
	case b.Clients == nil:
		return errors.New("storage: bundle missing client store")
	case b.Keys == nil:
		return errors.New("storage: bundle missing signing key store")
	case b.RefreshTokens == nil:
		return errors.New("storage: bundle missing refresh token store")
	case b.Codes == nil:
		return errors.New("storage: bundle missing authorization code store")
	case b.Scopes == nil:
		return errors.New("storage: bundle missing scope provider")
	}
	return nil
}
