// Package grants implements the token-endpoint state machine: client
// authentication, grant-specific validation, scope policy and the
// issuance of access/refresh token pairs for one population.
//
// An Engine is request-scoped and stateless between requests. Every
// request re-reads the signing key and policy from storage; horizontal
// scaling needs no coordination beyond the storage backend itself.
package grants

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ggoodman/tenantauth/population"
	"github.com/ggoodman/tenantauth/storage"
	"github.com/ggoodman/tenantauth/tokens"
)

// Engine processes token requests for one population.
type Engine struct {
	Pop   *population.Population
	Store storage.Bundle
	Log   *slog.Logger
	Now   func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// TokenRequest carries the parsed parameters of one token-endpoint call.
// Which fields matter depends on GrantType.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	Scope        string

	// password grant
	Username string
	Password string

	// authorization_code grant
	Code        string
	RedirectURI string

	// refresh_token grant
	RefreshToken string
}

// TokenResponse is the success body of the token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Token runs the request through the grant state machine. The population's
// enabled-grant set is checked before any grant-specific validation: a
// grant the tenant has not enabled is rejected even when the engine could
// process it.
func (e *Engine) Token(ctx context.Context, req *TokenRequest) (*TokenResponse, *Failure) {
	if req.GrantType == "" {
		return nil, invalidRequest("missing grant_type parameter")
	}
	grant := population.Grant(req.GrantType)
	if !grant.Valid() || !e.Pop.AllowsGrant(grant) {
		e.Log.Info("grant.unsupported", slog.String("grant_type", req.GrantType))
		return nil, unsupportedGrantType(req.GrantType)
	}

	switch grant {
	case population.GrantPassword:
		return e.passwordGrant(ctx, req)
	case population.GrantClientCredentials:
		return e.clientCredentialsGrant(ctx, req)
	case population.GrantAuthorizationCode:
		return e.authorizationCodeGrant(ctx, req)
	case population.GrantRefreshToken:
		return e.refreshTokenGrant(ctx, req)
	}
	return nil, unsupportedGrantType(req.GrantType)
}

func (e *Engine) passwordGrant(ctx context.Context, req *TokenRequest) (*TokenResponse, *Failure) {
	client, fail := e.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if fail != nil {
		return nil, fail
	}
	if !client.AllowsGrant(string(population.GrantPassword)) {
		return nil, unauthorizedClient("client is not permitted to use the password grant")
	}
	if req.Username == "" || req.Password == "" {
		return nil, invalidRequest("missing username or password parameter")
	}

	user, err := e.Store.Users.VerifyCredentials(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			e.Log.Info("grant.password.credentials.fail", slog.String("client_id", client.ID))
			return nil, invalidCredentials()
		}
		e.Log.Error("grant.password.storage.fail", slog.String("err", err.Error()))
		return nil, serverError()
	}

	scope, fail := e.resolveScope(ctx, client, req.Scope, user)
	if fail != nil {
		return nil, fail
	}
	return e.issue(ctx, user.ID, client.ID, scope)
}

func (e *Engine) clientCredentialsGrant(ctx context.Context, req *TokenRequest) (*TokenResponse, *Failure) {
	client, fail := e.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if fail != nil {
		return nil, fail
	}
	if !client.AllowsGrant(string(population.GrantClientCredentials)) {
		return nil, unauthorizedClient("client is not permitted to use the client_credentials grant")
	}

	scope, fail := e.resolveScope(ctx, client, req.Scope, nil)
	if fail != nil {
		return nil, fail
	}
	// The client acts on its own behalf: its id is the token subject.
	return e.issue(ctx, client.ID, client.ID, scope)
}

func (e *Engine) authorizationCodeGrant(ctx context.Context, req *TokenRequest) (*TokenResponse, *Failure) {
	client, fail := e.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if fail != nil {
		return nil, fail
	}
	if !client.AllowsGrant(string(population.GrantAuthorizationCode)) {
		return nil, unauthorizedClient("client is not permitted to use the authorization_code grant")
	}
	if req.Code == "" {
		return nil, invalidRequest("missing code parameter")
	}

	// Consume is single-use at the storage layer: a replayed code reads as
	// absent no matter how close the race.
	code, err := e.Store.Codes.Consume(ctx, req.Code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, invalidGrant("authorization code is invalid or has been used")
		}
		e.Log.Error("grant.code.storage.fail", slog.String("err", err.Error()))
		return nil, serverError()
	}
	if code.ExpiresAt.Before(e.now()) {
		return nil, invalidGrant("authorization code has expired")
	}
	if code.ClientID != client.ID {
		return nil, invalidGrant("authorization code was issued to another client")
	}
	if code.RedirectURI != "" && code.RedirectURI != req.RedirectURI {
		return nil, invalidGrant("redirect_uri does not match the authorization request")
	}

	return e.issue(ctx, code.UserID, client.ID, code.Scope)
}

func (e *Engine) refreshTokenGrant(ctx context.Context, req *TokenRequest) (*TokenResponse, *Failure) {
	if req.RefreshToken == "" {
		return nil, invalidRequest("missing refresh_token parameter")
	}

	// Revoked tokens read as absent, so a replay never reaches the expiry
	// comparison below.
	old, err := e.Store.RefreshTokens.ByToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, invalidGrant("refresh token is invalid or has been revoked")
		}
		e.Log.Error("grant.refresh.storage.fail", slog.String("err", err.Error()))
		return nil, serverError()
	}
	if old.ExpiresAt.Before(e.now()) {
		return nil, invalidGrant("refresh token has expired")
	}

	scope := old.Scope
	if req.Scope != "" {
		// A refreshed token may narrow but never widen its grant.
		narrowed, fail := narrowScope(old.Scopes(), req.Scope)
		if fail != nil {
			return nil, fail
		}
		scope = narrowed
	}

	// Rotation: revoke the presented token before minting its successor.
	// Revoke is a check-and-set, so when two requests race on one token
	// the loser fails here with invalid_grant.
	if err := e.Store.RefreshTokens.Revoke(ctx, old.Token); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			e.Log.Warn("grant.refresh.rotate.lost", slog.String("client_id", old.ClientID))
			return nil, invalidGrant("refresh token is invalid or has been revoked")
		}
		e.Log.Error("grant.refresh.revoke.fail", slog.String("err", err.Error()))
		return nil, serverError()
	}

	return e.issue(ctx, old.UserID, old.ClientID, scope)
}

// authenticateClient is the first transition of every client-facing grant.
// A public client authenticates by existence; a confidential client must
// present its matching secret.
func (e *Engine) authenticateClient(ctx context.Context, clientID, secret string) (*storage.Client, *Failure) {
	if clientID == "" {
		return nil, invalidClient("missing client credentials")
	}
	client, err := e.Store.Clients.ByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, invalidClient("client authentication failed")
		}
		e.Log.Error("grant.client.storage.fail", slog.String("err", err.Error()))
		return nil, serverError()
	}
	if client.Public {
		return client, nil
	}
	if secret == "" || !client.ValidateSecret(secret) {
		e.Log.Info("grant.client.auth.fail", slog.String("client_id", clientID))
		return nil, invalidClient("client authentication failed")
	}
	return client, nil
}

// resolveScope applies the population's scope policy. A requested scope
// string is decomposed on spaces and every token must exist in the
// catalogue and be permitted for the client; one unknown token rejects the
// whole request. An empty request grants the client's default set. A
// user's restricted-scope override caps the result.
func (e *Engine) resolveScope(ctx context.Context, client *storage.Client, requested string, user *storage.User) (string, *Failure) {
	var granted []string
	if requested != "" {
		allowed, err := e.Store.Scopes.ScopesForClient(ctx, client.ID)
		if err != nil {
			e.Log.Error("grant.scope.storage.fail", slog.String("err", err.Error()))
			return "", serverError()
		}
		for _, s := range strings.Fields(requested) {
			exists, err := e.Store.Scopes.ScopeExists(ctx, s)
			if err != nil {
				e.Log.Error("grant.scope.storage.fail", slog.String("err", err.Error()))
				return "", serverError()
			}
			if !exists {
				return "", invalidScope("unknown scope: " + s)
			}
			if !contains(allowed, s) {
				return "", invalidScope("scope not permitted for client: " + s)
			}
			granted = append(granted, s)
		}
	} else {
		defaults, err := e.Store.Scopes.DefaultScopesForClient(ctx, client.ID)
		if err != nil {
			e.Log.Error("grant.scope.storage.fail", slog.String("err", err.Error()))
			return "", serverError()
		}
		granted = defaults
	}

	if user != nil && user.RestrictedScopes != nil {
		var capped []string
		for _, s := range granted {
			if contains(user.RestrictedScopes, s) {
				capped = append(capped, s)
			}
		}
		granted = capped
	}

	return strings.Join(granted, " "), nil
}

// narrowScope validates that every requested token is inside the
// previously granted set.
func narrowScope(granted []string, requested string) (string, *Failure) {
	var out []string
	for _, s := range strings.Fields(requested) {
		if !contains(granted, s) {
			return "", invalidScope("scope exceeds the original grant: " + s)
		}
		out = append(out, s)
	}
	return strings.Join(out, " "), nil
}

// issue mints the access token and, when the population enables the
// refresh_token grant, persists a companion refresh token. Access tokens
// are self-contained signed JWTs and are never stored.
func (e *Engine) issue(ctx context.Context, subject, clientID, scope string) (*TokenResponse, *Failure) {
	key, err := e.Store.Keys.Default(ctx)
	if err != nil {
		e.Log.Error("grant.key.storage.fail", slog.String("err", err.Error()))
		return nil, serverError()
	}
	alg, err := tokens.ParseAlgorithm(key.Algorithm)
	if err != nil {
		e.Log.Error("grant.key.algorithm.fail", slog.String("key_id", key.ID), slog.String("err", err.Error()))
		return nil, serverError()
	}

	now := e.now()
	access, err := tokens.Encode(
		tokens.Key{ID: key.ID, Algorithm: alg, Public: key.Public, Private: key.Private},
		subject,
		e.Pop.Issuer,
		e.Pop.Audience,
		strings.Fields(scope),
		e.Pop.AccessTokenTTL,
		now,
	)
	if err != nil {
		e.Log.Error("grant.token.encode.fail", slog.String("err", err.Error()))
		return nil, serverError()
	}

	resp := &TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int(e.Pop.AccessTokenTTL / time.Second),
		Scope:       scope,
	}

	if e.Pop.AllowsGrant(population.GrantRefreshToken) {
		refresh := &storage.RefreshToken{
			Token:     uuid.NewString(),
			UserID:    subject,
			ClientID:  clientID,
			Scope:     scope,
			ExpiresAt: now.Add(e.Pop.RefreshTokenTTL),
		}
		if err := e.Store.RefreshTokens.Create(ctx, refresh); err != nil {
			e.Log.Error("grant.refresh.create.fail", slog.String("err", err.Error()))
			return nil, serverError()
		}
		resp.RefreshToken = refresh.Token
	}

	e.Log.Info("grant.token.ok",
		slog.String("population", e.Pop.Name),
		slog.String("client_id", clientID),
		slog.String("subject", subject),
	)
	return resp, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
