package grants

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ggoodman/tenantauth/storage"
)

// RevokeRequest carries the parsed parameters of one revocation call.
type RevokeRequest struct {
	Token         string
	TokenTypeHint string
}

// Revoke invalidates a refresh token. Per RFC 7009 the operation is
// idempotent and non-disclosing: a token that is unknown, already revoked
// or expired produces the same success response as a live one. The
// endpoint is anonymous; possession of the token is the credential. Only
// refresh tokens are revocable, access tokens are self-contained JWTs
// that simply expire.
func (e *Engine) Revoke(ctx context.Context, req *RevokeRequest) *Failure {
	if req.Token == "" {
		return invalidRequest("missing token parameter")
	}
	// An absent hint means refresh_token. Any other hint names a token
	// type this endpoint cannot revoke.
	if req.TokenTypeHint != "" && req.TokenTypeHint != "refresh_token" {
		return unsupportedTokenType(req.TokenTypeHint)
	}

	tok, err := e.Store.RefreshTokens.ByToken(ctx, req.Token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		e.Log.Error("revoke.storage.fail", slog.String("err", err.Error()))
		return serverError()
	}
	if err := e.Store.RefreshTokens.Revoke(ctx, tok.Token); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		e.Log.Error("revoke.storage.fail", slog.String("err", err.Error()))
		return serverError()
	}

	e.Log.Info("revoke.ok", slog.String("client_id", tok.ClientID))
	return nil
}
