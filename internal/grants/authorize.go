package grants

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/ggoodman/tenantauth/population"
	"github.com/ggoodman/tenantauth/storage"
)

// CodeUnsupportedResponseType rejects response types outside {code}. The
// implicit grant ("token") is permanently disabled.
const CodeUnsupportedResponseType = "unsupported_response_type"

// authorizationCodeTTL bounds the consent-to-exchange window.
const authorizationCodeTTL = 60 * time.Second

// AuthorizeRequest carries the parsed parameters of an authorization
// request.
type AuthorizeRequest struct {
	ResponseType string
	ClientID     string
	RedirectURI  string
	Scope        string
	State        string
}

// ValidatedAuthorization is the outcome of a successful validation. It is
// everything the embedding application needs to drive its consent flow and
// then call IssueAuthorizationCode.
type ValidatedAuthorization struct {
	ClientID    string `json:"client_id"`
	RedirectURI string `json:"redirect_uri"`
	Scope       string `json:"scope,omitempty"`
	State       string `json:"state"`
}

// ValidateAuthorize checks an authorization request without completing it.
// User consent and the final code issuance are the application's
// responsibility; the engine only guards the protocol invariants, state
// being mandatory among them.
func (e *Engine) ValidateAuthorize(ctx context.Context, req *AuthorizeRequest) (*ValidatedAuthorization, *Failure) {
	if !e.Pop.AllowsGrant(population.GrantAuthorizationCode) {
		return nil, &Failure{
			Code:        CodeUnsupportedResponseType,
			Description: "the authorization_code grant is not enabled",
			Status:      http.StatusBadRequest,
		}
	}
	switch req.ResponseType {
	case "code":
	case "":
		return nil, invalidRequest("missing response_type parameter")
	default:
		// Includes "token": the implicit grant is permanently disabled.
		return nil, &Failure{
			Code:        CodeUnsupportedResponseType,
			Description: "response type not supported: " + req.ResponseType,
			Status:      http.StatusBadRequest,
		}
	}
	if req.ClientID == "" {
		return nil, invalidRequest("missing client_id parameter")
	}
	if req.State == "" {
		// CSRF protection: a request without a state round-trip fails.
		return nil, invalidRequest("missing state parameter")
	}

	client, err := e.Store.Clients.ByID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, invalidClient("unknown client")
		}
		e.Log.Error("authorize.client.storage.fail", slog.String("err", err.Error()))
		return nil, serverError()
	}
	if !client.AllowsGrant(string(population.GrantAuthorizationCode)) {
		return nil, unauthorizedClient("client is not permitted to use the authorization_code grant")
	}

	redirectURI := req.RedirectURI
	if redirectURI == "" {
		if len(client.RedirectURIs) != 1 {
			return nil, invalidRequest("redirect_uri is required when the client registers multiple redirect URIs")
		}
		redirectURI = client.RedirectURIs[0]
	} else if !client.HasRedirectURI(redirectURI) {
		return nil, invalidRequest("redirect_uri is not registered for this client")
	}

	scope, fail := e.resolveScope(ctx, client, req.Scope, nil)
	if fail != nil {
		return nil, fail
	}

	return &ValidatedAuthorization{
		ClientID:    client.ID,
		RedirectURI: redirectURI,
		Scope:       scope,
		State:       req.State,
	}, nil
}

// IssueAuthorizationCode mints a single-use code for a validated request
// once the application has obtained the user's consent, and builds the
// redirect URL carrying code and state back to the client.
func (e *Engine) IssueAuthorizationCode(ctx context.Context, v *ValidatedAuthorization, userID string) (*url.URL, error) {
	code := &storage.AuthorizationCode{
		Code:        uuid.NewString(),
		ClientID:    v.ClientID,
		UserID:      userID,
		RedirectURI: v.RedirectURI,
		Scope:       v.Scope,
		ExpiresAt:   e.now().Add(authorizationCodeTTL),
	}
	if err := e.Store.Codes.Create(ctx, code); err != nil {
		return nil, err
	}

	redirect, err := url.Parse(v.RedirectURI)
	if err != nil {
		return nil, err
	}
	q := redirect.Query()
	q.Set("code", code.Code)
	q.Set("state", v.State)
	redirect.RawQuery = q.Encode()

	e.Log.Info("authorize.code.ok",
		slog.String("population", e.Pop.Name),
		slog.String("client_id", v.ClientID),
	)
	return redirect, nil
}
