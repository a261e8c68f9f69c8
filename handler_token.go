package tenantauth

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/elnormous/contenttype"

	"github.com/ggoodman/tenantauth/internal/grants"
	"github.com/ggoodman/tenantauth/internal/logctx"
)

var formMediaType = contenttype.NewMediaType("application/x-www-form-urlencoded")

// writeTokenJSON writes a token-endpoint response body. Token responses
// must never be cached by intermediaries.
func writeTokenJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeFailure(w http.ResponseWriter, fail *grants.Failure) {
	if fail.Code == grants.CodeInvalidClient {
		w.Header().Set("WWW-Authenticate", `Basic realm="token"`)
	}
	writeTokenJSON(w, fail.Status, fail)
}

// parseFormRequest enforces the form media type and parses the body.
// Client credentials in the Authorization header take precedence over
// form parameters.
func parseFormRequest(w http.ResponseWriter, r *http.Request) (clientID, clientSecret string, ok bool) {
	if ctype, err := contenttype.GetMediaType(r); err != nil || !ctype.Matches(formMediaType) {
		writeFailure(w, &grants.Failure{
			Code:        grants.CodeInvalidRequest,
			Description: "request body must be application/x-www-form-urlencoded",
			Status:      http.StatusBadRequest,
		})
		return "", "", false
	}
	if err := r.ParseForm(); err != nil {
		writeFailure(w, &grants.Failure{
			Code:        grants.CodeInvalidRequest,
			Description: "malformed form body",
			Status:      http.StatusBadRequest,
		})
		return "", "", false
	}

	clientID = r.PostFormValue("client_id")
	clientSecret = r.PostFormValue("client_secret")
	if id, secret, hasBasic := r.BasicAuth(); hasBasic {
		clientID, clientSecret = id, secret
	}
	return clientID, clientSecret, true
}

func (h *populationHandler) handleToken(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithPopulationData(r.Context(), &logctx.PopulationData{
		Name:           h.pop.Name,
		StorageBinding: h.pop.StorageBinding,
	})

	clientID, clientSecret, ok := parseFormRequest(w, r)
	if !ok {
		return
	}

	req := &grants.TokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scope:        r.PostFormValue("scope"),
		Username:     r.PostFormValue("username"),
		Password:     r.PostFormValue("password"),
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		RefreshToken: r.PostFormValue("refresh_token"),
	}
	ctx = logctx.WithGrantData(ctx, &logctx.GrantData{
		GrantType: req.GrantType,
		ClientID:  clientID,
	})

	resp, fail := h.eng.Token(ctx, req)
	if fail != nil {
		h.srv.log.InfoContext(ctx, "http.token.fail", slog.String("error", fail.Code))
		writeFailure(w, fail)
		return
	}
	writeTokenJSON(w, http.StatusOK, resp)
}
