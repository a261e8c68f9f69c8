package tenantauth

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/ggoodman/tenantauth/internal/grants"
	"github.com/ggoodman/tenantauth/internal/logctx"
)

func (h *populationHandler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithPopulationData(r.Context(), &logctx.PopulationData{
		Name:           h.pop.Name,
		StorageBinding: h.pop.StorageBinding,
	})

	// FormValue merges the query string and, for POST, the form body.
	validated, fail := h.eng.ValidateAuthorize(ctx, &grants.AuthorizeRequest{
		ResponseType: r.FormValue("response_type"),
		ClientID:     r.FormValue("client_id"),
		RedirectURI:  r.FormValue("redirect_uri"),
		Scope:        r.FormValue("scope"),
		State:        r.FormValue("state"),
	})
	if fail != nil {
		// Validation failures never redirect: the redirect target itself may
		// be what failed validation.
		h.srv.log.InfoContext(ctx, "http.authorize.fail", slog.String("error", fail.Code))
		writeTokenJSON(w, fail.Status, fail)
		return
	}

	subject, granted := h.srv.consent.HandleConsent(w, r.WithContext(ctx), &AuthorizationRequest{
		Population:  h.pop.Name,
		ClientID:    validated.ClientID,
		RedirectURI: validated.RedirectURI,
		Scope:       validated.Scope,
		State:       validated.State,
	})
	if !granted {
		h.srv.log.InfoContext(ctx, "http.authorize.denied", slog.String("client_id", validated.ClientID))
		redirectError(w, r, validated, "access_denied")
		return
	}

	redirect, err := h.eng.IssueAuthorizationCode(ctx, validated, subject)
	if err != nil {
		h.srv.log.ErrorContext(ctx, "http.authorize.issue.fail", slog.String("err", err.Error()))
		writeTokenJSON(w, http.StatusInternalServerError, &grants.Failure{
			Code:        grants.CodeServerError,
			Description: "internal error",
		})
		return
	}
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

// redirectError sends the RFC 6749 error redirect for a request whose
// redirect target already passed validation.
func redirectError(w http.ResponseWriter, r *http.Request, v *grants.ValidatedAuthorization, code string) {
	target, err := url.Parse(v.RedirectURI)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	q := target.Query()
	q.Set("error", code)
	q.Set("state", v.State)
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}
