package tenantauth

import (
	"log/slog"
	"net/http"

	"github.com/ggoodman/tenantauth/internal/grants"
	"github.com/ggoodman/tenantauth/internal/logctx"
)

func (h *populationHandler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithPopulationData(r.Context(), &logctx.PopulationData{
		Name:           h.pop.Name,
		StorageBinding: h.pop.StorageBinding,
	})

	// Revocation is anonymous: possession of the token is the credential,
	// so client parameters are ignored even when present.
	if _, _, ok := parseFormRequest(w, r); !ok {
		return
	}

	fail := h.eng.Revoke(ctx, &grants.RevokeRequest{
		Token:         r.PostFormValue("token"),
		TokenTypeHint: r.PostFormValue("token_type_hint"),
	})
	if fail != nil {
		h.srv.log.InfoContext(ctx, "http.revoke.fail", slog.String("error", fail.Code))
		writeFailure(w, fail)
		return
	}

	// RFC 7009: a bare 200 regardless of whether anything was revoked.
	w.WriteHeader(http.StatusOK)
}
