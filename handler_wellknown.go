package tenantauth

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ggoodman/tenantauth/internal/wellknown"
)

func (h *populationHandler) handleJWKS(w http.ResponseWriter, r *http.Request) {
	set, err := wellknown.JWKS(r.Context(), h.eng.Store.Keys)
	if err != nil {
		h.srv.log.ErrorContext(r.Context(), "http.jwks.fail", slog.String("err", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	_ = json.NewEncoder(w).Encode(set)
}

func (h *populationHandler) handleMetadata(w http.ResponseWriter, r *http.Request) {
	meta, err := wellknown.Metadata(r.Context(), h.pop, h.srv.requestBaseURL(r), h.eng.Store.Scopes)
	if err != nil {
		h.srv.log.ErrorContext(r.Context(), "http.metadata.fail", slog.String("err", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(meta)
}
