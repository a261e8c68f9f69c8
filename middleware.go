package tenantauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ggoodman/tenantauth/internal/jwtauth"
	"github.com/ggoodman/tenantauth/tokens"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the verified token claims installed by
// RequireAuth middleware.
func ClaimsFromContext(ctx context.Context) (*tokens.Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*tokens.Claims)
	return c, ok
}

// SubjectFromContext returns the authenticated subject, a user or client
// id depending on the grant that minted the token.
func SubjectFromContext(ctx context.Context) (string, bool) {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return "", false
	}
	return c.Subject, true
}

// buildBearerChallenge renders the WWW-Authenticate value. Realm is
// omitted when empty, per RFC 6750 it is optional.
func buildBearerChallenge(realm string, params map[string]string) string {
	esc := func(v string) string { return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) }
	pieces := make([]string, 0, 1+len(params))
	if realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc(realm)))
	}
	for _, k := range []string{"error", "error_description", "scope"} {
		if v, ok := params[k]; ok {
			pieces = append(pieces, fmt.Sprintf(`%s="%s"`, k, esc(v)))
		}
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}

// RequireAuth protects a handler with bearer-token authentication against
// the named population. Tokens must be signed by the population's keys and
// carry its issuer and audience; when scopes are given, all of them are
// required. Verified claims land on the request context.
func (s *Server) RequireAuth(popName string, requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			pop, err := s.Registry().Get(popName)
			if err != nil {
				s.log.ErrorContext(ctx, "auth.population.miss", slog.String("population", popName))
				w.WriteHeader(http.StatusInternalServerError)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				// No credentials at all: a bare challenge, no error code.
				w.Header().Add("WWW-Authenticate", buildBearerChallenge(s.realm, nil))
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			// Scheme names are case-insensitive per RFC 9110.
			const prefix = "Bearer "
			if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
				w.Header().Add("WWW-Authenticate", buildBearerChallenge(s.realm, map[string]string{
					"error":             "invalid_request",
					"error_description": "malformed bearer authorization header",
				}))
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			tok := strings.TrimSpace(header[len(prefix):])

			auth, err := jwtauth.NewFromStore(&jwtauth.Config{
				Issuer:         pop.Issuer,
				Audience:       pop.Audience,
				RequiredScopes: requiredScopes,
				Now:            s.now,
			}, s.bindings[pop.StorageBinding].Keys)
			if err != nil {
				s.log.ErrorContext(ctx, "auth.init.fail", slog.String("err", err.Error()))
				w.WriteHeader(http.StatusInternalServerError)
				return
			}

			claims, err := auth.CheckAuthentication(ctx, tok)
			if err != nil {
				switch {
				case errors.Is(err, jwtauth.ErrUnauthorized):
					s.log.InfoContext(ctx, "auth.check.fail")
					w.Header().Add("WWW-Authenticate", buildBearerChallenge(s.realm, map[string]string{
						"error": "invalid_token",
					}))
					w.WriteHeader(http.StatusUnauthorized)
				case errors.Is(err, jwtauth.ErrInsufficientScope):
					s.log.InfoContext(ctx, "auth.scope.fail")
					w.Header().Add("WWW-Authenticate", buildBearerChallenge(s.realm, map[string]string{
						"error": "insufficient_scope",
						"scope": strings.Join(requiredScopes, " "),
					}))
					w.WriteHeader(http.StatusForbidden)
				default:
					s.log.ErrorContext(ctx, "auth.check.err", slog.String("err", err.Error()))
					w.WriteHeader(http.StatusInternalServerError)
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, claimsContextKey{}, claims)))
		})
	}
}
