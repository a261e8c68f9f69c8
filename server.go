package tenantauth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ggoodman/tenantauth/internal/grants"
	"github.com/ggoodman/tenantauth/internal/logctx"
	"github.com/ggoodman/tenantauth/population"
	"github.com/ggoodman/tenantauth/storage"
)

var _ http.Handler = (*Server)(nil)

// AuthorizationRequest is the validated authorization request handed to a
// ConsentHandler. All fields have already passed protocol validation.
type AuthorizationRequest struct {
	Population  string
	ClientID    string
	RedirectURI string
	Scope       string
	State       string
}

// ConsentHandler drives the interactive half of the authorization_code
// flow: authenticating the resource owner and collecting consent. It
// returns the authenticated subject and whether access was granted. When
// granted is false the server redirects back to the client with an
// access_denied error; a denying handler must not write to w itself.
type ConsentHandler interface {
	HandleConsent(w http.ResponseWriter, r *http.Request, req *AuthorizationRequest) (subject string, granted bool)
}

// ConsentHandlerFunc adapts a function to the ConsentHandler interface.
type ConsentHandlerFunc func(w http.ResponseWriter, r *http.Request, req *AuthorizationRequest) (string, bool)

func (f ConsentHandlerFunc) HandleConsent(w http.ResponseWriter, r *http.Request, req *AuthorizationRequest) (string, bool) {
	return f(w, r, req)
}

// Option configures a Server.
type Option func(*newConfig)

type newConfig struct {
	logger   *slog.Logger
	realm    string
	baseURL  string
	now      func() time.Time
	consent  ConsentHandler
	bindings map[string]storage.Bundle
}

// WithLogger sets the slog logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

// WithRealm sets the authentication realm advertised in WWW-Authenticate
// challenges. If empty (default) the realm attribute is omitted.
func WithRealm(realm string) Option {
	return func(c *newConfig) { c.realm = strings.TrimSpace(realm) }
}

// WithBaseURL sets the externally visible origin used in discovery
// documents. If empty it is derived from each request's Host header.
func WithBaseURL(u string) Option {
	return func(c *newConfig) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithClock injects the time source. Tests use this; production code never
// needs it.
func WithClock(now func() time.Time) Option {
	return func(c *newConfig) { c.now = now }
}

// WithConsentHandler enables the authorization endpoint. Without one the
// authorization_code flow can still exchange codes minted elsewhere, but
// the interactive endpoint is not mounted.
func WithConsentHandler(h ConsentHandler) Option {
	return func(c *newConfig) { c.consent = h }
}

// WithStorage registers a named storage bundle. Population definitions
// refer to bundles by this name.
func WithStorage(name string, b storage.Bundle) Option {
	return func(c *newConfig) { c.bindings[name] = b }
}

// Server mounts the OAuth2 endpoints for every configured population and
// dispatches requests to the matching grant engine.
type Server struct {
	log      *slog.Logger
	realm    string
	baseURL  string
	now      func() time.Time
	consent  ConsentHandler
	bindings map[string]storage.Bundle

	// state is swapped whole on configuration reload; requests in flight
	// keep the registry they started with.
	state atomic.Pointer[serverState]
}

type serverState struct {
	registry *population.Registry
	router   chi.Router
}

// New builds a Server over a resolved population registry. Every
// population's storage binding must name a bundle registered via
// WithStorage; a dangling binding is a construction error, not a request
// error.
func New(reg *population.Registry, opts ...Option) (*Server, error) {
	cfg := &newConfig{
		logger:   slog.New(slog.DiscardHandler),
		bindings: make(map[string]storage.Bundle),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &Server{
		log:      slog.New(logctx.Handler{Handler: cfg.logger.Handler()}),
		realm:    cfg.realm,
		baseURL:  cfg.baseURL,
		now:      cfg.now,
		consent:  cfg.consent,
		bindings: cfg.bindings,
	}
	if err := s.Reload(reg); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload swaps in a new population registry, rebuilding the route table.
// It is safe to call concurrently with request handling; on error the
// previous configuration stays live.
func (s *Server) Reload(reg *population.Registry) error {
	if reg == nil {
		return fmt.Errorf("tenantauth: nil registry")
	}
	for _, pop := range reg.All() {
		bundle, ok := s.bindings[pop.StorageBinding]
		if !ok {
			return fmt.Errorf("tenantauth: population %q: no storage bundle registered as %q", pop.Name, pop.StorageBinding)
		}
		if err := bundle.Validate(); err != nil {
			return fmt.Errorf("tenantauth: population %q: %w", pop.Name, err)
		}
	}

	s.state.Store(&serverState{registry: reg, router: s.buildRouter(reg)})
	return nil
}

// Registry returns the currently live population registry.
func (s *Server) Registry() *population.Registry {
	return s.state.Load().registry
}

func (s *Server) engineFor(pop *population.Population) *grants.Engine {
	return &grants.Engine{
		Pop:   pop,
		Store: s.bindings[pop.StorageBinding],
		Log:   s.log,
		Now:   s.now,
	}
}

func (s *Server) buildRouter(reg *population.Registry) chi.Router {
	r := chi.NewRouter()
	for _, pop := range reg.All() {
		h := &populationHandler{srv: s, pop: pop, eng: s.engineFor(pop)}
		r.Post(pop.Routes.Token, h.handleToken)
		r.Post(pop.Routes.Revoke, h.handleRevoke)
		r.Get(pop.Routes.JWKS, h.handleJWKS)
		r.Get("/"+pop.Name+"/.well-known/oauth-authorization-server", h.handleMetadata)
		if s.consent != nil && pop.AllowsGrant(population.GrantAuthorizationCode) {
			r.Get(pop.Routes.Authorize, h.handleAuthorize)
			r.Post(pop.Routes.Authorize, h.handleAuthorize)
		}
	}
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	s.state.Load().router.ServeHTTP(w, r.WithContext(ctx))
}

// requestBaseURL resolves the origin for discovery documents.
func (s *Server) requestBaseURL(r *http.Request) string {
	if s.baseURL != "" {
		return s.baseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// populationHandler binds one population's routes to its engine. Handlers
// hang off it so the route table closes over resolved state instead of
// re-resolving per request.
type populationHandler struct {
	srv *Server
	pop *population.Population
	eng *grants.Engine
}
