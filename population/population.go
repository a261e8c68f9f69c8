// Package population resolves per-tenant OAuth2 configuration. A population
// is an isolated configuration domain: its own issuer, audience, signing
// algorithm, token lifetimes, grant policy and storage binding.
//
// Settings resolve through a three-level fallback: the population's own
// value wins, then the base configuration, then a hard default. Issuer,
// audience and the storage binding are identity, not policy: they have no
// default and their absence is a configuration error at load time.
//
// Resolved Population values are immutable and shared read-only across
// concurrent requests.
package population

import (
	"errors"
	"fmt"
	"time"
)

// Grant is an OAuth2 grant type from the closed supported set.
type Grant string

const (
	GrantPassword          Grant = "password"
	GrantClientCredentials Grant = "client_credentials"
	GrantAuthorizationCode Grant = "authorization_code"
	GrantRefreshToken      Grant = "refresh_token"
)

// Valid reports membership in the supported set. The implicit grant is
// permanently disabled and is not representable here.
func (g Grant) Valid() bool {
	switch g {
	case GrantPassword, GrantClientCredentials, GrantAuthorizationCode, GrantRefreshToken:
		return true
	}
	return false
}

// Hard defaults for tunable policy. Identity fields have none.
const (
	DefaultAlgorithm       = "RS256"
	DefaultAccessTokenTTL  = 3600 * time.Second
	DefaultRefreshTokenTTL = 2592000 * time.Second // 30 days
)

func defaultAllowedGrants() []Grant {
	return []Grant{GrantPassword, GrantClientCredentials, GrantAuthorizationCode, GrantRefreshToken}
}

// ErrConfiguration is the sentinel for invalid or incomplete population
// configuration. It is fatal at load time, never per-request recoverable.
var ErrConfiguration = errors.New("population: configuration error")

// ErrUnknown reports a population name with no definition.
var ErrUnknown = errors.New("population: unknown population")

// Routes are the endpoint paths mounted for one population. Empty values
// fall back to "/{name}/token" style defaults at resolution.
type Routes struct {
	Token     string `json:"token"`
	Authorize string `json:"authorize"`
	Revoke    string `json:"revoke"`
	JWKS      string `json:"jwks"`
}

// Definition is the raw, file-loadable shape of one population. Zero
// values inherit from the base configuration.
type Definition struct {
	Issuer          string   `json:"issuer"`
	Audience        string   `json:"audience"`
	Algorithm       string   `json:"algorithm"`
	AccessTokenTTL  int      `json:"access_token_ttl"`  // seconds
	RefreshTokenTTL int      `json:"refresh_token_ttl"` // seconds
	AllowedGrants   []string `json:"allowed_grants"`
	Storage         string   `json:"storage"` // binding name, required
	Routes          Routes   `json:"routes"`
}

// Base carries the tunable-policy fallbacks shared by all populations.
// Values may come from the config file or the environment (envdecode tags).
type Base struct {
	Algorithm       string   `json:"algorithm" env:"OAUTH2_ALGORITHM"`
	AccessTokenTTL  int      `json:"access_token_ttl" env:"OAUTH2_ACCESS_TOKEN_TTL"`
	RefreshTokenTTL int      `json:"refresh_token_ttl" env:"OAUTH2_REFRESH_TOKEN_TTL"`
	AllowedGrants   []string `json:"allowed_grants"`
}

// Config is the full raw configuration: base fallbacks plus one definition
// per population name.
type Config struct {
	Base        Base                  `json:"base"`
	Populations map[string]Definition `json:"populations"`
}

// Population is the resolved, immutable configuration for one tenant.
type Population struct {
	Name            string
	Issuer          string
	Audience        string
	Algorithm       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	StorageBinding  string
	Routes          Routes

	allowedGrants map[Grant]bool
}

// AllowsGrant reports whether the population enables the grant type.
func (p *Population) AllowsGrant(g Grant) bool {
	return p.allowedGrants[g]
}

// AllowedGrants returns the enabled grant set in a stable order.
func (p *Population) AllowedGrants() []Grant {
	var out []Grant
	for _, g := range []Grant{GrantPassword, GrantClientCredentials, GrantAuthorizationCode, GrantRefreshToken} {
		if p.allowedGrants[g] {
			out = append(out, g)
		}
	}
	return out
}

// Registry is an immutable set of resolved populations. Configuration
// reloads swap the whole registry, never an individual Population.
type Registry struct {
	byName map[string]*Population
}

// Get resolves a population by name.
func (r *Registry) Get(name string) (*Population, error) {
	p, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	return p, nil
}

// Names lists the registered population names.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	return out
}

// All returns every resolved population.
func (r *Registry) All() []*Population {
	out := make([]*Population, 0, len(r.byName))
	for _, p := range r.byName {
		out = append(out, p)
	}
	return out
}

// Resolve validates cfg and produces the immutable registry, applying the
// population -> base -> default fallback to every tunable field.
func Resolve(cfg Config) (*Registry, error) {
	if len(cfg.Populations) == 0 {
		return nil, fmt.Errorf("%w: no populations defined", ErrConfiguration)
	}

	reg := &Registry{byName: make(map[string]*Population, len(cfg.Populations))}
	for name, def := range cfg.Populations {
		p, err := resolveOne(name, def, cfg.Base)
		if err != nil {
			return nil, err
		}
		reg.byName[name] = p
	}
	return reg, nil
}

func resolveOne(name string, def Definition, base Base) (*Population, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: population with empty name", ErrConfiguration)
	}
	// Identity fields: no defaults, fail fast.
	if def.Issuer == "" {
		return nil, fmt.Errorf("%w: population %q: issuer is required", ErrConfiguration, name)
	}
	if def.Audience == "" {
		return nil, fmt.Errorf("%w: population %q: audience is required", ErrConfiguration, name)
	}
	if def.Storage == "" {
		return nil, fmt.Errorf("%w: population %q: storage binding is required", ErrConfiguration, name)
	}

	alg := firstNonEmpty(def.Algorithm, base.Algorithm, DefaultAlgorithm)
	switch alg {
	case "RS256", "RS384", "RS512", "HS256", "HS384", "HS512":
	default:
		return nil, fmt.Errorf("%w: population %q: unsupported algorithm %q", ErrConfiguration, name, alg)
	}

	accessTTL := ttlOrDefault(def.AccessTokenTTL, base.AccessTokenTTL, DefaultAccessTokenTTL)
	refreshTTL := ttlOrDefault(def.RefreshTokenTTL, base.RefreshTokenTTL, DefaultRefreshTokenTTL)
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, fmt.Errorf("%w: population %q: token lifetimes must be positive", ErrConfiguration, name)
	}

	rawGrants := def.AllowedGrants
	if rawGrants == nil {
		rawGrants = base.AllowedGrants
	}
	allowed := make(map[Grant]bool)
	if rawGrants == nil {
		for _, g := range defaultAllowedGrants() {
			allowed[g] = true
		}
	} else {
		for _, raw := range rawGrants {
			g := Grant(raw)
			if !g.Valid() {
				return nil, fmt.Errorf("%w: population %q: unsupported grant %q", ErrConfiguration, name, raw)
			}
			allowed[g] = true
		}
	}

	return &Population{
		Name:            name,
		Issuer:          def.Issuer,
		Audience:        def.Audience,
		Algorithm:       alg,
		AccessTokenTTL:  accessTTL,
		RefreshTokenTTL: refreshTTL,
		StorageBinding:  def.Storage,
		Routes:          resolveRoutes(name, def.Routes),
		allowedGrants:   allowed,
	}, nil
}

func resolveRoutes(name string, r Routes) Routes {
	if r.Token == "" {
		r.Token = "/" + name + "/token"
	}
	if r.Authorize == "" {
		r.Authorize = "/" + name + "/authorize"
	}
	if r.Revoke == "" {
		r.Revoke = "/" + name + "/revoke"
	}
	if r.JWKS == "" {
		r.JWKS = "/" + name + "/.well-known/jwks.json"
	}
	return r
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func ttlOrDefault(own, base int, def time.Duration) time.Duration {
	if own > 0 {
		return time.Duration(own) * time.Second
	}
	if base > 0 {
		return time.Duration(base) * time.Second
	}
	return def
}
