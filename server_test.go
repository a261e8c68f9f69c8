package tenantauth_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/tenantauth"
	"github.com/ggoodman/tenantauth/population"
	"github.com/ggoodman/tenantauth/storage"
	"github.com/ggoodman/tenantauth/storage/memory"
)

const (
	testIssuer   = "https://auth.example.com/customers"
	testAudience = "https://api.example.com"
)

func newTestBundle(t *testing.T, key storage.SigningKey) storage.Bundle {
	t.Helper()
	users := memory.NewUsers()
	if err := users.Add(storage.User{ID: "u1", Identifier: "admin@example.com"}, "secret123"); err != nil {
		t.Fatalf("add user: %v", err)
	}
	clients := memory.NewClients(storage.Client{
		ID:            "web-app",
		Secret:        "client-secret",
		RedirectURIs:  []string{"https://app.example.com/cb"},
		AllowedGrants: []string{"password", "client_credentials", "authorization_code", "refresh_token"},
	})
	scopes := &memory.Scopes{
		Available: []string{"read", "write"},
		PerClient: map[string][]string{"web-app": {"read", "write"}},
		Defaults:  map[string][]string{"web-app": {"read"}},
	}
	return memory.Bundle(users, clients, memory.NewKeys(key), scopes)
}

func newTestServer(t *testing.T, opts ...tenantauth.Option) *tenantauth.Server {
	t.Helper()
	reg, err := population.Resolve(population.Config{
		Populations: map[string]population.Definition{
			"customers": {
				Issuer:    testIssuer,
				Audience:  testAudience,
				Algorithm: "HS256",
				Storage:   "main",
			},
		},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	bundle := newTestBundle(t, storage.SigningKey{
		ID:        "k1",
		Algorithm: "HS256",
		Private:   []byte("a-shared-secret-of-decent-length"),
	})
	srv, err := tenantauth.New(reg, append([]tenantauth.Option{tenantauth.WithStorage("main", bundle)}, opts...)...)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv
}

func postForm(t *testing.T, h http.Handler, path string, form url.Values, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func passwordToken(t *testing.T, srv *tenantauth.Server) map[string]any {
	t.Helper()
	rec := postForm(t, srv, "/customers/token", url.Values{
		"grant_type": {"password"},
		"username":   {"admin@example.com"},
		"password":   {"secret123"},
	}, func(r *http.Request) { r.SetBasicAuth("web-app", "client-secret") })
	if rec.Code != http.StatusOK {
		t.Fatalf("token status = %d: %s", rec.Code, rec.Body)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body
}

func TestTokenEndpoint(t *testing.T) {
	srv := newTestServer(t)

	body := passwordToken(t, srv)
	if body["access_token"] == "" {
		t.Error("missing access_token")
	}
	if body["token_type"] != "Bearer" {
		t.Errorf("token_type = %v", body["token_type"])
	}
	if body["expires_in"] != float64(3600) {
		t.Errorf("expires_in = %v", body["expires_in"])
	}
	if body["refresh_token"] == "" {
		t.Error("missing refresh_token")
	}
}

func TestTokenEndpointRejectsWrongContentType(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/customers/token", strings.NewReader(`{"grant_type":"password"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["error"] != "invalid_request" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestTokenEndpointInvalidClient(t *testing.T) {
	srv := newTestServer(t)

	rec := postForm(t, srv, "/customers/token", url.Values{
		"grant_type": {"password"},
		"username":   {"admin@example.com"},
		"password":   {"secret123"},
	}, func(r *http.Request) { r.SetBasicAuth("web-app", "wrong") })

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("WWW-Authenticate"); !strings.HasPrefix(got, "Basic") {
		t.Errorf("WWW-Authenticate = %q", got)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q", cc)
	}
}

func TestTokenEndpointFormClientCredentials(t *testing.T) {
	srv := newTestServer(t)

	rec := postForm(t, srv, "/customers/token", url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"web-app"},
		"client_secret": {"client-secret"},
		"scope":         {"read write"},
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
}

func TestRefreshRotationOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	first := passwordToken(t, srv)
	refresh, _ := first["refresh_token"].(string)

	rec := postForm(t, srv, "/customers/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refresh},
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d: %s", rec.Code, rec.Body)
	}

	// The spent token is dead.
	rec = postForm(t, srv, "/customers/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refresh},
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("replay status = %d", rec.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["error"] != "invalid_grant" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestRevokeEndpoint(t *testing.T) {
	srv := newTestServer(t)
	issued := passwordToken(t, srv)
	refresh, _ := issued["refresh_token"].(string)

	rec := postForm(t, srv, "/customers/revoke", url.Values{
		"token":           {refresh},
		"token_type_hint": {"refresh_token"},
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke status = %d: %s", rec.Code, rec.Body)
	}

	// Idempotent for unknown tokens too, with no client credentials at all.
	rec = postForm(t, srv, "/customers/revoke", url.Values{
		"token": {"never-issued"},
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unknown-token revoke status = %d: %s", rec.Code, rec.Body)
	}

	// Only refresh tokens are revocable.
	rec = postForm(t, srv, "/customers/revoke", url.Values{
		"token":           {"never-issued"},
		"token_type_hint": {"access_token"},
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("access_token hint status = %d", rec.Code)
	}
	var revokeErr map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &revokeErr)
	if revokeErr["error"] != "unsupported_token_type" {
		t.Errorf("error = %v", revokeErr["error"])
	}

	rec = postForm(t, srv, "/customers/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refresh},
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("revoked token still grants: %d", rec.Code)
	}
}

func TestAuthorizeFlowOverHTTP(t *testing.T) {
	consent := tenantauth.ConsentHandlerFunc(func(w http.ResponseWriter, r *http.Request, req *tenantauth.AuthorizationRequest) (string, bool) {
		if req.ClientID != "web-app" || req.Population != "customers" {
			t.Errorf("unexpected consent request: %+v", req)
		}
		return "u1", true
	})
	srv := newTestServer(t, tenantauth.WithConsentHandler(consent))

	req := httptest.NewRequest(http.MethodGet, "/customers/authorize?response_type=code&client_id=web-app&redirect_uri=https%3A%2F%2Fapp.example.com%2Fcb&scope=read&state=xyz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("authorize status = %d: %s", rec.Code, rec.Body)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	if loc.Query().Get("state") != "xyz" {
		t.Errorf("state = %q", loc.Query().Get("state"))
	}
	code := loc.Query().Get("code")
	if code == "" {
		t.Fatal("no code in redirect")
	}

	rec2 := postForm(t, srv, "/customers/token", url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {"https://app.example.com/cb"},
	}, func(r *http.Request) { r.SetBasicAuth("web-app", "client-secret") })
	if rec2.Code != http.StatusOK {
		t.Fatalf("exchange status = %d: %s", rec2.Code, rec2.Body)
	}
}

func TestAuthorizeDeniedRedirectsWithError(t *testing.T) {
	consent := tenantauth.ConsentHandlerFunc(func(w http.ResponseWriter, r *http.Request, req *tenantauth.AuthorizationRequest) (string, bool) {
		return "", false
	})
	srv := newTestServer(t, tenantauth.WithConsentHandler(consent))

	req := httptest.NewRequest(http.MethodGet, "/customers/authorize?response_type=code&client_id=web-app&state=xyz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d", rec.Code)
	}
	loc, _ := url.Parse(rec.Header().Get("Location"))
	if loc.Query().Get("error") != "access_denied" {
		t.Errorf("error = %q", loc.Query().Get("error"))
	}
	if loc.Query().Get("state") != "xyz" {
		t.Errorf("state = %q", loc.Query().Get("state"))
	}
}

func TestAuthorizeMissingStateRejected(t *testing.T) {
	consent := tenantauth.ConsentHandlerFunc(func(w http.ResponseWriter, r *http.Request, req *tenantauth.AuthorizationRequest) (string, bool) {
		return "u1", true
	})
	srv := newTestServer(t, tenantauth.WithConsentHandler(consent))

	req := httptest.NewRequest(http.MethodGet, "/customers/authorize?response_type=code&client_id=web-app", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAuthorizeNotMountedWithoutConsentHandler(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/customers/authorize?response_type=code&client_id=web-app&state=s", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestRequireAuthMiddleware(t *testing.T) {
	srv := newTestServer(t)
	issued := passwordToken(t, srv)
	access, _ := issued["access_token"].(string)

	var gotSubject string
	protected := srv.RequireAuth("customers", "read")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject, _ = tenantauth.SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	// No credentials: bare challenge.
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/thing", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("WWW-Authenticate"); got != "Bearer" {
		t.Errorf("challenge = %q", got)
	}

	// Garbage token.
	req := httptest.NewRequest(http.MethodGet, "/api/thing", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("WWW-Authenticate"); !strings.Contains(got, "invalid_token") {
		t.Errorf("challenge = %q", got)
	}

	// Valid token.
	req = httptest.NewRequest(http.MethodGet, "/api/thing", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotSubject != "u1" {
		t.Errorf("subject = %q", gotSubject)
	}

	// Scheme matching is case-insensitive.
	req = httptest.NewRequest(http.MethodGet, "/api/thing", nil)
	req.Header.Set("Authorization", "bearer "+access)
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("lowercase scheme status = %d", rec.Code)
	}

	// Valid token, missing scope.
	writeOnly := srv.RequireAuth("customers", "write")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req = httptest.NewRequest(http.MethodGet, "/api/thing", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	rec = httptest.NewRecorder()
	writeOnly.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("WWW-Authenticate"); !strings.Contains(got, "insufficient_scope") {
		t.Errorf("challenge = %q", got)
	}
}

func rsaKeyPair(t *testing.T) (privPEM, pubPEM []byte) {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	privPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(pk)})
	der, err := x509.MarshalPKIXPublicKey(&pk.PublicKey)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	pubPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return privPEM, pubPEM
}

func TestDiscoveryEndpoints(t *testing.T) {
	priv, pub := rsaKeyPair(t)
	reg, err := population.Resolve(population.Config{
		Populations: map[string]population.Definition{
			"partners": {
				Issuer:   "https://auth.example.com/partners",
				Audience: testAudience,
				Storage:  "main",
			},
		},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	bundle := newTestBundle(t, storage.SigningKey{ID: "rsa-1", Algorithm: "RS256", Private: priv, Public: pub})
	srv, err := tenantauth.New(reg,
		tenantauth.WithStorage("main", bundle),
		tenantauth.WithBaseURL("https://auth.example.com"),
	)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/partners/.well-known/jwks.json", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("jwks status = %d", rec.Code)
	}
	var set struct {
		Keys []map[string]any `json:"keys"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &set); err != nil {
		t.Fatalf("decode jwks: %v", err)
	}
	if len(set.Keys) != 1 || set.Keys[0]["kid"] != "rsa-1" {
		t.Errorf("jwks keys = %v", set.Keys)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/partners/.well-known/oauth-authorization-server", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metadata status = %d", rec.Code)
	}
	var meta map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &meta); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if meta["issuer"] != "https://auth.example.com/partners" {
		t.Errorf("issuer = %v", meta["issuer"])
	}
	if meta["token_endpoint"] != "https://auth.example.com/partners/token" {
		t.Errorf("token_endpoint = %v", meta["token_endpoint"])
	}
	if meta["jwks_uri"] != "https://auth.example.com/partners/.well-known/jwks.json" {
		t.Errorf("jwks_uri = %v", meta["jwks_uri"])
	}
}

func TestReloadAddsPopulation(t *testing.T) {
	srv := newTestServer(t)

	rec := postForm(t, srv, "/internal/token", url.Values{"grant_type": {"client_credentials"}}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("pre-reload status = %d", rec.Code)
	}

	reg, err := population.Resolve(population.Config{
		Populations: map[string]population.Definition{
			"customers": {Issuer: testIssuer, Audience: testAudience, Algorithm: "HS256", Storage: "main"},
			"internal":  {Issuer: "https://auth.example.com/internal", Audience: testAudience, Algorithm: "HS256", Storage: "main"},
		},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := srv.Reload(reg); err != nil {
		t.Fatalf("reload: %v", err)
	}

	rec = postForm(t, srv, "/internal/token", url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"web-app"},
		"client_secret": {"client-secret"},
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("post-reload status = %d: %s", rec.Code, rec.Body)
	}
}

func TestReloadRejectsDanglingBinding(t *testing.T) {
	srv := newTestServer(t)

	reg, err := population.Resolve(population.Config{
		Populations: map[string]population.Definition{
			"ghost": {Issuer: "https://auth.example.com/ghost", Audience: testAudience, Storage: "nowhere"},
		},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := srv.Reload(reg); err == nil {
		t.Fatal("reload accepted a dangling storage binding")
	}

	// The previous configuration stays live.
	if body := passwordToken(t, srv); body["access_token"] == "" {
		t.Error("previous configuration lost after failed reload")
	}
}

func TestExpiredAccessTokenRejectedByMiddleware(t *testing.T) {
	base := time.Now()
	clock := &fakeClock{now: base}
	srv := newTestServer(t, tenantauth.WithClock(clock.Now))

	issued := passwordToken(t, srv)
	access, _ := issued["access_token"].(string)

	protected := srv.RequireAuth("customers")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/thing", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("fresh token status = %d", rec.Code)
	}

	clock.now = base.Add(2 * time.Hour)
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expired token status = %d", rec.Code)
	}
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
