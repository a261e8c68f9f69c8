// Package wellknown builds the discovery documents published per
// population: the JWKS key set and the RFC 8414 authorization server
// metadata.
package wellknown

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/ggoodman/tenantauth/population"
	"github.com/ggoodman/tenantauth/storage"
	"github.com/ggoodman/tenantauth/tokens"
)

// AuthorizationServerMetadata is the RFC 8414 document advertising one
// population's endpoints and capabilities.
type AuthorizationServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint,omitempty"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint,omitempty"`
	JwksURI                           string   `json:"jwks_uri,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
}

// Metadata assembles the advertisement document for one population.
// baseURL is the externally visible origin the routes are mounted under.
func Metadata(ctx context.Context, pop *population.Population, baseURL string, scopes storage.ScopeProvider) (*AuthorizationServerMetadata, error) {
	meta := &AuthorizationServerMetadata{
		Issuer:                            pop.Issuer,
		TokenEndpoint:                     baseURL + pop.Routes.Token,
		RevocationEndpoint:                baseURL + pop.Routes.Revoke,
		ResponseTypesSupported:            []string{},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post"},
	}
	for _, g := range pop.AllowedGrants() {
		meta.GrantTypesSupported = append(meta.GrantTypesSupported, string(g))
	}
	if pop.AllowsGrant(population.GrantAuthorizationCode) {
		meta.AuthorizationEndpoint = baseURL + pop.Routes.Authorize
		meta.ResponseTypesSupported = []string{"code"}
	}
	if alg, err := tokens.ParseAlgorithm(pop.Algorithm); err == nil && alg.Asymmetric() {
		meta.JwksURI = baseURL + pop.Routes.JWKS
	}
	if scopes != nil {
		available, err := scopes.AvailableScopes(ctx)
		if err != nil {
			return nil, fmt.Errorf("list scopes: %w", err)
		}
		meta.ScopesSupported = available
	}
	return meta, nil
}

// JWKS builds the published key set from the population's signing keys.
// HMAC keys are shared secrets and never appear in the document; a
// population signing exclusively with HMAC publishes an empty set.
func JWKS(ctx context.Context, keys storage.SigningKeyStore) (*jose.JSONWebKeySet, error) {
	all, err := keys.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list signing keys: %w", err)
	}

	set := &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{}}
	for _, k := range all {
		alg, err := tokens.ParseAlgorithm(k.Algorithm)
		if err != nil || !alg.Asymmetric() {
			continue
		}
		pub, err := parseRSAPublicKey(k.Public)
		if err != nil {
			return nil, fmt.Errorf("signing key %q: %w", k.ID, err)
		}
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       pub,
			KeyID:     k.ID,
			Algorithm: string(alg),
			Use:       "sig",
		})
	}
	return set, nil
}

func parseRSAPublicKey(pemBytes []byte) (any, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in public key material")
	}
	if pub, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		return pub, nil
	}
	pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return pub, nil
}
