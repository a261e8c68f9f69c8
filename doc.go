// Package tenantauth is a multi-tenant OAuth2 authorization and resource
// protection layer. Each tenant, called a population, is an isolated
// configuration domain with its own issuer, signing keys, token lifetimes,
// grant policy and storage backend.
//
// A Server mounts the token, authorization, revocation and discovery
// endpoints for every configured population and exposes bearer-token
// middleware for protecting application routes:
//
//	reg, err := population.LoadFile("populations.json")
//	srv, err := tenantauth.New(reg,
//		tenantauth.WithStorage("main", bundle),
//	)
//	http.ListenAndServe(":8080", srv)
//
// Resource-side protection attaches to any handler:
//
//	mux.Handle("/api/", srv.RequireAuth("customers", "read")(apiHandler))
//
// Access tokens are self-contained signed JWTs and are never stored;
// refresh tokens are persisted server-side, rotate on every use along with
// revocation of their predecessor, and can be revoked explicitly.
package tenantauth
