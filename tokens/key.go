package tokens

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Key is the signing material for one issuer. For the RS* algorithms both
// Public and Private must hold valid PEM-encoded RSA key material; for the
// HS* family Private holds the shared secret and Public is ignored.
//
// ID doubles as the JWT issuer string: resource servers look the key up by
// the unverified iss claim of an inbound token.
type Key struct {
	ID        string
	Algorithm Algorithm
	Public    []byte
	Private   []byte
}

// signer returns the signing method and the private key material in the
// form the jwt library expects.
func (k Key) signer() (jwt.SigningMethod, any, error) {
	m, err := k.Algorithm.method()
	if err != nil {
		return nil, nil, err
	}
	if !k.Algorithm.Asymmetric() {
		if len(k.Private) == 0 {
			return nil, nil, fmt.Errorf("tokens: key %q: missing shared secret", k.ID)
		}
		return m, k.Private, nil
	}
	priv, err := jwt.ParseRSAPrivateKeyFromPEM(k.Private)
	if err != nil {
		return nil, nil, fmt.Errorf("tokens: key %q: invalid private key: %w", k.ID, err)
	}
	return m, priv, nil
}

// verifier returns the signing method and the verification key material.
func (k Key) verifier() (jwt.SigningMethod, any, error) {
	m, err := k.Algorithm.method()
	if err != nil {
		return nil, nil, err
	}
	if !k.Algorithm.Asymmetric() {
		if len(k.Private) == 0 {
			return nil, nil, fmt.Errorf("tokens: key %q: missing shared secret", k.ID)
		}
		return m, k.Private, nil
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(k.Public)
	if err != nil {
		return nil, nil, fmt.Errorf("tokens: key %q: invalid public key: %w", k.ID, err)
	}
	return m, pub, nil
}
