package tokens

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnsupportedAlgorithm indicates a signing algorithm outside the closed
// supported set. It is fatal to the current request and never retryable.
var ErrUnsupportedAlgorithm = errors.New("tokens: unsupported algorithm")

// Algorithm is a JWS signing algorithm from the closed set this package
// supports. The zero value is invalid.
type Algorithm string

const (
	RS256 Algorithm = "RS256"
	RS384 Algorithm = "RS384"
	RS512 Algorithm = "RS512"
	HS256 Algorithm = "HS256"
	HS384 Algorithm = "HS384"
	HS512 Algorithm = "HS512"
)

// ParseAlgorithm maps a string onto the supported set.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(s); a {
	case RS256, RS384, RS512, HS256, HS384, HS512:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s)
	}
}

// Asymmetric reports whether the algorithm uses an RSA key pair rather than
// a shared secret.
func (a Algorithm) Asymmetric() bool {
	switch a {
	case RS256, RS384, RS512:
		return true
	}
	return false
}

// method resolves the jwt signing method for the algorithm. Unknown
// algorithms are rejected here, at the boundary, rather than dispatched
// dynamically.
func (a Algorithm) method() (jwt.SigningMethod, error) {
	switch a {
	case RS256:
		return jwt.SigningMethodRS256, nil
	case RS384:
		return jwt.SigningMethodRS384, nil
	case RS512:
		return jwt.SigningMethodRS512, nil
	case HS256:
		return jwt.SigningMethodHS256, nil
	case HS384:
		return jwt.SigningMethodHS384, nil
	case HS512:
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, string(a))
	}
}
