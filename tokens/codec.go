package tokens

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Encode mints a compact signed access token. The issue time is passed in
// rather than read from the wall clock so the engine can inject its clock
// and tests stay deterministic.
func Encode(key Key, subject, issuer, audience string, scopes []string, ttl time.Duration, now time.Time) (string, error) {
	method, signKey, err := key.signer()
	if err != nil {
		return "", err
	}
	if scopes == nil {
		scopes = []string{}
	}
	claims := jwt.MapClaims{
		"iss":    issuer,
		"aud":    audience,
		"sub":    subject,
		"iat":    jwt.NewNumericDate(now),
		"exp":    jwt.NewNumericDate(now.Add(ttl)),
		"scopes": scopes,
	}
	tok := jwt.NewWithClaims(method, claims)
	if key.ID != "" {
		tok.Header["kid"] = key.ID
	}
	return tok.SignedString(signKey)
}

// Decode parses and verifies a compact token against key. It returns nil on
// any failure: malformed input, an algorithm other than the key's own,
// signature mismatch, or missing required claims. The reason is never
// surfaced. Expiry is NOT enforced here; see Claims.
func Decode(token string, key Key) *Claims {
	method, verifyKey, err := key.verifier()
	if err != nil {
		return nil
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	parsed, err := parser.Parse(token, func(t *jwt.Token) (any, error) {
		return verifyKey, nil
	})
	if err != nil || !parsed.Valid {
		return nil
	}

	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil
	}
	return claimsFromMap(mc)
}

// PeekIssuer extracts the iss claim without verifying the signature. It is
// the first half of the validation path: the issuer names the key, the
// caller then re-parses with that key's material.
func PeekIssuer(token string) (string, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return "", false
	}
	iss, err := parsed.Claims.GetIssuer()
	if err != nil || iss == "" {
		return "", false
	}
	return iss, true
}

// PeekKeyID extracts the kid header without verifying the signature.
func PeekKeyID(token string) (string, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return "", false
	}
	kid, _ := parsed.Header["kid"].(string)
	return kid, kid != ""
}

// FromMap builds Claims from an already verified raw claim map. It returns
// nil when a required claim is absent, mirroring Decode.
func FromMap(mc map[string]any) *Claims {
	return claimsFromMap(jwt.MapClaims(mc))
}

func claimsFromMap(mc jwt.MapClaims) *Claims {
	sub, _ := mc["sub"].(string)
	iss, _ := mc["iss"].(string)
	if sub == "" || iss == "" {
		return nil
	}

	var aud string
	switch v := mc["aud"].(type) {
	case string:
		aud = v
	case []any:
		if len(v) > 0 {
			aud, _ = v[0].(string)
		}
	case []string:
		if len(v) > 0 {
			aud = v[0]
		}
	}

	exp, err := mc.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	iat, err := mc.GetIssuedAt()
	if err != nil || iat == nil {
		return nil
	}

	scopes := []string{}
	switch v := mc["scopes"].(type) {
	case []any:
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil
			}
			scopes = append(scopes, s)
		}
	case []string:
		scopes = append(scopes, v...)
	case nil:
		// absent scopes claim decodes as empty
	default:
		return nil
	}

	return &Claims{
		Subject:   sub,
		Issuer:    iss,
		Audience:  aud,
		Scopes:    scopes,
		ExpiresAt: exp.Time,
		IssuedAt:  iat.Time,
	}
}
