// Package tokens implements the JWT access-token codec used by the token
// service and by resource servers validating bearer tokens.
//
// A Key carries the signing material for one issuer: PEM-encoded RSA key
// pairs for the RS* algorithms, or a shared secret for the HS* family.
// Encode mints a compact signed token carrying the standard iss/aud/sub/
// iat/exp claims plus a custom "scopes" claim. Decode verifies a compact
// token against a Key and returns the extracted Claims.
//
// Decode deliberately returns nil on every verification failure - malformed
// input, signature mismatch, missing claims - without distinguishing why.
// Callers must treat the absence of claims as the only observable outcome
// of an invalid token; surfacing the reason would hand an oracle to
// attackers probing the verification path.
//
// Expiry is not checked at decode time. Claims are a passive value and
// IsExpired re-evaluates against the clock at each call, so a decoded
// token can be re-checked as time passes.
package tokens
