package tokens

import "time"

// Claims is the verified payload of a decoded access token. It is a plain
// value: decoding does not freeze an expiry verdict into it, callers
// re-check IsExpired whenever they need a fresh answer.
type Claims struct {
	Subject  string
	Issuer   string
	Audience string
	Scopes   []string

	ExpiresAt time.Time
	IssuedAt  time.Time
}

// IsExpired reports whether the token's expiry has passed, evaluated
// against the wall clock at call time.
func (c *Claims) IsExpired() bool {
	return c.ExpiredAt(time.Now())
}

// ExpiredAt reports whether the token is expired relative to now. It exists
// so callers holding an injected clock can make deterministic checks.
func (c *Claims) ExpiredAt(now time.Time) bool {
	return c.ExpiresAt.Before(now)
}

// HasScope reports exact membership of scope in the granted scope list.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
