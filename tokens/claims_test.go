package tokens

import (
	"testing"
	"time"
)

func TestClaimsExpiry(t *testing.T) {
	now := time.Now()

	past := &Claims{ExpiresAt: now.Add(-time.Minute)}
	if !past.IsExpired() {
		t.Error("claims with exp in the past report not expired")
	}

	future := &Claims{ExpiresAt: now.Add(time.Minute)}
	if future.IsExpired() {
		t.Error("claims with exp in the future report expired")
	}

	// The verdict is a function of the clock, not of decode time.
	if !future.ExpiredAt(now.Add(2 * time.Minute)) {
		t.Error("ExpiredAt ignored the supplied clock")
	}
	if past.ExpiredAt(now.Add(-2 * time.Minute)) {
		t.Error("ExpiredAt ignored the supplied clock")
	}
}

func TestClaimsHasScope(t *testing.T) {
	c := &Claims{Scopes: []string{"read", "write"}}
	if !c.HasScope("read") {
		t.Error("missing read")
	}
	if c.HasScope("rea") || c.HasScope("READ") || c.HasScope("") {
		t.Error("HasScope is not exact membership")
	}

	empty := &Claims{}
	if empty.HasScope("read") {
		t.Error("empty scope list matched")
	}
}
