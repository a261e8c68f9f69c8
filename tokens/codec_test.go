package tokens

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
	"time"
)

func genRSAPEM(t *testing.T) (private, public []byte) {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	private = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(pk)})
	pub, err := x509.MarshalPKIXPublicKey(&pk.PublicKey)
	if err != nil {
		t.Fatalf("marshal public: %v", err)
	}
	public = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub})
	return private, public
}

func testKey(t *testing.T, alg Algorithm) Key {
	t.Helper()
	if alg.Asymmetric() {
		priv, pub := genRSAPEM(t)
		return Key{ID: "issuer-" + string(alg), Algorithm: alg, Public: pub, Private: priv}
	}
	return Key{ID: "issuer-" + string(alg), Algorithm: alg, Private: []byte("a-shared-secret-of-decent-length")}
}

var allAlgorithms = []Algorithm{RS256, RS384, RS512, HS256, HS384, HS512}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, alg := range allAlgorithms {
		t.Run(string(alg), func(t *testing.T) {
			key := testKey(t, alg)
			now := time.Now()

			tok, err := Encode(key, "user-42", key.ID, "https://api.example.com", []string{"read", "write"}, time.Hour, now)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}

			claims := Decode(tok, key)
			if claims == nil {
				t.Fatal("decode returned nil for a freshly minted token")
			}
			if claims.Subject != "user-42" {
				t.Errorf("subject = %q, want user-42", claims.Subject)
			}
			if claims.Issuer != key.ID {
				t.Errorf("issuer = %q, want %q", claims.Issuer, key.ID)
			}
			if claims.Audience != "https://api.example.com" {
				t.Errorf("audience = %q", claims.Audience)
			}
			if !claims.HasScope("read") || !claims.HasScope("write") {
				t.Errorf("scopes = %v, want read+write", claims.Scopes)
			}
			if claims.HasScope("admin") {
				t.Error("unexpected admin scope")
			}
			if claims.IsExpired() {
				t.Error("fresh token reports expired")
			}
		})
	}
}

func TestDecodeRejectsTamperedPayload(t *testing.T) {
	for _, alg := range allAlgorithms {
		t.Run(string(alg), func(t *testing.T) {
			key := testKey(t, alg)
			tok, err := Encode(key, "user-42", key.ID, "aud", []string{"read"}, time.Hour, time.Now())
			if err != nil {
				t.Fatalf("encode: %v", err)
			}

			parts := strings.Split(tok, ".")
			if len(parts) != 3 {
				t.Fatalf("unexpected segment count %d", len(parts))
			}
			payload := []byte(parts[1])
			for i := range payload {
				mutated := make([]byte, len(payload))
				copy(mutated, payload)
				if mutated[i] == 'A' {
					mutated[i] = 'B'
				} else {
					mutated[i] = 'A'
				}
				forged := parts[0] + "." + string(mutated) + "." + parts[2]
				if Decode(forged, key) != nil {
					t.Fatalf("tampered byte %d accepted", i)
				}
			}
		})
	}
}

func TestDecodeRejectsWrongKey(t *testing.T) {
	for _, alg := range allAlgorithms {
		t.Run(string(alg), func(t *testing.T) {
			key := testKey(t, alg)
			other := testKey(t, alg)

			tok, err := Encode(key, "user-42", key.ID, "aud", nil, time.Hour, time.Now())
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if Decode(tok, other) != nil {
				t.Error("token signed with a different key was accepted")
			}
		})
	}
}

func TestDecodeRejectsAlgorithmConfusion(t *testing.T) {
	// A token signed with HS256 must not verify against an RS256 key, even
	// when the HMAC secret is the public PEM bytes.
	rsaKey := testKey(t, RS256)
	hmacKey := Key{ID: rsaKey.ID, Algorithm: HS256, Private: rsaKey.Public}

	tok, err := Encode(hmacKey, "user-42", rsaKey.ID, "aud", nil, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if Decode(tok, rsaKey) != nil {
		t.Error("HS256 token accepted by RS256 key")
	}
}

func TestDecodeMalformed(t *testing.T) {
	key := testKey(t, HS256)
	for _, tok := range []string{
		"",
		"not-a-token",
		"a.b",
		"a.b.c",
		"invalid.token.here",
	} {
		if Decode(tok, key) != nil {
			t.Errorf("Decode(%q) != nil", tok)
		}
	}
}

func TestPeekIssuer(t *testing.T) {
	key := testKey(t, HS256)
	tok, err := Encode(key, "sub", "the-issuer", "aud", nil, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	iss, ok := PeekIssuer(tok)
	if !ok || iss != "the-issuer" {
		t.Errorf("PeekIssuer = %q, %v", iss, ok)
	}
	if _, ok := PeekIssuer("garbage"); ok {
		t.Error("PeekIssuer accepted garbage")
	}
}

func TestPeekKeyID(t *testing.T) {
	key := testKey(t, HS256)
	tok, err := Encode(key, "sub", "iss", "aud", nil, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	kid, ok := PeekKeyID(tok)
	if !ok || kid != key.ID {
		t.Errorf("PeekKeyID = %q, %v", kid, ok)
	}
	if _, ok := PeekKeyID("garbage"); ok {
		t.Error("PeekKeyID accepted garbage")
	}
}

func TestEncodeUnsupportedAlgorithm(t *testing.T) {
	_, err := Encode(Key{ID: "k", Algorithm: "ES256", Private: []byte("x")}, "s", "i", "a", nil, time.Hour, time.Now())
	if err == nil {
		t.Fatal("expected error for ES256")
	}
}

func TestParseAlgorithm(t *testing.T) {
	for _, alg := range allAlgorithms {
		got, err := ParseAlgorithm(string(alg))
		if err != nil || got != alg {
			t.Errorf("ParseAlgorithm(%s) = %v, %v", alg, got, err)
		}
	}
	for _, bad := range []string{"", "none", "ES256", "rs256"} {
		if _, err := ParseAlgorithm(bad); err == nil {
			t.Errorf("ParseAlgorithm(%q) accepted", bad)
		}
	}
}
