package refresh

import (
	"bytes"
	"strings"
	"testing"
)

func TestGenerateProducesValidToken(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		token, err := Generate(nil)
		if err != nil {
			t.Fatalf("Generate error: %v", err)
		}
		if len(token) != EncodedLen {
			t.Fatalf("expected %d chars, got %d", EncodedLen, len(token))
		}
		if strings.ContainsAny(token, "+/=") {
			t.Fatalf("expected base64url without padding: %s", token)
		}
		if err := Validate(token); err != nil {
			t.Fatalf("generated token failed validation: %v", err)
		}
		if _, dup := seen[token]; dup {
			t.Fatalf("duplicate token generated: %s", token)
		}
		seen[token] = struct{}{}
	}
}

func TestGenerateShortReader(t *testing.T) {
	if _, err := Generate(bytes.NewReader(make([]byte, 10))); err == nil {
		t.Fatal("expected error when random source is exhausted")
	}
}

func TestValidateRejectsMalformed(t *testing.T) {
	good, err := Generate(bytes.NewReader(bytes.Repeat([]byte{7}, SecretSize)))
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}

	cases := map[string]string{
		"empty":      "",
		"short":      good[:42],
		"long":       good + "A",
		"std alpha":  "+" + good[1:],
		"padding":    good[:42] + "=",
		"whitespace": " " + good[1:],
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if err := Validate(token); err != ErrMalformed {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestDigestIsStableHex(t *testing.T) {
	token := "abc"
	// sha256("abc")
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := Digest(token); got != want {
		t.Fatalf("unexpected digest: %s", got)
	}
	if Digest("abd") == want {
		t.Fatal("expected different digests for different tokens")
	}
}
