package refresh

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	// SecretSize is the number of random bytes behind every token.
	SecretSize = 32
	// EncodedLen is the length of an encoded token.
	EncodedLen = 43
)

// ErrMalformed is returned for tokens that cannot have been produced by Generate.
var ErrMalformed = errors.New("refresh: malformed token")

// Generate returns a new token read from r. A nil r uses crypto/rand.
func Generate(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}

	var secret [SecretSize]byte
	if _, err := io.ReadFull(r, secret[:]); err != nil {
		return "", fmt.Errorf("refresh: read secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(secret[:]), nil
}

// Validate checks the token's length and alphabet without touching storage.
func Validate(token string) error {
	if len(token) != EncodedLen {
		return ErrMalformed
	}
	raw, err := base64.RawURLEncoding.Strict().DecodeString(token)
	if err != nil || len(raw) != SecretSize {
		return ErrMalformed
	}
	return nil
}

// Digest returns the lookup key stored in place of the token.
func Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
