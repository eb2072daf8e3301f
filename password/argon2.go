package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"
)

var (
	// ErrEmptyPassword is returned by Hash for a zero-length password.
	ErrEmptyPassword = errors.New("password: empty password")

	errInvalidPHC = errors.New("password: invalid PHC string")
)

// Config holds the Argon2id cost parameters. It is a plain value: build it once,
// pass it to NewArgon2 and never mutate it afterwards.
type Config struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig returns parameters that cost roughly 50-100ms per hash on current
// server hardware.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2 hashes and verifies passwords. It is safe for concurrent use.
type Argon2 struct {
	config Config
	rand   io.Reader
	derive func(password, salt []byte, time, memory uint32, threads uint8, keyLen uint32) []byte
	// filler is the salt used when a stored hash cannot be parsed.
	filler []byte
}

// Option customises an Argon2 hasher.
type Option func(*Argon2)

// WithRandom replaces the salt source. The reader must be cryptographically secure.
func WithRandom(r io.Reader) Option {
	return func(a *Argon2) {
		if r != nil {
			a.rand = r
		}
	}
}

type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

// NewArgon2 validates cfg against the minimum accepted cost and returns a hasher.
func NewArgon2(cfg Config, opts ...Option) (*Argon2, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Argon2{
		config: cfg,
		rand:   rand.Reader,
		derive: argon2.IDKey,
		filler: make([]byte, cfg.SaltLength),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Config returns the parameters the hasher was built with.
func (a *Argon2) Config() Config {
	return a.config
}

// Hash derives a new PHC-encoded hash with a fresh random salt. Any error here is
// fatal to the caller: there is no fallback hash.
func (a *Argon2) Hash(password string) (string, error) {
	// Raw string bytes are hashed as given, no Unicode normalisation.
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(a.rand, salt); err != nil {
		return "", fmt.Errorf("password: read salt: %w", err)
	}

	key := a.derive(
		[]byte(password),
		salt,
		a.config.Time,
		a.config.Memory,
		a.config.Parallelism,
		a.config.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		a.config.Memory,
		a.config.Time,
		a.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the key with the parameters stored in encodedHash and compares
// in constant time. Malformed hashes yield false, never an error, after a derivation
// at the hasher's own cost so they take as long as a real mismatch.
func (a *Argon2) Verify(password, encodedHash string) bool {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		a.derive(
			[]byte(password),
			a.filler,
			a.config.Time,
			a.config.Memory,
			a.config.Parallelism,
			a.config.KeyLength,
		)
		return false
	}

	computed := a.derive(
		[]byte(password),
		parsed.salt,
		parsed.time,
		parsed.memory,
		parsed.parallelism,
		uint32(len(parsed.key)),
	)

	return subtle.ConstantTimeCompare(computed, parsed.key) == 1
}

// NeedsUpgrade reports whether encodedHash was produced with cheaper parameters than
// the hasher's own. Unparseable hashes report true.
func (a *Argon2) NeedsUpgrade(encodedHash string) bool {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return true
	}

	switch {
	case a.config.Memory > parsed.memory,
		a.config.Time > parsed.time,
		a.config.Parallelism > parsed.parallelism,
		a.config.KeyLength != uint32(len(parsed.key)):
		return true
	}
	return false
}

// Validate checks the parameters against the minimum accepted cost.
func (c Config) Validate() error {
	switch {
	case c.Memory < minMemoryKB:
		return fmt.Errorf("password: memory must be >= %d KiB", minMemoryKB)
	case c.Time < minTimeCost:
		return errors.New("password: time must be >= 1")
	case c.Parallelism < minParallelism:
		return errors.New("password: parallelism must be >= 1")
	case c.SaltLength < minSaltLength:
		return fmt.Errorf("password: salt length must be >= %d", minSaltLength)
	case c.KeyLength < minKeyLength:
		return fmt.Errorf("password: key length must be >= %d", minKeyLength)
	}
	return nil
}

func parsePHC(encoded string) (*phc, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return nil, errInvalidPHC
	}

	version, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return nil, errInvalidPHC
	}
	if v, err := strconv.Atoi(version); err != nil || v != argon2.Version {
		return nil, errInvalidPHC
	}

	out := &phc{}
	if err := out.parseParams(parts[3]); err != nil {
		return nil, err
	}

	salt, err := decodeSegment(parts[4])
	if err != nil || len(salt) < int(minSaltLength) {
		return nil, errInvalidPHC
	}
	key, err := decodeSegment(parts[5])
	if err != nil || len(key) < int(minKeyLength) {
		return nil, errInvalidPHC
	}
	out.salt = salt
	out.key = key

	return out, nil
}

func (p *phc) parseParams(segment string) error {
	var seen [3]bool
	for _, pair := range strings.Split(segment, ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return errInvalidPHC
		}

		switch name {
		case "m":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return errInvalidPHC
			}
			p.memory = uint32(v)
			seen[0] = true
		case "t":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v < uint64(minTimeCost) {
				return errInvalidPHC
			}
			p.time = uint32(v)
			seen[1] = true
		case "p":
			v, err := strconv.ParseUint(value, 10, 8)
			if err != nil || v < uint64(minParallelism) {
				return errInvalidPHC
			}
			p.parallelism = uint8(v)
			seen[2] = true
		default:
			return errInvalidPHC
		}
	}

	if !seen[0] || !seen[1] || !seen[2] {
		return errInvalidPHC
	}
	return nil
}

// decodeSegment accepts both unpadded (reference PHC) and padded base64.
func decodeSegment(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
