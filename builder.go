package authcore

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	internalaudit "github.com/tokenwarden/authcore/internal/audit"
	"github.com/tokenwarden/authcore/internal/logging"
	"github.com/tokenwarden/authcore/jwt"
	"github.com/tokenwarden/authcore/password"
	"github.com/tokenwarden/authcore/storage"
)

// dummyPassword is hashed once at Build so unknown identifiers cost one real
// Argon2id verification, same as a wrong password.
const dummyPassword = "authcore-dummy-password-never-matches"

// Builder assembles an Engine. A Builder is single-use.
type Builder struct {
	config Config
	store  storage.Store
	signer TokenSigner
	logger *slog.Logger
	clock  func() time.Time
	random io.Reader

	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the persistence backend (gormstore, redisstore, mongostore or any
// other storage.Store). Required.
func (b *Builder) WithStore(s storage.Store) *Builder {
	b.store = s
	return b
}

// WithTokenSigner replaces the built-in jwt.Manager. JWT key settings in Config are
// then ignored.
func (b *Builder) WithTokenSigner(s TokenSigner) *Builder {
	b.signer = s
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithClock overrides time.Now for every timestamp the Engine writes or compares.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithRandom overrides crypto/rand for refresh secrets, salts and identifiers.
func (b *Builder) WithRandom(r io.Reader) *Builder {
	b.random = r
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, constructs collaborators and computes the dummy
// hash.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.store == nil {
		return nil, errors.New("store required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.validate(b.signer == nil); err != nil {
		return nil, err
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}
	random := b.random
	if random == nil {
		random = rand.Reader
	}
	logger := b.logger
	if logger == nil {
		logger = logging.Discard()
	}

	ph, err := password.NewArgon2(cfg.Password.hasherConfig(), password.WithRandom(random))
	if err != nil {
		return nil, err
	}
	dummy, err := ph.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("compute dummy hash: %w", err)
	}

	signer := b.signer
	if signer == nil {
		jm, err := jwt.NewManager(jwt.Config{
			AccessTTL:     cfg.JWT.AccessTTL,
			SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
			PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
			PublicKey:     cloneBytes(cfg.JWT.PublicKey),
			Issuer:        cfg.JWT.Issuer,
			Audience:      cfg.JWT.Audience,
			Leeway:        cfg.JWT.Leeway,
			Now:           clock,
		})
		if err != nil {
			return nil, err
		}
		signer = jm
	}

	engine := &Engine{
		config:    cfg,
		store:     b.store,
		hasher:    ph,
		signer:    signer,
		dummyHash: dummy,
		log:       logger,
		clock:     clock,
		random:    random,
		metrics:   NewMetrics(cfg.Metrics),
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
	}

	b.built = true

	return engine, nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
