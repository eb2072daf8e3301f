package authcore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tokenwarden/authcore/password"
)

// Config is the complete Engine configuration. Build it from DefaultConfig and
// override fields; the Engine copies it at Build time.
type Config struct {
	JWT      JWTConfig
	Password PasswordConfig
	Account  AccountConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access-token signing and refresh-token lifetime.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id cost parameters and accepted password lengths.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength      int
	MaxLength      int
	UpgradeOnLogin bool
}

func (c PasswordConfig) hasherConfig() password.Config {
	return password.Config{
		Memory:      c.Memory,
		Time:        c.Time,
		Parallelism: c.Parallelism,
		SaltLength:  c.SaltLength,
		KeyLength:   c.KeyLength,
	}
}

// AccountConfig controls account creation.
type AccountConfig struct {
	DefaultRole Role
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull sheds info and warning events on a full buffer. Critical events
	// (refresh_reuse_detected) always wait.
	DropIfFull bool
}

// MetricsConfig controls in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

const (
	defaultAccessTTL  = 900 * time.Second
	defaultRefreshTTL = 30 * 24 * time.Hour
)

// DefaultConfig returns the production defaults: 15 minute access tokens, 30 day
// refresh tokens, Argon2id at 64 MiB / t=3 / p=2. Signing keys must still be set.
func DefaultConfig() Config {
	pw := password.DefaultConfig()
	return Config{
		JWT: JWTConfig{
			AccessTTL:     defaultAccessTTL,
			RefreshTTL:    defaultRefreshTTL,
			SigningMethod: "ed25519",
		},
		Password: PasswordConfig{
			Memory:         pw.Memory,
			Time:           pw.Time,
			Parallelism:    pw.Parallelism,
			SaltLength:     pw.SaltLength,
			KeyLength:      pw.KeyLength,
			MinLength:      8,
			MaxLength:      128,
			UpgradeOnLogin: true,
		},
		Account: AccountConfig{
			DefaultRole: RoleUser,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

// Validate rejects configurations the Engine cannot run with. When a custom
// TokenSigner is supplied through the Builder, JWT key checks are skipped.
func (c *Config) Validate() error {
	return c.validate(true)
}

func (c *Config) validate(checkKeys bool) error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must exceed AccessTTL")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}
	if c.JWT.Issuer != "" && strings.TrimSpace(c.JWT.Issuer) == "" {
		return errors.New("JWT Issuer must not be blank")
	}
	if c.JWT.Audience != "" && strings.TrimSpace(c.JWT.Audience) == "" {
		return errors.New("JWT Audience must not be blank")
	}
	if checkKeys {
		switch c.JWT.SigningMethod {
		case "ed25519":
			if len(c.JWT.PrivateKey) == 0 && len(c.JWT.PublicKey) == 0 {
				return errors.New("ed25519 requires PrivateKey")
			}
		case "hs256":
			if len(c.JWT.PrivateKey) == 0 {
				return errors.New("hs256 requires PrivateKey")
			}
		default:
			return errors.New("unsupported JWT signing method")
		}
	}

	// Password
	if err := c.Password.hasherConfig().Validate(); err != nil {
		return fmt.Errorf("Password: %w", err)
	}
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}

	// Account
	if !c.Account.DefaultRole.Valid() {
		return errors.New("Account DefaultRole is not a known role")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}

// LintSeverity ranks Lint warnings.
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	default:
		return "HIGH"
	}
}

// LintWarning is one weak-but-legal setting.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintWarnings is the result of Config.Lint.
type LintWarnings []LintWarning

// Codes returns the warning codes in order.
func (ws LintWarnings) Codes() []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Code)
	}
	return out
}

// BySeverity returns the warnings at or above min.
func (ws LintWarnings) BySeverity(min LintSeverity) LintWarnings {
	var out LintWarnings
	for _, w := range ws {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError folds warnings at or above min into one error, or nil when there are none.
func (ws LintWarnings) AsError(min LintSeverity) error {
	hits := ws.BySeverity(min)
	if len(hits) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(hits))
	for _, w := range hits {
		msgs = append(msgs, fmt.Sprintf("[%s] %s: %s", w.Severity, w.Code, w.Message))
	}
	return errors.New("config lint: " + strings.Join(msgs, "; "))
}

// Lint reports settings that pass Validate but weaken the deployment. It never
// fails; callers decide whether to log or refuse.
func (c Config) Lint() LintWarnings {
	var ws LintWarnings
	add := func(code string, sev LintSeverity, msg string) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: msg})
	}

	if c.JWT.AccessTTL > defaultAccessTTL {
		add("access_ttl_long", LintWarn, "access tokens live longer than 15 minutes and cannot be revoked early")
	}
	if c.JWT.RefreshTTL > 90*24*time.Hour {
		add("refresh_ttl_long", LintWarn, "refresh tokens live longer than 90 days")
	}
	if c.JWT.Leeway > time.Minute {
		add("leeway_large", LintWarn, "JWT leeway above one minute")
	}
	if c.JWT.SigningMethod == "hs256" {
		add("signing_hs256", LintInfo, "hs256 shares the signing secret with every verifier")
		if len(c.JWT.PrivateKey) < 32 {
			add("hs256_secret_short", LintHigh, "hs256 secret shorter than 32 bytes")
		}
	}
	if c.JWT.Issuer == "" || c.JWT.Audience == "" {
		add("claims_unscoped", LintInfo, "access tokens carry no issuer or audience")
	}
	def := password.DefaultConfig()
	if c.Password.Memory < def.Memory {
		add("argon2_memory_low", LintWarn, "Argon2id memory below 64 MiB")
	}
	if c.Password.Time < def.Time {
		add("argon2_time_low", LintWarn, "Argon2id iterations below 3")
	}
	if !c.Password.UpgradeOnLogin {
		add("rehash_disabled", LintInfo, "hashes with outdated parameters are never upgraded")
	}
	if c.Password.MinLength < 8 {
		add("password_min_short", LintHigh, "passwords shorter than 8 characters are accepted")
	}
	if !c.Audit.Enabled {
		add("audit_disabled", LintInfo, "security events such as refresh reuse are not audited")
	} else if c.Audit.DropIfFull {
		add("audit_may_drop", LintInfo, "info and warning audit events are dropped when the buffer is full")
	}

	return ws
}
