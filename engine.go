package authcore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	internalaudit "github.com/tokenwarden/authcore/internal/audit"
	internalflows "github.com/tokenwarden/authcore/internal/flows"
	"github.com/tokenwarden/authcore/internal/logging"
	"github.com/tokenwarden/authcore/password"
	"github.com/tokenwarden/authcore/refresh"
	"github.com/tokenwarden/authcore/storage"
)

// Engine is the authentication core: credential verification, token issuance,
// refresh rotation with reuse detection, and revocation.
//
// An Engine is built once through Builder and is safe for concurrent use. Every
// store-backed operation is a single atomic statement or transaction against the
// configured storage.Store, so any number of Engine instances may share one store.
type Engine struct {
	config    Config
	store     storage.Store
	hasher    *password.Argon2
	signer    TokenSigner
	dummyHash string
	log       *slog.Logger
	clock     func() time.Time
	random    io.Reader
	audit     *internalaudit.Dispatcher
	metrics   *Metrics
}

// Close flushes and stops the audit dispatcher. The store is owned by the caller.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were dropped because the buffer was
// full or the caller's context ended first. Critical events are never shed for a
// full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditStats returns delivered and dropped audit events per severity. Both maps are
// non-nil; they are empty when audit is disabled.
func (e *Engine) AuditStats() AuditStats {
	var d *internalaudit.Dispatcher
	if e != nil {
		d = e.audit
	}
	return d.Stats()
}

// MetricsSnapshot returns a copy of the Engine counters and histograms.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the configuration the Engine was built with.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observe(id MetricID, start time.Time) {
	if e == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}

func (e *Engine) ready() bool {
	return e != nil && e.store != nil && e.hasher != nil && e.signer != nil
}

func (e *Engine) now() time.Time {
	return e.clock()
}

/*
====================================
USERS
====================================
*/

// CreateUser validates and normalizes the input, hashes the password and inserts the
// user. A taken email or phone returns ErrUserExists.
func (e *Engine) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	const op = "authcore.CreateUser"
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	log := e.log.With(slog.String("op", op))

	u, err := e.newUser(in)
	if err != nil {
		e.metricInc(MetricAccountCreationFailure)
		e.emitAudit(ctx, auditEventAccountCreationFailure, false, "", err, nil)
		return nil, err
	}

	hash, err := e.hasher.Hash(in.Password)
	if err != nil {
		log.Error("password hashing failed", logging.Err(err))
		e.metricInc(MetricAccountCreationFailure)
		err = internalFailure(err)
		e.emitAudit(ctx, auditEventAccountCreationFailure, false, "", err, nil)
		return nil, err
	}
	u.PasswordHash = hash

	if err := e.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			log.Info("account already exists")
			e.metricInc(MetricAccountCreationDuplicate)
			e.emitAudit(ctx, auditEventAccountCreationDuplicate, false, "", ErrUserExists, nil)
			return nil, ErrUserExists
		}
		log.Error("failed to create user", logging.Err(err))
		e.metricInc(MetricAccountCreationFailure)
		err = storageFailure(err)
		e.emitAudit(ctx, auditEventAccountCreationFailure, false, "", err, nil)
		return nil, err
	}

	log.Info("user created", slog.String("user_id", u.ID), slog.String("role", u.Role))
	e.metricInc(MetricAccountCreationSuccess)
	e.emitAudit(ctx, auditEventAccountCreationSuccess, true, u.ID, nil, func() map[string]string {
		return map[string]string{"role": u.Role}
	})
	return publicUser(u), nil
}

func (e *Engine) newUser(in CreateUserInput) (*storage.User, error) {
	u := &storage.User{
		FullName: strings.TrimSpace(in.FullName),
		IsActive: true,
	}

	if strings.TrimSpace(in.Email) == "" && strings.TrimSpace(in.Phone) == "" {
		return nil, invalidInput("identifier")
	}
	if strings.TrimSpace(in.Email) != "" {
		email := internalflows.NormalizeEmail(in.Email)
		if !internalflows.ValidEmail(email) {
			return nil, invalidInput("email")
		}
		u.Email = &email
	}
	if strings.TrimSpace(in.Phone) != "" {
		phone, ok := internalflows.NormalizePhone(in.Phone)
		if !ok {
			return nil, invalidInput("phone")
		}
		u.Phone = &phone
	}

	n := utf8.RuneCountInString(in.Password)
	if n < e.config.Password.MinLength || n > e.config.Password.MaxLength {
		return nil, invalidInput("password")
	}

	role := in.Role
	if role == "" {
		role = e.config.Account.DefaultRole
	}
	if !role.Valid() {
		return nil, invalidInput("role")
	}
	u.Role = string(role)

	if len(in.Metadata) > 0 {
		u.Metadata = make(map[string]string, len(in.Metadata))
		for k, v := range in.Metadata {
			u.Metadata[k] = v
		}
	}

	id, err := uuid.NewRandomFromReader(e.random)
	if err != nil {
		return nil, internalFailure(err)
	}
	u.ID = id.String()

	now := e.now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	return u, nil
}

// FindUserByID returns the public profile of userID, active or not.
func (e *Engine) FindUserByID(ctx context.Context, userID string) (*User, error) {
	const op = "authcore.FindUserByID"
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if strings.TrimSpace(userID) == "" {
		return nil, invalidInput("user_id")
	}

	u, err := e.store.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		e.log.Error("failed to load user", slog.String("op", op), logging.Err(err))
		return nil, storageFailure(err)
	}
	return publicUser(u), nil
}

/*
====================================
CREDENTIALS
====================================
*/

// VerifyCredentials checks identifier (email or phone) and password. Unknown
// identifiers, wrong passwords and inactive accounts all return
// ErrInvalidCredentials; the distinction is only logged and audited.
func (e *Engine) VerifyCredentials(ctx context.Context, identifier, password string) (*User, error) {
	u, err := e.verifyCredentials(ctx, identifier, password)
	if err != nil {
		return nil, err
	}
	return publicUser(u), nil
}

func (e *Engine) verifyCredentials(ctx context.Context, identifier, password string) (*storage.User, error) {
	const op = "authcore.VerifyCredentials"
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.observe(MetricLoginLatency, start)
	log := e.log.With(slog.String("op", op))

	res := internalflows.RunVerifyCredentials(ctx, identifier, password, e.credentialFlowDeps(log))

	switch res.Failure {
	case internalflows.CredentialFailureNone:
		if res.Rehashed {
			e.metricInc(MetricPasswordRehash)
			log.Debug("password hash upgraded", slog.String("user_id", res.User.ID))
		}
		log.Info("credentials verified", slog.String("user_id", res.User.ID))
		e.metricInc(MetricLoginSuccess)
		e.emitAudit(ctx, auditEventLoginSuccess, true, res.User.ID, nil, nil)
		return res.User, nil

	case internalflows.CredentialFailureInput:
		return nil, invalidInput(res.Field)

	case internalflows.CredentialFailureUnknownIdentifier,
		internalflows.CredentialFailureWrongPassword,
		internalflows.CredentialFailureInactive:
		reason := res.Failure.Reason()
		var userID string
		if res.User != nil {
			userID = res.User.ID
		}
		log.Warn("credential verification failed", slog.String("reason", reason), slog.String("user_id", userID))
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, userID, ErrInvalidCredentials, reasonMetadata(reason))
		return nil, ErrInvalidCredentials

	case internalflows.CredentialFailureStorage:
		log.Error("user lookup failed", logging.Err(res.Err))
		e.metricInc(MetricLoginFailure)
		return nil, storageFailure(res.Err)

	default:
		return nil, ErrEngineNotReady
	}
}

func (e *Engine) credentialFlowDeps(log *slog.Logger) internalflows.CredentialDeps {
	return internalflows.CredentialDeps{
		Store:          e.store,
		Verify:         e.hasher.Verify,
		NeedsUpgrade:   e.hasher.NeedsUpgrade,
		HashPassword:   e.hasher.Hash,
		DummyHash:      e.dummyHash,
		UpgradeOnLogin: e.config.Password.UpgradeOnLogin,
		Now:            e.clock,
		Warn:           log.Warn,
	}
}

/*
====================================
TOKENS
====================================
*/

// Login verifies credentials and issues a token pair.
func (e *Engine) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	u, err := e.verifyCredentials(ctx, identifier, password)
	if err != nil {
		return nil, err
	}
	pair, err := e.issueTokenPair(ctx, u)
	if err != nil {
		return nil, err
	}
	return &LoginResult{TokenPair: *pair, User: publicUser(u)}, nil
}

// IssueTokenPair mints an access token and a persisted refresh token for user. Only
// user.ID is read; the active flag and role come from the stored row. The refresh row
// is committed before the pair is returned.
func (e *Engine) IssueTokenPair(ctx context.Context, user *User) (*TokenPair, error) {
	const op = "authcore.IssueTokenPair"
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return nil, invalidInput("user")
	}

	row, err := e.store.UserByID(ctx, user.ID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		e.log.Error("failed to load user", slog.String("op", op), logging.Err(err))
		return nil, storageFailure(err)
	}
	return e.issueTokenPair(ctx, row)
}

func (e *Engine) issueTokenPair(ctx context.Context, u *storage.User) (*TokenPair, error) {
	const op = "authcore.IssueTokenPair"
	log := e.log.With(slog.String("op", op), slog.String("user_id", u.ID))

	res := internalflows.RunIssueTokenPair(ctx, u, internalflows.IssueDeps{
		Store:  e.store,
		Tokens: e.tokenSource(),
		Now:    e.clock,
	})

	switch res.Failure {
	case internalflows.IssueFailureNone:
		log.Debug("token pair issued")
		e.metricInc(MetricTokenPairIssued)
		e.emitAudit(ctx, auditEventTokenPairIssued, true, u.ID, nil, nil)
		return e.pair(res.AccessToken, res.RefreshToken), nil
	case internalflows.IssueFailureInactive:
		log.Warn("token issuance refused", slog.String("reason", "inactive_account"))
		return nil, ErrUserAccountInactive
	case internalflows.IssueFailureMint:
		log.Error("failed to mint token pair", logging.Err(res.Err))
		return nil, internalFailure(res.Err)
	case internalflows.IssueFailurePersist:
		log.Error("failed to persist refresh token", logging.Err(res.Err))
		return nil, storageFailure(res.Err)
	default:
		return nil, ErrEngineNotReady
	}
}

func (e *Engine) tokenSource() internalflows.TokenSource {
	return internalflows.TokenSource{
		SignAccess: func(u *storage.User) (string, error) {
			var email string
			if u.Email != nil {
				email = *u.Email
			}
			return e.signer.CreateAccess(u.ID, u.Role, email)
		},
		NewSecret: func() (string, error) {
			return refresh.Generate(e.random)
		},
		NewID: func() (string, error) {
			id, err := uuid.NewRandomFromReader(e.random)
			if err != nil {
				return "", err
			}
			return id.String(), nil
		},
		RefreshTTL: e.config.JWT.RefreshTTL,
	}
}

func (e *Engine) pair(access, refreshToken string) *TokenPair {
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(e.signer.AccessTTL() / time.Second),
	}
}

// Refresh rotates a refresh token. Presenting a token that was already consumed, or
// losing the claim to a concurrent caller, revokes every active refresh token of the
// owner and returns ErrRefreshTokenReuse.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	const op = "authcore.Refresh"
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.observe(MetricRefreshLatency, start)
	log := e.log.With(slog.String("op", op))

	res := internalflows.RunRefresh(ctx, refreshToken, internalflows.RefreshDeps{
		Store:  e.store,
		Tokens: e.tokenSource(),
		Now:    e.clock,
	})
	reason := res.Failure.Reason()
	if res.UserID != "" {
		log = log.With(slog.String("user_id", res.UserID))
	}

	switch res.Failure {
	case internalflows.RefreshFailureNone:
		log.Debug("refresh token rotated")
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, auditEventRefreshSuccess, true, res.UserID, nil, nil)
		return &RefreshResult{
			TokenPair: *e.pair(res.AccessToken, res.RefreshToken),
			User:      publicUser(res.User),
		}, nil

	case internalflows.RefreshFailureMalformed, internalflows.RefreshFailureUnknown:
		log.Warn("refresh rejected", slog.String("reason", reason))
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", ErrInvalidRefreshToken, reasonMetadata(reason))
		return nil, ErrInvalidRefreshToken

	case internalflows.RefreshFailureExpired:
		log.Warn("refresh rejected", slog.String("reason", reason))
		e.metricInc(MetricRefreshFailure)
		e.metricInc(MetricRefreshExpired)
		e.emitAudit(ctx, auditEventRefreshExpired, false, res.UserID, ErrRefreshTokenExpired, nil)
		return nil, ErrRefreshTokenExpired

	case internalflows.RefreshFailureInactive:
		log.Warn("refresh rejected", slog.String("reason", reason))
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInactive, false, res.UserID, ErrUserAccountInactive, nil)
		return nil, ErrUserAccountInactive

	case internalflows.RefreshFailureReuse, internalflows.RefreshFailureLostRace:
		log.Error("refresh token reuse detected",
			slog.String("reason", reason),
			slog.Int64("revoked", res.Revoked),
		)
		e.metricInc(MetricRefreshFailure)
		e.metricInc(MetricRefreshReuseDetected)
		if res.Failure == internalflows.RefreshFailureLostRace {
			e.metricInc(MetricRefreshRaceLost)
		}
		e.emitAudit(ctx, auditEventRefreshReuseDetected, false, res.UserID, ErrRefreshTokenReuse, func() map[string]string {
			return map[string]string{
				"reason":  reason,
				"revoked": strconv.FormatInt(res.Revoked, 10),
			}
		})
		return nil, ErrRefreshTokenReuse

	case internalflows.RefreshFailureStorage:
		e.metricInc(MetricRefreshFailure)
		err := storageFailure(res.Err)
		if res.ReuseDetected {
			log.Error("refresh token reuse detected, revocation failed", logging.Err(res.Err))
			e.metricInc(MetricRefreshReuseDetected)
			e.emitAudit(ctx, auditEventRefreshReuseDetected, false, res.UserID, err, reasonMetadata("revoke_failed"))
			return nil, err
		}
		log.Error("refresh failed", logging.Err(res.Err))
		return nil, err

	case internalflows.RefreshFailureMint:
		log.Error("failed to mint token pair", logging.Err(res.Err))
		e.metricInc(MetricRefreshFailure)
		return nil, internalFailure(res.Err)

	default:
		return nil, ErrEngineNotReady
	}
}

/*
====================================
REVOCATION
====================================
*/

// InvalidateOne consumes one refresh token (logout). It reports false for unknown,
// malformed or already consumed tokens.
func (e *Engine) InvalidateOne(ctx context.Context, refreshToken string) (bool, error) {
	const op = "authcore.InvalidateOne"
	if !e.ready() {
		return false, ErrEngineNotReady
	}

	ok, err := internalflows.RunInvalidateOne(ctx, refreshToken, e.revokeFlowDeps())
	if err != nil {
		e.log.Error("failed to revoke refresh token", slog.String("op", op), logging.Err(err))
		return false, storageFailure(err)
	}
	if ok {
		e.metricInc(MetricLogout)
		e.emitAudit(ctx, auditEventLogoutSession, true, "", nil, nil)
	}
	return ok, nil
}

// InvalidateAll consumes every active refresh token of userID and returns how many
// were revoked.
func (e *Engine) InvalidateAll(ctx context.Context, userID string) (int64, error) {
	const op = "authcore.InvalidateAll"
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	if strings.TrimSpace(userID) == "" {
		return 0, invalidInput("user_id")
	}
	log := e.log.With(slog.String("op", op), slog.String("user_id", userID))

	n, err := internalflows.RunInvalidateAll(ctx, userID, e.revokeFlowDeps())
	if err != nil {
		log.Error("failed to revoke refresh tokens", logging.Err(err))
		return 0, storageFailure(err)
	}

	log.Info("refresh tokens revoked", slog.Int64("revoked", n))
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, nil, func() map[string]string {
		return map[string]string{"revoked": strconv.FormatInt(n, 10)}
	})
	return n, nil
}

// ActiveRefreshTokens counts unused, unexpired refresh tokens of userID.
func (e *Engine) ActiveRefreshTokens(ctx context.Context, userID string) (int64, error) {
	const op = "authcore.ActiveRefreshTokens"
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	if strings.TrimSpace(userID) == "" {
		return 0, invalidInput("user_id")
	}

	n, err := e.store.CountActiveRefreshTokens(ctx, userID, e.now().UTC())
	if err != nil {
		e.log.Error("failed to count refresh tokens", slog.String("op", op), logging.Err(err))
		return 0, storageFailure(err)
	}
	return n, nil
}

func (e *Engine) revokeFlowDeps() internalflows.RevokeDeps {
	return internalflows.RevokeDeps{
		Store: e.store,
		Now:   e.clock,
	}
}

/*
====================================
ACCESS TOKENS
====================================
*/

// ValidateAccess verifies an access token's signature and claims. It never touches
// the store.
func (e *Engine) ValidateAccess(token string) (*AccessClaims, error) {
	if e == nil || e.signer == nil {
		return nil, ErrEngineNotReady
	}
	if token == "" {
		return nil, ErrInvalidAccessToken
	}

	claims, err := e.signer.ParseAccess(token)
	if err != nil {
		return nil, ErrInvalidAccessToken
	}

	out := &AccessClaims{
		UserID: claims.UID,
		Role:   Role(claims.Role),
		Email:  claims.Email,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
