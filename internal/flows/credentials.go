package flows

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tokenwarden/authcore/internal/logging"
	"github.com/tokenwarden/authcore/storage"
)

// CredentialFailureKind classifies credential verification failures for root-level
// mapping.
type CredentialFailureKind int

const (
	CredentialFailureNone CredentialFailureKind = iota
	CredentialFailureInput
	CredentialFailureUnknownIdentifier
	CredentialFailureWrongPassword
	CredentialFailureInactive
	CredentialFailureStorage
	CredentialFailureNotReady
)

// Reason is the log and audit label for the failure.
func (k CredentialFailureKind) Reason() string {
	switch k {
	case CredentialFailureNone:
		return ""
	case CredentialFailureInput:
		return "invalid_input"
	case CredentialFailureUnknownIdentifier:
		return "unknown_identifier"
	case CredentialFailureWrongPassword:
		return "wrong_password"
	case CredentialFailureInactive:
		return "inactive_account"
	case CredentialFailureStorage:
		return "storage_failure"
	default:
		return "not_ready"
	}
}

// CredentialDeps captures credential verification dependencies.
type CredentialDeps struct {
	Store          CredentialStore
	Verify         func(password, encoded string) bool
	NeedsUpgrade   func(encoded string) bool
	HashPassword   func(password string) (string, error)
	DummyHash      string
	UpgradeOnLogin bool
	Now            func() time.Time
	Warn           func(msg string, args ...any)
}

// CredentialResult carries the verified user or failure metadata. User is set for
// wrong-password and inactive failures so callers can attribute audit events.
type CredentialResult struct {
	Failure  CredentialFailureKind
	Field    string
	Err      error
	User     *storage.User
	Rehashed bool
}

// RunVerifyCredentials resolves identifier to a user and checks password against the
// stored hash. Exactly one hash verification runs for every request that reaches the
// store: against the dummy hash when no user matches, against the stored hash
// otherwise.
func RunVerifyCredentials(ctx context.Context, identifier, password string, deps CredentialDeps) CredentialResult {
	if deps.Store == nil || deps.Verify == nil || deps.DummyHash == "" {
		return CredentialResult{Failure: CredentialFailureNotReady}
	}
	if deps.Warn == nil {
		deps.Warn = func(string, ...any) {}
	}
	now := nowFunc(deps.Now)

	if strings.TrimSpace(identifier) == "" {
		return CredentialResult{Failure: CredentialFailureInput, Field: "identifier"}
	}
	if password == "" {
		return CredentialResult{Failure: CredentialFailureInput, Field: "password"}
	}

	user, err := deps.Store.UserByIdentifier(ctx, NormalizeIdentifier(identifier))
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			_ = deps.Verify(password, deps.DummyHash)
			return CredentialResult{Failure: CredentialFailureUnknownIdentifier, Err: err}
		}
		return CredentialResult{Failure: CredentialFailureStorage, Err: err}
	}

	if !deps.Verify(password, user.PasswordHash) {
		return CredentialResult{Failure: CredentialFailureWrongPassword, User: user}
	}
	if !user.IsActive {
		return CredentialResult{Failure: CredentialFailureInactive, User: user}
	}

	at := now().UTC()
	if err := deps.Store.TouchLastLogin(ctx, user.ID, at); err != nil {
		deps.Warn("last login update failed", "user_id", user.ID, logging.Err(err))
	} else {
		user.LastLoginAt = &at
		user.UpdatedAt = at
	}

	res := CredentialResult{User: user}
	if deps.UpgradeOnLogin && deps.NeedsUpgrade != nil && deps.HashPassword != nil && deps.NeedsUpgrade(user.PasswordHash) {
		hash, err := deps.HashPassword(password)
		if err == nil {
			err = deps.Store.UpdatePasswordHash(ctx, user.ID, hash, at)
		}
		if err != nil {
			deps.Warn("password rehash failed", "user_id", user.ID, logging.Err(err))
		} else {
			user.PasswordHash = hash
			res.Rehashed = true
		}
	}
	return res
}
