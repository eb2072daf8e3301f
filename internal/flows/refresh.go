package flows

import (
	"context"
	"errors"
	"time"

	"github.com/tokenwarden/authcore/refresh"
	"github.com/tokenwarden/authcore/storage"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureMalformed
	RefreshFailureUnknown
	RefreshFailureReuse
	RefreshFailureLostRace
	RefreshFailureExpired
	RefreshFailureInactive
	RefreshFailureMint
	RefreshFailureStorage
	RefreshFailureNotReady
)

// Reason is the log and audit label for the failure.
func (k RefreshFailureKind) Reason() string {
	switch k {
	case RefreshFailureNone:
		return ""
	case RefreshFailureMalformed:
		return "malformed_token"
	case RefreshFailureUnknown:
		return "unknown_token"
	case RefreshFailureReuse:
		return "consumed_token"
	case RefreshFailureLostRace:
		return "lost_claim_race"
	case RefreshFailureExpired:
		return "expired_token"
	case RefreshFailureInactive:
		return "inactive_account"
	case RefreshFailureMint:
		return "mint_failed"
	case RefreshFailureStorage:
		return "storage_failure"
	default:
		return "not_ready"
	}
}

// Reused reports whether the failure is a replay of an already consumed token.
func (k RefreshFailureKind) Reused() bool {
	return k == RefreshFailureReuse || k == RefreshFailureLostRace
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Store  RefreshStore
	Tokens TokenSource
	Now    func() time.Time
}

// RefreshResult carries either the rotated pair or failure metadata. When a replay is
// detected but mass revocation itself fails, Failure is RefreshFailureStorage and
// ReuseDetected stays true.
type RefreshResult struct {
	Failure       RefreshFailureKind
	Err           error
	UserID        string
	User          *storage.User
	ReuseDetected bool
	Revoked       int64
	AccessToken   string
	RefreshToken  string
	Row           *storage.RefreshToken
}

// RunRefresh executes the rotation state machine:
//
//	malformed -> unknown -> consumed (reuse) -> expired -> inactive owner -> claim
//
// A consumed token is treated as reuse even when it has also expired. Losing the claim
// to a concurrent caller is handled exactly like reuse.
func RunRefresh(ctx context.Context, presented string, deps RefreshDeps) RefreshResult {
	if deps.Store == nil || !deps.Tokens.ready() {
		return RefreshResult{Failure: RefreshFailureNotReady}
	}
	now := nowFunc(deps.Now)().UTC()

	if err := refresh.Validate(presented); err != nil {
		return RefreshResult{Failure: RefreshFailureMalformed, Err: err}
	}
	digest := refresh.Digest(presented)

	found, err := deps.Store.LookupRefreshToken(ctx, digest)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return RefreshResult{Failure: RefreshFailureUnknown, Err: err}
		}
		return RefreshResult{Failure: RefreshFailureStorage, Err: err}
	}
	user := found.User
	userID := found.Token.UserID

	switch found.Token.State(now) {
	case storage.TokenConsumed:
		return revokeAfterReuse(ctx, RefreshFailureReuse, userID, &user, deps.Store, now)
	case storage.TokenExpired:
		return RefreshResult{Failure: RefreshFailureExpired, UserID: userID, User: &user}
	}
	if !user.IsActive {
		return RefreshResult{Failure: RefreshFailureInactive, UserID: userID, User: &user}
	}

	access, secret, next, err := mintPair(&user, deps.Tokens, now)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureMint, Err: err, UserID: userID, User: &user}
	}

	claimed, err := deps.Store.RotateRefreshToken(ctx, digest, next, now)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureStorage, Err: err, UserID: userID, User: &user}
	}
	if !claimed {
		return revokeAfterReuse(ctx, RefreshFailureLostRace, userID, &user, deps.Store, now)
	}

	return RefreshResult{
		UserID:       userID,
		User:         &user,
		AccessToken:  access,
		RefreshToken: secret,
		Row:          next,
	}
}

func revokeAfterReuse(ctx context.Context, kind RefreshFailureKind, userID string, user *storage.User, store RefreshStore, now time.Time) RefreshResult {
	n, err := store.RevokeAllRefreshTokens(ctx, userID, now)
	if err != nil {
		return RefreshResult{
			Failure:       RefreshFailureStorage,
			Err:           err,
			UserID:        userID,
			User:          user,
			ReuseDetected: true,
		}
	}
	return RefreshResult{
		Failure:       kind,
		UserID:        userID,
		User:          user,
		ReuseDetected: true,
		Revoked:       n,
	}
}
