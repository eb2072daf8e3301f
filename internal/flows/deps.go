package flows

import (
	"context"
	"time"

	"github.com/tokenwarden/authcore/storage"
)

// CredentialStore is the slice of storage.Store used by credential verification.
type CredentialStore interface {
	UserByIdentifier(ctx context.Context, id storage.Identifier) (*storage.User, error)
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
	UpdatePasswordHash(ctx context.Context, userID, hash string, at time.Time) error
}

// IssueStore persists freshly issued refresh rows.
type IssueStore interface {
	SaveRefreshToken(ctx context.Context, t *storage.RefreshToken) error
}

// RefreshStore is the slice of storage.Store used by refresh rotation.
type RefreshStore interface {
	LookupRefreshToken(ctx context.Context, tokenHash string) (*storage.TokenWithUser, error)
	RotateRefreshToken(ctx context.Context, oldHash string, next *storage.RefreshToken, now time.Time) (bool, error)
	RevokeAllRefreshTokens(ctx context.Context, userID string, now time.Time) (int64, error)
}

// RevokeStore is the slice of storage.Store used by logout.
type RevokeStore interface {
	RevokeRefreshToken(ctx context.Context, tokenHash string, now time.Time) (bool, error)
	RevokeAllRefreshTokens(ctx context.Context, userID string, now time.Time) (int64, error)
}

// TokenSource mints the two halves of a token pair. The root package backs it with
// the configured signer, the refresh generator and uuid.
type TokenSource struct {
	SignAccess func(u *storage.User) (string, error)
	NewSecret  func() (string, error)
	NewID      func() (string, error)
	RefreshTTL time.Duration
}

func (s TokenSource) ready() bool {
	return s.SignAccess != nil && s.NewSecret != nil && s.NewID != nil && s.RefreshTTL > 0
}

func nowFunc(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}
