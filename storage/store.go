package storage

import (
	"context"
	"time"
)

// Store is the persistence backend the Engine runs on.
//
// Implementations must be safe for concurrent use. Errors other than the sentinels in
// this package are treated as infrastructure failures.
type Store interface {
	// CreateUser inserts u. A duplicate email or phone returns ErrUserExists.
	CreateUser(ctx context.Context, u *User) error
	// UserByIdentifier returns the user whose email equals id.Email or whose phone
	// equals id.Phone, regardless of IsActive. Missing returns ErrUserNotFound.
	UserByIdentifier(ctx context.Context, id Identifier) (*User, error)
	// UserByID returns the user or ErrUserNotFound.
	UserByID(ctx context.Context, id string) (*User, error)
	// TouchLastLogin sets LastLoginAt and UpdatedAt.
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
	// UpdatePasswordHash replaces the stored hash.
	UpdatePasswordHash(ctx context.Context, userID, hash string, at time.Time) error

	// SaveRefreshToken persists a new Active row. A digest collision returns
	// ErrTokenExists.
	SaveRefreshToken(ctx context.Context, t *RefreshToken) error
	// LookupRefreshToken returns the row with the given digest joined with its owner,
	// or ErrTokenNotFound.
	LookupRefreshToken(ctx context.Context, tokenHash string) (*TokenWithUser, error)
	// RotateRefreshToken atomically claims the row with oldHash (used_at null ->
	// now) and inserts next. claimed is false, with nothing inserted, when the
	// old row was already consumed or does not exist.
	RotateRefreshToken(ctx context.Context, oldHash string, next *RefreshToken, now time.Time) (claimed bool, err error)
	// RevokeRefreshToken marks one unused row consumed. It reports whether a row
	// changed.
	RevokeRefreshToken(ctx context.Context, tokenHash string, now time.Time) (bool, error)
	// RevokeAllRefreshTokens marks every Active row of the user consumed in a single
	// statement and returns how many changed.
	RevokeAllRefreshTokens(ctx context.Context, userID string, now time.Time) (int64, error)
	// CountActiveRefreshTokens counts unused, unexpired rows of the user.
	CountActiveRefreshTokens(ctx context.Context, userID string, now time.Time) (int64, error)
}
