package storage

import "time"

// User is the persisted account row.
type User struct {
	ID           string
	Email        *string
	Phone        *string
	PasswordHash string
	Role         string
	IsActive     bool
	FullName     string
	Metadata     map[string]string
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RefreshToken is the persisted refresh-token row. TokenHash is the digest of the
// bearer secret, never the secret itself.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	UsedAt    *time.Time
}

// TokenState classifies a refresh-token row at a point in time.
type TokenState int

const (
	TokenUnknown TokenState = iota
	TokenActive
	TokenExpired
	TokenConsumed
)

func (s TokenState) String() string {
	switch s {
	case TokenActive:
		return "active"
	case TokenExpired:
		return "expired"
	case TokenConsumed:
		return "consumed"
	default:
		return "unknown"
	}
}

// State reports the token's lifecycle state at now. A consumed token reports
// TokenConsumed even when it has also expired.
func (t *RefreshToken) State(now time.Time) TokenState {
	switch {
	case t == nil:
		return TokenUnknown
	case t.UsedAt != nil:
		return TokenConsumed
	case !t.ExpiresAt.After(now):
		return TokenExpired
	default:
		return TokenActive
	}
}

// TokenWithUser is a refresh-token row joined with its owner.
type TokenWithUser struct {
	Token RefreshToken
	User  User
}

// Identifier is a login identifier normalised into its email and phone forms.
// Either form may be empty when the input cannot be that kind of identifier.
type Identifier struct {
	Email string
	Phone string
}
