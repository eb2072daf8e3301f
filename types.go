package authcore

import (
	"time"

	"github.com/tokenwarden/authcore/jwt"
	"github.com/tokenwarden/authcore/storage"
)

// Role is the capability tier carried in access tokens.
type Role string

const (
	RoleUser      Role = "user"
	RoleOwner     Role = "owner"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleOwner, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// User is the public profile returned by the Engine. It never carries the password
// hash.
type User struct {
	ID          string            `json:"id"`
	Email       string            `json:"email,omitempty"`
	Phone       string            `json:"phone,omitempty"`
	Role        Role              `json:"role"`
	IsActive    bool              `json:"is_active"`
	FullName    string            `json:"full_name,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	LastLoginAt *time.Time        `json:"last_login_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func publicUser(u *storage.User) *User {
	if u == nil {
		return nil
	}
	out := &User{
		ID:          u.ID,
		Role:        Role(u.Role),
		IsActive:    u.IsActive,
		FullName:    u.FullName,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
	if u.Email != nil {
		out.Email = *u.Email
	}
	if u.Phone != nil {
		out.Phone = *u.Phone
	}
	if len(u.Metadata) > 0 {
		out.Metadata = make(map[string]string, len(u.Metadata))
		for k, v := range u.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// CreateUserInput is the registration request. At least one of Email and Phone is
// required; an empty Role takes Config.Account.DefaultRole.
type CreateUserInput struct {
	Email    string
	Phone    string
	Password string
	Role     Role
	FullName string
	Metadata map[string]string
}

// TokenPair is what a client stores after login or refresh. ExpiresIn is the access
// token lifetime in seconds.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// LoginResult is returned by Engine.Login.
type LoginResult struct {
	TokenPair
	User *User `json:"user"`
}

// RefreshResult is returned by Engine.Refresh.
type RefreshResult struct {
	TokenPair
	User *User `json:"user"`
}

// AccessClaims is the verified content of an access token.
type AccessClaims struct {
	UserID    string
	Role      Role
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenSigner signs and verifies access tokens. *jwt.Manager is the default
// implementation; any other signer must be safe for concurrent use.
type TokenSigner interface {
	CreateAccess(uid, role, email string) (string, error)
	ParseAccess(token string) (*jwt.AccessClaims, error)
	AccessTTL() time.Duration
}

var _ TokenSigner = (*jwt.Manager)(nil)
