package gormstore

import (
	"time"

	"github.com/tokenwarden/authcore/storage"
)

type userRow struct {
	ID           string            `gorm:"primaryKey;type:varchar(36)"`
	Email        *string           `gorm:"uniqueIndex:idx_users_email;type:varchar(320)"`
	Phone        *string           `gorm:"uniqueIndex:idx_users_phone;type:varchar(32)"`
	PasswordHash string            `gorm:"type:varchar(255);not null"`
	Role         string            `gorm:"type:varchar(16);not null"`
	IsActive     bool              `gorm:"not null"`
	FullName     string            `gorm:"type:varchar(255);not null"`
	Metadata     map[string]string `gorm:"serializer:json;type:text"`
	LastLoginAt  *time.Time
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (userRow) TableName() string {
	return "users"
}

type refreshTokenRow struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)"`
	UserID    string    `gorm:"type:varchar(36);not null;index:idx_refresh_tokens_user"`
	User      userRow   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	TokenHash string    `gorm:"uniqueIndex:idx_refresh_tokens_hash;type:varchar(64);not null"`
	ExpiresAt time.Time `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UsedAt    *time.Time
}

func (refreshTokenRow) TableName() string {
	return "refresh_tokens"
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func fromUser(u *storage.User) *userRow {
	return &userRow{
		ID:           u.ID,
		Email:        u.Email,
		Phone:        u.Phone,
		PasswordHash: u.PasswordHash,
		Role:         u.Role,
		IsActive:     u.IsActive,
		FullName:     u.FullName,
		Metadata:     u.Metadata,
		LastLoginAt:  utcPtr(u.LastLoginAt),
		CreatedAt:    u.CreatedAt.UTC(),
		UpdatedAt:    u.UpdatedAt.UTC(),
	}
}

func (r *userRow) toUser() *storage.User {
	return &storage.User{
		ID:           r.ID,
		Email:        r.Email,
		Phone:        r.Phone,
		PasswordHash: r.PasswordHash,
		Role:         r.Role,
		IsActive:     r.IsActive,
		FullName:     r.FullName,
		Metadata:     r.Metadata,
		LastLoginAt:  r.LastLoginAt,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func fromToken(t *storage.RefreshToken) *refreshTokenRow {
	return &refreshTokenRow{
		ID:        t.ID,
		UserID:    t.UserID,
		TokenHash: t.TokenHash,
		ExpiresAt: t.ExpiresAt.UTC(),
		CreatedAt: t.CreatedAt.UTC(),
		UsedAt:    utcPtr(t.UsedAt),
	}
}

func (r *refreshTokenRow) toToken() storage.RefreshToken {
	return storage.RefreshToken{
		ID:        r.ID,
		UserID:    r.UserID,
		TokenHash: r.TokenHash,
		ExpiresAt: r.ExpiresAt,
		CreatedAt: r.CreatedAt,
		UsedAt:    r.UsedAt,
	}
}
