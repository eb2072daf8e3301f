// Package redisstore implements storage.Store on Redis.
//
// Every state transition runs as a Lua script, so the used_at compare-and-set and
// the successor insert of a rotation execute as one atomic unit on the server. The
// scripts touch keys derived at runtime (the per-user token set), so the store
// targets a single Redis node or primary, not a sharded cluster.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tokenwarden/authcore/storage"
)

// ErrUnavailable wraps every Redis transport or script failure.
var ErrUnavailable = errors.New("redis unavailable")

// Store is a storage.Store backed by Redis.
type Store struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

var _ storage.Store = (*Store)(nil)

// Option customises a Store.
type Option func(*Store)

// WithPrefix sets the key namespace. Default "authcore".
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithRetention keeps token rows for d past their expiry and then lets Redis evict
// them. Zero (the default) keeps rows forever.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

// New creates a Store on the given client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{redis: client, prefix: "authcore"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) userKey(id string) string       { return s.prefix + ":user:" + id }
func (s *Store) emailKey(email string) string   { return s.prefix + ":email:" + email }
func (s *Store) phoneKey(phone string) string   { return s.prefix + ":phone:" + phone }
func (s *Store) tokenPrefix() string            { return s.prefix + ":rt:" }
func (s *Store) tokenKey(hash string) string    { return s.tokenPrefix() + hash }
func (s *Store) userTokensKey(id string) string { return s.prefix + ":urt:" + id }

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

func (s *Store) CreateUser(ctx context.Context, u *storage.User) error {
	const op = "redisstore.CreateUser"

	fields, err := encodeUser(u)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	email, phone := deref(u.Email), deref(u.Phone)
	args := append([]interface{}{flag(email != ""), flag(phone != ""), u.ID}, fields...)

	created, err := createUserLua.Run(ctx, s.redis,
		[]string{s.userKey(u.ID), s.emailKey(email), s.phoneKey(phone)},
		args...,
	).Int64()
	if err != nil {
		return unavailable(op, err)
	}
	if created == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserExists)
	}
	return nil
}

func (s *Store) UserByIdentifier(ctx context.Context, id storage.Identifier) (*storage.User, error) {
	const op = "redisstore.UserByIdentifier"

	for _, key := range s.identifierKeys(id) {
		userID, err := s.redis.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, unavailable(op, err)
		}
		u, err := s.loadUser(ctx, userID)
		if errors.Is(err, storage.ErrUserNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return u, nil
	}
	return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
}

func (s *Store) identifierKeys(id storage.Identifier) []string {
	keys := make([]string, 0, 2)
	if id.Email != "" {
		keys = append(keys, s.emailKey(id.Email))
	}
	if id.Phone != "" {
		keys = append(keys, s.phoneKey(id.Phone))
	}
	return keys
}

func (s *Store) UserByID(ctx context.Context, id string) (*storage.User, error) {
	u, err := s.loadUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("redisstore.UserByID: %w", err)
	}
	return u, nil
}

func (s *Store) loadUser(ctx context.Context, id string) (*storage.User, error) {
	fields, err := s.redis.HGetAll(ctx, s.userKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, storage.ErrUserNotFound
	}
	return decodeUser(fields)
}

func (s *Store) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	return s.updateUser(ctx, "redisstore.TouchLastLogin", userID,
		"last_login_at", millis(at),
		"updated_at", millis(at),
	)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID, hash string, at time.Time) error {
	return s.updateUser(ctx, "redisstore.UpdatePasswordHash", userID,
		"password_hash", hash,
		"updated_at", millis(at),
	)
}

func (s *Store) updateUser(ctx context.Context, op, userID string, fields ...interface{}) error {
	ok, err := updateUserLua.Run(ctx, s.redis, []string{s.userKey(userID)}, fields...).Int64()
	if err != nil {
		return unavailable(op, err)
	}
	if ok == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	return nil
}

func (s *Store) SaveRefreshToken(ctx context.Context, t *storage.RefreshToken) error {
	const op = "redisstore.SaveRefreshToken"

	saved, err := saveTokenLua.Run(ctx, s.redis,
		[]string{s.tokenKey(t.TokenHash), s.userTokensKey(t.UserID)},
		t.TokenHash, t.ID, t.UserID, millis(t.ExpiresAt), millis(t.CreatedAt), s.keepUntil(t.ExpiresAt),
	).Int64()
	if err != nil {
		return unavailable(op, err)
	}
	if saved == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrTokenExists)
	}
	return nil
}

func (s *Store) LookupRefreshToken(ctx context.Context, tokenHash string) (*storage.TokenWithUser, error) {
	const op = "redisstore.LookupRefreshToken"

	fields, err := s.redis.HGetAll(ctx, s.tokenKey(tokenHash)).Result()
	if err != nil {
		return nil, unavailable(op, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrTokenNotFound)
	}

	token, err := decodeToken(tokenHash, fields)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	u, err := s.loadUser(ctx, token.UserID)
	if errors.Is(err, storage.ErrUserNotFound) {
		return nil, fmt.Errorf("%s: orphaned token: %w", op, storage.ErrTokenNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &storage.TokenWithUser{Token: *token, User: *u}, nil
}

func (s *Store) RotateRefreshToken(ctx context.Context, oldHash string, next *storage.RefreshToken, now time.Time) (bool, error) {
	const op = "redisstore.RotateRefreshToken"

	status, err := rotateTokenLua.Run(ctx, s.redis,
		[]string{s.tokenKey(oldHash), s.tokenKey(next.TokenHash), s.userTokensKey(next.UserID)},
		millis(now), next.TokenHash, next.ID, next.UserID, millis(next.ExpiresAt), millis(next.CreatedAt), s.keepUntil(next.ExpiresAt),
	).Int64()
	if err != nil {
		return false, unavailable(op, err)
	}

	switch status {
	case 1:
		return true, nil
	case -1:
		return false, fmt.Errorf("%s: %w", op, storage.ErrTokenExists)
	default:
		return false, nil
	}
}

func (s *Store) RevokeRefreshToken(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	const op = "redisstore.RevokeRefreshToken"

	n, err := revokeTokenLua.Run(ctx, s.redis, []string{s.tokenKey(tokenHash)}, millis(now)).Int64()
	if err != nil {
		return false, unavailable(op, err)
	}
	return n == 1, nil
}

func (s *Store) RevokeAllRefreshTokens(ctx context.Context, userID string, now time.Time) (int64, error) {
	return s.activeTokens(ctx, "redisstore.RevokeAllRefreshTokens", userID, now, true)
}

func (s *Store) CountActiveRefreshTokens(ctx context.Context, userID string, now time.Time) (int64, error) {
	return s.activeTokens(ctx, "redisstore.CountActiveRefreshTokens", userID, now, false)
}

func (s *Store) activeTokens(ctx context.Context, op, userID string, now time.Time, revoke bool) (int64, error) {
	n, err := activeTokensLua.Run(ctx, s.redis,
		[]string{s.userTokensKey(userID)},
		s.tokenPrefix(), millis(now), flag(revoke),
	).Int64()
	if err != nil {
		return 0, unavailable(op, err)
	}
	return n, nil
}

func (s *Store) keepUntil(expiresAt time.Time) int64 {
	if s.retention <= 0 {
		return 0
	}
	return millis(expiresAt.Add(s.retention))
}

func encodeUser(u *storage.User) ([]interface{}, error) {
	meta := ""
	if len(u.Metadata) > 0 {
		raw, err := json.Marshal(u.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		meta = string(raw)
	}

	lastLogin := int64(0)
	if u.LastLoginAt != nil {
		lastLogin = millis(*u.LastLoginAt)
	}

	return []interface{}{
		"id", u.ID,
		"email", deref(u.Email),
		"phone", deref(u.Phone),
		"password_hash", u.PasswordHash,
		"role", u.Role,
		"is_active", flag(u.IsActive),
		"full_name", u.FullName,
		"metadata", meta,
		"last_login_at", lastLogin,
		"created_at", millis(u.CreatedAt),
		"updated_at", millis(u.UpdatedAt),
	}, nil
}

func decodeUser(f map[string]string) (*storage.User, error) {
	u := &storage.User{
		ID:           f["id"],
		Email:        optional(f["email"]),
		Phone:        optional(f["phone"]),
		PasswordHash: f["password_hash"],
		Role:         f["role"],
		IsActive:     f["is_active"] == "1",
		FullName:     f["full_name"],
	}

	if raw := f["metadata"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &u.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}

	var err error
	if u.CreatedAt, err = parseMillis(f["created_at"]); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = parseMillis(f["updated_at"]); err != nil {
		return nil, err
	}
	if u.LastLoginAt, err = parseOptionalMillis(f["last_login_at"]); err != nil {
		return nil, err
	}
	return u, nil
}

func decodeToken(hash string, f map[string]string) (*storage.RefreshToken, error) {
	t := &storage.RefreshToken{
		ID:        f["id"],
		UserID:    f["user_id"],
		TokenHash: hash,
	}

	var err error
	if t.ExpiresAt, err = parseMillis(f["expires_at"]); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseMillis(f["created_at"]); err != nil {
		return nil, err
	}
	if t.UsedAt, err = parseOptionalMillis(f["used_at"]); err != nil {
		return nil, err
	}
	return t, nil
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func parseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt timestamp %q: %w", s, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

func parseOptionalMillis(s string) (*time.Time, error) {
	if s == "" || s == "0" {
		return nil, nil
	}
	t, err := parseMillis(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
