// Package storagetest is the conformance suite every storage.Store backend runs.
package storagetest

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenwarden/authcore/refresh"
	"github.com/tokenwarden/authcore/storage"
)

// Factory returns an empty store. Cleanup is registered on t.
type Factory func(t *testing.T) storage.Store

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"CreateAndFindUser", testCreateAndFindUser},
		{"DuplicateIdentifiers", testDuplicateIdentifiers},
		{"UserNotFound", testUserNotFound},
		{"InactiveUserIsReturned", testInactiveUserIsReturned},
		{"TouchAndRehash", testTouchAndRehash},
		{"SaveAndLookupToken", testSaveAndLookupToken},
		{"DuplicateTokenHash", testDuplicateTokenHash},
		{"RotateClaimsOnce", testRotateClaimsOnce},
		{"RotateUnknown", testRotateUnknown},
		{"RotateConcurrent", testRotateConcurrent},
		{"RevokeOne", testRevokeOne},
		{"RevokeAll", testRevokeAll},
		{"CountActive", testCountActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

var baseTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func ptr(s string) *string { return &s }

// NewUser builds a fake active user with an email identifier.
func NewUser() *storage.User {
	return &storage.User{
		ID:           uuid.NewString(),
		Email:        ptr(strings.ToLower(gofakeit.Email())),
		PasswordHash: "$argon2id$v=19$m=8192,t=1,p=1$" + gofakeit.LetterN(22) + "$" + gofakeit.LetterN(43),
		Role:         "user",
		IsActive:     true,
		FullName:     gofakeit.Name(),
		Metadata:     map[string]string{"source": "storagetest"},
		CreatedAt:    baseTime,
		UpdatedAt:    baseTime,
	}
}

// NewToken builds an Active token row for userID with a fresh digest.
func NewToken(t *testing.T, userID string, now time.Time) (string, *storage.RefreshToken) {
	t.Helper()
	secret, err := refresh.Generate(nil)
	require.NoError(t, err)
	return secret, &storage.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: refresh.Digest(secret),
		ExpiresAt: now.Add(30 * 24 * time.Hour),
		CreatedAt: now,
	}
}

func mustCreateUser(t *testing.T, s storage.Store) *storage.User {
	t.Helper()
	u := NewUser()
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func mustSaveToken(t *testing.T, s storage.Store, userID string, now time.Time) *storage.RefreshToken {
	t.Helper()
	_, row := NewToken(t, userID, now)
	require.NoError(t, s.SaveRefreshToken(context.Background(), row))
	return row
}

func testCreateAndFindUser(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := NewUser()
	u.Phone = ptr("+15551234567")
	require.NoError(t, s.CreateUser(ctx, u))

	byEmail, err := s.UserByIdentifier(ctx, storage.Identifier{Email: *u.Email})
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)
	assert.Equal(t, u.PasswordHash, byEmail.PasswordHash)
	assert.Equal(t, u.Role, byEmail.Role)
	assert.Equal(t, u.FullName, byEmail.FullName)
	assert.Equal(t, u.Metadata, byEmail.Metadata)
	assert.True(t, byEmail.IsActive)
	assert.Nil(t, byEmail.LastLoginAt)

	byPhone, err := s.UserByIdentifier(ctx, storage.Identifier{Email: "nobody@example.com", Phone: "+15551234567"})
	require.NoError(t, err)
	assert.Equal(t, u.ID, byPhone.ID)

	byID, err := s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, byID.Email)
	assert.Equal(t, *u.Email, *byID.Email)
	require.NotNil(t, byID.Phone)
	assert.Equal(t, "+15551234567", *byID.Phone)
}

func testDuplicateIdentifiers(t *testing.T, s storage.Store) {
	ctx := context.Background()
	first := NewUser()
	first.Phone = ptr("+15550000001")
	require.NoError(t, s.CreateUser(ctx, first))

	sameEmail := NewUser()
	sameEmail.Email = ptr(*first.Email)
	assert.ErrorIs(t, s.CreateUser(ctx, sameEmail), storage.ErrUserExists)

	samePhone := NewUser()
	samePhone.Phone = ptr("+15550000001")
	assert.ErrorIs(t, s.CreateUser(ctx, samePhone), storage.ErrUserExists)

	// Rejected inserts must not leave reservations behind.
	_, err := s.UserByID(ctx, samePhone.ID)
	assert.ErrorIs(t, err, storage.ErrUserNotFound)

	phoneOnly := NewUser()
	phoneOnly.Email = nil
	phoneOnly.Phone = ptr("+15550000002")
	require.NoError(t, s.CreateUser(ctx, phoneOnly))

	anotherPhoneOnly := NewUser()
	anotherPhoneOnly.Email = nil
	anotherPhoneOnly.Phone = ptr("+15550000003")
	require.NoError(t, s.CreateUser(ctx, anotherPhoneOnly))
}

func testUserNotFound(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.UserByIdentifier(ctx, storage.Identifier{Email: "missing@example.com", Phone: "+10000000000"})
	assert.ErrorIs(t, err, storage.ErrUserNotFound)

	_, err = s.UserByIdentifier(ctx, storage.Identifier{})
	assert.ErrorIs(t, err, storage.ErrUserNotFound)

	_, err = s.UserByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func testInactiveUserIsReturned(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := NewUser()
	u.IsActive = false
	require.NoError(t, s.CreateUser(ctx, u))

	got, err := s.UserByIdentifier(ctx, storage.Identifier{Email: *u.Email})
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func testTouchAndRehash(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := mustCreateUser(t, s)

	at := baseTime.Add(time.Hour)
	require.NoError(t, s.TouchLastLogin(ctx, u.ID, at))
	require.NoError(t, s.UpdatePasswordHash(ctx, u.ID, "$argon2id$new", at))

	got, err := s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLoginAt)
	assert.WithinDuration(t, at, *got.LastLoginAt, time.Millisecond)
	assert.Equal(t, "$argon2id$new", got.PasswordHash)
}

func testSaveAndLookupToken(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := mustCreateUser(t, s)
	row := mustSaveToken(t, s, u.ID, baseTime)

	got, err := s.LookupRefreshToken(ctx, row.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, row.ID, got.Token.ID)
	assert.Equal(t, u.ID, got.Token.UserID)
	assert.Equal(t, row.TokenHash, got.Token.TokenHash)
	assert.WithinDuration(t, row.ExpiresAt, got.Token.ExpiresAt, time.Millisecond)
	assert.Nil(t, got.Token.UsedAt)
	assert.Equal(t, u.ID, got.User.ID)
	assert.Equal(t, storage.TokenActive, got.Token.State(baseTime))

	_, err = s.LookupRefreshToken(ctx, refresh.Digest("never-issued"))
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func testDuplicateTokenHash(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := mustCreateUser(t, s)
	row := mustSaveToken(t, s, u.ID, baseTime)

	dup := *row
	dup.ID = uuid.NewString()
	assert.ErrorIs(t, s.SaveRefreshToken(ctx, &dup), storage.ErrTokenExists)
}

func testRotateClaimsOnce(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := mustCreateUser(t, s)
	old := mustSaveToken(t, s, u.ID, baseTime)

	now := baseTime.Add(time.Minute)
	_, next := NewToken(t, u.ID, now)
	claimed, err := s.RotateRefreshToken(ctx, old.TokenHash, next, now)
	require.NoError(t, err)
	require.True(t, claimed)

	oldRow, err := s.LookupRefreshToken(ctx, old.TokenHash)
	require.NoError(t, err)
	require.NotNil(t, oldRow.Token.UsedAt)
	assert.WithinDuration(t, now, *oldRow.Token.UsedAt, time.Millisecond)
	assert.Equal(t, storage.TokenConsumed, oldRow.Token.State(now))

	newRow, err := s.LookupRefreshToken(ctx, next.TokenHash)
	require.NoError(t, err)
	assert.Nil(t, newRow.Token.UsedAt)

	_, second := NewToken(t, u.ID, now)
	claimed, err = s.RotateRefreshToken(ctx, old.TokenHash, second, now)
	require.NoError(t, err)
	assert.False(t, claimed)

	_, err = s.LookupRefreshToken(ctx, second.TokenHash)
	assert.ErrorIs(t, err, storage.ErrTokenNotFound, "losing rotation must not insert")
}

func testRotateUnknown(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := mustCreateUser(t, s)

	_, next := NewToken(t, u.ID, baseTime)
	claimed, err := s.RotateRefreshToken(ctx, refresh.Digest("unknown"), next, baseTime)
	require.NoError(t, err)
	assert.False(t, claimed)

	_, err = s.LookupRefreshToken(ctx, next.TokenHash)
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func testRotateConcurrent(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := mustCreateUser(t, s)
	old := mustSaveToken(t, s, u.ID, baseTime)

	const workers = 16
	var (
		wg      sync.WaitGroup
		winners atomic.Int64
		start   = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, next := NewToken(t, u.ID, baseTime)
			<-start
			claimed, err := s.RotateRefreshToken(ctx, old.TokenHash, next, baseTime.Add(time.Second))
			if err != nil {
				t.Errorf("rotate: %v", err)
				return
			}
			if claimed {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), winners.Load())

	active, err := s.CountActiveRefreshTokens(ctx, u.ID, baseTime.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), active)
}

func testRevokeOne(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := mustCreateUser(t, s)
	row := mustSaveToken(t, s, u.ID, baseTime)

	ok, err := s.RevokeRefreshToken(ctx, row.TokenHash, baseTime)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.RevokeRefreshToken(ctx, row.TokenHash, baseTime)
	require.NoError(t, err)
	assert.False(t, ok, "second revoke is a no-op")

	ok, err = s.RevokeRefreshToken(ctx, refresh.Digest("unknown"), baseTime)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testRevokeAll(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := mustCreateUser(t, s)
	other := mustCreateUser(t, s)

	for i := 0; i < 3; i++ {
		mustSaveToken(t, s, u.ID, baseTime)
	}
	consumed := mustSaveToken(t, s, u.ID, baseTime)
	_, err := s.RevokeRefreshToken(ctx, consumed.TokenHash, baseTime)
	require.NoError(t, err)
	expired := mustSaveToken(t, s, u.ID, baseTime.Add(-31*24*time.Hour))
	untouched := mustSaveToken(t, s, other.ID, baseTime)

	n, err := s.RevokeAllRefreshTokens(ctx, u.ID, baseTime)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.RevokeAllRefreshTokens(ctx, u.ID, baseTime)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	active, err := s.CountActiveRefreshTokens(ctx, u.ID, baseTime)
	require.NoError(t, err)
	assert.Equal(t, int64(0), active)

	exp, err := s.LookupRefreshToken(ctx, expired.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, storage.TokenExpired, exp.Token.State(baseTime))

	keep, err := s.LookupRefreshToken(ctx, untouched.TokenHash)
	require.NoError(t, err)
	assert.Nil(t, keep.Token.UsedAt)
}

func testCountActive(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := mustCreateUser(t, s)

	n, err := s.CountActiveRefreshTokens(ctx, u.ID, baseTime)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	mustSaveToken(t, s, u.ID, baseTime)
	mustSaveToken(t, s, u.ID, baseTime)
	mustSaveToken(t, s, u.ID, baseTime.Add(-40*24*time.Hour))

	n, err = s.CountActiveRefreshTokens(ctx, u.ID, baseTime)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
