package flows

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tokenwarden/authcore/storage"
)

type fakeStore struct {
	mu     sync.Mutex
	users  map[string]*storage.User
	tokens map[string]*storage.RefreshToken

	lookupErr error
	rotateErr error
	revokeErr error
	saveErr   error
	touchErr  error

	lookups  int
	touched  int
	rehashed int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:  map[string]*storage.User{},
		tokens: map[string]*storage.RefreshToken{},
	}
}

func (s *fakeStore) addUser(u *storage.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *fakeStore) UserByIdentifier(_ context.Context, id storage.Identifier) (*storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	for _, u := range s.users {
		if (u.Email != nil && *u.Email == id.Email) || (u.Phone != nil && id.Phone != "" && *u.Phone == id.Phone) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, storage.ErrUserNotFound
}

func (s *fakeStore) TouchLastLogin(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.touchErr != nil {
		return s.touchErr
	}
	s.touched++
	s.users[userID].LastLoginAt = &at
	return nil
}

func (s *fakeStore) UpdatePasswordHash(_ context.Context, userID, hash string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rehashed++
	s.users[userID].PasswordHash = hash
	return nil
}

func (s *fakeStore) SaveRefreshToken(_ context.Context, t *storage.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	if _, ok := s.tokens[t.TokenHash]; ok {
		return storage.ErrTokenExists
	}
	cp := *t
	s.tokens[t.TokenHash] = &cp
	return nil
}

func (s *fakeStore) LookupRefreshToken(_ context.Context, hash string) (*storage.TokenWithUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	t, ok := s.tokens[hash]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	return &storage.TokenWithUser{Token: *t, User: *s.users[t.UserID]}, nil
}

func (s *fakeStore) RotateRefreshToken(_ context.Context, oldHash string, next *storage.RefreshToken, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rotateErr != nil {
		return false, s.rotateErr
	}
	t, ok := s.tokens[oldHash]
	if !ok || t.UsedAt != nil {
		return false, nil
	}
	if _, dup := s.tokens[next.TokenHash]; dup {
		return false, storage.ErrTokenExists
	}
	at := now
	t.UsedAt = &at
	cp := *next
	s.tokens[next.TokenHash] = &cp
	return true, nil
}

func (s *fakeStore) RevokeRefreshToken(_ context.Context, hash string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[hash]
	if !ok || t.UsedAt != nil {
		return false, nil
	}
	at := now
	t.UsedAt = &at
	return true, nil
}

func (s *fakeStore) RevokeAllRefreshTokens(_ context.Context, userID string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revokeErr != nil {
		return 0, s.revokeErr
	}
	var n int64
	for _, t := range s.tokens {
		if t.UserID == userID && t.State(now) == storage.TokenActive {
			at := now
			t.UsedAt = &at
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) active(userID string, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tokens {
		if t.UserID == userID && t.State(now) == storage.TokenActive {
			n++
		}
	}
	return n
}

var errBoom = errors.New("boom")
