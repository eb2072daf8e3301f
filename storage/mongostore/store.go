// Package mongostore implements storage.Store on MongoDB.
//
// Claims are guarded filters on used_at: null, so a claim succeeds for exactly one
// writer. Rotation runs in a multi-document transaction when enabled (replica sets);
// otherwise the claim lands first and the successor insert is retried. A claimed row
// is never released.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/tokenwarden/authcore/storage"
)

const (
	usersCollection  = "users"
	tokensCollection = "refresh_tokens"
)

var errNotClaimed = errors.New("mongostore: token not claimed")

type userDoc struct {
	ID           string            `bson:"_id"`
	Email        *string           `bson:"email,omitempty"`
	Phone        *string           `bson:"phone,omitempty"`
	PasswordHash string            `bson:"password_hash"`
	Role         string            `bson:"role"`
	IsActive     bool              `bson:"is_active"`
	FullName     string            `bson:"full_name"`
	Metadata     map[string]string `bson:"metadata,omitempty"`
	LastLoginAt  *time.Time        `bson:"last_login_at"`
	CreatedAt    time.Time         `bson:"created_at"`
	UpdatedAt    time.Time         `bson:"updated_at"`
}

type refreshTokenDoc struct {
	ID        string     `bson:"_id"`
	UserID    string     `bson:"user_id"`
	TokenHash string     `bson:"token_hash"`
	ExpiresAt time.Time  `bson:"expires_at"`
	CreatedAt time.Time  `bson:"created_at"`
	UsedAt    *time.Time `bson:"used_at"`
}

// Store is a storage.Store backed by a MongoDB database.
type Store struct {
	client          *mongo.Client
	users           *mongo.Collection
	tokens          *mongo.Collection
	useTransactions bool
}

var _ storage.Store = (*Store)(nil)

// Option customises a Store.
type Option func(*Store)

// WithTransactions runs rotation inside a multi-document transaction. Requires a
// replica set or sharded cluster.
func WithTransactions(enabled bool) Option {
	return func(s *Store) {
		s.useTransactions = enabled
	}
}

// Connect dials uri and returns a store on the named database.
func Connect(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	const op = "mongostore.Connect"

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	s, err := New(ctx, client.Database(database), opts...)
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// New pings the database and ensures indexes.
func New(ctx context.Context, db *mongo.Database, opts ...Option) (*Store, error) {
	const op = "mongostore.New"

	if db == nil {
		return nil, fmt.Errorf("%s: database cannot be nil", op)
	}
	if err := db.Client().Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	s := &Store{
		client: db.Client(),
		users:  db.Collection(usersCollection),
		tokens: db.Collection(tokensCollection),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("%s: indexes: %w", op, err)
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "phone", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
	})
	if err != nil {
		return fmt.Errorf("users indexes: %w", err)
	}

	_, err = s.tokens.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "token_hash", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "used_at", Value: 1}, {Key: "expires_at", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("refresh_tokens indexes: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) CreateUser(ctx context.Context, u *storage.User) error {
	const op = "mongostore.CreateUser"

	doc := userDoc{
		ID:           u.ID,
		Email:        u.Email,
		Phone:        u.Phone,
		PasswordHash: u.PasswordHash,
		Role:         u.Role,
		IsActive:     u.IsActive,
		FullName:     u.FullName,
		Metadata:     u.Metadata,
		LastLoginAt:  msPtr(u.LastLoginAt),
		CreatedAt:    ms(u.CreatedAt),
		UpdatedAt:    ms(u.UpdatedAt),
	}

	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) UserByIdentifier(ctx context.Context, id storage.Identifier) (*storage.User, error) {
	const op = "mongostore.UserByIdentifier"

	or := bson.A{}
	if id.Email != "" {
		or = append(or, bson.D{{Key: "email", Value: id.Email}})
	}
	if id.Phone != "" {
		or = append(or, bson.D{{Key: "phone", Value: id.Phone}})
	}
	if len(or) == 0 {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	u, err := s.findUser(ctx, bson.D{{Key: "$or", Value: or}})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (s *Store) UserByID(ctx context.Context, id string) (*storage.User, error) {
	u, err := s.findUser(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return nil, fmt.Errorf("mongostore.UserByID: %w", err)
	}
	return u, nil
}

func (s *Store) findUser(ctx context.Context, filter bson.D) (*storage.User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrUserNotFound
		}
		return nil, err
	}
	return doc.toUser(), nil
}

func (s *Store) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	return s.updateUser(ctx, "mongostore.TouchLastLogin", userID, bson.D{
		{Key: "last_login_at", Value: ms(at)},
		{Key: "updated_at", Value: ms(at)},
	})
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID, hash string, at time.Time) error {
	return s.updateUser(ctx, "mongostore.UpdatePasswordHash", userID, bson.D{
		{Key: "password_hash", Value: hash},
		{Key: "updated_at", Value: ms(at)},
	})
}

func (s *Store) updateUser(ctx context.Context, op, userID string, set bson.D) error {
	res, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: userID}},
		bson.D{{Key: "$set", Value: set}},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	return nil
}

func (s *Store) SaveRefreshToken(ctx context.Context, t *storage.RefreshToken) error {
	const op = "mongostore.SaveRefreshToken"

	if err := s.insertToken(ctx, t); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) insertToken(ctx context.Context, t *storage.RefreshToken) error {
	doc := refreshTokenDoc{
		ID:        t.ID,
		UserID:    t.UserID,
		TokenHash: t.TokenHash,
		ExpiresAt: ms(t.ExpiresAt),
		CreatedAt: ms(t.CreatedAt),
		UsedAt:    msPtr(t.UsedAt),
	}
	if _, err := s.tokens.InsertOne(ctx, doc); err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrTokenExists
		}
		return err
	}
	return nil
}

func (s *Store) LookupRefreshToken(ctx context.Context, tokenHash string) (*storage.TokenWithUser, error) {
	const op = "mongostore.LookupRefreshToken"

	var doc refreshTokenDoc
	err := s.tokens.FindOne(ctx, bson.D{{Key: "token_hash", Value: tokenHash}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrTokenNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	u, err := s.findUser(ctx, bson.D{{Key: "_id", Value: doc.UserID}})
	if errors.Is(err, storage.ErrUserNotFound) {
		return nil, fmt.Errorf("%s: orphaned token: %w", op, storage.ErrTokenNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &storage.TokenWithUser{Token: doc.toToken(), User: *u}, nil
}

func (s *Store) RotateRefreshToken(ctx context.Context, oldHash string, next *storage.RefreshToken, now time.Time) (bool, error) {
	const op = "mongostore.RotateRefreshToken"

	claimedAt := ms(now)
	var err error
	if s.useTransactions {
		err = s.rotateInTransaction(ctx, oldHash, next, claimedAt)
	} else {
		err = s.rotateClaimFirst(ctx, oldHash, next, claimedAt)
	}

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errNotClaimed):
		return false, nil
	default:
		return false, fmt.Errorf("%s: %w", op, err)
	}
}

func (s *Store) claim(ctx context.Context, tokenHash string, at time.Time) error {
	res, err := s.tokens.UpdateOne(ctx,
		bson.D{{Key: "token_hash", Value: tokenHash}, {Key: "used_at", Value: nil}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "used_at", Value: at}}}},
	)
	if err != nil {
		return err
	}
	if res.ModifiedCount == 0 {
		return errNotClaimed
	}
	return nil
}

func (s *Store) rotateInTransaction(ctx context.Context, oldHash string, next *storage.RefreshToken, at time.Time) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(ctx context.Context) (interface{}, error) {
		if err := s.claim(ctx, oldHash, at); err != nil {
			return nil, err
		}
		return nil, s.insertToken(ctx, next)
	})
	return err
}

func (s *Store) rotateClaimFirst(ctx context.Context, oldHash string, next *storage.RefreshToken, at time.Time) error {
	return claimThenInsert(ctx,
		func(ctx context.Context) error { return s.claim(ctx, oldHash, at) },
		func(ctx context.Context) error { return s.insertToken(ctx, next) },
		successorInsertAttempts,
	)
}

func (s *Store) RevokeRefreshToken(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	err := s.claim(ctx, tokenHash, ms(now))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errNotClaimed):
		return false, nil
	default:
		return false, fmt.Errorf("mongostore.RevokeRefreshToken: %w", err)
	}
}

func activeFilter(userID string, now time.Time) bson.D {
	return bson.D{
		{Key: "user_id", Value: userID},
		{Key: "used_at", Value: nil},
		{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: ms(now)}}},
	}
}

func (s *Store) RevokeAllRefreshTokens(ctx context.Context, userID string, now time.Time) (int64, error) {
	res, err := s.tokens.UpdateMany(ctx,
		activeFilter(userID, now),
		bson.D{{Key: "$set", Value: bson.D{{Key: "used_at", Value: ms(now)}}}},
	)
	if err != nil {
		return 0, fmt.Errorf("mongostore.RevokeAllRefreshTokens: %w", err)
	}
	return res.ModifiedCount, nil
}

func (s *Store) CountActiveRefreshTokens(ctx context.Context, userID string, now time.Time) (int64, error) {
	n, err := s.tokens.CountDocuments(ctx, activeFilter(userID, now))
	if err != nil {
		return 0, fmt.Errorf("mongostore.CountActiveRefreshTokens: %w", err)
	}
	return n, nil
}

func (d *userDoc) toUser() *storage.User {
	return &storage.User{
		ID:           d.ID,
		Email:        d.Email,
		Phone:        d.Phone,
		PasswordHash: d.PasswordHash,
		Role:         d.Role,
		IsActive:     d.IsActive,
		FullName:     d.FullName,
		Metadata:     d.Metadata,
		LastLoginAt:  d.LastLoginAt,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func (d *refreshTokenDoc) toToken() storage.RefreshToken {
	return storage.RefreshToken{
		ID:        d.ID,
		UserID:    d.UserID,
		TokenHash: d.TokenHash,
		ExpiresAt: d.ExpiresAt,
		CreatedAt: d.CreatedAt,
		UsedAt:    d.UsedAt,
	}
}

// ms truncates to the precision BSON dates keep.
func ms(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func msPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := ms(*t)
	return &v
}

// isDuplicateKeyError checks if the error is a MongoDB duplicate key error (code 11000).
func isDuplicateKeyError(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	return mongo.IsDuplicateKeyError(err)
}
