// Package gormstore implements storage.Store on GORM for PostgreSQL, MySQL and
// SQLite.
//
// Claims are single conditional UPDATE statements guarded by used_at IS NULL and
// checked through RowsAffected. Rotation runs the claim and the insert of the
// successor inside one transaction.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tokenwarden/authcore/storage"
)

// Dialects accepted by Open.
const (
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
	DialectSQLite   = "sqlite"
)

var errNotClaimed = errors.New("gormstore: token not claimed")

// Store is a storage.Store backed by a *gorm.DB.
type Store struct {
	db *gorm.DB
}

var _ storage.Store = (*Store)(nil)

// Open connects using the named dialect and returns a store. Duplicate-key errors
// are translated by the dialect.
func Open(dialect, dsn string) (*Store, error) {
	const op = "gormstore.Open"

	var dialector gorm.Dialector
	switch dialect {
	case DialectPostgres:
		dialector = postgres.Open(dsn)
	case DialectMySQL:
		dialector = mysql.Open(dsn)
	case DialectSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("%s: unsupported dialect %q", op, dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return New(db)
}

// New wraps an existing connection and verifies it is reachable.
func New(db *gorm.DB) (*Store, error) {
	const op = "gormstore.New"

	if db == nil {
		return nil, fmt.Errorf("%s: database cannot be nil", op)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get underlying sql.DB: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%s: database connection failed: %w", op, err)
	}

	return &Store{db: db}, nil
}

// AutoMigrate creates or updates the users and refresh_tokens tables from the row
// models. Production deployments apply the SQL files in the migrations package
// instead.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&userRow{}, &refreshTokenRow{}); err != nil {
		return fmt.Errorf("gormstore.AutoMigrate: %w", err)
	}
	return nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) CreateUser(ctx context.Context, u *storage.User) error {
	const op = "gormstore.CreateUser"

	if err := s.db.WithContext(ctx).Create(fromUser(u)).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) UserByIdentifier(ctx context.Context, id storage.Identifier) (*storage.User, error) {
	const op = "gormstore.UserByIdentifier"

	q := s.db.WithContext(ctx)
	switch {
	case id.Email != "" && id.Phone != "":
		q = q.Where("email = ? OR phone = ?", id.Email, id.Phone)
	case id.Email != "":
		q = q.Where("email = ?", id.Email)
	case id.Phone != "":
		q = q.Where("phone = ?", id.Phone)
	default:
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	var row userRow
	if err := q.Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return row.toUser(), nil
}

func (s *Store) UserByID(ctx context.Context, id string) (*storage.User, error) {
	const op = "gormstore.UserByID"

	var row userRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return row.toUser(), nil
}

func (s *Store) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	return s.updateUser(ctx, "gormstore.TouchLastLogin", userID, map[string]interface{}{
		"last_login_at": at.UTC(),
		"updated_at":    at.UTC(),
	})
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID, hash string, at time.Time) error {
	return s.updateUser(ctx, "gormstore.UpdatePasswordHash", userID, map[string]interface{}{
		"password_hash": hash,
		"updated_at":    at.UTC(),
	})
}

func (s *Store) updateUser(ctx context.Context, op, userID string, values map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", userID).Updates(values)
	if res.Error != nil {
		return fmt.Errorf("%s: %w", op, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	return nil
}

func (s *Store) SaveRefreshToken(ctx context.Context, t *storage.RefreshToken) error {
	const op = "gormstore.SaveRefreshToken"

	if err := s.db.WithContext(ctx).Omit("User").Create(fromToken(t)).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrTokenExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) LookupRefreshToken(ctx context.Context, tokenHash string) (*storage.TokenWithUser, error) {
	const op = "gormstore.LookupRefreshToken"

	var row refreshTokenRow
	err := s.db.WithContext(ctx).
		Joins("User").
		Where("refresh_tokens.token_hash = ?", tokenHash).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrTokenNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &storage.TokenWithUser{Token: row.toToken(), User: *row.User.toUser()}, nil
}

func (s *Store) RotateRefreshToken(ctx context.Context, oldHash string, next *storage.RefreshToken, now time.Time) (bool, error) {
	const op = "gormstore.RotateRefreshToken"

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&refreshTokenRow{}).
			Where("token_hash = ? AND used_at IS NULL", oldHash).
			Update("used_at", now.UTC())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errNotClaimed
		}

		return tx.Omit("User").Create(fromToken(next)).Error
	})

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errNotClaimed):
		return false, nil
	case isDuplicate(err):
		return false, fmt.Errorf("%s: %w", op, storage.ErrTokenExists)
	default:
		return false, fmt.Errorf("%s: %w", op, err)
	}
}

func (s *Store) RevokeRefreshToken(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	const op = "gormstore.RevokeRefreshToken"

	res := s.db.WithContext(ctx).Model(&refreshTokenRow{}).
		Where("token_hash = ? AND used_at IS NULL", tokenHash).
		Update("used_at", now.UTC())
	if res.Error != nil {
		return false, fmt.Errorf("%s: %w", op, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) RevokeAllRefreshTokens(ctx context.Context, userID string, now time.Time) (int64, error) {
	const op = "gormstore.RevokeAllRefreshTokens"

	res := s.db.WithContext(ctx).Model(&refreshTokenRow{}).
		Where("user_id = ? AND used_at IS NULL AND expires_at > ?", userID, now.UTC()).
		Update("used_at", now.UTC())
	if res.Error != nil {
		return 0, fmt.Errorf("%s: %w", op, res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) CountActiveRefreshTokens(ctx context.Context, userID string, now time.Time) (int64, error) {
	const op = "gormstore.CountActiveRefreshTokens"

	var count int64
	err := s.db.WithContext(ctx).Model(&refreshTokenRow{}).
		Where("user_id = ? AND used_at IS NULL AND expires_at > ?", userID, now.UTC()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

// isDuplicate covers connections opened without TranslateError.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "Duplicate entry")
}
