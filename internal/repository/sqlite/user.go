package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/corely/auth/internal/apperror"
	"github.com/corely/auth/internal/model"
	"github.com/corely/auth/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, email, username, password_hash, avatar_url, email_verified, created_at`

// Create inserts a new user, assigning ID and CreatedAt.
// A uniqueness failure on email or username comes back as
// repository.ErrDuplicate.
func (db *DB) Create(ctx context.Context, user *model.User) error {
	user.ID = xid.New().String()
	user.CreatedAt = time.Now().UTC()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, email, username, password_hash, avatar_url, email_verified, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.Username,
		user.PasswordHash,
		user.AvatarURL,
		user.EmailVerified,
		user.CreatedAt,
	)
	if err != nil {
		return mapInsertErr(err, "user")
	}

	return nil
}

// CreateWithSocialAccount inserts a user and its first social link in
// one transaction. If either insert fails the transaction rolls back,
// so the database never holds a half-created account.
func (db *DB) CreateWithSocialAccount(ctx context.Context, user *model.User, account *model.SocialAccount) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: starting transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, email, username, password_hash, avatar_url, email_verified, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.Username,
		user.PasswordHash,
		user.AvatarURL,
		user.EmailVerified,
		user.CreatedAt,
	)
	if err != nil {
		return mapInsertErr(err, "user")
	}

	account.ID = xid.New().String()
	account.UserID = user.ID
	account.CreatedAt = now

	_, err = tx.ExecContext(ctx,
		`INSERT INTO social_accounts (id, user_id, provider, provider_user_id, provider_email, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		account.ID,
		account.UserID,
		account.Provider,
		account.ProviderUserID,
		account.ProviderEmail,
		account.CreatedAt,
	)
	if err != nil {
		return mapInsertErr(err, "social account")
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing user creation: %w", err)
	}

	return nil
}

// GetUserByID retrieves a user by internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return db.getUser(ctx, id,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// GetUserByEmail retrieves a user by email, case-sensitive as stored.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return db.getUser(ctx, email,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

// GetUserByUsername retrieves a user by username.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return db.getUser(ctx, username,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

// GetUserByIdentifier retrieves a user whose username or email matches
// the identifier. Backs the flexible local login.
//
// The username match is tried first so the outcome stays deterministic
// when one user's username equals another user's email.
func (db *DB) GetUserByIdentifier(ctx context.Context, identifier string) (*model.User, error) {
	user, err := db.getUser(ctx, identifier,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, identifier)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, err
	}
	return db.getUser(ctx, identifier,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, identifier)
}

// UpdatePasswordHash overwrites the user's password hash.
func (db *DB) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE id = ?`, hash, userID)
	if err != nil {
		return fmt.Errorf("sqlite: updating password for user %s: %w", userID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking password update for user %s: %w", userID, err)
	}
	if affected == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

// getUser runs a single-row user query. key is only used for the
// not-found message.
func (db *DB) getUser(ctx context.Context, key, query string, args ...any) (*model.User, error) {
	var u model.User

	err := db.conn.QueryRowContext(ctx, query, args...).Scan(
		&u.ID,
		&u.Email,
		&u.Username,
		&u.PasswordHash,
		&u.AvatarURL,
		&u.EmailVerified,
		&u.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user", key)
		}
		return nil, fmt.Errorf("sqlite: querying user: %w", err)
	}

	return &u, nil
}
