package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/corely/auth/internal/apperror"
	"github.com/corely/auth/internal/model"
	"github.com/corely/auth/internal/repository"
)

// compile-time check that *DB implements repository.SocialAccountRepository
var _ repository.SocialAccountRepository = (*DB)(nil)

const socialAccountColumns = `id, user_id, provider, provider_user_id, provider_email, created_at`

// CreateSocialAccount inserts a new provider link, assigning ID and
// CreatedAt. A duplicate (provider, provider_user_id) pair comes back as
// repository.ErrDuplicate. The constraint is the backstop behind the
// service's lookup-first resolution order.
func (db *DB) CreateSocialAccount(ctx context.Context, account *model.SocialAccount) error {
	account.ID = xid.New().String()
	account.CreatedAt = time.Now().UTC()

	_, err := db.conn.ExecContext(ctx,
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

	return nil
}

// GetSocialAccount retrieves a link by its external identity pair.
func (db *DB) GetSocialAccount(ctx context.Context, provider, providerUserID string) (*model.SocialAccount, error) {
	return db.getSocialAccount(ctx, provider,
		`SELECT `+socialAccountColumns+` FROM social_accounts
		 WHERE provider = ? AND provider_user_id = ?`,
		provider, providerUserID)
}

// GetSocialAccountForUser retrieves a user's link for one provider.
func (db *DB) GetSocialAccountForUser(ctx context.Context, userID, provider string) (*model.SocialAccount, error) {
	return db.getSocialAccount(ctx, provider,
		`SELECT `+socialAccountColumns+` FROM social_accounts
		 WHERE user_id = ? AND provider = ?`,
		userID, provider)
}

// ListSocialAccounts returns all of a user's provider links, oldest
// first.
func (db *DB) ListSocialAccounts(ctx context.Context, userID string) ([]model.SocialAccount, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+socialAccountColumns+` FROM social_accounts
		 WHERE user_id = ? ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing social accounts for user %s: %w", userID, err)
	}
	defer rows.Close()

	var accounts []model.SocialAccount
	for rows.Next() {
		var a model.SocialAccount
		if err := rows.Scan(
			&a.ID,
			&a.UserID,
			&a.Provider,
			&a.ProviderUserID,
			&a.ProviderEmail,
			&a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning social account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating social accounts: %w", err)
	}

	return accounts, nil
}

// CountSocialAccountsExcluding counts a user's links to providers other
// than the given one.
func (db *DB) CountSocialAccountsExcluding(ctx context.Context, userID, provider string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM social_accounts WHERE user_id = ? AND provider != ?`,
		userID, provider,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting social accounts for user %s: %w", userID, err)
	}
	return count, nil
}

// DeleteSocialAccount removes a provider link by ID.
func (db *DB) DeleteSocialAccount(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM social_accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting social account %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking social account delete %s: %w", id, err)
	}
	if affected == 0 {
		return apperror.NotFound("social account", id)
	}
	return nil
}

// getSocialAccount runs a single-row social account query.
func (db *DB) getSocialAccount(ctx context.Context, key, query string, args ...any) (*model.SocialAccount, error) {
	var a model.SocialAccount

	err := db.conn.QueryRowContext(ctx, query, args...).Scan(
		&a.ID,
		&a.UserID,
		&a.Provider,
		&a.ProviderUserID,
		&a.ProviderEmail,
		&a.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("social account", key)
		}
		return nil, fmt.Errorf("sqlite: querying social account: %w", err)
	}

	return &a, nil
}
