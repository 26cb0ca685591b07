// Package repository declares the persistence interfaces the service
// layer depends on. The concrete SQLite implementation lives in the
// sqlite subpackage; tests substitute in-memory fakes.
package repository

import (
	"context"
	"errors"

	"github.com/corely/auth/internal/model"
)

// ErrDuplicate is returned when an insert hits a uniqueness constraint.
// Under concurrent requests this means "someone else won the race": the
// caller re-resolves by re-querying instead of surfacing a raw storage
// error.
var ErrDuplicate = errors.New("duplicate record")

// UserRepository persists User records.
//
// Create and CreateWithSocialAccount assign the ID and CreatedAt on the
// passed struct. Lookups return an error wrapping apperror.ErrNotFound
// when no row matches.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	// CreateWithSocialAccount inserts a user and its first social link
	// atomically. Neither row exists if either insert fails; no error
	// path leaves a partially-created account.
	CreateWithSocialAccount(ctx context.Context, user *model.User, account *model.SocialAccount) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	// GetUserByIdentifier matches either the username or the email,
	// preferring an exact username match when both could apply.
	GetUserByIdentifier(ctx context.Context, identifier string) (*model.User, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
}

// SocialAccountRepository persists the links between users and external
// identities.
type SocialAccountRepository interface {
	CreateSocialAccount(ctx context.Context, account *model.SocialAccount) error
	GetSocialAccount(ctx context.Context, provider, providerUserID string) (*model.SocialAccount, error)
	GetSocialAccountForUser(ctx context.Context, userID, provider string) (*model.SocialAccount, error)
	ListSocialAccounts(ctx context.Context, userID string) ([]model.SocialAccount, error)
	// CountSocialAccountsExcluding counts a user's links to providers
	// other than the given one. Feeds the last-auth-method check, which
	// must run against the state excluding the link being removed.
	CountSocialAccountsExcluding(ctx context.Context, userID, provider string) (int, error)
	DeleteSocialAccount(ctx context.Context, id string) error
}
