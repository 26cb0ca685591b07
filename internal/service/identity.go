// Package service holds the identity resolution and authentication
// business logic.
//
// IdentityService sits between the HTTP handlers and the repositories:
//
//	handlers (HTTP) → IdentityService (rules) → repositories (DB)
//	                ↘ TokenService / PasswordService
//
// It owns the merge/dedup algorithm that maps any credential (local
// password or external provider identity) onto exactly one User, and
// it enforces the invariant that a user always keeps at least one way
// to sign in.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/corely/auth/internal/apperror"
	"github.com/corely/auth/internal/auth"
	"github.com/corely/auth/internal/model"
	"github.com/corely/auth/internal/oauth"
	"github.com/corely/auth/internal/repository"
)

// minPasswordLength applies to SetPassword, the recovery/first-setup
// path for already-authenticated users.
const minPasswordLength = 6

// maxUsernameLength caps usernames derived from provider display names.
const maxUsernameLength = 50

// IdentityService resolves credentials to users and manages their
// authentication methods.
type IdentityService struct {
	users     repository.UserRepository
	socials   repository.SocialAccountRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    *slog.Logger

	// dummyHash is compared against on login failure paths that have no
	// stored hash, so an unknown identifier costs the same bcrypt work
	// as a wrong password.
	dummyHash string
}

// NewIdentityService creates an IdentityService with all dependencies
// injected. Called once from the composition root in internal/server.
func NewIdentityService(
	users repository.UserRepository,
	socials repository.SocialAccountRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *IdentityService {
	dummyHash, err := passwords.Hash("decoy-password-for-constant-time-login")
	if err != nil {
		// Hash only fails on inputs over 72 bytes; the fixed input above
		// is well under.
		panic(fmt.Sprintf("service/identity: hashing decoy password: %v", err))
	}

	return &IdentityService{
		users:     users,
		socials:   socials,
		tokens:    tokens,
		passwords: passwords,
		logger:    logger,
		dummyHash: dummyHash,
	}
}

// RegisterLocal creates a user account with email/username/password
// credentials.
//
// Duplicate email and duplicate username are distinct validation
// errors: on the registration path the caller chose these values and
// needs to know which one to change. The pre-checks give the friendly error; the
// UNIQUE constraints stay as the arbiter under concurrent registration,
// in which case we re-query to find out which value lost the race.
func (s *IdentityService) RegisterLocal(ctx context.Context, email, username, password string) (*model.User, error) {
	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return nil, apperror.ValidationFailed("email", "email is already registered")
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/identity: checking email: %w", err)
	}

	if _, err := s.users.GetUserByUsername(ctx, username); err == nil {
		return nil, apperror.ValidationFailed("username", "username is already taken")
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/identity: checking username: %w", err)
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("service/identity: hashing password: %w", err)
	}

	user := &model.User{
		Email:         email,
		Username:      username,
		PasswordHash:  &hash,
		EmailVerified: false,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// Someone else inserted between our checks and the insert.
			// Re-query to report the right field.
			if _, emailErr := s.users.GetUserByEmail(ctx, email); emailErr == nil {
				return nil, apperror.ValidationFailed("email", "email is already registered")
			}
			return nil, apperror.ValidationFailed("username", "username is already taken")
		}
		return nil, fmt.Errorf("service/identity: creating user: %w", err)
	}

	s.logger.Info("user registered",
		slog.String("userID", user.ID),
		slog.String("username", user.Username),
	)

	return user, nil
}

// AuthenticateLocal verifies local credentials. The identifier may be
// either the username or the email.
//
// Every failure (unknown identifier, OAuth-only account with no
// password, wrong password) returns the same unauthorized error.
// Distinguishing them would let callers enumerate accounts. The paths
// with no stored hash still burn one bcrypt comparison against a decoy
// hash, keeping the failure latency uniform as well.
func (s *IdentityService) AuthenticateLocal(ctx context.Context, identifier, password string) (*model.User, error) {
	invalid := apperror.Unauthorized("invalid username or password")

	user, err := s.users.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.passwords.Verify(s.dummyHash, password)
			return nil, invalid
		}
		return nil, fmt.Errorf("service/identity: looking up %q: %w", identifier, err)
	}

	if !user.HasPassword() {
		s.passwords.Verify(s.dummyHash, password)
		return nil, invalid
	}
	if !s.passwords.Verify(*user.PasswordHash, password) {
		return nil, invalid
	}

	return user, nil
}

// ResolveOAuthIdentity maps a normalized provider profile onto exactly
// one User, creating or linking as needed. Returns the user and whether
// a new account was created.
//
// Resolution order, strict:
//
//  1. An existing (provider, provider_user_id) link always wins: its
//     owning user is returned, no further matching.
//  2. Otherwise, if the provider reported an email and a user holds it,
//     the identity is merged into that user with a new link.
//  3. Otherwise a new user is created together with the link, in one
//     transaction.
//
// Two requests for the same brand-new identity can race past the
// lookups; the uniqueness constraints make one of them lose the insert,
// and the loser simply resolves again; second time around step 1 or 2
// finds what the winner created.
func (s *IdentityService) ResolveOAuthIdentity(ctx context.Context, info *oauth.UserInfo) (*model.User, bool, error) {
	if info == nil || info.Provider == "" || info.ProviderUserID == "" {
		return nil, false, fmt.Errorf("service/identity: user info must carry provider and subject")
	}

	const maxAttempts = 2
	for attempt := 1; ; attempt++ {
		user, isNew, err := s.resolveOnce(ctx, info)
		if err == nil {
			return user, isNew, nil
		}
		if errors.Is(err, repository.ErrDuplicate) && attempt < maxAttempts {
			s.logger.Info("lost account-creation race, re-resolving",
				slog.String("provider", info.Provider),
				slog.String("providerUserID", info.ProviderUserID),
			)
			continue
		}
		return nil, false, err
	}
}

// resolveOnce runs one pass of the resolution algorithm. A
// repository.ErrDuplicate from any insert means a concurrent request
// changed the picture; the caller retries.
func (s *IdentityService) resolveOnce(ctx context.Context, info *oauth.UserInfo) (*model.User, bool, error) {
	// Step 1: existing link.
	account, err := s.socials.GetSocialAccount(ctx, info.Provider, info.ProviderUserID)
	if err == nil {
		user, err := s.users.GetUserByID(ctx, account.UserID)
		if err != nil {
			return nil, false, fmt.Errorf("service/identity: loading owner of social account %s: %w", account.ID, err)
		}
		return user, false, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, false, fmt.Errorf("service/identity: looking up social account: %w", err)
	}

	// Step 2: merge by email.
	if info.Email != "" {
		user, err := s.users.GetUserByEmail(ctx, info.Email)
		if err == nil {
			if err := s.socials.CreateSocialAccount(ctx, s.newLink(user.ID, info)); err != nil {
				if errors.Is(err, repository.ErrDuplicate) {
					return nil, false, err
				}
				return nil, false, fmt.Errorf("service/identity: linking %s to user %s: %w", info.Provider, user.ID, err)
			}

			s.logger.Info("social identity merged into existing account",
				slog.String("userID", user.ID),
				slog.String("provider", info.Provider),
			)
			return user, false, nil
		}
		if !errors.Is(err, apperror.ErrNotFound) {
			return nil, false, fmt.Errorf("service/identity: looking up user by email: %w", err)
		}
	}

	// Step 3: brand-new account.
	username, err := s.uniqueUsername(ctx, info)
	if err != nil {
		return nil, false, err
	}

	email := info.Email
	if email == "" {
		// Synthetic placeholder so the unique-email constraint never
		// blocks providers that don't report an email.
		email = fmt.Sprintf("%s_%s@oauth.local", info.Provider, info.ProviderUserID)
	}

	user := &model.User{
		Email:         email,
		Username:      username,
		EmailVerified: info.Email != "", // trust the provider's own verification
	}
	if info.AvatarURL != "" {
		avatar := info.AvatarURL
		user.AvatarURL = &avatar
	}

	if err := s.users.CreateWithSocialAccount(ctx, user, s.newLink("", info)); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("service/identity: creating user for %s identity: %w", info.Provider, err)
	}

	s.logger.Info("user created from social identity",
		slog.String("userID", user.ID),
		slog.String("provider", info.Provider),
		slog.String("username", user.Username),
	)

	return user, true, nil
}

// newLink builds the SocialAccount row for a provider identity.
func (s *IdentityService) newLink(userID string, info *oauth.UserInfo) *model.SocialAccount {
	account := &model.SocialAccount{
		UserID:         userID,
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
	}
	if info.Email != "" {
		email := info.Email
		account.ProviderEmail = &email
	}
	return account
}

// uniqueUsername derives a username from the provider profile and
// disambiguates it against existing users: the sanitized base first,
// then base_1, base_2, ... until one is free.
func (s *IdentityService) uniqueUsername(ctx context.Context, info *oauth.UserInfo) (string, error) {
	base := info.DisplayName
	if base == "" {
		base = info.Provider + "_user"
	}
	base = sanitizeUsername(base)

	candidate := base
	for i := 1; ; i++ {
		_, err := s.users.GetUserByUsername(ctx, candidate)
		if errors.Is(err, apperror.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("service/identity: checking username %q: %w", candidate, err)
		}
		candidate = fmt.Sprintf("%s_%d", base, i)
	}
}

// sanitizeUsername keeps letters, digits, underscore, and hyphen, caps
// the length, and guards against ending up empty.
func sanitizeUsername(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	username := b.String()
	if len(username) > maxUsernameLength {
		username = username[:maxUsernameLength]
	}
	if username == "" {
		username = "user"
	}
	return username
}

// UnlinkProvider removes the user's link to one provider.
//
// The last-auth-method check runs against the state excluding the link
// being removed: the unlink is refused only when the user has no
// password AND no other linked provider.
func (s *IdentityService) UnlinkProvider(ctx context.Context, user *model.User, provider string) error {
	account, err := s.socials.GetSocialAccountForUser(ctx, user.ID, provider)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return &apperror.AppError{
				Err:     apperror.ErrNotFound,
				Message: fmt.Sprintf("no linked %s account", provider),
			}
		}
		return fmt.Errorf("service/identity: looking up %s link for user %s: %w", provider, user.ID, err)
	}

	others, err := s.socials.CountSocialAccountsExcluding(ctx, user.ID, provider)
	if err != nil {
		return fmt.Errorf("service/identity: counting remaining links for user %s: %w", user.ID, err)
	}
	if !user.HasPassword() && others == 0 {
		return apperror.ValidationFailed("provider",
			"cannot unlink your only authentication method; set a password first")
	}

	if err := s.socials.DeleteSocialAccount(ctx, account.ID); err != nil {
		return fmt.Errorf("service/identity: deleting social account %s: %w", account.ID, err)
	}

	s.logger.Info("social account unlinked",
		slog.String("userID", user.ID),
		slog.String("provider", provider),
	)

	return nil
}

// SetPassword sets or overwrites the user's password. This is an
// account-recovery/first-setup path reachable only behind the auth
// middleware, so no old-password check is required.
func (s *IdentityService) SetPassword(ctx context.Context, userID, password string) error {
	if len(password) < minPasswordLength {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return fmt.Errorf("service/identity: hashing password: %w", err)
	}

	if err := s.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return fmt.Errorf("service/identity: storing password for user %s: %w", userID, err)
	}

	s.logger.Info("password set", slog.String("userID", userID))

	return nil
}

// GetUserByID returns the user for the given internal ID. Used by the
// /auth/me handler after the middleware has verified the token.
func (s *IdentityService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, fmt.Errorf("service/identity: user ID must not be empty")
	}

	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/identity: fetching user %s: %w", id, err)
	}

	return user, nil
}

// ListSocialAccounts returns the user's linked providers.
func (s *IdentityService) ListSocialAccounts(ctx context.Context, userID string) ([]model.SocialAccount, error) {
	accounts, err := s.socials.ListSocialAccounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/identity: listing social accounts for user %s: %w", userID, err)
	}
	return accounts, nil
}

// IssueToken signs a session token for the user.
func (s *IdentityService) IssueToken(user *model.User) (string, error) {
	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return "", fmt.Errorf("service/identity: issuing token for user %s: %w", user.ID, err)
	}
	return token, nil
}
