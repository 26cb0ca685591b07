package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/corely/auth/internal/apperror"
	"github.com/corely/auth/internal/model"
	"github.com/corely/auth/internal/repository"
)

// newTestDB returns a DB backed by an in-memory SQLite database that is
// closed when the test finishes.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// createTestUser creates a user and fails the test if it errors.
func createTestUser(t *testing.T, db *DB, email, username string) *model.User {
	t.Helper()
	user := &model.User{
		Email:    email,
		Username: username,
	}
	if err := db.Create(context.Background(), user); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

func strPtr(s string) *string { return &s }

// =========================================================================
// CREATE TESTS
// =========================================================================

func TestUserCreate(t *testing.T) {
	db := newTestDB(t)

	user := &model.User{
		Email:         "test@example.com",
		Username:      "testuser",
		PasswordHash:  strPtr("$2a$04$fakehash"),
		AvatarURL:     strPtr("https://example.com/avatar.png"),
		EmailVerified: true,
	}

	err := db.Create(context.Background(), user)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Verify the user was modified in-place (pointer receiver)
	if user.ID == "" {
		t.Error("Create() did not set user.ID")
	}
	if user.CreatedAt.IsZero() {
		t.Error("Create() did not set user.CreatedAt")
	}
}

func TestUserCreate_DuplicateEmail(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "taken@example.com", "first")

	duplicate := &model.User{Email: "taken@example.com", Username: "second"}
	err := db.Create(context.Background(), duplicate)
	if !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("Create() error = %v, want ErrDuplicate", err)
	}
}

func TestUserCreate_DuplicateUsername(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "a@example.com", "taken")

	duplicate := &model.User{Email: "b@example.com", Username: "taken"}
	err := db.Create(context.Background(), duplicate)
	if !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("Create() error = %v, want ErrDuplicate", err)
	}
}

// =========================================================================
// LOOKUP TESTS
// =========================================================================

func TestUserGetByID(t *testing.T) {
	db := newTestDB(t)
	created := createTestUser(t, db, "lookup@example.com", "lookup_user")

	found, err := db.GetUserByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if found.ID != created.ID {
		t.Errorf("ID = %q, want %q", found.ID, created.ID)
	}
	if found.Email != "lookup@example.com" {
		t.Errorf("Email = %q", found.Email)
	}
	if found.PasswordHash != nil {
		t.Errorf("PasswordHash = %v, want nil for a passwordless user", *found.PasswordHash)
	}
}

func TestUserGetByID_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetUserByID(context.Background(), "nonexistent-id")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetUserByID() error = %v, want ErrNotFound", err)
	}
}

func TestUserGetByEmail(t *testing.T) {
	db := newTestDB(t)
	created := createTestUser(t, db, "mail@example.com", "mail_user")

	found, err := db.GetUserByEmail(context.Background(), "mail@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail() error = %v", err)
	}
	if found.ID != created.ID {
		t.Errorf("ID = %q, want %q", found.ID, created.ID)
	}
}

func TestUserGetByIdentifier(t *testing.T) {
	db := newTestDB(t)
	created := createTestUser(t, db, "ana@example.com", "ana")

	for _, identifier := range []string{"ana", "ana@example.com"} {
		found, err := db.GetUserByIdentifier(context.Background(), identifier)
		if err != nil {
			t.Fatalf("GetUserByIdentifier(%q) error = %v", identifier, err)
		}
		if found.ID != created.ID {
			t.Errorf("GetUserByIdentifier(%q) ID = %q, want %q", identifier, found.ID, created.ID)
		}
	}

	if _, err := db.GetUserByIdentifier(context.Background(), "stranger"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetUserByIdentifier(stranger) error = %v, want ErrNotFound", err)
	}
}

func TestUserGetByIdentifier_UsernameWinsOverEmail(t *testing.T) {
	db := newTestDB(t)

	// One user's username equals another user's email. The username
	// match must win regardless of insertion order.
	byEmail := createTestUser(t, db, "shared@example.com", "someone_else")
	byUsername := createTestUser(t, db, "other@example.com", "shared@example.com")

	found, err := db.GetUserByIdentifier(context.Background(), "shared@example.com")
	if err != nil {
		t.Fatalf("GetUserByIdentifier() error = %v", err)
	}
	if found.ID != byUsername.ID {
		t.Errorf("resolved to %q, want the username owner %q (email owner is %q)",
			found.ID, byUsername.ID, byEmail.ID)
	}
}

// =========================================================================
// PASSWORD UPDATE TESTS
// =========================================================================

func TestUpdatePasswordHash(t *testing.T) {
	db := newTestDB(t)
	created := createTestUser(t, db, "pw@example.com", "pw_user")

	if err := db.UpdatePasswordHash(context.Background(), created.ID, "$2a$04$newhash"); err != nil {
		t.Fatalf("UpdatePasswordHash() error = %v", err)
	}

	found, err := db.GetUserByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetUserByID() after update: %v", err)
	}
	if found.PasswordHash == nil || *found.PasswordHash != "$2a$04$newhash" {
		t.Errorf("PasswordHash not updated: %v", found.PasswordHash)
	}
}

func TestUpdatePasswordHash_UnknownUser(t *testing.T) {
	db := newTestDB(t)

	err := db.UpdatePasswordHash(context.Background(), "no-such-user", "$2a$04$hash")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("UpdatePasswordHash() error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// TRANSACTIONAL CREATE TESTS
// =========================================================================

func TestCreateWithSocialAccount(t *testing.T) {
	db := newTestDB(t)

	user := &model.User{
		Email:         "social@example.com",
		Username:      "social_user",
		EmailVerified: true,
	}
	account := &model.SocialAccount{
		Provider:       "google",
		ProviderUserID: "g-123",
		ProviderEmail:  strPtr("social@example.com"),
	}

	if err := db.CreateWithSocialAccount(context.Background(), user, account); err != nil {
		t.Fatalf("CreateWithSocialAccount() error = %v", err)
	}
	if user.ID == "" || account.ID == "" {
		t.Fatal("CreateWithSocialAccount() did not assign IDs")
	}
	if account.UserID != user.ID {
		t.Errorf("account.UserID = %q, want %q", account.UserID, user.ID)
	}

	link, err := db.GetSocialAccount(context.Background(), "google", "g-123")
	if err != nil {
		t.Fatalf("GetSocialAccount() after create: %v", err)
	}
	if link.UserID != user.ID {
		t.Errorf("link.UserID = %q, want %q", link.UserID, user.ID)
	}
}

func TestCreateWithSocialAccount_RollsBackOnLinkConflict(t *testing.T) {
	db := newTestDB(t)

	// Claim the external identity first.
	owner := &model.User{Email: "owner@example.com", Username: "owner"}
	ownerLink := &model.SocialAccount{Provider: "github", ProviderUserID: "gh-1"}
	if err := db.CreateWithSocialAccount(context.Background(), owner, ownerLink); err != nil {
		t.Fatalf("seeding owner: %v", err)
	}

	// Second creation for the same identity must fail and leave no user
	// row behind.
	user := &model.User{Email: "late@example.com", Username: "late"}
	link := &model.SocialAccount{Provider: "github", ProviderUserID: "gh-1"}
	err := db.CreateWithSocialAccount(context.Background(), user, link)
	if !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("CreateWithSocialAccount() error = %v, want ErrDuplicate", err)
	}

	if _, err := db.GetUserByEmail(context.Background(), "late@example.com"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("user row survived a rolled-back creation: err = %v", err)
	}
}
