// Package model defines the data structures used throughout the application.
package model

import "time"

// User is the identity root. A user may carry a local password, one or
// more linked social accounts, or both; the service layer guarantees an
// account always retains at least one usable authentication method.
//
// WHY PasswordHash *string?
// An absent hash is meaningful: it marks an OAuth-only account. A nil
// pointer keeps "no password set" distinguishable from any stored value
// and maps directly onto the nullable column.
//
// Email is the cross-provider matching key. For providers that never
// report an email (e.g. Instagram) the service stores a synthetic
// placeholder of the form "{provider}_{provider_user_id}@oauth.local",
// so the UNIQUE constraint on email never blocks those accounts.
type User struct {
	ID            string    `json:"id"            db:"id"`
	Email         string    `json:"email"         db:"email"`
	Username      string    `json:"username"      db:"username"`
	PasswordHash  *string   `json:"-"             db:"password_hash"`
	AvatarURL     *string   `json:"avatarUrl"     db:"avatar_url"`
	EmailVerified bool      `json:"emailVerified" db:"email_verified"`
	CreatedAt     time.Time `json:"createdAt"     db:"created_at"`
}

// HasPassword reports whether the user can authenticate with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}
