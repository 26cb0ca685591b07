package model

import "time"

// SocialAccount links one User to one external identity.
//
// The pair (Provider, ProviderUserID) is globally unique: one external
// identity resolves to at most one User. The database enforces this with
// a UNIQUE constraint; the service layer's lookup-first resolution order
// is the primary defense, the constraint is the backstop under races.
//
// ProviderEmail is the email the provider reported at link time. It may
// differ from User.Email (the user may have merged a social identity
// into an account registered under another address) and may be nil for
// providers that don't expose one.
type SocialAccount struct {
	ID             string    `json:"id"            db:"id"`
	UserID         string    `json:"userId"        db:"user_id"`
	Provider       string    `json:"provider"      db:"provider"`
	ProviderUserID string    `json:"-"             db:"provider_user_id"`
	ProviderEmail  *string   `json:"providerEmail" db:"provider_email"`
	CreatedAt      time.Time `json:"createdAt"     db:"created_at"`
}
