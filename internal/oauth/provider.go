// Package oauth implements the external identity provider adapters.
//
// Every provider-specific field mapping and quirk lives behind the
// Provider interface, so the identity resolution code upstream never
// branches on which provider a login came from. Adding a provider means
// adding one adapter file and one registry entry; nothing else changes.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/oauth2"
)

// UserInfo is the provider-agnostic profile shape every adapter
// normalizes into. Fields a provider does not offer are left empty:
// Instagram's Basic Display API, for example, never returns an email or
// avatar. That is a documented provider limitation, not a bug, and
// callers must tolerate an empty Email.
type UserInfo struct {
	Provider       string
	ProviderUserID string
	Email          string
	DisplayName    string
	AvatarURL      string
}

// Provider is the capability set every external identity provider
// adapter implements.
type Provider interface {
	// Name is the stable identifier used in routes and as the provider
	// column value ("google", "github", ...).
	Name() string

	// AuthorizationURL builds the provider's consent-screen URL with our
	// client id, the redirect URI, the requested scopes, the anti-CSRF
	// state, and response_type=code.
	AuthorizationURL(redirectURI, state string) string

	// Exchange trades an authorization code for an access token.
	Exchange(ctx context.Context, code, redirectURI string) (string, error)

	// FetchUserInfo retrieves the provider profile for an access token
	// and normalizes it.
	FetchUserInfo(ctx context.Context, accessToken string) (*UserInfo, error)
}

// Sentinel errors separating the two upstream failure modes: the
// provider answered with a non-success response, or it never answered at
// all. Callers treat both as "authentication failed" toward the browser
// but log them differently.
var (
	ErrProviderExchange    = errors.New("oauth: provider rejected the exchange")
	ErrProviderUnavailable = errors.New("oauth: provider unavailable")
)

// classifyExchangeErr wraps a failed outbound provider call in the
// matching sentinel. A *oauth2.RetrieveError means the provider's token
// endpoint responded non-2xx; anything else (DNS failure, connection
// reset, deadline) is the provider being unreachable.
func classifyExchangeErr(provider string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return fmt.Errorf("%w: %s returned status %d", ErrProviderExchange, provider, retrieveErr.Response.StatusCode)
	}
	return fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, provider, err)
}

// exchangeStatusErr reports a non-2xx profile-fetch response.
func exchangeStatusErr(provider string, status int) error {
	return fmt.Errorf("%w: %s returned status %d", ErrProviderExchange, provider, status)
}

// unavailableErr reports a network-level profile-fetch failure.
func unavailableErr(provider string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, provider, err)
}

// Registry is the static lookup table of configured providers, keyed by
// name. Built once at startup from configuration; providers without
// credentials are simply never registered.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates a Registry over the given adapters.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the adapter for a provider name.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Names returns the registered provider names, sorted for stable output.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// withRedirect copies an oauth2 config with the per-request redirect
// URI set. The shared config is never mutated because adapters are used
// from concurrent requests.
func withRedirect(cfg *oauth2.Config, redirectURI string) *oauth2.Config {
	c := *cfg
	c.RedirectURL = redirectURI
	return &c
}
