// Package config loads the service configuration from environment
// variables once at startup. Every component receives the piece of
// configuration it needs explicitly; nothing reads the environment
// after main has finished wiring.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Provider holds the OAuth client credentials for one external provider.
type Provider struct {
	ClientID     string
	ClientSecret string
}

// Configured reports whether credentials were supplied for the provider.
// Unconfigured providers are not registered and are rejected as
// unsupported by the HTTP layer.
func (p Provider) Configured() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

// Config is the process-wide configuration, assembled once in main.
type Config struct {
	Port   int
	DBPath string

	// Session token signing. Rotating the secret invalidates every
	// outstanding token; accepted tradeoff, there is no revocation list.
	JWTSecret string
	TokenTTL  time.Duration

	// Anti-CSRF state generation for the OAuth redirect handshake.
	OAuthStateSecret string

	// Where browsers land after an OAuth callback, and the base URL the
	// provider redirects back to.
	FrontendURL string
	BackendURL  string

	Providers map[string]Provider
}

// rawEnv mirrors the environment variable surface. Kept separate from
// Config so the exported struct carries resolved values (provider map,
// durations) rather than raw strings.
type rawEnv struct {
	Port   int    `env:"PORT"    envDefault:"8080"`
	DBPath string `env:"DB_PATH" envDefault:"data/auth.db"`

	JWTSecret        string        `env:"JWT_SECRET"`
	TokenTTL         time.Duration `env:"TOKEN_TTL" envDefault:"720h"` // 30 days
	OAuthStateSecret string        `env:"OAUTH_STATE_SECRET"`

	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:5173"`
	BackendURL  string `env:"BACKEND_URL"  envDefault:"http://localhost:8080"`

	GoogleClientID        string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret    string `env:"GOOGLE_CLIENT_SECRET"`
	GitHubClientID        string `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret    string `env:"GITHUB_CLIENT_SECRET"`
	FacebookClientID      string `env:"FACEBOOK_CLIENT_ID"`
	FacebookClientSecret  string `env:"FACEBOOK_CLIENT_SECRET"`
	InstagramClientID     string `env:"INSTAGRAM_CLIENT_ID"`
	InstagramClientSecret string `env:"INSTAGRAM_CLIENT_SECRET"`
}

// Load parses the environment into a Config. It fails fast on a missing
// JWT secret; starting an auth service that cannot sign tokens is never
// useful.
func Load() (*Config, error) {
	var raw rawEnv
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("config: parsing environment: %w", err)
	}

	if raw.JWTSecret == "" {
		return nil, fmt.Errorf("config: JWT_SECRET must be set")
	}
	if raw.OAuthStateSecret == "" {
		// Falling back to the JWT secret keeps single-secret deployments
		// working; the state secret only feeds a hash, it is never a key
		// handed to clients.
		raw.OAuthStateSecret = raw.JWTSecret
	}

	providers := make(map[string]Provider)
	for name, p := range map[string]Provider{
		"google":    {ClientID: raw.GoogleClientID, ClientSecret: raw.GoogleClientSecret},
		"github":    {ClientID: raw.GitHubClientID, ClientSecret: raw.GitHubClientSecret},
		"facebook":  {ClientID: raw.FacebookClientID, ClientSecret: raw.FacebookClientSecret},
		"instagram": {ClientID: raw.InstagramClientID, ClientSecret: raw.InstagramClientSecret},
	} {
		if p.Configured() {
			providers[name] = p
		}
	}

	return &Config{
		Port:             raw.Port,
		DBPath:           raw.DBPath,
		JWTSecret:        raw.JWTSecret,
		TokenTTL:         raw.TokenTTL,
		OAuthStateSecret: raw.OAuthStateSecret,
		FrontendURL:      raw.FrontendURL,
		BackendURL:       raw.BackendURL,
		Providers:        providers,
	}, nil
}

// CallbackURL returns the redirect URI registered with a provider.
// It must match the provider app configuration exactly.
func (c *Config) CallbackURL(provider string) string {
	return fmt.Sprintf("%s/auth/oauth/%s/callback", c.BackendURL, provider)
}
