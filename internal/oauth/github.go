package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

// githubUser is the portion of the GitHub /user response we care about.
// GitHub returns a much larger object; we only unmarshal what we need.
type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"` // empty when hidden in GitHub settings
	AvatarURL string `json:"avatar_url"`
}

// githubEmail is one entry of the /user/emails response.
type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// GitHubProvider implements the Authorization Code flow against GitHub.
type GitHubProvider struct {
	config    *oauth2.Config
	userURL   string // overridable in tests
	emailsURL string
}

// NewGitHubProvider creates a GitHubProvider with the given credentials.
//
// Scopes: "read:user" for the public profile, "user:email" so we can
// read the primary address even when the user hides it from the public
// profile.
func NewGitHubProvider(clientID, clientSecret string) *GitHubProvider {
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		userURL:   "https://api.github.com/user",
		emailsURL: "https://api.github.com/user/emails",
	}
}

func (p *GitHubProvider) Name() string { return "github" }

// AuthorizationURL returns the GitHub authorization page URL.
func (p *GitHubProvider) AuthorizationURL(redirectURI, state string) string {
	return withRedirect(p.config, redirectURI).AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the authorization code for an access token.
func (p *GitHubProvider) Exchange(ctx context.Context, code, redirectURI string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	token, err := withRedirect(p.config, redirectURI).Exchange(ctx, code)
	if err != nil {
		return "", classifyExchangeErr(p.Name(), err)
	}
	return token.AccessToken, nil
}

// FetchUserInfo calls the GitHub /user API and normalizes the profile.
//
// Users can hide their email from the public profile, in which case
// /user returns it empty. The user:email scope still lets us list the
// account's addresses, so we fall back to the primary verified one. If
// that also fails the profile simply has no email, which the resolution
// engine handles.
func (p *GitHubProvider) FetchUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	client := p.config.Client(ctx, &oauth2.Token{AccessToken: accessToken})

	resp, err := client.Get(p.userURL)
	if err != nil {
		return nil, unavailableErr(p.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, exchangeStatusErr(p.Name(), resp.StatusCode)
	}

	var gu githubUser
	if err := json.NewDecoder(resp.Body).Decode(&gu); err != nil {
		return nil, fmt.Errorf("oauth: decoding github /user response: %w", err)
	}
	if gu.ID == 0 {
		return nil, fmt.Errorf("oauth: github returned an invalid user (ID = 0)")
	}

	email := gu.Email
	if email == "" {
		email = p.primaryEmail(client)
	}

	displayName := gu.Name
	if displayName == "" {
		displayName = gu.Login
	}

	return &UserInfo{
		Provider:       p.Name(),
		ProviderUserID: strconv.FormatInt(gu.ID, 10),
		Email:          email,
		DisplayName:    displayName,
		AvatarURL:      gu.AvatarURL,
	}, nil
}

// primaryEmail returns the account's primary verified address, or ""
// when the lookup fails for any reason. Best effort only; an absent
// email is a supported outcome, not an error.
func (p *GitHubProvider) primaryEmail(client *http.Client) string {
	resp, err := client.Get(p.emailsURL)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}

	var emails []githubEmail
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return ""
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	return ""
}
