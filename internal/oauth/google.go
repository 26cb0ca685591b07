package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// requestTimeout bounds every outbound provider call. Providers specify
// no timeout of their own; without this a wedged upstream would pin the
// request goroutine until the client gives up.
const requestTimeout = 10 * time.Second

// googleUser is the portion of the OpenID Connect userinfo response we
// care about. "sub" is Google's stable subject identifier.
type googleUser struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// GoogleProvider implements the Authorization Code flow against Google.
type GoogleProvider struct {
	config      *oauth2.Config
	userInfoURL string // overridable in tests
}

// NewGoogleProvider creates a GoogleProvider with the given credentials.
func NewGoogleProvider(clientID, clientSecret string) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: "https://www.googleapis.com/oauth2/v3/userinfo",
	}
}

func (p *GoogleProvider) Name() string { return "google" }

// AuthorizationURL returns the Google consent-screen URL.
func (p *GoogleProvider) AuthorizationURL(redirectURI, state string) string {
	return withRedirect(p.config, redirectURI).AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the authorization code for an access token. The
// exchange is server-to-server with our client secret; the token never
// touches the browser.
func (p *GoogleProvider) Exchange(ctx context.Context, code, redirectURI string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	token, err := withRedirect(p.config, redirectURI).Exchange(ctx, code)
	if err != nil {
		return "", classifyExchangeErr(p.Name(), err)
	}
	return token.AccessToken, nil
}

// FetchUserInfo calls the OIDC userinfo endpoint and normalizes the
// profile.
func (p *GoogleProvider) FetchUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	// Config.Client returns an http.Client that attaches the bearer
	// token to every request.
	client := p.config.Client(ctx, &oauth2.Token{AccessToken: accessToken})

	resp, err := client.Get(p.userInfoURL)
	if err != nil {
		return nil, unavailableErr(p.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, exchangeStatusErr(p.Name(), resp.StatusCode)
	}

	var gu googleUser
	if err := json.NewDecoder(resp.Body).Decode(&gu); err != nil {
		return nil, fmt.Errorf("oauth: decoding google userinfo: %w", err)
	}
	if gu.Sub == "" {
		return nil, fmt.Errorf("oauth: google returned a profile without a subject")
	}

	return &UserInfo{
		Provider:       p.Name(),
		ProviderUserID: gu.Sub,
		Email:          gu.Email,
		DisplayName:    gu.Name,
		AvatarURL:      gu.Picture,
	}, nil
}
