package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
)

// facebookUser is the Graph API /me response with the fields we request.
// The avatar sits behind a nested picture.data.url envelope.
type facebookUser struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"` // absent if not granted or not set
	Picture struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
}

// FacebookProvider implements the Authorization Code flow against the
// Facebook Graph API.
type FacebookProvider struct {
	config      *oauth2.Config
	userInfoURL string // overridable in tests
}

// NewFacebookProvider creates a FacebookProvider with the given
// credentials.
func NewFacebookProvider(clientID, clientSecret string) *FacebookProvider {
	return &FacebookProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       []string{"email", "public_profile"},
			Endpoint:     facebook.Endpoint,
		},
		userInfoURL: "https://graph.facebook.com/v18.0/me",
	}
}

func (p *FacebookProvider) Name() string { return "facebook" }

// AuthorizationURL returns the Facebook login dialog URL.
func (p *FacebookProvider) AuthorizationURL(redirectURI, state string) string {
	return withRedirect(p.config, redirectURI).AuthCodeURL(state)
}

// Exchange trades the authorization code for an access token.
func (p *FacebookProvider) Exchange(ctx context.Context, code, redirectURI string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	token, err := withRedirect(p.config, redirectURI).Exchange(ctx, code)
	if err != nil {
		return "", classifyExchangeErr(p.Name(), err)
	}
	return token.AccessToken, nil
}

// FetchUserInfo calls the Graph API /me endpoint and normalizes the
// profile. The Graph API takes the token as a query parameter.
func (p *FacebookProvider) FetchUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("fields", "id,name,email,picture.type(large)")
	q.Set("access_token", accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("oauth: building facebook request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, unavailableErr(p.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, exchangeStatusErr(p.Name(), resp.StatusCode)
	}

	var fu facebookUser
	if err := json.NewDecoder(resp.Body).Decode(&fu); err != nil {
		return nil, fmt.Errorf("oauth: decoding facebook /me response: %w", err)
	}
	if fu.ID == "" {
		return nil, fmt.Errorf("oauth: facebook returned a profile without an id")
	}

	return &UserInfo{
		Provider:       p.Name(),
		ProviderUserID: fu.ID,
		Email:          fu.Email,
		DisplayName:    fu.Name,
		AvatarURL:      fu.Picture.Data.URL,
	}, nil
}
