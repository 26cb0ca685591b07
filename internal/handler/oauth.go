package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/corely/auth/internal/apperror"
	"github.com/corely/auth/internal/auth"
	"github.com/corely/auth/internal/config"
	"github.com/corely/auth/internal/oauth"
	"github.com/corely/auth/internal/service"
)

// OAuthHandler drives the browser-facing OAuth flow: redirect out to
// the provider, receive the callback, and hand the normalized profile
// to the identity service.
//
// Error reporting differs from the JSON routes: callback failures
// redirect back to the frontend with a generic error indicator. The
// browser arrived here mid-redirect, so a JSON error body would dead-end
// the user, and a specific message would leak upstream detail.
type OAuthHandler struct {
	providers *oauth.Registry
	states    *auth.StateManager
	identity  *service.IdentityService
	cfg       *config.Config
	logger    *slog.Logger
}

// NewOAuthHandler creates an OAuthHandler.
func NewOAuthHandler(
	providers *oauth.Registry,
	states *auth.StateManager,
	identity *service.IdentityService,
	cfg *config.Config,
	logger *slog.Logger,
) *OAuthHandler {
	return &OAuthHandler{
		providers: providers,
		states:    states,
		identity:  identity,
		cfg:       cfg,
		logger:    logger,
	}
}

// providerInfo is one entry of the GET /auth/oauth/providers response.
type providerInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Enabled     bool   `json:"enabled"`
}

// HandleProviders lists the configured providers so the frontend can
// render its login buttons.
//
// HTTP: GET /auth/oauth/providers
func (h *OAuthHandler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	names := h.providers.Names()
	infos := make([]providerInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, providerInfo{
			Name:        name,
			DisplayName: displayName(name),
			Enabled:     true,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"providers": infos})
}

// HandleAuthorize starts the OAuth flow: generate a state token and
// redirect the browser to the provider's consent screen.
//
// HTTP: GET /auth/oauth/{provider}/authorize
func (h *OAuthHandler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	provider, ok := h.providers.Get(name)
	if !ok {
		writeError(w, apperror.ValidationFailed("provider",
			fmt.Sprintf("provider %q is not supported", name)))
		return
	}

	state, err := h.states.Generate()
	if err != nil {
		h.logger.Error("authorize: generating state failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	authURL := provider.AuthorizationURL(h.cfg.CallbackURL(name), state)
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// HandleCallback completes the OAuth flow.
//
// HTTP: GET /auth/oauth/{provider}/callback?code=xxx&state=yyy
//
// Flow: validate state (single-use CSRF check) → exchange code →
// fetch profile → resolve to a user → issue token → redirect to
// {frontend}/auth/callback?token=...&is_new=....
func (h *OAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	query := r.URL.Query()

	// The provider reports user denial and its own errors in the query.
	if errParam := query.Get("error"); errParam != "" {
		h.logger.Info("oauth callback: provider returned error",
			slog.String("provider", name),
			slog.String("error", errParam),
		)
		h.redirectError(w, r, "authorization was denied")
		return
	}

	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		h.redirectError(w, r, "invalid callback parameters")
		return
	}

	// Single-use CSRF check. Unknown and expired states fail alike.
	if !h.states.Verify(state) {
		h.logger.Warn("oauth callback: invalid or expired state",
			slog.String("provider", name),
		)
		h.redirectError(w, r, "invalid or expired state")
		return
	}

	provider, ok := h.providers.Get(name)
	if !ok {
		h.redirectError(w, r, "unsupported provider")
		return
	}

	redirectURI := h.cfg.CallbackURL(name)
	accessToken, err := provider.Exchange(r.Context(), code, redirectURI)
	if err != nil {
		h.logUpstreamError("exchange", name, err)
		h.redirectError(w, r, "authentication failed")
		return
	}

	info, err := provider.FetchUserInfo(r.Context(), accessToken)
	if err != nil {
		h.logUpstreamError("user info", name, err)
		h.redirectError(w, r, "authentication failed")
		return
	}

	user, isNew, err := h.identity.ResolveOAuthIdentity(r.Context(), info)
	if err != nil {
		h.logger.Error("oauth callback: resolving identity failed",
			slog.String("provider", name),
			slog.String("error", err.Error()),
		)
		h.redirectError(w, r, "authentication failed")
		return
	}

	token, err := h.identity.IssueToken(user)
	if err != nil {
		h.logger.Error("oauth callback: issuing token failed",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
		h.redirectError(w, r, "authentication failed")
		return
	}

	h.logger.Info("user authenticated via oauth",
		slog.String("userID", user.ID),
		slog.String("provider", name),
		slog.Bool("isNew", isNew),
	)

	q := url.Values{}
	q.Set("token", token)
	q.Set("is_new", fmt.Sprintf("%t", isNew))
	http.Redirect(w, r, h.cfg.FrontendURL+"/auth/callback?"+q.Encode(), http.StatusSeeOther)
}

// HandleUnlink removes the authenticated user's link to one provider.
//
// HTTP: DELETE /auth/oauth/unlink/{provider} (auth required)
// 404 if not linked, 400 if it is the user's only auth method.
func (h *OAuthHandler) HandleUnlink(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid authentication required"))
		return
	}

	name := chi.URLParam(r, "provider")

	user, err := h.identity.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.identity.UnlinkProvider(r.Context(), user, name); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("%s account unlinked", name),
	})
}

// redirectError sends the browser back to the frontend with a generic
// error indicator.
func (h *OAuthHandler) redirectError(w http.ResponseWriter, r *http.Request, message string) {
	q := url.Values{}
	q.Set("error", message)
	http.Redirect(w, r, h.cfg.FrontendURL+"/auth/callback?"+q.Encode(), http.StatusSeeOther)
}

// logUpstreamError records a failed provider call, keeping the
// unreachable/rejected distinction visible in the logs even though the
// browser sees the same generic failure either way.
func (h *OAuthHandler) logUpstreamError(step, provider string, err error) {
	attrs := []any{
		slog.String("step", step),
		slog.String("provider", provider),
		slog.String("error", err.Error()),
	}
	if errors.Is(err, oauth.ErrProviderUnavailable) {
		h.logger.Warn("oauth callback: provider unreachable", attrs...)
		return
	}
	h.logger.Error("oauth callback: provider rejected request", attrs...)
}

// displayName renders a provider name for UI labels ("google" →
// "Google").
func displayName(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
