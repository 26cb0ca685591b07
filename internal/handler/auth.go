package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/corely/auth/internal/apperror"
	"github.com/corely/auth/internal/auth"
	"github.com/corely/auth/internal/model"
	"github.com/corely/auth/internal/service"
)

// AuthHandler serves the local (email/password) authentication routes
// and the profile routes behind the auth middleware.
type AuthHandler struct {
	identity *service.IdentityService
	logger   *slog.Logger
}

// NewAuthHandler creates an AuthHandler. Dependencies are injected; the
// handler knows nothing about how they are constructed.
func NewAuthHandler(identity *service.IdentityService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{identity: identity, logger: logger}
}

// registerRequest is the POST /auth/register body.
type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginRequest is the POST /auth/login body. Identifier may be either
// the username or the email.
type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// setPasswordRequest is the POST /auth/set-password body.
type setPasswordRequest struct {
	Password string `json:"password"`
}

// socialAccountResponse is the linked-provider shape embedded in user
// payloads. The provider's subject identifier stays internal.
type socialAccountResponse struct {
	ID            string    `json:"id"`
	Provider      string    `json:"provider"`
	ProviderEmail *string   `json:"providerEmail"`
	CreatedAt     time.Time `json:"createdAt"`
}

// userResponse is the full user payload for login and /auth/me.
type userResponse struct {
	ID             string                  `json:"id"`
	Email          string                  `json:"email"`
	Username       string                  `json:"username"`
	AvatarURL      *string                 `json:"avatarUrl"`
	EmailVerified  bool                    `json:"emailVerified"`
	HasPassword    bool                    `json:"hasPassword"`
	CreatedAt      time.Time               `json:"createdAt"`
	SocialAccounts []socialAccountResponse `json:"socialAccounts"`
}

// tokenResponse bundles a session token with the authenticated user.
type tokenResponse struct {
	AccessToken string       `json:"accessToken"`
	TokenType   string       `json:"tokenType"`
	User        userResponse `json:"user"`
}

// HandleRegister creates a local account.
//
// HTTP: POST /auth/register → 201, or 400 on duplicate email/username.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	if req.Email == "" || req.Username == "" || req.Password == "" {
		writeError(w, apperror.ValidationFailed("body", "email, username, and password are required"))
		return
	}

	user, err := h.identity.RegisterLocal(r.Context(), req.Email, req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "user created",
		"user": map[string]string{
			"id":       user.ID,
			"email":    user.Email,
			"username": user.Username,
		},
	})
}

// HandleLogin authenticates local credentials and issues a session
// token.
//
// HTTP: POST /auth/login → 200 with token + user, or a uniform 401.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}

	user, err := h.identity.AuthenticateLocal(r.Context(), strings.TrimSpace(req.Identifier), req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	token, err := h.identity.IssueToken(user)
	if err != nil {
		h.logger.Error("login: issuing token failed",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}

	resp, err := h.buildTokenResponse(r, token, user)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleMe returns the authenticated user's profile.
//
// HTTP: GET /auth/me (auth required)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		// Should never happen behind RequireAuth, but be safe.
		writeError(w, apperror.Unauthorized("valid authentication required"))
		return
	}

	user, err := h.identity.GetUserByID(r.Context(), userID)
	if err != nil {
		h.logger.Error("me: user lookup failed", slog.String("userID", userID))
		writeError(w, err)
		return
	}

	resp, err := h.buildUserResponse(r, user)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleLogout acknowledges a logout. Tokens are stateless: the client
// deletes its copy, and the token simply ages out.
//
// HTTP: POST /auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "logged out; discard the token client-side",
	})
}

// HandleSetPassword sets or overwrites the authenticated user's
// password. This is how an OAuth-only account gains a local login, and
// the prerequisite for unlinking its last provider.
//
// HTTP: POST /auth/set-password (auth required)
func (h *AuthHandler) HandleSetPassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid authentication required"))
		return
	}

	var req setPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}

	if err := h.identity.SetPassword(r.Context(), userID, req.Password); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "password set"})
}

// buildUserResponse assembles the full user payload including linked
// social accounts.
func (h *AuthHandler) buildUserResponse(r *http.Request, user *model.User) (*userResponse, error) {
	accounts, err := h.identity.ListSocialAccounts(r.Context(), user.ID)
	if err != nil {
		return nil, err
	}

	resp := &userResponse{
		ID:             user.ID,
		Email:          user.Email,
		Username:       user.Username,
		AvatarURL:      user.AvatarURL,
		EmailVerified:  user.EmailVerified,
		HasPassword:    user.HasPassword(),
		CreatedAt:      user.CreatedAt,
		SocialAccounts: make([]socialAccountResponse, 0, len(accounts)),
	}
	for _, a := range accounts {
		resp.SocialAccounts = append(resp.SocialAccounts, socialAccountResponse{
			ID:            a.ID,
			Provider:      a.Provider,
			ProviderEmail: a.ProviderEmail,
			CreatedAt:     a.CreatedAt,
		})
	}

	return resp, nil
}

// buildTokenResponse wraps a user payload with its session token.
func (h *AuthHandler) buildTokenResponse(r *http.Request, token string, user *model.User) (*tokenResponse, error) {
	userResp, err := h.buildUserResponse(r, user)
	if err != nil {
		return nil, err
	}
	return &tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        *userResp,
	}, nil
}
