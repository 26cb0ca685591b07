package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corely/auth/internal/auth"
	"github.com/corely/auth/internal/handler"
	"github.com/corely/auth/internal/repository/sqlite"
	"github.com/corely/auth/internal/service"
)

// newTestIdentity wires an IdentityService over an in-memory database.
func newTestIdentity(t *testing.T) *service.IdentityService {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService("test-secret-at-least-16-chars!!", 0)
	require.NoError(t, err)

	passwords := auth.NewPasswordServiceForTest(4)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	return service.NewIdentityService(db, db, tokens, passwords, logger)
}

func newTestAuthHandler(t *testing.T) *handler.AuthHandler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return handler.NewAuthHandler(newTestIdentity(t), logger)
}

func postJSON(t *testing.T, h http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func TestAuthHandler_HandleRegister(t *testing.T) {
	t.Run("valid registration", func(t *testing.T) {
		h := newTestAuthHandler(t)

		rr := postJSON(t, h.HandleRegister, "/auth/register",
			`{"email":"ana@example.com","username":"ana","password":"hunter22"}`)

		assert.Equal(t, http.StatusCreated, rr.Code)

		var res struct {
			Message string            `json:"message"`
			User    map[string]string `json:"user"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
		assert.NotEmpty(t, res.User["id"])
		assert.Equal(t, "ana", res.User["username"])
	})

	t.Run("invalid json body", func(t *testing.T) {
		h := newTestAuthHandler(t)

		rr := postJSON(t, h.HandleRegister, "/auth/register", `{"email":`)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		h := newTestAuthHandler(t)

		rr := postJSON(t, h.HandleRegister, "/auth/register",
			`{"email":"ana@example.com","username":"","password":"hunter22"}`)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("duplicate email reports the field", func(t *testing.T) {
		h := newTestAuthHandler(t)

		first := postJSON(t, h.HandleRegister, "/auth/register",
			`{"email":"ana@example.com","username":"ana","password":"hunter22"}`)
		require.Equal(t, http.StatusCreated, first.Code)

		second := postJSON(t, h.HandleRegister, "/auth/register",
			`{"email":"ana@example.com","username":"other","password":"hunter22"}`)

		assert.Equal(t, http.StatusBadRequest, second.Code)

		var res handler.ErrorResponse
		require.NoError(t, json.NewDecoder(second.Body).Decode(&res))
		assert.Equal(t, "validation_error", res.Error)
		assert.Contains(t, res.Message, "email")
	})
}

func TestAuthHandler_HandleLogin(t *testing.T) {
	register := func(t *testing.T, h *handler.AuthHandler) {
		rr := postJSON(t, h.HandleRegister, "/auth/register",
			`{"email":"ana@example.com","username":"ana","password":"hunter22"}`)
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	t.Run("login by username", func(t *testing.T) {
		h := newTestAuthHandler(t)
		register(t, h)

		rr := postJSON(t, h.HandleLogin, "/auth/login",
			`{"identifier":"ana","password":"hunter22"}`)

		assert.Equal(t, http.StatusOK, rr.Code)

		var res struct {
			AccessToken string `json:"accessToken"`
			TokenType   string `json:"tokenType"`
			User        struct {
				Username    string `json:"username"`
				HasPassword bool   `json:"hasPassword"`
			} `json:"user"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
		assert.NotEmpty(t, res.AccessToken)
		assert.Equal(t, "bearer", res.TokenType)
		assert.Equal(t, "ana", res.User.Username)
		assert.True(t, res.User.HasPassword)
	})

	t.Run("login by email", func(t *testing.T) {
		h := newTestAuthHandler(t)
		register(t, h)

		rr := postJSON(t, h.HandleLogin, "/auth/login",
			`{"identifier":"ana@example.com","password":"hunter22"}`)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("wrong password and unknown user look the same", func(t *testing.T) {
		h := newTestAuthHandler(t)
		register(t, h)

		wrongPw := postJSON(t, h.HandleLogin, "/auth/login",
			`{"identifier":"ana","password":"wrong"}`)
		unknown := postJSON(t, h.HandleLogin, "/auth/login",
			`{"identifier":"nobody","password":"hunter22"}`)

		assert.Equal(t, http.StatusUnauthorized, wrongPw.Code)
		assert.Equal(t, http.StatusUnauthorized, unknown.Code)
		assert.Equal(t, wrongPw.Body.String(), unknown.Body.String())
	})
}

func TestAuthHandler_HandleSetPassword(t *testing.T) {
	t.Run("rejects short password", func(t *testing.T) {
		identity := newTestIdentity(t)
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
		h := handler.NewAuthHandler(identity, logger)

		user, err := identity.RegisterLocal(context.Background(), "ana@example.com", "ana", "hunter22")
		require.NoError(t, err)

		tokens, err := auth.NewTokenService("test-secret-at-least-16-chars!!", 0)
		require.NoError(t, err)
		token, err := tokens.Issue(user.ID, user.Email)
		require.NoError(t, err)

		// Route through the middleware so the userID lands in context.
		protected := auth.RequireAuth(tokens)(http.HandlerFunc(h.HandleSetPassword))

		req := httptest.NewRequest(http.MethodPost, "/auth/set-password",
			bytes.NewBufferString(`{"password":"short"}`))
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}
