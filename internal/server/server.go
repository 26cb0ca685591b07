// Package server wires the application together: it owns the router,
// builds the dependency graph, and runs the HTTP server with graceful
// shutdown.
//
// This is the composition root: every service, handler, and store is
// constructed here and nowhere else. main.go stays minimal: load config,
// build a Server, Start it.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/corely/auth/internal/auth"
	"github.com/corely/auth/internal/config"
	"github.com/corely/auth/internal/handler"
	"github.com/corely/auth/internal/middleware"
	"github.com/corely/auth/internal/oauth"
	sqliteRepo "github.com/corely/auth/internal/repository/sqlite"
	"github.com/corely/auth/internal/service"
)

// Server holds the HTTP router and the resources it owns. The database
// connection is closed during shutdown so the WAL is flushed and the
// file lock released.
type Server struct {
	router *chi.Mux
	cfg    *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
}

// New builds the full dependency graph:
//
//	sqlite.DB → IdentityService → handlers → routes
//	          ↘ TokenService / PasswordService / StateManager
//
// Each layer receives only what it needs; the service gets repository
// interfaces, handlers get the service, nothing reaches past its layer.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		logger: logger,
		db:     db,
	}

	s.setupRoutes(tokens)

	return s, nil
}

// setupRoutes configures middleware, constructs the handlers, and maps
// the routes.
func (s *Server) setupRoutes(tokens *auth.TokenService) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	passwords := auth.NewPasswordService()
	states := auth.NewStateManager(s.cfg.OAuthStateSecret, auth.NewMemoryStateStore())
	identity := service.NewIdentityService(s.db, s.db, tokens, passwords, s.logger)

	registry := buildProviderRegistry(s.cfg, s.logger)

	authHandler := handler.NewAuthHandler(identity, s.logger)
	oauthHandler := handler.NewOAuthHandler(registry, states, identity, s.cfg, s.logger)

	s.router.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.HandleRegister)
		r.Post("/login", authHandler.HandleLogin)
		r.Post("/logout", authHandler.HandleLogout)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))
			r.Get("/me", authHandler.HandleMe)
			r.Post("/set-password", authHandler.HandleSetPassword)
		})

		r.Route("/oauth", func(r chi.Router) {
			r.Get("/providers", oauthHandler.HandleProviders)
			r.Get("/{provider}/authorize", oauthHandler.HandleAuthorize)
			r.Get("/{provider}/callback", oauthHandler.HandleCallback)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAuth(tokens))
				r.Delete("/unlink/{provider}", oauthHandler.HandleUnlink)
			})
		})
	})
}

// buildProviderRegistry constructs an adapter for every provider with
// configured credentials. Adding a provider means one constructor call
// here and one adapter file in internal/oauth.
func buildProviderRegistry(cfg *config.Config, logger *slog.Logger) *oauth.Registry {
	var providers []oauth.Provider
	for name, creds := range cfg.Providers {
		switch name {
		case "google":
			providers = append(providers, oauth.NewGoogleProvider(creds.ClientID, creds.ClientSecret))
		case "github":
			providers = append(providers, oauth.NewGitHubProvider(creds.ClientID, creds.ClientSecret))
		case "facebook":
			providers = append(providers, oauth.NewFacebookProvider(creds.ClientID, creds.ClientSecret))
		case "instagram":
			providers = append(providers, oauth.NewInstagramProvider(creds.ClientID, creds.ClientSecret))
		}
	}

	registry := oauth.NewRegistry(providers...)
	logger.Info("oauth providers configured", slog.Any("providers", registry.Names()))
	return registry
}

// Start runs the HTTP server until a shutdown signal or server error.
//
// Shutdown order matters: stop accepting connections, give in-flight
// requests 30 seconds to finish, then close the database.
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.cfg.Port),
			slog.String("database", s.cfg.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
