// Package server is the composition root: it opens the database, builds
// the services and handlers, mounts the routes and runs the HTTP server.
//
// DEPENDENCY FLOW:
//
//	config.Config
//	  → sqlite.DB (users, tasks, access tokens)
//	  → auth.TokenService, auth.PasswordService, auth.GitHubProvider
//	  → service.{TokenIssuer, Reconciler, AuthService, Guard, TaskService}
//	  → handler.{AuthHandler, TaskHandler, HealthHandler}
//	  → chi routes
//
// Each layer only receives what it needs; nothing below this package knows
// how its dependencies were built.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/taskflow-api/internal/auth"
	"github.com/sakif/taskflow-api/internal/config"
	"github.com/sakif/taskflow-api/internal/handler"
	"github.com/sakif/taskflow-api/internal/middleware"
	sqliteRepo "github.com/sakif/taskflow-api/internal/repository/sqlite"
	"github.com/sakif/taskflow-api/internal/service"
)

const shutdownTimeout = 30 * time.Second

// Server owns the router and the resources that must be released on
// shutdown (database, Redis client).
type Server struct {
	router *chi.Mux
	config config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	redis  *redis.Client // nil when rate limiting is off
	github service.GitHubClient
}

// Option customizes New.
type Option func(*Server)

// WithGitHubClient replaces the real GitHub API client, e.g. with a fake in
// tests.
func WithGitHubClient(gh service.GitHubClient) Option {
	return func(s *Server) { s.github = gh }
}

// New wires every dependency and mounts the routes. The caller must
// eventually call Start (which closes resources on exit) or Close.
func New(cfg config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	// === DATABASE ===
	db, err := sqliteRepo.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.github == nil {
		s.github = auth.NewGitHubProvider(cfg.GitHub.ClientID, cfg.GitHub.ClientSecret, cfg.GitHub.CallbackURL)
	}

	// === REDIS (optional) ===
	if cfg.Redis.Addr != "" {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	if err := s.setupRoutes(); err != nil {
		s.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// setupRoutes configures middleware and handlers.
//
// ROUTES:
//
//	GET    /health                      → DB ping
//	GET    /metrics                     → Prometheus
//	GET    /auth/github/redirect        → browser OAuth start
//	GET    /login/oauth2/code/github    → browser OAuth callback
//	POST   {prefix}/register            → rate limited
//	POST   {prefix}/login               → rate limited
//	POST   {prefix}/auth/github         → rate limited
//	GET    {prefix}/user                → bearer
//	POST   {prefix}/logout              → bearer
//	GET    {prefix}/tasks               → bearer
//	POST   {prefix}/tasks               → bearer
//	GET    {prefix}/tasks/{id}          → bearer
//	PUT    {prefix}/tasks/{id}          → bearer
//	DELETE {prefix}/tasks/{id}          → bearer
//
// MIDDLEWARE ORDER:
// RequestID and RealIP first so the logger and rate limiter see them,
// Recoverer inside Logger so a panic is still logged as a 500.
func (s *Server) setupRoutes() error {
	tokens, err := auth.NewTokenService(s.config.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	passwords, err := auth.NewPasswordService(s.config.Auth.BcryptCost)
	if err != nil {
		return fmt.Errorf("creating password service: %w", err)
	}

	users, tasks, accessTokens := s.db.Users(), s.db.Tasks(), s.db.Tokens()

	issuer := service.NewTokenIssuer(tokens, accessTokens)
	reconciler := service.NewReconciler(users, s.logger)
	authService := service.NewAuthService(users, passwords, issuer, reconciler, s.github, s.logger)
	guard := service.NewGuard(tokens, accessTokens, users, s.logger)
	taskService := service.NewTaskService(tasks, s.logger)

	authHandler := handler.NewAuthHandler(authService, s.config.GitHub.AppRedirectURI, s.logger)
	taskHandler := handler.NewTaskHandler(taskService, s.logger)
	healthHandler := handler.NewHealthHandler(s.db, s.logger)

	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Metrics())
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.CORS(s.config.CORS.AllowedOrigins))

	// === Operational ===
	s.router.Get("/health", healthHandler.HandleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	// === Browser OAuth ===
	s.router.Get("/auth/github/redirect", authHandler.HandleGitHubRedirect)
	s.router.Get("/login/oauth2/code/github", authHandler.HandleGitHubCallback)

	// === API ===
	limit := s.rateLimit()

	s.router.Route(s.config.Server.APIPrefix, func(r chi.Router) {
		r.With(limit("register")).Post("/register", authHandler.HandleRegister)
		r.With(limit("login")).Post("/login", authHandler.HandleLogin)
		r.With(limit("github")).Post("/auth/github", authHandler.HandleGitHubToken)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(guard))

			r.Get("/user", authHandler.HandleUser)
			r.Post("/logout", authHandler.HandleLogout)

			r.Get("/tasks", taskHandler.HandleList)
			r.Post("/tasks", taskHandler.HandleCreate)
			r.Get("/tasks/{id}", taskHandler.HandleGet)
			r.Put("/tasks/{id}", taskHandler.HandleUpdate)
			r.Delete("/tasks/{id}", taskHandler.HandleDelete)
		})
	})

	return nil
}

// rateLimit returns a per-scope limiter, or a pass-through when Redis is not
// configured.
func (s *Server) rateLimit() func(scope string) func(http.Handler) http.Handler {
	if s.redis == nil {
		s.logger.Info("rate limiting disabled (redis.addr not set)")
		return func(string) func(http.Handler) http.Handler {
			return func(next http.Handler) http.Handler { return next }
		}
	}
	limiter := middleware.NewRateLimiter(s.redis, s.config.RateLimit.RequestsPerMinute, s.logger)
	return limiter.Limit
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database and Redis connections.
func (s *Server) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

// Start serves HTTP until SIGINT/SIGTERM, then drains in-flight requests
// (30s) and closes the database and Redis.
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:         s.config.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Server.Port),
			slog.String("apiPrefix", s.config.Server.APIPrefix),
			slog.String("database", s.config.Database.Path),
			slog.Bool("rateLimit", s.redis != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
