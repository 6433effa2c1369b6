package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator/v10"

	"storefront_auth/internal/auth"
	"storefront_auth/internal/config"
	"storefront_auth/internal/http_server/cookie"
	"storefront_auth/internal/http_server/handlers/change_password"
	"storefront_auth/internal/http_server/handlers/forgot_password"
	"storefront_auth/internal/http_server/handlers/login"
	"storefront_auth/internal/http_server/handlers/logout"
	"storefront_auth/internal/http_server/handlers/logoutall"
	"storefront_auth/internal/http_server/handlers/refresh"
	"storefront_auth/internal/http_server/handlers/register"
	"storefront_auth/internal/http_server/handlers/resend_verification_email"
	"storefront_auth/internal/http_server/handlers/reset_password"
	"storefront_auth/internal/http_server/handlers/sessions"
	"storefront_auth/internal/http_server/handlers/verify"
	"storefront_auth/internal/lib/jwt"
	sl "storefront_auth/internal/lib/logger"
	"storefront_auth/internal/middleware/authn"
	rateLimit "storefront_auth/internal/middleware/ratelimit"
	"storefront_auth/internal/rabbitmq"
	"storefront_auth/internal/session"
	"storefront_auth/internal/storage/postgres"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	cfg := config.MustLoad("./config/config.yaml")

	log := setupLogger(cfg.Env)

	log.Info("starting auth service", slog.String("env", cfg.Env))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("Shutdown signal received")
		cancel()
	}()

	// A missing signing secret is a deployment error: stop here, before
	// any request is accepted.
	tokens, err := jwt.New(
		cfg.Tokens.AccessTokenSecret,
		cfg.Tokens.RefreshTokenSecret,
		cfg.Tokens.AccessTokenTTL,
		cfg.Tokens.RefreshTokenTTL,
	)
	if err != nil {
		log.Error("invalid token configuration", sl.Err(err))
		os.Exit(1)
	}

	storage, err := postgres.New(ctx, cfg)
	if err != nil {
		log.Error("failed to connect postgres", sl.Err(err))
		os.Exit(1)
	}
	defer storage.Close()

	msgBroker, err := rabbitmq.New(cfg.RabbitMQ.URL, cfg.RabbitMQ.QueueName)
	if err != nil {
		log.Error("failed to connect rabbitmq", sl.Err(err))
		os.Exit(1)
	}
	defer msgBroker.Close()

	sessionStore := session.New(log, storage, storage, tokens, cfg.Tokens.SessionTTL)

	authService := auth.New(
		log,
		storage,
		sessionStore,
		msgBroker,
		cfg.Auth.BcryptCost,
		cfg.Auth.MaxLoginAttempts,
		cfg.Auth.LockDuration,
		cfg.Tokens.ResetTokenTTL,
		cfg.HTTPServer.PublicURL,
	)

	go runSweeper(ctx, log, sessionStore, cfg.Auth.SweepInterval)

	cookies := cookie.NewWriter(cfg.Cookie.MaxAge, cfg.Cookie.CrossSite || cfg.Env == envProd)

	router := setupRouter(log, tokens, storage, authService, sessionStore, cookies)

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server is running", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed", sl.Err(err))
			cancel()
		}
	}()

	<-ctx.Done()

	log.Info("Shutting down HTTP server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", sl.Err(err))
	} else {
		log.Info("Server stopped gracefully")
	}

	log.Info("Main service stopped")
}

func setupRouter(
	log *slog.Logger,
	tokens *jwt.Manager,
	storage *postgres.PostgresRepo,
	authService *auth.Auth,
	sessionStore *session.Store,
	cookies *cookie.Writer,
) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	validate := validator.New()

	requireAuth := authn.Middleware(log, tokens, storage, cookies)

	r.Route("/api/auth", func(r chi.Router) {
		r.With(rateLimit.Register()).
			Post("/register", register.New(log, validate, authService, cookies))
		r.With(rateLimit.Login()).
			Post("/login", login.New(log, validate, authService, cookies))
		r.With(rateLimit.Refresh()).
			Post("/refresh", refresh.New(log, validate, authService, cookies))
		r.With(rateLimit.Logout()).
			Post("/logout", logout.New(log, validate, authService, cookies))
		r.With(rateLimit.Verify()).
			Post("/verify-email", verify.New(log, validate, authService))
		r.With(rateLimit.ResendVerificationEmail()).
			Post("/resend-verification", resendEmail.New(log, validate, authService))
		r.With(rateLimit.ForgotPassword()).
			Post("/forgot-password", forgotPassword.New(log, validate, authService))
		r.With(rateLimit.ResetPassword()).
			Post("/reset-password", resetPassword.New(log, validate, authService))

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.With(rateLimit.ChangePassword()).
				Post("/change-password", changePassword.New(log, validate, authService, cookies))
			r.Post("/logout-all", logoutAll.New(log, authService, cookies))
			r.Get("/sessions", sessions.New(log, sessionStore))
		})
	})

	return r
}

// runSweeper periodically deactivates expired sessions. Pure hygiene:
// expiry is enforced on every lookup regardless.
func runSweeper(ctx context.Context, log *slog.Logger, sessionStore *session.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sessionStore.SweepExpired(ctx); err != nil {
				log.Error("session sweep failed", sl.Err(err))
			}
		}
	}
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	default:
		// envProd and anything unrecognized.
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
