package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"ledger/internal/auth"
	"ledger/internal/config"
	"ledger/internal/events"
	"ledger/internal/handlers"
	"ledger/internal/logging"
	"ledger/internal/middleware/ratelimit"
	"ledger/internal/middleware/security"
	"ledger/internal/middleware/trace"
	"ledger/internal/models"
	"ledger/internal/storage"
)

const (
	sessionCleanupInterval = time.Hour
	shutdownTimeout        = 15 * time.Second
)

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Fatal("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	out, closeLog := logging.Output(os.Stdout, logging.FileOptions(cfg.LogFile))
	defer closeLog()

	log, err := logging.New(cfg.LogLevel, cfg.LogJSON, out)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := seedAdmin(ctx, db, cfg.Admin, log); err != nil {
		return err
	}

	publisher, err := newPublisher(cfg, log)
	if err != nil {
		return err
	}
	defer publisher.Close()

	limiter, closeLimiter := newLimiter(ctx, cfg, log)
	defer closeLimiter()

	h := handlers.NewHandlers(db, handlers.Config{
		TemplateDir:     cfg.TemplateDir,
		SecureCookie:    cfg.SecureCookie,
		SessionLifetime: cfg.SessionLifetime,
		PageSize:        cfg.ItemsPerPage,
		TokenSecret:     cfg.SecretKey,
		TokenTTL:        cfg.TokenTTL,
		Publisher:       publisher,
		Logger:          log,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           withMiddleware(setupRouter(h, cfg.StaticDir), h, cfg, log, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(logrus.Fields{"addr": srv.Addr, "env": cfg.Env}).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		cleanSessions(gctx, db, log, sessionCleanupInterval)
		return nil
	})

	return g.Wait()
}

// setupRouter registers every route and returns the normalized handler.
func setupRouter(h *handlers.Handlers, staticDir string) http.Handler {
	mux := http.NewServeMux()

	protected := func(f http.HandlerFunc) http.Handler { return h.AuthMiddleware(f) }
	api := func(f http.HandlerFunc) http.Handler { return h.APIAuthMiddleware(f) }

	// Public pages
	mux.HandleFunc("GET /{$}", h.Index)
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /about", h.StaticPage("about.html"))
	mux.HandleFunc("GET /privacy", h.StaticPage("privacy.html"))
	mux.HandleFunc("GET /terms", h.StaticPage("terms.html"))

	// Auth
	mux.HandleFunc("GET /auth/login", h.LoginForm)
	mux.HandleFunc("POST /auth/login", h.Login)
	mux.HandleFunc("GET /auth/signup", h.SignupForm)
	mux.HandleFunc("POST /auth/signup", h.Signup)
	mux.HandleFunc("POST /auth/logout", h.Logout)

	// Transactions
	mux.Handle("GET /dashboard", protected(h.Dashboard))
	mux.Handle("GET /transactions", protected(h.ListTransactions))
	mux.Handle("GET /transactions/add", protected(h.AddTransactionForm))
	mux.Handle("POST /transactions/add", protected(h.AddTransaction))
	mux.Handle("GET /transactions/{id}/edit", protected(h.EditTransactionForm))
	mux.Handle("POST /transactions/{id}/edit", protected(h.EditTransaction))
	mux.Handle("POST /transactions/{id}/delete", protected(h.DeleteTransaction))
	mux.Handle("GET /transactions/categories", protected(h.Categories))

	// JSON API
	mux.HandleFunc("POST /api/v1/auth/token", h.IssueToken)
	mux.Handle("GET /api/v1/transactions", api(h.APIListTransactions))
	mux.Handle("POST /api/v1/transactions", api(h.APICreateTransaction))
	mux.Handle("GET /api/v1/transactions/categories", api(h.APICategoryTotals))
	mux.Handle("GET /api/v1/transactions/{id}", api(h.APIGetTransaction))
	mux.Handle("PATCH /api/v1/transactions/{id}", api(h.APIUpdateTransaction))
	mux.Handle("DELETE /api/v1/transactions/{id}", api(h.APIDeleteTransaction))

	// Static files
	static := http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir)))
	mux.Handle("GET /static/", security.StaticCache(3600)(static))

	return h.Recover(h.Dispatch(mux))
}

// withMiddleware wraps the router with the cross-cutting layers. Tracing is
// outermost so every log line carries the request id.
func withMiddleware(next http.Handler, h *handlers.Handlers, cfg *config.Config, log *logrus.Logger, limiter ratelimit.Limiter) http.Handler {
	extractIP := ratelimit.ClientIP(cfg.RateLimit.TrustedProxies)

	handler := h.LimitBody(cfg.MaxContentLength)(next)
	if limiter != nil {
		handler = ratelimit.Middleware(limiter, extractIP, log, h.RateLimited)(handler)
	}
	handler = security.Headers(security.DefaultHeadersConfig())(handler)
	return trace.NewMiddleware(log, extractIP).Handler(handler)
}

// newLimiter returns the configured limiter, or nil when rate limiting is
// off. Redis is preferred when configured; if it cannot be reached the
// in-memory limiter is used instead.
func newLimiter(ctx context.Context, cfg *config.Config, log *logrus.Logger) (ratelimit.Limiter, func()) {
	rl := cfg.RateLimit
	if rl.PerMinute == 0 {
		return nil, func() {}
	}

	if rl.RedisAddr != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		r, err := ratelimit.NewRedis(pingCtx, ratelimit.RedisOptions{
			Addr:     rl.RedisAddr,
			Password: rl.RedisPassword,
			DB:       rl.RedisDB,
		}, rl.PerMinute)
		if err == nil {
			log.WithField("addr", rl.RedisAddr).Info("Using Redis rate limiter")
			return r, func() { _ = r.Close() }
		}
		log.WithError(err).Warn("Redis unavailable, falling back to in-memory rate limiter")
	}

	m := ratelimit.NewMemory(rl.PerMinute)
	return m, m.Stop
}

func newPublisher(cfg *config.Config, log *logrus.Logger) (events.Publisher, error) {
	if cfg.AMQP.URL == "" {
		return events.Nop{}, nil
	}
	p, err := events.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, log)
	if err != nil {
		return nil, fmt.Errorf("connect event publisher: %w", err)
	}
	log.WithField("exchange", cfg.AMQP.Exchange).Info("Publishing transaction events")
	return p, nil
}

// seedAdmin creates the configured admin account if it does not exist yet.
func seedAdmin(ctx context.Context, db *storage.DB, admin config.Admin, log *logrus.Logger) error {
	if admin.Username == "" {
		return nil
	}

	_, err := db.GetUserByUsername(ctx, admin.Username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("look up admin user: %w", err)
	}

	hash, err := auth.HashPassword(admin.Password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	email := admin.Email
	if email == "" {
		email = admin.Username + "@localhost"
	}

	user, err := db.CreateUser(ctx, &models.User{
		Username:     admin.Username,
		Email:        email,
		PasswordHash: hash,
		IsAdmin:      true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}
	log.WithField("user_id", user.ID).Info("Created admin user")
	return nil
}

// cleanSessions removes expired sessions every interval until ctx is done.
func cleanSessions(ctx context.Context, db *storage.DB, log *logrus.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.CleanExpiredSessions(ctx, time.Now())
			if err != nil {
				log.WithError(err).Warn("Failed to clean expired sessions")
				continue
			}
			if n > 0 {
				log.WithField("removed", n).Info("Cleaned expired sessions")
			}
		}
	}
}
