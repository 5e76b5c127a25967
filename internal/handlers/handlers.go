package handlers

import (
	"bytes"
	"context"
	"html/template"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"ledger/internal/auth"
	"ledger/internal/events"
	"ledger/internal/ledger"
	"ledger/internal/models"
	"ledger/internal/storage"
	"ledger/internal/validation"
)

// Context key type to avoid collisions.
type contextKey string

const (
	// UserContextKey is the context key for the authenticated user.
	UserContextKey contextKey = "user"
	// SessionCookieName is the name of the session cookie.
	SessionCookieName = "session"
	// FlashCookieName carries a one-shot message across a redirect.
	FlashCookieName = "flash"
	// DefaultSessionLifetime is used when Config.SessionLifetime is zero.
	DefaultSessionLifetime = 7 * 24 * time.Hour
)

// Config holds the settings handlers need beyond the database.
type Config struct {
	TemplateDir     string
	SecureCookie    bool
	SessionLifetime time.Duration
	PageSize        int
	TokenSecret     string
	TokenTTL        time.Duration
	Publisher       events.Publisher
	Logger          logrus.FieldLogger
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	db              *storage.DB
	ledger          *ledger.Service
	tokens          *auth.TokenIssuer
	validate        *validator.Validate
	log             logrus.FieldLogger
	templateDir     string
	secureCookie    bool
	sessionLifetime time.Duration
	now             func() time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(db *storage.DB, cfg Config) *Handlers {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.SessionLifetime <= 0 {
		cfg.SessionLifetime = DefaultSessionLifetime
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}

	return &Handlers{
		db:              db,
		ledger:          ledger.New(db, cfg.Publisher, log, cfg.PageSize),
		tokens:          auth.NewTokenIssuer(cfg.TokenSecret, cfg.TokenTTL),
		validate:        validation.New(),
		log:             log.WithField("component", "http"),
		templateDir:     cfg.TemplateDir,
		secureCookie:    cfg.SecureCookie,
		sessionLifetime: cfg.SessionLifetime,
		now:             time.Now,
	}
}

// GetUserFromContext retrieves the authenticated user from request context.
func GetUserFromContext(r *http.Request) *models.User {
	if user, ok := r.Context().Value(UserContextKey).(*models.User); ok {
		return user
	}
	return nil
}

func withUser(r *http.Request, user *models.User) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), UserContextKey, user))
}

func actor(r *http.Request) ledger.Actor {
	return ledger.ActorFor(GetUserFromContext(r))
}

// Flash is a one-shot message shown on the next rendered page.
type Flash struct {
	Kind    string
	Message string
}

// View is embedded in every page model so the layout can show the navigation
// and any pending flash message.
type View struct {
	User  *models.User
	Flash *Flash
}

func (h *Handlers) view(w http.ResponseWriter, r *http.Request) View {
	return View{User: GetUserFromContext(r), Flash: h.popFlash(w, r)}
}

func (h *Handlers) setFlash(w http.ResponseWriter, kind, message string) {
	http.SetCookie(w, &http.Cookie{
		Name:     FlashCookieName,
		Value:    url.QueryEscape(kind + "|" + message),
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handlers) popFlash(w http.ResponseWriter, r *http.Request) *Flash {
	cookie, err := r.Cookie(FlashCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	http.SetCookie(w, &http.Cookie{Name: FlashCookieName, Path: "/", MaxAge: -1})

	raw, err := url.QueryUnescape(cookie.Value)
	if err != nil {
		return nil
	}
	kind, message, ok := strings.Cut(raw, "|")
	if !ok {
		return nil
	}
	return &Flash{Kind: kind, Message: message}
}

// redirect sends the browser to path. htmx requests get an HX-Location
// header instead so only the content block is swapped.
func redirect(w http.ResponseWriter, r *http.Request, path string) {
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Location", `{"path":"`+path+`", "target":"#content"}`)
		return
	}
	http.Redirect(w, r, path, http.StatusSeeOther)
}

func (h *Handlers) render(w http.ResponseWriter, r *http.Request, viewName string, data any) {
	h.renderStatus(w, r, http.StatusOK, viewName, data)
}

func (h *Handlers) renderStatus(w http.ResponseWriter, r *http.Request, status int, viewName string, data any) {
	tmpl, err := template.ParseFiles(filepath.Join(h.templateDir, "base.html"), filepath.Join(h.templateDir, viewName))
	if err != nil {
		h.requestLog(r).WithError(err).WithField("view", viewName).Error("Template error")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	target := "base.html"
	if r.Header.Get("HX-Request") == "true" {
		target = "content"
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, target, data); err != nil {
		h.requestLog(r).WithError(err).WithField("view", viewName).Error("Template execution error")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
