package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"ledger/internal/apperr"
	"ledger/internal/auth"
	"ledger/internal/models"
	"ledger/internal/storage"
	"ledger/internal/validation"
)

const minPasswordLength = 8

// AuthMiddleware wraps handlers to require a session. It also implements
// rolling sessions: a session past the halfway point of its lifetime is
// renewed. Every authenticated request records the user's last_seen time.
func (h *Handlers) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := h.session(r)
		if err != nil && !errors.Is(err, errNoSession) && !errors.Is(err, storage.ErrNotFound) {
			h.fail(w, r, apperr.Database(err))
			return
		}
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				// Invalid or expired session, clear the cookie
				h.clearSessionCookie(w)
			}
			if wantsJSON(r) {
				h.fail(w, r, apperr.Unauthorized("Please authenticate to access this resource."))
				return
			}
			http.Redirect(w, r, "/auth/login", http.StatusFound)
			return
		}

		now := h.now()
		if info.ExpiresAt.Sub(now) < h.sessionLifetime/2 {
			token, _ := r.Cookie(SessionCookieName)
			if err := h.db.RenewSession(r.Context(), token.Value, now, now.Add(h.sessionLifetime)); err == nil {
				h.setSessionCookie(w, token.Value)
			} else {
				h.requestLog(r).WithError(err).Warn("Failed to renew session")
			}
		}

		h.ping(r, info.User)
		next.ServeHTTP(w, withUser(r, info.User))
	})
}

// session returns the live session for the request cookie, or
// storage.ErrNotFound when there is none.
func (h *Handlers) session(r *http.Request) (*storage.SessionInfo, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, errNoSession
	}
	return h.db.ValidateSession(r.Context(), cookie.Value, h.now())
}

var errNoSession = errors.New("no session cookie")

func (h *Handlers) ping(r *http.Request, user *models.User) {
	now := h.now()
	if err := h.db.TouchUser(r.Context(), user.ID, now); err != nil {
		h.requestLog(r).WithError(err).Warn("Failed to update last seen")
		return
	}
	user.LastSeen = now
}

// APIAuthMiddleware requires a valid bearer token.
func (h *Handlers) APIAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			h.fail(w, r, apperr.Unauthorized("Please authenticate to access this resource."))
			return
		}

		userID, err := h.tokens.Parse(strings.TrimSpace(token))
		if err != nil {
			h.fail(w, r, apperr.Wrap(apperr.KindUnauthorized, err, "Invalid or expired token."))
			return
		}

		user, err := h.db.GetUserByID(r.Context(), userID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				h.fail(w, r, apperr.Unauthorized("Invalid or expired token."))
				return
			}
			h.fail(w, r, apperr.Database(err))
			return
		}

		h.ping(r, user)
		next.ServeHTTP(w, withUser(r, user))
	})
}

// LoginViewModel holds data for the login page.
type LoginViewModel struct {
	View
	Error    string
	Username string
}

// LoginForm renders the login page.
func (h *Handlers) LoginForm(w http.ResponseWriter, r *http.Request) {
	if _, err := h.session(r); err == nil {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
		return
	}
	h.render(w, r, "login.html", LoginViewModel{View: h.view(w, r)})
}

// Login handles the login form submission.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.fail(w, r, bodyError(err, "Invalid form submission"))
		return
	}

	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")
	vm := LoginViewModel{Username: username}

	if username == "" || password == "" {
		vm.Error = "Username and password are required"
		h.renderStatus(w, r, http.StatusBadRequest, "login.html", vm)
		return
	}

	user, err := h.authenticate(r, username, password)
	if err != nil {
		if apperr.Is(err, apperr.KindUnauthorized) {
			vm.Error = apperr.PublicMessage(err)
			h.renderStatus(w, r, http.StatusUnauthorized, "login.html", vm)
			return
		}
		h.fail(w, r, err)
		return
	}

	token, err := auth.GenerateSessionToken()
	if err != nil {
		h.fail(w, r, apperr.Wrap(apperr.KindInternal, err, ""))
		return
	}

	now := h.now()
	if err := h.db.CreateSession(r.Context(), token, user.ID, now, now.Add(h.sessionLifetime)); err != nil {
		h.fail(w, r, apperr.Database(err))
		return
	}

	h.setSessionCookie(w, token)
	h.requestLog(r).WithField("user_id", user.ID).Info("User logged in")
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// authenticate checks credentials. Unknown users and wrong passwords produce
// the same error.
func (h *Handlers) authenticate(r *http.Request, username, password string) (*models.User, error) {
	user, err := h.db.GetUserByUsername(r.Context(), username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.Unauthorized("Please check your login details and try again.")
		}
		return nil, apperr.Database(err)
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return nil, apperr.Unauthorized("Please check your login details and try again.")
	}
	return user, nil
}

// SignupForm is the signup form as submitted.
type SignupForm struct {
	Username        string `json:"username" validate:"required,min=3,max=64,alphanum"`
	Email           string `json:"email" validate:"required,email,max=120"`
	Password        string `json:"password" validate:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirm_password" validate:"omitempty,eqfield=Password"`
	FirstName       string `json:"first_name" validate:"max=64"`
	LastName        string `json:"last_name" validate:"max=64"`
}

// SignupViewModel holds data for the signup page.
type SignupViewModel struct {
	View
	Error string
	Form  SignupForm
}

func (h *Handlers) SignupForm(w http.ResponseWriter, r *http.Request) {
	if _, err := h.session(r); err == nil {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
		return
	}
	h.render(w, r, "signup.html", SignupViewModel{View: h.view(w, r)})
}

// Signup creates an account and sends the user to the login page.
func (h *Handlers) Signup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.fail(w, r, bodyError(err, "Invalid form submission"))
		return
	}

	form := SignupForm{
		Username:        strings.TrimSpace(r.FormValue("username")),
		Email:           strings.TrimSpace(r.FormValue("email")),
		Password:        r.FormValue("password"),
		ConfirmPassword: r.FormValue("confirm_password"),
		FirstName:       strings.TrimSpace(r.FormValue("first_name")),
		LastName:        strings.TrimSpace(r.FormValue("last_name")),
	}

	user, err := h.createAccount(r, form)
	if err != nil {
		if apperr.Is(err, apperr.KindValidation) {
			form.Password, form.ConfirmPassword = "", ""
			h.renderStatus(w, r, http.StatusBadRequest, "signup.html", SignupViewModel{
				Error: apperr.PublicMessage(err),
				Form:  form,
			})
			return
		}
		h.fail(w, r, err)
		return
	}

	h.requestLog(r).WithField("user_id", user.ID).Info("User signed up")
	h.setFlash(w, "success", "Account created successfully! Please log in.")
	http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
}

func (h *Handlers) createAccount(r *http.Request, form SignupForm) (*models.User, error) {
	ctx := r.Context()

	usernameTaken, emailTaken, err := h.db.UsernameOrEmailTaken(ctx, form.Username, form.Email)
	if err != nil {
		return nil, apperr.Database(err)
	}
	switch {
	case usernameTaken:
		return nil, apperr.Validation("Username already exists")
	case emailTaken:
		return nil, apperr.Validation("Email already registered")
	}

	if err := validation.Struct(h.validate, form); err != nil {
		return nil, err
	}
	if err := auth.ValidatePassword(form.Password, minPasswordLength); err != nil {
		return nil, apperr.Validation(err.Error())
	}

	hash, err := auth.HashPassword(form.Password)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "")
	}

	user, err := h.db.CreateUser(ctx, &models.User{
		Username:     form.Username,
		Email:        form.Email,
		PasswordHash: hash,
		FirstName:    form.FirstName,
		LastName:     form.LastName,
	})
	if err != nil {
		return nil, accountConflict(err)
	}
	return user, nil
}

// accountConflict maps a UNIQUE violation from a signup that lost a race to
// the same message the up-front check gives.
func accountConflict(err error) error {
	var dup *storage.DuplicateError
	if !errors.As(err, &dup) {
		return apperr.Database(err)
	}
	if dup.Column == "email" {
		return apperr.Validation("Email already registered")
	}
	return apperr.Validation("Username already exists")
}

// Logout handles user logout.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		if err := h.db.DeleteSession(r.Context(), cookie.Value); err != nil {
			h.requestLog(r).WithError(err).Warn("Failed to delete session")
		}
	}
	h.clearSessionCookie(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// TokenRequest is the body of POST /api/v1/auth/token.
type TokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse carries an issued API token.
type TokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueToken exchanges credentials for a bearer token.
func (h *Handlers) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		h.fail(w, r, apperr.Validation("username and password are required"))
		return
	}

	user, err := h.authenticate(r, strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	token, expiresAt, err := h.tokens.Issue(user.ID)
	if err != nil {
		h.fail(w, r, apperr.Wrap(apperr.KindInternal, err, ""))
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{Token: token, TokenType: "Bearer", ExpiresAt: expiresAt.UTC()})
}

func (h *Handlers) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.sessionLifetime.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handlers) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}
