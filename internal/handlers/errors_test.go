package handlers

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/internal/apperr"
	"ledger/internal/logging"
	"ledger/internal/storage"
)

func TestWantsJSON(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		accept string
		want   bool
	}{
		{"api path", "/api/v1/transactions", "text/html", true},
		{"no accept header", "/transactions", "", false},
		{"json only", "/transactions", "application/json", true},
		{"problem json", "/transactions", "application/problem+json", true},
		{"browser", "/transactions", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8", false},
		{"json with wildcard", "/transactions", "application/json, */*", false},
		{"json with refused html", "/transactions", "application/json, text/html;q=0", true},
		{"wildcard only", "/transactions", "*/*", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.path, http.NoBody)
			if tt.accept != "" {
				r.Header.Set("Accept", tt.accept)
			}
			assert.Equal(t, tt.want, wantsJSON(r))
		})
	}
}

func newTestHandlers(t *testing.T) (*Handlers, *test.Hook) {
	t.Helper()
	db, err := storage.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return NewHandlers(db, Config{TemplateDir: "../../web/templates", Logger: log}), hook
}

func TestFailStatusMatrix(t *testing.T) {
	h, _ := newTestHandlers(t)

	tests := []struct {
		err    error
		status int
	}{
		{apperr.Validation("amount must be a number"), http.StatusBadRequest},
		{apperr.Unauthorized("login"), http.StatusUnauthorized},
		{apperr.Forbidden("no"), http.StatusForbidden},
		{apperr.NotFound("gone"), http.StatusNotFound},
		{apperr.MethodNotAllowed(), http.StatusMethodNotAllowed},
		{apperr.PayloadTooLarge(errors.New("big")), http.StatusRequestEntityTooLarge},
		{apperr.RateLimited("slow down"), http.StatusTooManyRequests},
		{apperr.Database(errors.New("disk I/O error")), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/transactions", http.NoBody)
			rec := httptest.NewRecorder()
			h.fail(rec, r, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"status":"error"`)

			r = httptest.NewRequest(http.MethodGet, "/transactions", http.NoBody)
			rec = httptest.NewRecorder()
			h.fail(rec, r, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
			assert.Contains(t, rec.Body.String(), "error-screen")
		})
	}
}

func TestFailHidesInternalDetail(t *testing.T) {
	h, hook := newTestHandlers(t)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/transactions", http.NoBody)
	r.Header.Set("User-Agent", "ledger-test")
	r.Pattern = "GET /api/v1/transactions"
	rec := httptest.NewRecorder()

	h.fail(rec, r, apperr.Database(errors.New("no such table: transactions")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "no such table")
	assert.Contains(t, rec.Body.String(), "A database error occurred.")

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "GET /api/v1/transactions", entry.Data[logging.FieldEndpoint])
	assert.Equal(t, "ledger-test", entry.Data[logging.FieldUserAgent])
	assert.Equal(t, http.StatusInternalServerError, entry.Data[logging.FieldStatusCode])
}

func TestRecover(t *testing.T) {
	h, hook := newTestHandlers(t)

	handler := h.Recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/v1/transactions", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
	assert.JSONEq(t, `{"error":"Internal Server Error","status":"error","code":500,"message":"An unexpected error has occurred. Please try again later."}`, rec.Body.String())

	var logged bool
	for _, e := range hook.AllEntries() {
		if e.Message == "Recovered from panic" {
			logged = true
		}
	}
	assert.True(t, logged)
}

func TestLimitBody(t *testing.T) {
	h, _ := newTestHandlers(t)

	handler := h.LimitBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			h.fail(w, r, bodyError(err, "unreadable"))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("declared length", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", strings.NewReader("0123456789"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("streamed body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", io.NopCloser(strings.NewReader("0123456789")))
		r.ContentLength = -1
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("within limit", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", strings.NewReader("tiny"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestRateLimited(t *testing.T) {
	h, _ := newTestHandlers(t)

	r := httptest.NewRequest(http.MethodGet, "/transactions", http.NoBody)
	r.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.RateLimited(rec, r)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error":"Too Many Requests","status":"error","code":429,"message":"Rate limit exceeded. Please try again later."}`, rec.Body.String())
}

func TestDispatch(t *testing.T) {
	h, _ := newTestHandlers(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /things/{id}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("DELETE /things/{id}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	handler := h.Dispatch(mux)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/things/1", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/things/1", http.NoBody))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, HEAD, DELETE", rec.Header().Get("Allow"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other", http.NoBody))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "The requested URL was not found on the server.")
}
