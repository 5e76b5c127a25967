package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/sirupsen/logrus"

	"ledger/internal/apperr"
	"ledger/internal/logging"
	"ledger/internal/middleware/trace"
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// ErrorViewModel is the data passed to the error page.
type ErrorViewModel struct {
	View
	Code    int
	Title   string
	Message string
}

// wantsJSON reports whether the error for r should be JSON rather than HTML.
func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	acceptJSON, acceptHTML := accepts(r.Header.Get("Accept"))
	return acceptJSON && !acceptHTML
}

// accepts inspects an Accept header. A missing header and wildcards count as
// accepting HTML. Entries with q=0 are ignored.
func accepts(header string) (acceptJSON, acceptHTML bool) {
	if strings.TrimSpace(header) == "" {
		return false, true
	}
	for _, part := range strings.Split(header, ",") {
		mediaType, params, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		if q, ok := params["q"]; ok && strings.Trim(q, "0.") == "" {
			continue
		}
		switch {
		case mediaType == "application/json", strings.HasSuffix(mediaType, "+json"):
			acceptJSON = true
		case mediaType == "text/html", mediaType == "application/xhtml+xml",
			mediaType == "text/*", mediaType == "*/*":
			acceptHTML = true
		}
	}
	return acceptJSON, acceptHTML
}

// requestLog returns the request scoped log entry extended with the fields
// needed to diagnose a failure.
func (h *Handlers) requestLog(r *http.Request) *logrus.Entry {
	var base logrus.FieldLogger = h.log
	if e, ok := logging.Lookup(r.Context()); ok {
		base = e
	}
	entry := base.WithFields(logrus.Fields{
		logging.FieldMethod:    r.Method,
		logging.FieldURL:       r.URL.String(),
		logging.FieldEndpoint:  r.Pattern,
		logging.FieldUserAgent: r.UserAgent(),
		logging.FieldRequestID: trace.GetRequestID(r.Context()),
	})
	if u := GetUserFromContext(r); u != nil {
		entry = entry.WithFields(logrus.Fields{
			logging.FieldUserID:   u.ID,
			logging.FieldUsername: u.Username,
		})
	}
	return entry
}

// fail reports err to the caller as JSON or as the error page. Server side
// failures are logged with their cause; the response only ever carries the
// public message.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := kind.Status()

	entry := h.requestLog(r).WithError(err).WithField(logging.FieldStatusCode, status)
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}

	h.writeError(w, r, status, apperr.PublicMessage(err))
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	if wantsJSON(r) {
		writeJSON(w, status, ErrorResponse{
			Error:   http.StatusText(status),
			Status:  "error",
			Code:    status,
			Message: message,
		})
		return
	}

	h.renderStatus(w, r, status, "error.html", ErrorViewModel{
		View:    View{User: GetUserFromContext(r)},
		Code:    status,
		Title:   http.StatusText(status),
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// bodyError classifies a failure to read or decode a request body.
func bodyError(err error, message string) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperr.PayloadTooLarge(err)
	}
	return apperr.Wrap(apperr.KindValidation, err, message)
}

// candidateMethods are tried when a request matches no route, to tell 405 from 404.
var candidateMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost,
	http.MethodPut, http.MethodPatch, http.MethodDelete,
}

// Dispatch serves mux, turning its unmatched requests into normalized 404
// and 405 responses. A 405 lists the allowed methods in the Allow header.
func (h *Handlers) Dispatch(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, pattern := mux.Handler(r); pattern != "" {
			mux.ServeHTTP(w, r)
			return
		}

		var allowed []string
		for _, m := range candidateMethods {
			if m == r.Method {
				continue
			}
			alt := r.Clone(r.Context())
			alt.Method = m
			if _, pattern := mux.Handler(alt); pattern != "" {
				allowed = append(allowed, m)
			}
		}

		if len(allowed) > 0 {
			w.Header().Set("Allow", strings.Join(allowed, ", "))
			h.fail(w, r, apperr.MethodNotAllowed())
			return
		}
		h.fail(w, r, apperr.NotFound("The requested URL was not found on the server."))
	})
}

// Recover turns a panic in next into a 500 response.
func (h *Handlers) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			p := recover()
			if p == nil {
				return
			}
			if p == http.ErrAbortHandler {
				panic(p)
			}
			h.requestLog(r).WithField("stack", string(debug.Stack())).Error("Recovered from panic")
			h.fail(w, r, apperr.Wrap(apperr.KindInternal, fmt.Errorf("panic: %v", p), ""))
		}()
		next.ServeHTTP(w, r)
	})
}

// LimitBody caps request bodies at max bytes. Requests that declare a larger
// body are rejected before the handler runs.
func (h *Handlers) LimitBody(max int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > max {
				h.fail(w, r, apperr.PayloadTooLarge(&http.MaxBytesError{Limit: max}))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, max)
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimited is the response for requests rejected by the rate limiter.
func (h *Handlers) RateLimited(w http.ResponseWriter, r *http.Request) {
	h.fail(w, r, apperr.RateLimited("Rate limit exceeded. Please try again later."))
}
