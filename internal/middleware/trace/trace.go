// Package trace assigns request ids and logs each request.
package trace

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ledger/internal/logging"
)

// HeaderRequestID carries the request id on requests and responses.
const HeaderRequestID = "X-Request-ID"

type ctxKey struct{}

// Middleware handles request tracing and logging
type Middleware struct {
	log       logrus.FieldLogger
	extractIP func(*http.Request) string
}

func NewMiddleware(log logrus.FieldLogger, extractIP func(*http.Request) string) *Middleware {
	return &Middleware{log: log, extractIP: extractIP}
}

// Handler wraps next. An incoming X-Request-ID that parses as a UUID is kept,
// otherwise a new one is generated. The request context carries the id and a
// log entry with the request fields.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(HeaderRequestID)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, requestID)

		clientIP := ""
		if m.extractIP != nil {
			clientIP = m.extractIP(r)
		}

		entry := m.log.WithFields(logrus.Fields{
			logging.FieldRequestID: requestID,
			logging.FieldMethod:    r.Method,
			logging.FieldPath:      r.URL.Path,
			logging.FieldClientIP:  clientIP,
		})

		ctx := context.WithValue(r.Context(), ctxKey{}, requestID)
		ctx = logging.NewContext(ctx, entry)
		r = r.WithContext(ctx)

		entry.WithField(logging.FieldUserAgent, r.UserAgent()).Debug("HTTP request started")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		done := entry.WithFields(logrus.Fields{
			logging.FieldStatusCode: rw.statusCode,
			logging.FieldDuration:   duration.Milliseconds(),
		})
		switch {
		case rw.statusCode >= 500:
			done.Error("HTTP request completed")
		case rw.statusCode >= 400:
			done.Warn("HTTP request completed")
		default:
			done.Info("HTTP request completed")
		}
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// GetRequestID extracts the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok {
		return id
	}
	return ""
}
