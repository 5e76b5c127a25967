// Package logging builds the application logger and carries a request scoped
// entry through contexts.
package logging

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Field names shared by every component.
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldURL        = "url"
	FieldEndpoint   = "endpoint"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldUserAgent  = "user_agent"
	FieldUserID     = "user_id"
	FieldUsername   = "username"
)

// New returns a logger writing to out at the named level, as JSON or text.
func New(level string, json bool, out io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(lvl)
	if json {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}

// FileOptions describes the optional rotating log file.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
}

// Output returns out, teed into a size rotated file when opts.Path is set.
// The returned func closes the file.
func Output(out io.Writer, opts FileOptions) (io.Writer, func() error) {
	if opts.Path == "" {
		return out, func() error { return nil }
	}
	file := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}
	return io.MultiWriter(out, file), file.Close
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying entry.
func NewContext(ctx context.Context, entry *logrus.Entry) context.Context {
	return context.WithValue(ctx, ctxKey{}, entry)
}

// Lookup returns the entry stored in ctx, if any.
func Lookup(ctx context.Context) (*logrus.Entry, bool) {
	entry, ok := ctx.Value(ctxKey{}).(*logrus.Entry)
	return entry, ok
}

// FromContext returns the entry stored in ctx, or one on the standard logger.
func FromContext(ctx context.Context) *logrus.Entry {
	if entry, ok := Lookup(ctx); ok {
		return entry
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
