// Package logging provides structured logging with trace ID propagation,
// wrapping logrus the way the rest of this corpus does.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type ctxKey string

const (
	traceIDKey ctxKey = "trace_id"
	serviceKey ctxKey = "service"
)

// Logger wraps logrus.Logger with a fixed "service" field.
type Logger struct {
	*logrus.Logger
	service string
}

// New builds a Logger for the given service, level ("debug"|"info"|...), and
// format ("json"|"text").
func New(service, level, format string) *Logger {
	base := logrus.New()

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	base.SetLevel(parsed)

	if format == "json" {
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		base.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339, FullTimestamp: true})
	}
	base.SetOutput(os.Stdout)

	return &Logger{Logger: base, service: service}
}

// NewFromEnv builds a Logger using LOG_LEVEL / LOG_FORMAT, defaulting to
// info/json.
func NewFromEnv(service string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(service, level, format)
}

// WithContext returns an Entry carrying the trace id found in ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.WithField("service", l.service)
	if traceID, ok := ctx.Value(traceIDKey).(string); ok && traceID != "" {
		entry = entry.WithField("trace_id", traceID)
	}
	return entry
}

// WithTraceID returns a context carrying traceID, generating one if empty.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace id from ctx, returning "" if absent.
func TraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// Info logs at info level with the trace id from ctx attached.
func (l *Logger) Info(ctx context.Context, msg string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(fields).Info(msg)
}

// Warn logs at warn level with the trace id from ctx attached.
func (l *Logger) Warn(ctx context.Context, msg string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(fields).Warn(msg)
}

// Error logs at error level, attaching err and the trace id from ctx.
func (l *Logger) Error(ctx context.Context, msg string, err error, fields map[string]interface{}) {
	entry := l.WithContext(ctx).WithFields(fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(msg)
}
