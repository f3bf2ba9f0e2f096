package log

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey struct{}

// NewContext returns ctx carrying logger.
func NewContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the request logger, or one over slog.Default when the
// request did not pass through Middleware.
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(contextKey{}).(*Logger); ok {
		return logger
	}
	return &Logger{Logger: slog.Default(), component: ComponentApp}
}

// Middleware puts a per-request logger into the context, tagged with the
// request id when requestID returns one.
func Middleware(logger *Logger, requestID func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLogger := logger
			if requestID != nil {
				if id := requestID(r); id != "" {
					reqLogger = logger.With(FieldRequestID, id)
				}
			}
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), reqLogger)))
		})
	}
}

// StructuredLogger writes the fixed-shape HTTP, mutation and error records.
// Records go through the request logger when ctx has one, so they carry the
// request id.
type StructuredLogger struct {
	logger *Logger
}

func NewStructuredLogger(logger *Logger) *StructuredLogger {
	return &StructuredLogger{logger: logger}
}

func (sl *StructuredLogger) from(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*Logger); ok {
		return logger.Logger
	}
	return sl.logger.Logger
}

// LogHTTPEnd logs a finished request: info below 400, warn for 4xx, error
// for 5xx.
func (sl *StructuredLogger) LogHTTPEnd(ctx context.Context, r *http.Request, statusCode int, durationMs int64, clientIP string) {
	level := slog.LevelInfo
	switch {
	case statusCode >= 500:
		level = slog.LevelError
	case statusCode >= 400:
		level = slog.LevelWarn
	}

	fields := NewFields().
		WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("User-Agent")).
		WithHTTPResponse(statusCode, durationMs, statusCode < 400).
		WithClientIP(clientIP).
		WithComponent(ComponentHTTP)

	sl.from(ctx).Log(ctx, level, "HTTP request completed", fields.ToSlice()...)
}

// LogMutation records one applied ledger change. synced is false when the
// change was kept locally but persisting it failed.
func (sl *StructuredLogger) LogMutation(ctx context.Context, owner, op string, labels []string, index int, value float64, synced bool) {
	fields := NewFields().
		WithOwner(owner).
		WithEntry(labels, index, value).
		WithOperation(op).
		WithComponent(ComponentLedger).
		ToSlice()
	fields = append(fields, "synced", synced)

	level := slog.LevelInfo
	if !synced {
		level = slog.LevelWarn
	}
	sl.from(ctx).Log(ctx, level, "Ledger updated", fields...)
}

func (sl *StructuredLogger) LogError(ctx context.Context, msg string, err error, component string, operation string, fields LogFields) {
	if fields == nil {
		fields = NewFields()
	}
	all := fields.
		WithError(err).
		WithOperation(operation).
		WithComponent(component)

	sl.from(ctx).ErrorContext(ctx, msg, all.ToSlice()...)
}
