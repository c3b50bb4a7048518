// Package logger configures structured JSON logging and carries a
// request-scoped *slog.Logger through context.
package logger

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

type ctxKey struct{}

type scopeKey struct{}

// requestScope collects attributes added deeper in the handler chain so the
// access line carries them too.
type requestScope struct {
	mu    sync.Mutex
	attrs []any
}

func (s *requestScope) add(args []any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, args...)
	s.mu.Unlock()
}

func (s *requestScope) snapshot() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.attrs...)
}

// Init installs a JSON logger on stdout as the slog default.
func Init(level string) *slog.Logger {
	return initWithWriter(os.Stdout, level)
}

func initWithWriter(w io.Writer, level string) *slog.Logger {
	lvl := parseLevel(level)
	l := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(l)
	return l
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FromContext returns the request logger, or the default logger outside a request.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// WithContext stores l in ctx.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// With adds attributes to the logger carried by ctx. Inside Middleware they
// are also added to the request's completion line.
func With(ctx context.Context, args ...any) context.Context {
	if s, ok := ctx.Value(scopeKey{}).(*requestScope); ok {
		s.add(args)
	}
	return WithContext(ctx, FromContext(ctx).With(args...))
}

// Middleware attaches a request logger (request_id, method, path) and logs
// one line per completed request. It expects chi's RequestID middleware to run first.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		l := slog.Default().With(
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
		)
		scope := &requestScope{}
		ctx := context.WithValue(WithContext(r.Context(), l), scopeKey{}, scope)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		l.With(scope.snapshot()...).Info("request completed",
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
