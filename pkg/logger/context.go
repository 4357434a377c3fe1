package logger

import (
	"context"
	"log/slog"
)

type ctxKey int

const loggerKey ctxKey = iota

// WithContext кладёт *slog.Logger в контекст (request / connection scoped).
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext извлекает логгер из контекста, а если его нет: возвращает глобальный.
// trace_id/span_id добавляются, если в контексте есть активный span.
func FromContext(ctx context.Context) *slog.Logger {
	l := L()
	if v, ok := ctx.Value(loggerKey).(*slog.Logger); ok && v != nil {
		l = v
	}
	if attrs := AttrsFromCtx(ctx); len(attrs) > 0 {
		args := make([]any, 0, len(attrs))
		for _, a := range attrs {
			args = append(args, a)
		}
		l = l.With(args...)
	}

	return l
}
