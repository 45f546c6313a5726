package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey struct{}

// ToContext guarda l en ctx.
func ToContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From devuelve el logger de ctx o, si no hay, el global.
func From(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return L()
}

// WithExchange deja en ctx un logger con los campos de un intento EA/AA.
func WithExchange(ctx context.Context, protocol, requestID string, attempt int) (context.Context, *zap.Logger) {
	l := From(ctx).With(Protocol(protocol), RequestID(requestID), Attempt(attempt))
	return ToContext(ctx, l), l
}
