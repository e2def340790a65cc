package services

import "context"

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	ownerIDKey   contextKey = "owner_id"
)

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithOwnerID annotates context with the identity a request acts for.
func WithOwnerID(ctx context.Context, owner string) context.Context {
	if owner == "" {
		return ctx
	}
	return context.WithValue(ctx, ownerIDKey, owner)
}

// OwnerIDFromContext returns the identity if present.
func OwnerIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(ownerIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
