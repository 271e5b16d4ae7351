package middleware

import (
	"context"

	"github.com/upb/spa-auth/services/session"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// ScopeKey is the context key for the storage scope ID
	ScopeKey contextKey = "scope"

	// StoreKey is the context key for the scope's session store
	StoreKey contextKey = "session_store"
)

// GetRequestIDFromContext retrieves the request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return ""
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetScopeFromContext retrieves the storage scope ID from context
func GetScopeFromContext(ctx context.Context) string {
	if val := ctx.Value(ScopeKey); val != nil {
		if scope, ok := val.(string); ok {
			return scope
		}
	}
	return ""
}

// WithScope adds a storage scope ID to the context
func WithScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, ScopeKey, scope)
}

// GetStoreFromContext retrieves the session store from context
func GetStoreFromContext(ctx context.Context) *session.Store {
	if val := ctx.Value(StoreKey); val != nil {
		if store, ok := val.(*session.Store); ok {
			return store
		}
	}
	return nil
}

// WithStore adds a session store to the context
func WithStore(ctx context.Context, store *session.Store) context.Context {
	return context.WithValue(ctx, StoreKey, store)
}
