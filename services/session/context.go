package session

import "context"

type contextKey string

const requestIDKey contextKey = "session_request_id"

// WithRequestID tags ctx so recorded transitions carry the originating request ID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the request ID stored by WithRequestID, or ""
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
