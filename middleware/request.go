package middleware

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/spa-auth/services/session"
)

// RequestContext copies chi's request ID into the context keys read by
// handlers and by the session audit trail. Mount it after chi's RequestID.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := chimw.GetReqID(r.Context())
		if requestID == "" {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set(chimw.RequestIDHeader, requestID)
		ctx := WithRequestID(r.Context(), requestID)
		ctx = session.WithRequestID(ctx, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
