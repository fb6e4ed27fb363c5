package server

import (
	"context"
	"net/http"
	"time"
)

// TimeoutMiddleware bounds request duration by cancelling the context.
// Handlers are expected to observe cancellation cooperatively. The bound
// must leave room for a worst-case fallback walk across a full model
// priority list.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
