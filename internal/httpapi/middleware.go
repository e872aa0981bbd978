package httpapi

import (
	"context"
	"net/http"
)

type contextKey string

const userIDKey contextKey = "user_id"

// HeaderAuthMiddleware resolves the caller's identity from the X-User-ID
// header. In production this sits behind a gateway that validates the JWT
// and injects the header; the pipeline itself only needs the identity.
func HeaderAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getUserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}
