package api

import (
	"context"
	"net/http"
)

type authKey struct{}

// CallerAuth copies the Authorization header into the request context so
// handlers can resolve the caller. Requests are never rejected here; an
// unknown or missing token simply yields an anonymous caller.
func CallerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "" {
			r = r.WithContext(WithAuthorization(r.Context(), auth))
		}
		next.ServeHTTP(w, r)
	})
}

// WithAuthorization returns ctx carrying the raw Authorization header.
func WithAuthorization(ctx context.Context, header string) context.Context {
	return context.WithValue(ctx, authKey{}, header)
}

// AuthorizationFrom returns the header stored by CallerAuth, or "".
func AuthorizationFrom(ctx context.Context) string {
	v, _ := ctx.Value(authKey{}).(string)
	return v
}
