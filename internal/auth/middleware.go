package auth

import (
	"context"
	"net/http"
)

// contextKey is an unexported type used for context keys in this package.
//
// context.WithValue accepts any key; a package-private type means no other
// package can read or shadow the user stored here.
type contextKey string

const userKey contextKey = "user"

// RequireUser is a middleware that enforces an identity on protected routes.
//
// It reads the "username" cookie, sanitizes it and stores the identifier in
// the request context. A missing or empty identity ends the request with
// 401 {"ok":false,"error":"NO_COOKIE"}.
//
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromRequest(r)
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"ok":false,"error":"NO_COOKIE","message":"login required"}` + "\n"))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// OptionalUser stores the identity in the context when one is present but
// never blocks the request. Handlers check with UserFromContext.
func OptionalUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, ok := UserFromRequest(r); ok {
			r = r.WithContext(WithUser(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext retrieves the identity stored by RequireUser/OptionalUser.
//
// Returns ("", false) if the request is anonymous.
func UserFromContext(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(userKey).(string)
	return user, ok && user != ""
}
