package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/sakif/taskflow-api/internal/model"
)

// Caller is the authenticated principal of a request: the user and the id of
// the token they presented. Handlers pass it explicitly into service calls.
type Caller struct {
	User    model.User
	TokenID string
}

// Authenticator resolves an Authorization header value into a Caller.
// service.Guard is the production implementation.
type Authenticator interface {
	Authenticate(ctx context.Context, authorization string) (Caller, error)
}

// contextKey is unexported so no other package can read or overwrite our
// context values.
type contextKey string

const callerKey contextKey = "caller"

const unauthenticatedBody = `{"success":false,"message":"Unauthenticated."}` + "\n"

// RequireAuth rejects the request with 401 unless the Authorization header
// carries a live bearer token, and stores the resolved Caller in the context.
//
//	r.With(auth.RequireAuth(guard)).Get("/user", h.HandleUser)
func RequireAuth(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := authn.Authenticate(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", "Bearer")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(unauthenticatedBody))
				return
			}

			ctx := WithCaller(r.Context(), caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithCaller returns a copy of ctx carrying caller.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFromContext returns the Caller stored by RequireAuth. ok is false on
// routes that are not behind RequireAuth.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey).(Caller)
	return c, ok && c.User.ID != 0
}

// BearerToken extracts the token from "Bearer <token>". The scheme is matched
// case-insensitively; anything else yields ok == false.
func BearerToken(authorization string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(authorization), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
