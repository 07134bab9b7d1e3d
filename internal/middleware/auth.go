// Package middleware provides the bearer-token authentication layer shared
// by the HTTP API and the websocket handshake.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

type contextKey string

const identityContextKey contextKey = "authed-identity"

// GetIdentityFromContext returns the authenticated user id string placed in
// the request context by the auth middleware.
func GetIdentityFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(identityContextKey).(string)
	return v, ok
}

// ContextWithIdentity is used by tests and local fakes to simulate an
// authenticated request.
func ContextWithIdentity(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// NewJWTAuthMiddleware validates an HS256 bearer token and stores its subject
// in the request context. A failed handshake is rejected with an explicit
// unauthorized reason and no connection or handler runs.
//
// The token is read from the Authorization header, or from the "token" query
// parameter as a fallback for websocket clients that cannot set headers.
func NewJWTAuthMiddleware(secret []byte) (func(http.Handler) http.Handler, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("jwt secret cannot be empty")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				http.Error(w, "unauthorized: missing bearer token", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse([]byte(raw),
				jwt.WithKey(jwa.HS256, secret),
				jwt.WithValidate(true),
			)
			if err != nil {
				http.Error(w, "unauthorized: invalid token", http.StatusUnauthorized)
				return
			}

			sub := token.Subject()
			if sub == "" {
				http.Error(w, "unauthorized: token has no subject", http.StatusUnauthorized)
				return
			}

			ctx := ContextWithIdentity(r.Context(), sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return after
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
