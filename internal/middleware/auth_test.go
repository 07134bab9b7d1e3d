package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-for-auth-middleware")

func signedToken(t *testing.T, secret []byte, subject string, expiry time.Time) string {
	t.Helper()
	builder := jwt.NewBuilder().
		Subject(subject).
		IssuedAt(time.Now()).
		Expiration(expiry)
	token, err := builder.Build()
	require.NoError(t, err)

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, secret))
	require.NoError(t, err)
	return string(signed)
}

// protectedEcho wraps a handler that records the subject seen in context.
func protectedEcho(t *testing.T, gotSubject *string) http.Handler {
	t.Helper()
	mw, err := NewJWTAuthMiddleware(testSecret)
	require.NoError(t, err)
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, ok := GetIdentityFromContext(r.Context())
		require.True(t, ok)
		*gotSubject = sub
		w.WriteHeader(http.StatusOK)
	}))
}

func TestJWTAuth_ValidBearerHeader(t *testing.T) {
	var gotSubject string
	handler := protectedEcho(t, &gotSubject)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, testSecret, "42", time.Now().Add(time.Hour)))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "42", gotSubject)
}

func TestJWTAuth_QueryParamFallback(t *testing.T) {
	var gotSubject string
	handler := protectedEcho(t, &gotSubject)

	raw := signedToken(t, testSecret, "7", time.Now().Add(time.Hour))
	req := httptest.NewRequest(http.MethodGet, "/connect?token="+raw, nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "7", gotSubject)
}

func TestJWTAuth_Rejections(t *testing.T) {
	var gotSubject string
	handler := protectedEcho(t, &gotSubject)

	testCases := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{
			name:  "missing token",
			setup: func(r *http.Request) {},
		},
		{
			name: "malformed authorization header",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Basic abc123")
			},
		},
		{
			name: "wrong signing key",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signedToken(t, []byte("some-other-secret"), "42", time.Now().Add(time.Hour)))
			},
		},
		{
			name: "expired token",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signedToken(t, testSecret, "42", time.Now().Add(-time.Minute)))
			},
		},
		{
			name: "no subject claim",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signedToken(t, testSecret, "", time.Now().Add(time.Hour)))
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gotSubject = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tc.setup(req)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Empty(t, gotSubject, "the handler must not run for a rejected request")
		})
	}
}

func TestJWTAuth_EmptySecretRejected(t *testing.T) {
	_, err := NewJWTAuthMiddleware(nil)
	require.Error(t, err)
}
