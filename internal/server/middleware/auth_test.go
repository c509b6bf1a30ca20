package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coeditd/coeditd/internal/server/handlers"
	"github.com/coeditd/coeditd/internal/server/jwt"
)

const authTestSecret = "auth-middleware-test-secret"

func signTestToken(t *testing.T, userID string) string {
	t.Helper()

	claims := jwt.Claims{
		UserID:   userID,
		Username: "alice",
		RegisteredClaims: jwtlib.RegisteredClaims{
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(authTestSecret))
	require.NoError(t, err)
	return signed
}

func TestAuthMiddleware(t *testing.T) {
	logger := testLogger()
	tokens := jwt.NewService(authTestSecret)

	var gotUserID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = handlers.GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	mw := AuthMiddleware(logger, tokens)(next)

	t.Run("valid bearer token passes and injects identity", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/x", nil)
		req.Header.Set("Authorization", "Bearer "+signTestToken(t, "user-42"))

		w := httptest.NewRecorder()
		mw.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "user-42", gotUserID)
	})

	t.Run("missing header is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/x", nil)
		w := httptest.NewRecorder()
		mw.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed header is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/x", nil)
		req.Header.Set("Authorization", "Token abc")
		w := httptest.NewRecorder()
		mw.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("invalid token is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/x", nil)
		req.Header.Set("Authorization", "Bearer not.a.jwt")
		w := httptest.NewRecorder()
		mw.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
