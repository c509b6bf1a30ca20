package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-please-rotate"

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestService_ValidateAccessToken(t *testing.T) {
	svc := NewService(testSecret)

	t.Run("valid token", func(t *testing.T) {
		tokenString := signToken(t, testSecret, Claims{
			UserID:   "user-1",
			Username: "alice",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				IssuedAt:  jwt.NewNumericDate(time.Now()),
			},
		})

		claims, err := svc.ValidateAccessToken(tokenString)
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.UserID)
		assert.Equal(t, "alice", claims.Username)
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		tokenString := signToken(t, testSecret, Claims{
			UserID: "user-1",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			},
		})

		_, err := svc.ValidateAccessToken(tokenString)
		assert.Error(t, err)
	})

	t.Run("wrong secret is rejected", func(t *testing.T) {
		tokenString := signToken(t, "other-secret", Claims{
			UserID: "user-1",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})

		_, err := svc.ValidateAccessToken(tokenString)
		assert.Error(t, err)
	})

	t.Run("missing user_id claim is rejected", func(t *testing.T) {
		tokenString := signToken(t, testSecret, Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})

		_, err := svc.ValidateAccessToken(tokenString)
		assert.Error(t, err)
	})

	t.Run("garbage token is rejected", func(t *testing.T) {
		_, err := svc.ValidateAccessToken("not.a.token")
		assert.Error(t, err)
	})
}
