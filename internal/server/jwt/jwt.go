// Package jwt validates bearer tokens issued by the platform's auth
// service. Token issuance lives there, not here: this core only needs a
// verified user identity per request.
package jwt

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represents the token claims this service relies on
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Service validates HMAC-signed access tokens
type Service struct {
	secret []byte
}

// NewService creates a new JWT validation service
// secret must match the signing secret of the auth service
func NewService(secret string) *Service {
	return &Service{secret: []byte(secret)}
}

// ValidateAccessToken validates and parses an access token
func (s *Service) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// reject tokens signed with anything but HMAC
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	if claims.UserID == "" {
		return nil, fmt.Errorf("token missing user_id claim")
	}

	return claims, nil
}
