// Package auth verifies the credentials handed to the realtime gateway.
// Credential issuance lives in the external auth service; this package only
// checks signatures and claims.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gestionale/internal/shared/authorization"
)

// Claims are the JWT claims expected on a realtime credential.
type Claims struct {
	UserID string                 `json:"user_id"`
	Role   authorization.UserRole `json:"role"`
	jwt.RegisteredClaims
}

// CredentialService verifies HMAC-signed credentials.
type CredentialService struct {
	secret           []byte
	accessExpMinutes int
}

func NewCredentialService(secret string, accessExpMinutes int) *CredentialService {
	return &CredentialService{
		secret:           []byte(secret),
		accessExpMinutes: accessExpMinutes,
	}
}

// Generate signs a credential for the given identity. Used by tests and by
// operator tooling; production credentials come from the auth service which
// shares the secret.
func (s *CredentialService) Generate(userID string, role authorization.UserRole) (string, error) {
	now := time.Now().UTC()
	exp := now.Add(time.Duration(s.accessExpMinutes) * time.Minute)

	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign credential: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a credential, returning its claims.
func (s *CredentialService) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse credential: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid credential")
	}

	if claims.UserID == "" {
		return nil, fmt.Errorf("credential is missing user ID")
	}
	if !claims.Role.IsValid() {
		return nil, fmt.Errorf("credential carries unknown role %q", claims.Role)
	}

	return claims, nil
}
