package api

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidServiceToken = errors.New("invalid service token")
	ErrExpiredServiceToken = errors.New("service token has expired")
)

// ServiceTokenClaims identifies the operator or sibling service calling the
// internal endpoints.
type ServiceTokenClaims struct {
	Service string `json:"service"`
	jwt.RegisteredClaims
}

// ServiceTokenManager signs and validates the bearer tokens guarding the
// internal admin routes.
type ServiceTokenManager struct {
	secretKey []byte
}

// NewServiceTokenManager creates a new ServiceTokenManager.
func NewServiceTokenManager(secretKey string) *ServiceTokenManager {
	return &ServiceTokenManager{
		secretKey: []byte(secretKey),
	}
}

// Generate creates a new signed service token.
func (tm *ServiceTokenManager) Generate(service string, duration time.Duration) (string, error) {
	claims := ServiceTokenClaims{
		Service: service,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(duration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(tm.secretKey)
}

// Validate validates a service token and returns its claims.
func (tm *ServiceTokenManager) Validate(tokenString string) (*ServiceTokenClaims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &ServiceTokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidServiceToken
		}
		return tm.secretKey, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredServiceToken
		}
		return nil, ErrInvalidServiceToken
	}

	claims, ok := tok.Claims.(*ServiceTokenClaims)
	if !ok || !tok.Valid {
		return nil, ErrInvalidServiceToken
	}

	return claims, nil
}
