package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"reachflow/config"
	"reachflow/models"
)

type Claims struct {
	TenantID uint `json:"tenant_id"`
	jwt.RegisteredClaims
}

// GenerateTenantToken issues an access token for dashboard/API calls made on
// behalf of a tenant. Identity management itself lives upstream.
func GenerateTenantToken(tenant *models.Tenant, ttl time.Duration) (string, error) {
	claims := &Claims{
		TenantID: tenant.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.AppConfig.EncryptionKey))
}

// ParseJWTToken validates a token and returns its claims
func ParseJWTToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(config.AppConfig.EncryptionKey), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}
