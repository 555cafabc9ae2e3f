// Package jwt validates access tokens issued by the external identity
// service. This backend never signs tokens.
package jwt

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the access token claims this backend cares about
type Claims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// Validator checks access tokens against the shared signing secret
type Validator struct {
	secret []byte
	issuer string
}

// NewValidator creates a Validator. An empty issuer disables issuer checking.
func NewValidator(secret, issuer string) *Validator {
	return &Validator{
		secret: []byte(secret),
		issuer: issuer,
	}
}

// ValidateAccessToken parses and verifies a token string
func (v *Validator) ValidateAccessToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Subject == "" {
		claims.Subject = claims.RegisteredClaims.Subject
	}
	return claims, nil
}
