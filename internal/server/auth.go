package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "folio-server"

// TokenClaims are the claims of a folio bearer token. Portfolios limits the
// token to the named portfolios; empty means all of them. A read-only token
// may not change anything.
type TokenClaims struct {
	Portfolios []string `json:"portfolios,omitempty"`
	ReadOnly   bool     `json:"read_only,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 bearer token for subject. A zero ttl issues a
// token that never expires.
func IssueToken(secret []byte, subject string, portfolios []string, readOnly bool, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret is empty")
	}
	if subject == "" {
		return "", errors.New("token subject is required")
	}
	now := time.Now()
	claims := TokenClaims{
		Portfolios: portfolios,
		ReadOnly:   readOnly,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.New().String(),
			Subject:  subject,
			Issuer:   tokenIssuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// validateJWT parses and verifies a bearer token.
func validateJWT(tokenString string, secret []byte) (*TokenClaims, error) {
	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}
