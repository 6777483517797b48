// Package auth validates bearer tokens issued by the external identity
// provider.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/good-yellow-bee/katler/internal/models"
)

// Claims represents the JWT claims of a provider access token. The subject
// is the principal id.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// Principal returns the authenticated principal the claims describe.
func (c *Claims) Principal() models.Principal {
	return models.Principal{ID: c.Subject, Email: models.NormalizeEmail(c.Email)}
}

// JWTService validates HS256 access tokens.
type JWTService struct {
	secret []byte
	issuer string
}

// NewJWTService creates a new JWT service. An empty issuer accepts tokens
// from any issuer.
func NewJWTService(secret []byte, issuer string) *JWTService {
	return &JWTService{
		secret: secret,
		issuer: issuer,
	}
}

// GenerateToken signs a token for principal. Used by operators and tests
// to mint tokens against a shared secret.
func (s *JWTService) GenerateToken(principal models.Principal, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   principal.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: principal.Email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken validates a JWT token and returns the claims.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}

	return claims, nil
}
