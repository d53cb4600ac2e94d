// Package token issues and verifies the bearer tokens carried by API clients.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/patrickwarner/civicreport/internal/auth"
)

var (
	ErrInvalid = errors.New("invalid token")
	ErrExpired = errors.New("token expired")
	ErrMissing = errors.New("missing bearer token")
)

const issuer = "civicreport"

// Claims is the JWT body. Subject holds the principal id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Generate signs a token for p that expires after ttl. A zero ttl produces
// a token without an expiry.
func Generate(p auth.Principal, secret []byte, ttl time.Duration) (string, error) {
	if p.ID == "" {
		return "", fmt.Errorf("generate token: empty principal id")
	}
	if len(secret) == 0 {
		return "", fmt.Errorf("generate token: empty secret")
	}
	now := time.Now()
	claims := Claims{
		Role: string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Verify checks the signature and expiry of tok and returns its principal.
func Verify(tok string, secret []byte) (auth.Principal, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithLeeway(30*time.Second))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return auth.Principal{}, ErrExpired
		}
		return auth.Principal{}, ErrInvalid
	}
	if !parsed.Valid || claims.Subject == "" {
		return auth.Principal{}, ErrInvalid
	}
	return auth.Principal{ID: claims.Subject, Role: auth.ParseRole(claims.Role)}, nil
}

// FromHeader extracts the token from an "Authorization: Bearer <token>" value.
func FromHeader(header string) (string, error) {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", ErrMissing
	}
	tok := strings.TrimSpace(header[len(prefix):])
	if tok == "" {
		return "", ErrMissing
	}
	return tok, nil
}
