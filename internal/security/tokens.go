package security

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token cannot be decoded as a JWT.
	ErrInvalidToken = errors.New("invalid token")
	// ErrNoExpiry is returned when a token decodes but carries no exp claim.
	ErrNoExpiry = errors.New("token has no expiry")
)

// AccessClaims holds the claims the client reads from a backend-issued access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// DecodeClaims parses tokenString without verifying its signature. The client has no key
// material; the backend stays the authority on validity, the claims are advisory only.
func DecodeClaims(tokenString string) (*AccessClaims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrInvalidToken
	}
	claims := &AccessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// DecodeExpiry returns the exp instant embedded in tokenString.
func DecodeExpiry(tokenString string) (time.Time, error) {
	claims, err := DecodeClaims(tokenString)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}
	return claims.ExpiresAt.Time, nil
}
