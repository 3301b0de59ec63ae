package security

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// testSigningKey signs tokens produced by IssueTestToken. For unit tests only.
var testSigningKey = []byte("advisor-client-test-signing-key")

// IssueTestToken returns an HS256 JWT for subject expiring at expiresAt.
// A zero expiresAt produces a token without an exp claim. For unit tests only.
func IssueTestToken(subject string, expiresAt time.Time) string {
	now := time.Now().UTC()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Email: subject + "@example.com",
		Role:  "authenticated",
	}
	if !expiresAt.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSigningKey)
	if err != nil {
		panic(err)
	}
	return token
}
