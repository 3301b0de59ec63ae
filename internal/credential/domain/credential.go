package domain

import (
	"time"

	"financial-advisor/client/internal/security"
)

// Credential is the stored bearer token plus the expiry decoded from its payload.
// Decoded is false when the token could not be parsed or had no exp claim; such a
// credential is still sent on requests and the backend decides whether it is valid.
type Credential struct {
	Token     string
	ExpiresAt time.Time
	Decoded   bool
}

// FromToken derives a Credential from token with a local, signature-less decode.
func FromToken(token string) Credential {
	c := Credential{Token: token}
	if exp, err := security.DecodeExpiry(token); err == nil {
		c.ExpiresAt = exp
		c.Decoded = true
	}
	return c
}

// Present reports whether a token is held.
func (c Credential) Present() bool { return c.Token != "" }

// Valid reports whether the credential is present, decoded and not yet expired at now.
func (c Credential) Valid(now time.Time) bool {
	return c.Present() && c.Decoded && c.ExpiresAt.After(now)
}
