package domain

import "time"

// State is the session lifecycle state.
type State string

const (
	StateInitializing    State = "initializing"
	StateAuthenticated   State = "authenticated"
	StateUnauthenticated State = "unauthenticated"
)

// ExpiredReason is the user-facing notice shown when the backend rejects the session.
const ExpiredReason = "Your session has expired. Please log in again."

// Status is a point-in-time snapshot of the session. The session itself is derived from the
// stored credential and is never persisted.
type Status struct {
	State State
	// CredentialPresent is true when a token is held, even one that failed to decode.
	CredentialPresent bool
	// Decoded is false for tokens whose expiry could not be read locally.
	Decoded   bool
	ExpiresAt time.Time
	// Fingerprint identifies the token in logs without revealing it.
	Fingerprint    string
	LivenessActive bool
}
