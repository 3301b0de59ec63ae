package gateway

import (
	"errors"
	"fmt"
	"unicode/utf8"

	sessiondomain "financial-advisor/client/internal/session/domain"
)

// SessionExpiredMessage is the reason passed to the session on an expired-session response.
const SessionExpiredMessage = sessiondomain.ExpiredReason

// SessionExpiredError is returned instead of the response when the backend signals an
// authorization failure or an expired token. The session has already been torn down.
type SessionExpiredError struct {
	Status int
	Body   string
}

func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("session expired (status %d)", e.Status)
}

// HTTPError is any other non-2xx response.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.Status)
	}
	return fmt.Sprintf("http status %d: %s", e.Status, truncate(e.Body, 200))
}

// NetworkError is a transport-level failure: no response was received. Timeouts and
// context cancellation surface as NetworkError too.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "network error: " + e.Err.Error() }

func (e *NetworkError) Unwrap() error { return e.Err }

// FailureKind tags the outcome of a gateway call.
type FailureKind int

const (
	KindNone FailureKind = iota
	KindSessionExpired
	KindHTTP
	KindNetwork
	KindOther
)

func (k FailureKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindSessionExpired:
		return "session_expired"
	case KindHTTP:
		return "http"
	case KindNetwork:
		return "network"
	default:
		return "other"
	}
}

// KindOf classifies err, looking through wrapping.
func KindOf(err error) FailureKind {
	if err == nil {
		return KindNone
	}
	var se *SessionExpiredError
	if errors.As(err, &se) {
		return KindSessionExpired
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return KindHTTP
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return KindNetwork
	}
	return KindOther
}

// StatusOf returns the HTTP status carried by err, or 0 when there is none.
func StatusOf(err error) int {
	var se *SessionExpiredError
	if errors.As(err, &se) {
		return se.Status
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status
	}
	return 0
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
