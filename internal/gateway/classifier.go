package gateway

import (
	"bytes"
	"context"
	"net/http"
)

// DefaultExpiryMarker is the text the backend puts in a 500 body when the token has expired.
const DefaultExpiryMarker = "token is expired"

// ExpiryClassifier decides whether a response means the session is no longer valid.
type ExpiryClassifier interface {
	IsExpired(ctx context.Context, status int, body []byte) bool
}

// ExpiryClassifierFunc adapts a function to ExpiryClassifier.
type ExpiryClassifierFunc func(ctx context.Context, status int, body []byte) bool

// IsExpired implements ExpiryClassifier.
func (f ExpiryClassifierFunc) IsExpired(ctx context.Context, status int, body []byte) bool {
	return f(ctx, status, body)
}

// MarkerClassifier treats 401 as expired, and 500 as expired when the body contains Marker (case-insensitive).
type MarkerClassifier struct {
	Marker string
}

// IsExpired implements ExpiryClassifier.
func (m MarkerClassifier) IsExpired(_ context.Context, status int, body []byte) bool {
	switch status {
	case http.StatusUnauthorized:
		return true
	case http.StatusInternalServerError:
		marker := m.Marker
		if marker == "" {
			marker = DefaultExpiryMarker
		}
		return bytes.Contains(bytes.ToLower(body), bytes.ToLower([]byte(marker)))
	}
	return false
}
