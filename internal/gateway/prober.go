package gateway

import (
	"context"
	"net/http"
)

// SessionProber issues the lightweight authenticated GET used for periodic liveness checks.
// Only the status matters; the body is discarded.
type SessionProber struct {
	Client *Client
	Path   string
}

// Probe returns nil on a 2xx response and the gateway error otherwise.
func (p *SessionProber) Probe(ctx context.Context) error {
	_, err := p.Client.Do(ctx, &Request{Method: http.MethodGet, Path: p.Path})
	return err
}
