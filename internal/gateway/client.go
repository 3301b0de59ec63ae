// Package gateway is the single path for authenticated calls to the backend. It attaches the
// bearer credential, classifies failures into typed errors, and tears the session down on
// expired-session responses before returning.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"financial-advisor/client/internal/security"
)

// Session is the view of the session manager the gateway needs. Credential returns the token with
// the generation it belongs to; Expire tears the session down only if that generation is still current.
type Session interface {
	Credential() (token string, generation uint64)
	Expire(ctx context.Context, generation uint64, reason string) bool
}

// Request describes one backend call. Path is resolved against the client's base URL.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
	// Public requests carry no credential and never tear the session down; a 401 is an HTTPError.
	Public bool
}

// Response is a 2xx backend response with the body fully read.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// DecodeJSON unmarshals the body into v.
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Client is the authenticated request gateway.
type Client struct {
	base       *url.URL
	httpClient *http.Client
	session    Session
	classifier ExpiryClassifier
	timeout    time.Duration
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default otelhttp-instrumented client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClassifier replaces the default MarkerClassifier.
func WithClassifier(ec ExpiryClassifier) Option {
	return func(c *Client) { c.classifier = ec }
}

// WithTimeout bounds each call. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a Client resolving paths against baseURL and reading credentials from session.
// session may be nil, in which case every call is sent unauthenticated.
func New(baseURL string, session Session, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("gateway: invalid base URL %q", baseURL)
	}
	c := &Client{
		base:       u,
		session:    session,
		classifier: MarkerClassifier{Marker: DefaultExpiryMarker},
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return c, nil
}

// resolve joins path onto the base URL. Absolute URLs are used as given.
func (c *Client) resolve(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(ref.Path, "/")
	u.RawQuery = ref.RawQuery
	return u.String(), nil
}

// Do sends r and returns the 2xx response, or one of SessionExpiredError, HTTPError, NetworkError.
func (c *Client) Do(ctx context.Context, r *Request) (*Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	target, err := c.resolve(r.Path)
	if err != nil {
		return nil, fmt.Errorf("gateway: bad path %q: %w", r.Path, err)
	}

	var token string
	var generation uint64
	if !r.Public && c.session != nil {
		token, generation = c.session.Credential()
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(callCtx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("gateway: build request: %w", err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.DebugContext(ctx, "gateway request failed", "method", method, "path", r.Path, "error", err)
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("read body: %w", err)}
	}

	c.logger.DebugContext(ctx, "gateway request",
		"method", method, "path", r.Path, "status", resp.StatusCode,
		"public", r.Public, "credential", security.Fingerprint(token))

	if !r.Public && c.session != nil && c.classifier.IsExpired(ctx, resp.StatusCode, respBody) {
		// Teardown must finish even if the caller's context is already done.
		if c.session.Expire(context.WithoutCancel(ctx), generation, SessionExpiredMessage) {
			c.logger.InfoContext(ctx, "session expired by backend response",
				"operation", "gateway.expire", "path", r.Path, "status", resp.StatusCode)
		}
		return nil, &SessionExpiredError{Status: resp.StatusCode, Body: string(respBody)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: respBody}, nil
}

// NewJSONRequest builds a request whose body is in, encoded as JSON.
func NewJSONRequest(method, path string, in any) (*Request, error) {
	r := &Request{Method: method, Path: path, Header: http.Header{}}
	r.Header.Set("Accept", "application/json")
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		r.Body = b
		r.Header.Set("Content-Type", "application/json")
	}
	return r, nil
}

// GetJSON performs an authenticated GET and decodes the body into out (if non-nil).
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	req, err := NewJSONRequest(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.doJSON(ctx, req, out)
}

// PostJSON performs an authenticated POST of in and decodes the body into out (if non-nil).
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	req, err := NewJSONRequest(http.MethodPost, path, in)
	if err != nil {
		return err
	}
	return c.doJSON(ctx, req, out)
}

func (c *Client) doJSON(ctx context.Context, req *Request, out any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.DecodeJSON(out)
}

// IsSessionExpired reports whether err is (or wraps) a SessionExpiredError.
func IsSessionExpired(err error) bool {
	var se *SessionExpiredError
	return errors.As(err, &se)
}
