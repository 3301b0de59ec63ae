// Package service implements the login API client: it exchanges email and password for a bearer
// token and hands the token to the session manager.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"financial-advisor/client/internal/gateway"
	"financial-advisor/client/internal/identity/domain"
	sessiondomain "financial-advisor/client/internal/session/domain"
)

// Sentinel errors for the auth service; the CLI maps them to messages.
var (
	ErrMissingCredentials = errors.New("email and password are required")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNoAccessToken      = errors.New("login response carried no access token")
)

// AuthResult holds the outcome of Login.
type AuthResult struct {
	State sessiondomain.State
	User  *domain.User
}

// Session is the part of the session manager the auth service drives.
type Session interface {
	Login(ctx context.Context, token string) (sessiondomain.State, error)
	Logout(ctx context.Context, reason string) error
}

// AuthService implements login, logout, and profile fetch against the backend.
type AuthService struct {
	gw          *gateway.Client
	session     Session
	loginPath   string
	profilePath string
	logger      *slog.Logger
}

// NewAuthService returns an AuthService. logger may be nil.
func NewAuthService(gw *gateway.Client, session Session, loginPath, profilePath string, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{gw: gw, session: session, loginPath: loginPath, profilePath: profilePath, logger: logger}
}

// Login posts the credentials unauthenticated and stores the returned token through the session.
// A rejected password is ErrInvalidCredentials wrapping the gateway HTTPError; it never tears down
// an existing session.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}
	req, err := gateway.NewJSONRequest(http.MethodPost, s.loginPath, domain.LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	req.Public = true

	resp, err := s.gw.Do(ctx, req)
	if err != nil {
		if st := gateway.StatusOf(err); st == http.StatusUnauthorized || st == http.StatusForbidden {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		return nil, err
	}
	var out domain.LoginResponse
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, ErrNoAccessToken
	}
	state, err := s.session.Login(ctx, out.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}
	s.logger.InfoContext(ctx, "logged in", "operation", "auth.login", "state", state)
	return &AuthResult{State: state, User: out.User}, nil
}

// Logout ends the session locally. The backend keeps no session state to revoke.
func (s *AuthService) Logout(ctx context.Context) error {
	return s.session.Logout(ctx, "")
}

// Profile fetches the current user's profile with the stored credential.
func (s *AuthService) Profile(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := s.gw.GetJSON(ctx, s.profilePath, &out); err != nil {
		return nil, err
	}
	return out, nil
}
