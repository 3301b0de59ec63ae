package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	creddomain "financial-advisor/client/internal/credential/domain"
	"financial-advisor/client/internal/gateway"
	"financial-advisor/client/internal/identity/domain"
	"financial-advisor/client/internal/security"
	sessiondomain "financial-advisor/client/internal/session/domain"
)

// mockSession implements Session and gateway.Session.
type mockSession struct {
	mu      sync.Mutex
	token   string
	gen     uint64
	logins  []string
	logouts int
	expired int
}

func (m *mockSession) Login(ctx context.Context, token string) (sessiondomain.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins = append(m.logins, token)
	m.token = token
	m.gen++
	if creddomain.FromToken(token).Valid(time.Now()) {
		return sessiondomain.StateAuthenticated, nil
	}
	return sessiondomain.StateUnauthenticated, nil
}

func (m *mockSession) Logout(ctx context.Context, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logouts++
	m.token = ""
	m.gen++
	return nil
}

func (m *mockSession) Credential() (string, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.gen
}

func (m *mockSession) Expire(ctx context.Context, gen uint64, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return false
	}
	m.expired++
	m.token = ""
	m.gen++
	return true
}

func newBackend(t *testing.T, validToken string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("Authorization") != "" {
			t.Errorf("login must be sent without a credential")
		}
		var req domain.LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch {
		case req.Email == "ada@example.com" && req.Password == "s3cret":
			json.NewEncoder(w).Encode(map[string]any{
				"access_token": validToken,
				"token_type":   "bearer",
				"user":         map[string]any{"id": "u-1", "email": req.Email, "profile": map[string]any{"risk": "moderate"}},
			})
		case req.Email == "empty@example.com":
			json.NewEncoder(w).Encode(map[string]any{"user": map[string]any{"id": "u-2"}})
		default:
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail":"Invalid credentials"}`))
		}
	})
	mux.HandleFunc("/api/profile", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+validToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "u-1", "email": "ada@example.com"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newService(t *testing.T, srv *httptest.Server, sess *mockSession) *AuthService {
	t.Helper()
	gw, err := gateway.New(srv.URL, sess, gateway.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}
	return NewAuthService(gw, sess, "/api/login", "/api/profile", nil)
}

func TestAuthService_LoginSuccess(t *testing.T) {
	tok := security.IssueTestToken("u-1", time.Now().Add(time.Hour))
	sess := &mockSession{}
	svc := newService(t, newBackend(t, tok), sess)

	res, err := svc.Login(context.Background(), " ada@example.com ", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.State != sessiondomain.StateAuthenticated {
		t.Errorf("State = %v, want authenticated", res.State)
	}
	if res.User == nil || res.User.ID != "u-1" || res.User.Profile["risk"] != "moderate" {
		t.Errorf("User = %+v", res.User)
	}
	if len(sess.logins) != 1 || sess.logins[0] != tok {
		t.Errorf("session logins = %v", sess.logins)
	}

	profile, err := svc.Profile(context.Background())
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if profile["email"] != "ada@example.com" {
		t.Errorf("profile = %v", profile)
	}
}

func TestAuthService_LoginWrongPasswordKeepsSession(t *testing.T) {
	sess := &mockSession{token: "existing"}
	svc := newService(t, newBackend(t, "unused"), sess)

	_, err := svc.Login(context.Background(), "ada@example.com", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
	if gateway.KindOf(err) != gateway.KindHTTP {
		t.Errorf("err should wrap the gateway HTTPError, kind = %v", gateway.KindOf(err))
	}
	if sess.expired != 0 || sess.logouts != 0 || len(sess.logins) != 0 {
		t.Errorf("wrong password must not touch the session: %+v", sess)
	}
}

func TestAuthService_LoginValidation(t *testing.T) {
	svc := newService(t, newBackend(t, "unused"), &mockSession{})
	for _, c := range [][2]string{{"", "pw"}, {"  ", "pw"}, {"a@b.c", ""}} {
		if _, err := svc.Login(context.Background(), c[0], c[1]); !errors.Is(err, ErrMissingCredentials) {
			t.Errorf("Login(%q, %q) = %v, want ErrMissingCredentials", c[0], c[1], err)
		}
	}
}

func TestAuthService_LoginWithoutToken(t *testing.T) {
	sess := &mockSession{}
	svc := newService(t, newBackend(t, "unused"), sess)
	if _, err := svc.Login(context.Background(), "empty@example.com", "pw"); !errors.Is(err, ErrNoAccessToken) {
		t.Fatalf("err = %v, want ErrNoAccessToken", err)
	}
	if len(sess.logins) != 0 {
		t.Error("no token means no session login")
	}
}

func TestAuthService_LoginUndecodableTokenStillStored(t *testing.T) {
	sess := &mockSession{}
	svc := newService(t, newBackend(t, "opaque-token"), sess)
	res, err := svc.Login(context.Background(), "ada@example.com", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.State != sessiondomain.StateUnauthenticated {
		t.Errorf("State = %v, want unauthenticated for an undecodable token", res.State)
	}
	if len(sess.logins) != 1 || sess.logins[0] != "opaque-token" {
		t.Error("undecodable token should still be handed to the session")
	}
	if _, err := svc.Profile(context.Background()); err != nil {
		t.Errorf("backend accepts the opaque token, Profile: %v", err)
	}
}

func TestAuthService_ProfileUnauthorizedExpiresSession(t *testing.T) {
	sess := &mockSession{token: "stale"}
	svc := newService(t, newBackend(t, "fresh"), sess)
	_, err := svc.Profile(context.Background())
	if !gateway.IsSessionExpired(err) {
		t.Fatalf("err = %v, want SessionExpiredError", err)
	}
	if sess.expired != 1 {
		t.Errorf("expired = %d, want 1", sess.expired)
	}
}

func TestAuthService_Logout(t *testing.T) {
	sess := &mockSession{token: "t"}
	svc := newService(t, newBackend(t, "t"), sess)
	if err := svc.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if sess.logouts != 1 {
		t.Errorf("logouts = %d, want 1", sess.logouts)
	}
}
