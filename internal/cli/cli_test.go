package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"financial-advisor/client/internal/security"
	sessiondomain "financial-advisor/client/internal/session/domain"
)

// fakeBackend is a minimal advisor API: login, profile, transcription and chat.
type fakeBackend struct {
	srv          *httptest.Server
	token        string
	revoked      atomic.Bool
	transcribes  atomic.Int32
	chatMessages atomic.Int32
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{token: security.IssueTestToken("user-1", time.Now().Add(time.Hour))}
	authorized := func(r *http.Request) bool {
		return !b.revoked.Load() && r.Header.Get("Authorization") == "Bearer "+b.token
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"message": "Financial advisor API"})
	})
	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct{ Email, Password string }
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Password != "secret" {
			http.Error(w, `{"detail":"Invalid login credentials"}`, http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{
			"access_token": b.token,
			"token_type":   "bearer",
			"user":         map[string]any{"id": "user-1", "email": body.Email},
		})
	})
	mux.HandleFunc("/api/profile", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			http.Error(w, `{"detail":"Invalid token"}`, http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{"email": "ada@example.com", "risk_tolerance": "moderate"})
	})
	mux.HandleFunc("/api/voice-to-text", func(w http.ResponseWriter, r *http.Request) {
		b.transcribes.Add(1)
		if !authorized(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{"success": true, "transcription": "How much should I save?"})
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		// Chat embeds its single argument as {"message": ...}.
		var body struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Message == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"detail":[{"loc":["body","message"],"msg":"field required"}]}`))
			return
		}
		b.chatMessages.Add(1)
		writeJSON(w, map[string]any{"response": "Save 20%."})
	})
	mux.HandleFunc("/api/investments/deep-research", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var body struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Query == "" {
			http.Error(w, `{"detail":"query is required"}`, http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"research": "Index funds fit a long horizon."})
	})
	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)

	t.Setenv("API_BASE_URL", b.srv.URL)
	t.Setenv("CREDENTIAL_STORE", "sqlite")
	t.Setenv("CREDENTIAL_SQLITE_PATH", filepath.Join(t.TempDir(), "credentials.db"))
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("KAFKA_BROKERS", "")
	return b
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func run(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func statusState(t *testing.T) string {
	t.Helper()
	out, _, err := run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var st statusOutput
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("decode status %q: %v", out, err)
	}
	return st.State
}

func TestCLI_LoginRequestLogout(t *testing.T) {
	newFakeBackend(t)

	if got := statusState(t); got != string(sessiondomain.StateUnauthenticated) {
		t.Fatalf("initial state = %s", got)
	}
	out, _, err := run(t, "login", "--email", "ada@example.com", "--password", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(out, `"authenticated"`) {
		t.Errorf("login output = %s", out)
	}
	// The token survives across invocations through the SQLite slot.
	if got := statusState(t); got != string(sessiondomain.StateAuthenticated) {
		t.Fatalf("state after login = %s", got)
	}

	out, _, err = run(t, "request", "get", "/api/profile")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if !strings.Contains(out, "risk_tolerance") {
		t.Errorf("request output = %s", out)
	}

	out, _, err = run(t, "logout")
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	if !strings.Contains(out, "Signed out.") {
		t.Errorf("logout output = %s", out)
	}
	if got := statusState(t); got != string(sessiondomain.StateUnauthenticated) {
		t.Errorf("state after logout = %s", got)
	}
}

func TestCLI_LoginWrongPassword(t *testing.T) {
	newFakeBackend(t)

	_, _, err := run(t, "login", "--email", "ada@example.com", "--password", "nope")
	if err == nil || !strings.Contains(err.Error(), "invalid email or password") {
		t.Fatalf("login error = %v", err)
	}
	if got := statusState(t); got != string(sessiondomain.StateUnauthenticated) {
		t.Errorf("state = %s, want unauthenticated", got)
	}
}

func TestCLI_RevokedSessionIsCleared(t *testing.T) {
	b := newFakeBackend(t)
	if _, _, err := run(t, "login", "--email", "ada@example.com", "--password", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	b.revoked.Store(true)

	_, stderr, err := run(t, "request", "GET", "/api/profile")
	if err == nil {
		t.Fatal("request with a revoked token should fail")
	}
	if !strings.Contains(stderr, sessiondomain.ExpiredReason) {
		t.Errorf("stderr = %q, want the expiry notice", stderr)
	}
	if got := statusState(t); got != string(sessiondomain.StateUnauthenticated) {
		t.Errorf("state = %s, want unauthenticated", got)
	}
}

func TestCLI_StatusCheck(t *testing.T) {
	b := newFakeBackend(t)
	if _, _, err := run(t, "login", "--email", "ada@example.com", "--password", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	out, _, err := run(t, "status", "--check")
	if err != nil {
		t.Fatalf("status --check: %v", err)
	}
	if !strings.Contains(out, "ada@example.com") {
		t.Errorf("status output = %s, want profile", out)
	}

	b.revoked.Store(true)
	if _, _, err := run(t, "status", "--check"); err == nil {
		t.Error("status --check should fail for a revoked token")
	}
	if got := statusState(t); got != string(sessiondomain.StateUnauthenticated) {
		t.Errorf("state = %s, want unauthenticated", got)
	}
}

func TestCLI_Ask(t *testing.T) {
	b := newFakeBackend(t)
	if _, _, err := run(t, "login", "--email", "ada@example.com", "--password", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	audio := filepath.Join(t.TempDir(), "question.webm")
	if err := os.WriteFile(audio, []byte("opus-frames"), 0600); err != nil {
		t.Fatal(err)
	}

	out, _, err := run(t, "ask", "chat", "--audio", audio)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	var got askOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode ask output %q: %v", out, err)
	}
	if got.Transcript != "How much should I save?" || got.Result["response"] != "Save 20%." {
		t.Errorf("ask output = %+v", got)
	}
	if got.Feature != "chat" || got.RunID == "" {
		t.Errorf("feature/run id = %q/%q", got.Feature, got.RunID)
	}
	if n := b.chatMessages.Load(); n != 1 {
		t.Errorf("chat messages = %d, want 1", n)
	}
}

func TestCLI_AskResearchSendsQuery(t *testing.T) {
	newFakeBackend(t)
	if _, _, err := run(t, "login", "--email", "ada@example.com", "--password", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	audio := filepath.Join(t.TempDir(), "question.webm")
	if err := os.WriteFile(audio, []byte("opus-frames"), 0600); err != nil {
		t.Fatal(err)
	}

	out, _, err := run(t, "ask", "research", "--audio", audio)
	if err != nil {
		t.Fatalf("ask research: %v", err)
	}
	if !strings.Contains(out, "Index funds") {
		t.Errorf("ask output = %s", out)
	}
}

func TestCLI_AskEmptyRecording(t *testing.T) {
	b := newFakeBackend(t)
	audio := filepath.Join(t.TempDir(), "silence.webm")
	if err := os.WriteFile(audio, nil, 0600); err != nil {
		t.Fatal(err)
	}

	_, stderr, err := run(t, "ask", "research", "--audio", audio)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.Contains(stderr, "No audio captured") {
		t.Errorf("stderr = %q", stderr)
	}
	if n := b.transcribes.Load(); n != 0 {
		t.Errorf("transcription calls = %d, want 0", n)
	}
}

func TestCLI_ArgumentErrors(t *testing.T) {
	newFakeBackend(t)
	if _, _, err := run(t, "ask", "portfolio", "--audio", "x.webm"); err == nil {
		t.Error("ask with unknown feature should fail")
	}
	if _, _, err := run(t, "ask", "chat"); err == nil {
		t.Error("ask without --audio should fail")
	}
	if _, _, err := run(t, "request", "POST", "/api/chat", "--data", "{not json"); err == nil {
		t.Error("request with invalid --data should fail")
	}
	if _, _, err := run(t, "login", "--email", "ada@example.com"); err == nil {
		t.Error("login without a password should fail")
	}
}

func TestCLI_Health(t *testing.T) {
	newFakeBackend(t)

	out, _, err := run(t, "health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	var report struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode health %q: %v", out, err)
	}
	if report.Status != "serving" || report.Checks["credential_store"] != "ok" || report.Checks["backend"] != "ok" {
		t.Errorf("report = %+v", report)
	}
	if _, ok := report.Checks["expiry_policy"]; ok {
		t.Error("no policy check expected without EXPIRY_POLICY_FILE")
	}
}

func TestCLI_HealthWithPolicy(t *testing.T) {
	newFakeBackend(t)
	t.Setenv("EXPIRY_POLICY_FILE", "package advisor.session\n\ndefault expired := false\n\nexpired if input.status == 401\n")

	out, _, err := run(t, "health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !strings.Contains(out, `"expiry_policy": "ok"`) {
		t.Errorf("health output = %s", out)
	}
}

func TestCLI_EventsRequiresBrokers(t *testing.T) {
	newFakeBackend(t)
	if _, _, err := run(t, "events", "--max", "1"); err == nil {
		t.Error("events without KAFKA_BROKERS should fail")
	}
}
