package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"financial-advisor/client/internal/gateway"
)

var _ gateway.ExpiryClassifier = (*ExpiryEvaluator)(nil)

func TestExpiryEvaluator_DefaultPolicyMatchesMarkerClassifier(t *testing.T) {
	ctx := context.Background()
	e, err := NewExpiryEvaluator(ctx, "", "")
	if err != nil {
		t.Fatalf("NewExpiryEvaluator: %v", err)
	}
	if err := e.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	marker := gateway.MarkerClassifier{Marker: gateway.DefaultExpiryMarker}
	cases := []struct {
		status int
		body   string
	}{
		{401, ""},
		{401, "whatever"},
		{500, `{"detail":"Token is expired"}`},
		{500, `{"detail":"db down"}`},
		{403, "token is expired"},
		{200, ""},
		{404, "not found"},
	}
	for _, c := range cases {
		got := e.IsExpired(ctx, c.status, []byte(c.body))
		want := marker.IsExpired(ctx, c.status, []byte(c.body))
		if got != want {
			t.Errorf("IsExpired(%d, %q) = %v, marker rule says %v", c.status, c.body, got, want)
		}
	}
}

func TestExpiryEvaluator_CustomPolicy(t *testing.T) {
	ctx := context.Background()
	policy := `package advisor.session

default expired = false

expired if {
	input.status == 419
}

expired if {
	input.status == 401
	not contains(input.body, "mfa_required")
}
`
	e, err := NewExpiryEvaluator(ctx, policy, "")
	if err != nil {
		t.Fatalf("NewExpiryEvaluator: %v", err)
	}
	if !e.IsExpired(ctx, 419, nil) {
		t.Error("419 should be expired under the custom policy")
	}
	if e.IsExpired(ctx, 401, []byte(`{"detail":"mfa_required"}`)) {
		t.Error("401 mfa_required should not be expired under the custom policy")
	}
	if !e.IsExpired(ctx, 401, []byte(`{}`)) {
		t.Error("plain 401 should be expired")
	}
	if e.IsExpired(ctx, 500, []byte("token is expired")) {
		t.Error("custom policy dropped the 500 marker rule")
	}
}

func TestExpiryEvaluator_InvalidPolicy(t *testing.T) {
	if _, err := NewExpiryEvaluator(context.Background(), "package advisor.session\n\nexpired if {", ""); err == nil {
		t.Fatal("invalid Rego should fail to compile")
	}
}

func TestExpiryEvaluator_NonBoolFallsBackToMarker(t *testing.T) {
	ctx := context.Background()
	e, err := NewExpiryEvaluator(ctx, "package advisor.session\n\nexpired = \"yes\"\n", "")
	if err != nil {
		t.Fatalf("NewExpiryEvaluator: %v", err)
	}
	if !e.IsExpired(ctx, 401, nil) || e.IsExpired(ctx, 404, nil) {
		t.Error("non-bool result should fall back to the marker rule")
	}
}

func TestLoadExpiryPolicy(t *testing.T) {
	inline, err := LoadExpiryPolicy(DefaultExpiryPolicy)
	if err != nil || inline != DefaultExpiryPolicy {
		t.Fatalf("inline: %v", err)
	}
	path := filepath.Join(t.TempDir(), "expiry.rego")
	if err := os.WriteFile(path, []byte(DefaultExpiryPolicy), 0o600); err != nil {
		t.Fatal(err)
	}
	fromFile, err := LoadExpiryPolicy(path)
	if err != nil || fromFile != DefaultExpiryPolicy {
		t.Fatalf("file: %v", err)
	}
	if _, err := LoadExpiryPolicy(filepath.Join(t.TempDir(), "missing.rego")); err == nil {
		t.Error("missing file should fail")
	}
}
