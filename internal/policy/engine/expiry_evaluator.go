// Package engine evaluates session-expiry classification with OPA Rego, so deployments can
// change which backend responses end the session without a client rebuild.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"financial-advisor/client/internal/gateway"
)

const expiryQuery = "data.advisor.session.expired"

// DefaultExpiryPolicy reproduces gateway.MarkerClassifier: 401 always, 500 when the body carries the marker.
const DefaultExpiryPolicy = `package advisor.session

default expired = false

expired if {
	input.status == 401
}

expired if {
	input.status == 500
	contains(lower(input.body), lower(input.marker))
}
`

// ExpiryEvaluator implements gateway.ExpiryClassifier with a compiled Rego policy.
// The policy sees input {status, body, marker} and must define data.advisor.session.expired.
type ExpiryEvaluator struct {
	query    rego.PreparedEvalQuery
	marker   string
	fallback gateway.ExpiryClassifier
}

// NewExpiryEvaluator compiles policy (DefaultExpiryPolicy when empty) and prepares the query.
func NewExpiryEvaluator(ctx context.Context, policy, marker string) (*ExpiryEvaluator, error) {
	if strings.TrimSpace(policy) == "" {
		policy = DefaultExpiryPolicy
	}
	if marker == "" {
		marker = gateway.DefaultExpiryMarker
	}
	compiler, err := ast.CompileModules(map[string]string{"expiry.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile expiry policy: %w", err)
	}
	pq, err := rego.New(
		rego.Query(expiryQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare expiry policy: %w", err)
	}
	return &ExpiryEvaluator{
		query:    pq,
		marker:   marker,
		fallback: gateway.MarkerClassifier{Marker: marker},
	}, nil
}

// LoadExpiryPolicy resolves ref to Rego source: ref is used inline when it contains a package
// clause, otherwise it is read as a file path.
func LoadExpiryPolicy(ref string) (string, error) {
	if strings.Contains(ref, "package ") {
		return ref, nil
	}
	b, err := os.ReadFile(ref)
	if err != nil {
		return "", fmt.Errorf("read expiry policy: %w", err)
	}
	return string(b), nil
}

// IsExpired evaluates the policy. On evaluation failure it logs and falls back to the marker rule.
func (e *ExpiryEvaluator) IsExpired(ctx context.Context, status int, body []byte) bool {
	input := map[string]interface{}{
		"status": status,
		"body":   string(body),
		"marker": e.marker,
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		log.Printf("policy: expiry evaluation failed: %v, using marker rule", err)
		return e.fallback.IsExpired(ctx, status, body)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return e.fallback.IsExpired(ctx, status, body)
	}
	expired, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		log.Printf("policy: expiry result is %T, want bool; using marker rule", rs[0].Expressions[0].Value)
		return e.fallback.IsExpired(ctx, status, body)
	}
	return expired
}

// HealthCheck evaluates the prepared policy against a 401 and reports an error if it does not decide.
func (e *ExpiryEvaluator) HealthCheck(ctx context.Context) error {
	rs, err := e.query.Eval(ctx, rego.EvalInput(map[string]interface{}{"status": 401, "body": "", "marker": e.marker}))
	if err != nil {
		return fmt.Errorf("eval expiry policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return fmt.Errorf("expiry policy query returned no result")
	}
	return nil
}
