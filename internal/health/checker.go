// Package health reports whether the client can work: credential store reachable, expiry policy
// evaluable, backend answering.
package health

import (
	"context"
	"time"
)

// Status is the overall readiness.
type Status string

const (
	StatusServing    Status = "serving"
	StatusNotServing Status = "not_serving"
)

// checkTimeout bounds each individual check.
const checkTimeout = 5 * time.Second

// Pinger checks storage connectivity (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker checks that the expiry policy can be evaluated.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// CheckFunc is a named ad hoc check, such as a backend request.
type CheckFunc func(ctx context.Context) error

// Report is the outcome of Check. Checks maps each check name to "ok" or its error.
type Report struct {
	Status Status            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Checker runs the configured checks. Nil dependencies are skipped.
type Checker struct {
	store   Pinger
	policy  PolicyChecker
	backend CheckFunc
}

// NewChecker returns a Checker. Any argument may be nil.
func NewChecker(store Pinger, policy PolicyChecker, backend CheckFunc) *Checker {
	return &Checker{store: store, policy: policy, backend: backend}
}

// Check runs every check. A failing check never aborts the others; the report is
// not_serving when any check failed.
func (c *Checker) Check(ctx context.Context) Report {
	r := Report{Status: StatusServing, Checks: map[string]string{}}
	if c.store != nil {
		r.record("credential_store", run(ctx, c.store.PingContext))
	}
	if c.policy != nil {
		r.record("expiry_policy", run(ctx, c.policy.HealthCheck))
	}
	if c.backend != nil {
		r.record("backend", run(ctx, c.backend))
	}
	return r
}

func (r *Report) record(name string, err error) {
	if err != nil {
		r.Status = StatusNotServing
		r.Checks[name] = err.Error()
		return
	}
	r.Checks[name] = "ok"
}

func run(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return fn(ctx)
}
