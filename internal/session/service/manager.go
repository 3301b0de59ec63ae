// Package service implements the session manager: credential lifecycle, local expiry
// pre-check at startup, login, logout, backend-driven expiry and the periodic liveness check.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	creddomain "financial-advisor/client/internal/credential/domain"
	"financial-advisor/client/internal/platform/clock"
	"financial-advisor/client/internal/security"
	"financial-advisor/client/internal/session/domain"
	"financial-advisor/client/internal/telemetry"
	teldomain "financial-advisor/client/internal/telemetry/domain"
)

// DefaultLivenessInterval is how often an authenticated session is re-validated.
const DefaultLivenessInterval = 5 * time.Minute

// CredentialStore is the persistent slot the manager owns. Implemented by credential.Store.
type CredentialStore interface {
	Save(ctx context.Context, token string) error
	Load(ctx context.Context) (string, bool)
	Clear(ctx context.Context) error
}

// Prober performs the lightweight authenticated liveness call. Any error ends the session.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// Notifier shows a one-time user-facing message.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, message string)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, message string) { f(ctx, message) }

// Redirector sends the user to the authentication entry point.
type Redirector interface {
	RedirectToLogin(ctx context.Context)
}

// RedirectorFunc adapts a function to Redirector.
type RedirectorFunc func(ctx context.Context)

// RedirectToLogin implements Redirector.
func (f RedirectorFunc) RedirectToLogin(ctx context.Context) { f(ctx) }

// Option configures a Manager.
type Option func(*Manager)

// WithLivenessInterval sets the liveness check interval.
func WithLivenessInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithNow sets the clock used for local expiry checks.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) { m.nowF = now }
}

// WithTickerFactory sets how the liveness ticker is created.
func WithTickerFactory(f clock.NewTickerFunc) Option {
	return func(m *Manager) { m.newTicker = f }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithEventEmitter enables best-effort telemetry for login, logout and expiry.
func WithEventEmitter(e telemetry.EventEmitter) Option {
	return func(m *Manager) { m.emitter = e }
}

// Manager owns the credential lifecycle. It is the only writer of the credential store.
//
// Every change of credential (login, logout, expiry) bumps a generation counter. Callers that
// read the credential get its generation and pass it back to Expire, so a burst of failures for
// the same credential tears the session down once.
type Manager struct {
	store      CredentialStore
	prober     Prober
	notifier   Notifier
	redirector Redirector
	interval   time.Duration
	nowF       func() time.Time
	newTicker  clock.NewTickerFunc
	logger     *slog.Logger
	emitter    telemetry.EventEmitter

	// opMu serializes credential mutations (store writes plus state change).
	opMu sync.Mutex

	mu           sync.RWMutex
	state        domain.State
	cred         creddomain.Credential
	generation   uint64
	stopLiveness context.CancelFunc
	livenessDone chan struct{}
}

// NewManager returns a Manager in the initializing state. Call Init before use and Close on shutdown.
// notifier and redirector may be nil.
func NewManager(store CredentialStore, prober Prober, notifier Notifier, redirector Redirector, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		prober:     prober,
		notifier:   notifier,
		redirector: redirector,
		interval:   DefaultLivenessInterval,
		nowF:       time.Now,
		newTicker:  clock.NewTicker,
		logger:     slog.Default(),
		state:      domain.StateInitializing,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Init loads the stored credential and settles the state without any network call.
// A token whose embedded expiry has passed is cleared; an undecodable token is kept but
// the session stays unauthenticated.
func (m *Manager) Init(ctx context.Context) domain.State {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	token, ok := m.store.Load(ctx)
	cred := creddomain.Credential{}
	if ok {
		cred = creddomain.FromToken(token)
	}
	now := m.nowF()
	if cred.Decoded && !cred.ExpiresAt.After(now) {
		if err := m.store.Clear(ctx); err != nil {
			m.logger.WarnContext(ctx, "clear stale credential failed", "operation", "session.init", "error", err)
		}
		m.logger.InfoContext(ctx, "stored credential expired", "operation", "session.init",
			"credential", security.Fingerprint(cred.Token), "expired_at", cred.ExpiresAt)
		cred = creddomain.Credential{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	m.cred = cred
	if cred.Valid(now) {
		m.state = domain.StateAuthenticated
		m.startLivenessLocked()
	} else {
		m.state = domain.StateUnauthenticated
	}
	m.logger.InfoContext(ctx, "session initialized", "operation", "session.init", "state", m.state,
		"credential", security.Fingerprint(cred.Token))
	return m.state
}

// Login stores token and derives the state from its local decode. A token that cannot be decoded
// is stored anyway and leaves the session unauthenticated; the backend remains the authority.
func (m *Manager) Login(ctx context.Context, token string) (domain.State, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := m.store.Save(ctx, token); err != nil {
		return m.State(), err
	}
	cred := creddomain.FromToken(token)

	m.mu.Lock()
	m.stopLivenessLocked()
	m.generation++
	m.cred = cred
	if cred.Valid(m.nowF()) {
		m.state = domain.StateAuthenticated
		m.startLivenessLocked()
	} else {
		m.state = domain.StateUnauthenticated
	}
	state := m.state
	m.mu.Unlock()

	fp := security.Fingerprint(token)
	if !cred.Decoded {
		m.logger.WarnContext(ctx, "login token could not be decoded locally", "operation", "session.login", "credential", fp)
	}
	m.logger.InfoContext(ctx, "login", "operation", "session.login", "state", state, "credential", fp)
	m.emit(ctx, teldomain.TypeLogin, fp, map[string]string{"state": string(state)})
	return state, nil
}

// Logout clears the credential and moves to unauthenticated. A non-empty reason is shown once
// through the Notifier. The redirect to the login entry point always happens, even when the
// store fails to clear; that error is returned after the redirect.
func (m *Manager) Logout(ctx context.Context, reason string) error {
	m.opMu.Lock()
	m.mu.Lock()
	fp := m.teardownLocked()
	m.mu.Unlock()
	err := m.store.Clear(ctx)
	m.opMu.Unlock()

	if err != nil {
		m.logger.ErrorContext(ctx, "clear credential failed", "operation", "session.logout", "error", err)
	}
	m.finishLogout(ctx, reason, fp, teldomain.TypeLogout)
	return err
}

// Expire tears the session down with reason if generation is still the current credential
// generation, and reports whether it did. Stale generations are a no-op, which makes concurrent
// expiry signals for one credential produce a single logout.
func (m *Manager) Expire(ctx context.Context, generation uint64, reason string) bool {
	m.opMu.Lock()
	m.mu.Lock()
	if generation != m.generation {
		m.mu.Unlock()
		m.opMu.Unlock()
		return false
	}
	fp := m.teardownLocked()
	m.mu.Unlock()
	err := m.store.Clear(ctx)
	m.opMu.Unlock()

	if err != nil {
		m.logger.ErrorContext(ctx, "clear credential failed", "operation", "session.expire", "error", err)
	}
	m.logger.InfoContext(ctx, "session expired", "operation", "session.expire", "credential", fp)
	m.finishLogout(ctx, reason, fp, teldomain.TypeSessionExpired)
	return true
}

// teardownLocked resets the in-memory session and returns the old credential fingerprint. m.mu must be held.
func (m *Manager) teardownLocked() string {
	fp := security.Fingerprint(m.cred.Token)
	m.stopLivenessLocked()
	m.generation++
	m.cred = creddomain.Credential{}
	m.state = domain.StateUnauthenticated
	return fp
}

func (m *Manager) finishLogout(ctx context.Context, reason, fp, eventType string) {
	if reason != "" && m.notifier != nil {
		m.notifier.Notify(ctx, reason)
	}
	if m.redirector != nil {
		m.redirector.RedirectToLogin(ctx)
	}
	var meta map[string]string
	if reason != "" {
		meta = map[string]string{"reason": reason}
	}
	m.emit(ctx, eventType, fp, meta)
}

// Credential returns the current token ("" when none) and its generation.
func (m *Manager) Credential() (string, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cred.Token, m.generation
}

// State returns the current state.
func (m *Manager) State() domain.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Initializing reports whether Init has not settled the state yet.
func (m *Manager) Initializing() bool {
	return m.State() == domain.StateInitializing
}

// Authenticated reports whether a credential is present and, by its local decode, unexpired.
func (m *Manager) Authenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == domain.StateAuthenticated && m.cred.Valid(m.nowF())
}

// LivenessActive reports whether the liveness loop is running.
func (m *Manager) LivenessActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stopLiveness != nil
}

// Status returns a snapshot of the session.
func (m *Manager) Status() domain.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return domain.Status{
		State:             m.state,
		CredentialPresent: m.cred.Present(),
		Decoded:           m.cred.Decoded,
		ExpiresAt:         m.cred.ExpiresAt,
		Fingerprint:       security.Fingerprint(m.cred.Token),
		LivenessActive:    m.stopLiveness != nil,
	}
}

// Close stops the liveness loop and waits for it to exit. The stored credential is kept.
// Must not be called from a Notifier or Redirector.
func (m *Manager) Close() {
	m.mu.Lock()
	done := m.livenessDone
	m.stopLivenessLocked()
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

// startLivenessLocked starts the liveness loop unless one is running. m.mu must be held.
func (m *Manager) startLivenessLocked() {
	if m.stopLiveness != nil || m.prober == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.stopLiveness = cancel
	m.livenessDone = done
	go m.livenessLoop(ctx, m.newTicker(m.interval), done)
}

// stopLivenessLocked cancels the liveness loop without waiting: the loop may itself be the
// caller (probe failure → Expire). m.mu must be held.
func (m *Manager) stopLivenessLocked() {
	if m.stopLiveness == nil {
		return
	}
	m.stopLiveness()
	m.stopLiveness = nil
	m.livenessDone = nil
}

func (m *Manager) livenessLoop(ctx context.Context, t clock.Ticker, done chan struct{}) {
	defer close(done)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
		}
		_, generation := m.Credential()
		err := m.prober.Probe(ctx)
		if ctx.Err() != nil {
			// Torn down while probing, possibly by the probe itself.
			return
		}
		if err != nil {
			m.logger.WarnContext(ctx, "liveness check failed", "operation", "session.liveness", "error", err)
			m.Expire(context.Background(), generation, domain.ExpiredReason)
			return
		}
		m.logger.DebugContext(ctx, "liveness check ok", "operation", "session.liveness")
	}
}

func (m *Manager) emit(ctx context.Context, eventType, fp string, meta map[string]string) {
	if m.emitter == nil {
		return
	}
	ev := telemetry.NewEvent(eventType, "session")
	ev.CredentialFingerprint = fp
	ev.Metadata = meta
	telemetry.EmitAsync(m.emitter, ctx, ev)
}
