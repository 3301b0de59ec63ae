// Package clock abstracts the periodic timers used by the session liveness loop and the
// recording elapsed-time counter so tests can drive them by hand.
package clock

import (
	"sync"
	"time"
)

// Ticker delivers ticks on C until Stop is called.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// NewTickerFunc creates a Ticker firing every d.
type NewTickerFunc func(d time.Duration) Ticker

// NewTicker returns a Ticker backed by time.Ticker.
func NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// ManualTicker is a Ticker fired explicitly with Tick. For tests.
type ManualTicker struct {
	ch chan time.Time

	mu      sync.Mutex
	stopped bool
}

// NewManualTicker returns an unbuffered manual ticker.
func NewManualTicker() *ManualTicker {
	return &ManualTicker{ch: make(chan time.Time)}
}

// C returns the tick channel.
func (m *ManualTicker) C() <-chan time.Time { return m.ch }

// Stop marks the ticker stopped; later Tick calls return false.
func (m *ManualTicker) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

// Stopped reports whether Stop was called.
func (m *ManualTicker) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// Tick delivers one tick, waiting up to timeout for the consumer to receive it.
// Returns false if the ticker is stopped or nobody received the tick in time.
func (m *ManualTicker) Tick(timeout time.Duration) bool {
	if m.Stopped() {
		return false
	}
	select {
	case m.ch <- time.Now():
		return true
	case <-time.After(timeout):
		return false
	}
}

// ManualTickerFactory hands out ManualTickers and remembers them in creation order.
type ManualTickerFactory struct {
	mu      sync.Mutex
	tickers []*ManualTicker
	created chan *ManualTicker
}

// NewManualTickerFactory returns an empty factory.
func NewManualTickerFactory() *ManualTickerFactory {
	return &ManualTickerFactory{created: make(chan *ManualTicker, 16)}
}

// New implements NewTickerFunc.
func (f *ManualTickerFactory) New(time.Duration) Ticker {
	t := NewManualTicker()
	f.mu.Lock()
	f.tickers = append(f.tickers, t)
	f.mu.Unlock()
	select {
	case f.created <- t:
	default:
	}
	return t
}

// Next waits up to timeout for the next created ticker. Returns nil on timeout.
func (f *ManualTickerFactory) Next(timeout time.Duration) *ManualTicker {
	select {
	case t := <-f.created:
		return t
	case <-time.After(timeout):
		return nil
	}
}

// Count returns how many tickers have been created.
func (f *ManualTickerFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tickers)
}
