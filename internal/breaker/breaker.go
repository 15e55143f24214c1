// Package breaker implements the session-wide remote circuit breaker.
//
// The breaker has two states. CLOSED permits remote calls; OPEN skips them.
// A breaker starts CLOSED only when the remote is configured. The first
// reported failure latches it OPEN for the rest of the process: there is no
// half-open probing and no recovery.
//
// Thread-safety: Breaker is safe for concurrent use.
package breaker

import (
	"errors"
	"sync"
	"sync/atomic"
)

// State is the breaker position.
type State int32

const (
	Closed State = iota
	Open
)

func (s State) String() string {
	if s == Closed {
		return "CLOSED"
	}
	return "OPEN"
}

// ErrNotConfigured is the cause recorded for a breaker that starts open.
var ErrNotConfigured = errors.New("remote not configured")

// Breaker latches open on the first failure.
type Breaker struct {
	state atomic.Int32

	mu     sync.Mutex
	cause  error
	onTrip []func(error)
}

// Option configures a Breaker.
type Option func(*Breaker)

// OnTrip registers fn to run once, when the breaker latches open.
// A breaker that starts open never calls it.
func OnTrip(fn func(error)) Option {
	return func(b *Breaker) { b.onTrip = append(b.onTrip, fn) }
}

// New returns a CLOSED breaker when configured is true, otherwise an OPEN
// one whose cause is ErrNotConfigured.
func New(configured bool, opts ...Option) *Breaker {
	b := &Breaker{}
	for _, opt := range opts {
		opt(b)
	}
	if !configured {
		b.state.Store(int32(Open))
		b.cause = ErrNotConfigured
	}
	return b
}

// Allow reports whether a remote call may be attempted.
func (b *Breaker) Allow() bool {
	return State(b.state.Load()) == Closed
}

// State returns the current position.
func (b *Breaker) State() State {
	return State(b.state.Load())
}

// Trip latches the breaker open. It returns true only for the call that
// performed the transition; later calls are no-ops.
func (b *Breaker) Trip(err error) bool {
	if !b.state.CompareAndSwap(int32(Closed), int32(Open)) {
		return false
	}
	b.mu.Lock()
	b.cause = err
	hooks := b.onTrip
	b.mu.Unlock()

	for _, fn := range hooks {
		fn(err)
	}
	return true
}

// Cause returns the error that opened the breaker, or nil while closed.
func (b *Breaker) Cause() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cause
}
