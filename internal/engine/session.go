package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/floodsync/internal/breaker"
	"github.com/roach88/floodsync/internal/metrics"
	"github.com/roach88/floodsync/internal/remote"
)

// DefaultRemoteTimeout bounds every remote call. A call that does not
// finish in time counts as a failure.
const DefaultRemoteTimeout = 4 * time.Second

// errSkipped is returned by Session.do when the breaker is open.
var errSkipped = errors.New("remote skipped: breaker open")

// Session is the per-process remote state: the mirror handle and the
// breaker that gates it. It is built once at startup and handed to the
// engine.
type Session struct {
	mirror  remote.Mirror
	breaker *breaker.Breaker
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithRemoteTimeout overrides DefaultRemoteTimeout.
func WithRemoteTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithSessionLogger sets the logger used for breaker and push messages.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// WithSessionMetrics records remote calls and breaker state.
func WithSessionMetrics(m *metrics.Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// NewSession wraps an already-dialled mirror. A nil mirror yields a
// session whose breaker is OPEN from the start.
func NewSession(mirror remote.Mirror, opts ...SessionOption) *Session {
	return newSession(mirror, mirror != nil, opts)
}

func newSession(mirror remote.Mirror, configured bool, opts []SessionOption) *Session {
	s := &Session{
		mirror:  mirror,
		timeout: DefaultRemoteTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.breaker = breaker.New(configured, breaker.OnTrip(func(err error) {
		s.logger.Warn("remote disabled for this session", "error", err)
		s.metrics.SetBreakerOpen(true)
	}))
	s.metrics.SetBreakerOpen(!s.breaker.Allow())
	return s
}

// Connect dials the configured remote. Missing or malformed configuration
// gives a session that is local-only for good; a well-formed endpoint that
// cannot be reached counts as the session's first remote failure.
func Connect(ctx context.Context, opts remote.Options, sopts ...SessionOption) *Session {
	if _, err := remote.ParseEndpoint(opts.URL, opts.Key); err != nil {
		s := NewSession(nil, sopts...)
		if !errors.Is(err, remote.ErrNotConfigured) {
			s.logger.Warn("remote configuration rejected", "error", err)
		}
		return s
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRemoteTimeout
	}

	sopts = append(sopts, WithRemoteTimeout(opts.Timeout))
	mirror, err := remote.Dial(ctx, opts)
	if err != nil {
		s := newSession(nil, true, sopts)
		s.breaker.Trip(err)
		return s
	}
	return NewSession(mirror, sopts...)
}

// Breaker exposes the session breaker.
func (s *Session) Breaker() *breaker.Breaker {
	return s.breaker
}

// Available reports whether remote calls are currently attempted.
func (s *Session) Available() bool {
	return s.mirror != nil && s.breaker.Allow()
}

// Close releases the remote handle.
func (s *Session) Close() error {
	if s.mirror == nil {
		return nil
	}
	return s.mirror.Close()
}

// do runs fn against the mirror under the session timeout. It returns
// errSkipped without calling fn when the breaker is open, and trips the
// breaker when fn fails. A caller that cancelled its own context gets the
// context error and the breaker is left alone.
func (s *Session) do(ctx context.Context, op string, fn func(ctx context.Context, m remote.Mirror) error) error {
	if !s.Available() {
		return errSkipped
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx, s.mirror)
	s.metrics.ObserveRemote(op, time.Since(start).Seconds(), err)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.breaker.Trip(err)
	return err
}

// announce pushes a best-effort change notice. Failures are logged and
// never touch the breaker.
func (s *Session) announce(ctx context.Context) {
	a, ok := s.mirror.(remote.Announcer)
	if !ok {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := a.Announce(callCtx)
	s.metrics.Push(err)
	if err != nil {
		s.logger.Warn("push announcement failed", "error", err)
	}
}

// listen forwards push announcements to fn until ctx is done. It returns
// immediately when the mirror has no push channel.
func (s *Session) listen(ctx context.Context, fn func()) error {
	a, ok := s.mirror.(remote.Announcer)
	if !ok {
		return nil
	}
	return a.Listen(ctx, fn)
}
