package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/roach88/floodsync/internal/bus"
	"github.com/roach88/floodsync/internal/metrics"
)

const (
	// DefaultPollInterval is the periodic refresh interval.
	DefaultPollInterval = 3 * time.Second

	// DefaultMinRefreshGap is the minimum spacing between two refreshes.
	// Bursts of triggers inside the gap collapse into one refresh.
	DefaultMinRefreshGap = 250 * time.Millisecond
)

// Trigger names what caused a refresh.
type Trigger string

const (
	TriggerStart Trigger = "start"
	TriggerTick  Trigger = "tick"
	TriggerBus   Trigger = "bus"
	TriggerPush  Trigger = "push"
)

// Poller is the scoped refresh task of a view. It refreshes on start, on
// a fixed interval, after every local mutation (bus event) and on remote
// push announcements, and calls onChange only when the snapshot hash
// differs from the last one delivered.
//
// The cron scheduler has one-second resolution; shorter intervals are
// rounded up.
type Poller struct {
	engine   *Engine
	interval time.Duration
	limiter  *rate.Limiter
	onChange func(Snapshot)
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithMinRefreshGap overrides DefaultMinRefreshGap.
func WithMinRefreshGap(d time.Duration) PollerOption {
	return func(p *Poller) { p.limiter = rate.NewLimiter(rate.Every(d), 1) }
}

// NewPoller creates a poller over e. A non-positive interval uses
// DefaultPollInterval.
func NewPoller(e *Engine, interval time.Duration, onChange func(Snapshot), opts ...PollerOption) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	p := &Poller{
		engine:   e,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(DefaultMinRefreshGap), 1),
		onChange: onChange,
		logger:   e.logger,
		metrics:  e.metrics,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start runs the poller in the background. The returned stop function
// cancels it and returns only once every timer, subscription and listener
// the poller started has been released.
func (p *Poller) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := p.Run(ctx); err != nil {
			p.logger.Error("poller stopped", "error", err)
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

// Run refreshes until ctx is done. Everything it starts is released
// before it returns.
func (p *Poller) Run(ctx context.Context) error {
	triggers := make(chan Trigger, 1)
	fire := func(t Trigger) {
		select {
		case triggers <- t:
		default:
		}
	}

	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	if _, err := c.AddFunc("@every "+p.interval.String(), func() { fire(TriggerTick) }); err != nil {
		return fmt.Errorf("schedule refresh: %w", err)
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	unsubscribe := p.engine.Bus().Subscribe(func(bus.Event) { fire(TriggerBus) })
	defer unsubscribe()

	listenCtx, cancelListen := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.engine.session.listen(listenCtx, func() { fire(TriggerPush) }); err != nil {
			p.logger.Warn("push subscription ended", "error", err)
		}
	}()
	defer func() {
		cancelListen()
		wg.Wait()
	}()

	fire(TriggerStart)
	var last string
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-triggers:
			if err := p.limiter.Wait(ctx); err != nil {
				return nil
			}
			last = p.refresh(ctx, t, last)
		}
	}
}

func (p *Poller) refresh(ctx context.Context, t Trigger, last string) string {
	p.metrics.Refresh(string(t))
	snap, err := p.engine.Refresh(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("refresh failed", "trigger", t, "error", err)
		}
		return last
	}
	if snap.Hash == last {
		return last
	}
	p.logger.Debug("snapshot changed", "trigger", t, "hash", snap.Hash[:12])
	if p.onChange != nil {
		p.onChange(snap)
	}
	return snap.Hash
}
