package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/floodsync/internal/bus"
	"github.com/roach88/floodsync/internal/ir"
	"github.com/roach88/floodsync/internal/metrics"
	"github.com/roach88/floodsync/internal/remote"
	"github.com/roach88/floodsync/internal/store"
)

// Engine is the sync orchestrator.
//
// Thread-safety: all methods are safe for concurrent use. Mutations and
// remote-first reads (which rewrite the cache) are serialised so that each
// one observes the previous one's cache write.
type Engine struct {
	store   *store.Store
	session *Session
	bus     *bus.Bus
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   *Clock
	ids     IDGenerator
	draw    RescuerIDSource
	admin   AdminCredentials

	mu      sync.Mutex
	changed bool // set by finish, consumed by the unlock returned from lock
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithLogger sets the engine logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock sets the wall clock used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.clock = NewClock(now) }
}

// WithIDGenerator sets the SOS id generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithRescuerIDSource sets the rescuer id draw. Default: RandomRescuerIDs.
func WithRescuerIDSource(src RescuerIDSource) Option {
	return func(e *Engine) { e.draw = src }
}

// WithMetrics records mutations on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithAdmin enables the local admin gate.
func WithAdmin(creds AdminCredentials) Option {
	return func(e *Engine) { e.admin = creds }
}

// New creates an Engine over the local cache, the remote session and the
// notification bus.
func New(s *store.Store, session *Session, b *bus.Bus, opts ...Option) *Engine {
	e := &Engine{
		store:   s,
		session: session,
		bus:     b,
		logger:  slog.Default(),
		clock:   NewClock(nil),
		ids:     UUIDv7Generator{},
		draw:    RandomRescuerIDs,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.session == nil {
		e.session = NewSession(nil, WithSessionLogger(e.logger))
	}
	if e.bus == nil {
		e.bus = bus.New()
	}
	return e
}

// Bus returns the notification bus mutations are published on.
func (e *Engine) Bus() *bus.Bus {
	return e.bus
}

// Session returns the remote session.
func (e *Engine) Session() *Session {
	return e.session
}

// ListSOS returns every SOS, from the remote mirror when it answers and
// from the local cache otherwise.
func (e *Engine) ListSOS(ctx context.Context) ([]ir.SOSRequest, error) {
	defer e.lock()()

	all, err := e.loadSOS(ctx)
	if err != nil {
		return nil, newError(ErrCodeUnavailable, "list_sos", "", "no readable copy of the SOS collection", err)
	}
	return all, nil
}

// ListRescuers returns the roster, remote first.
func (e *Engine) ListRescuers(ctx context.Context) ([]ir.Rescuer, error) {
	defer e.lock()()

	all, err := e.loadRescuers(ctx)
	if err != nil {
		return nil, newError(ErrCodeUnavailable, "list_rescuers", "", "no readable copy of the roster", err)
	}
	return all, nil
}

// loadSOS fetches the remote collection and writes it into the cache. On
// any remote failure it reads the cache, which seeds itself when empty.
func (e *Engine) loadSOS(ctx context.Context) ([]ir.SOSRequest, error) {
	var rows []json.RawMessage
	err := e.session.do(ctx, "fetch", func(ctx context.Context, m remote.Mirror) error {
		var err error
		rows, err = m.Fetch(ctx, ir.CollectionSOS)
		return err
	})
	if err == nil {
		all := make([]ir.SOSRequest, 0, len(rows))
		for _, raw := range rows {
			var rec ir.SOSRequest
			if err := json.Unmarshal(raw, &rec); err != nil || rec.ID == "" {
				e.logger.Warn("skipping malformed remote row", "collection", ir.CollectionSOS, "error", err)
				continue
			}
			if rec.Messages == nil {
				rec.Messages = []ir.ChatMessage{}
			}
			all = append(all, rec)
		}
		if err := e.store.PutSOS(ctx, all); err != nil {
			e.logger.Warn("cache refresh failed", "collection", ir.CollectionSOS, "error", err)
		}
		return all, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	e.logger.Debug("reading SOS from local cache", "reason", err)
	return e.store.ListSOS(ctx)
}

func (e *Engine) loadRescuers(ctx context.Context) ([]ir.Rescuer, error) {
	var rows []json.RawMessage
	err := e.session.do(ctx, "fetch", func(ctx context.Context, m remote.Mirror) error {
		var err error
		rows, err = m.Fetch(ctx, ir.CollectionRescuers)
		return err
	})
	if err == nil {
		all := make([]ir.Rescuer, 0, len(rows))
		for _, raw := range rows {
			var rec ir.Rescuer
			if err := json.Unmarshal(raw, &rec); err != nil || rec.ID == "" {
				e.logger.Warn("skipping malformed remote row", "collection", ir.CollectionRescuers, "error", err)
				continue
			}
			all = append(all, rec)
		}
		if err := e.store.PutRescuers(ctx, all); err != nil {
			e.logger.Warn("cache refresh failed", "collection", ir.CollectionRescuers, "error", err)
		}
		return all, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	e.logger.Debug("reading rescuers from local cache", "reason", err)
	return e.store.ListRescuers(ctx)
}

// findSOS loads the collection and returns the record with id.
func (e *Engine) findSOS(ctx context.Context, op, id string) (ir.SOSRequest, error) {
	all, err := e.loadSOS(ctx)
	if err != nil {
		return ir.SOSRequest{}, newError(ErrCodeUnavailable, op, id, "no readable copy of the SOS collection", err)
	}
	rec, ok := ir.FindSOS(all, id)
	if !ok {
		return ir.SOSRequest{}, newError(ErrCodeNotFound, op, id, "SOS not found", nil)
	}
	return rec, nil
}

// pushRecord upserts one record on the remote. It reports whether the
// remote write happened; a failure has already tripped the breaker.
func (e *Engine) pushRecord(ctx context.Context, coll ir.Collection, id string, rec any) bool {
	data, err := json.Marshal(rec)
	if err != nil {
		return false
	}
	err = e.session.do(ctx, "upsert", func(ctx context.Context, m remote.Mirror) error {
		return m.Upsert(ctx, coll, id, data)
	})
	return err == nil
}

// swapSOS replaces the remote SOS only if its remote status still equals
// want. It returns (written, reachable).
func (e *Engine) swapSOS(ctx context.Context, rec ir.SOSRequest, want ir.Status) (bool, bool) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, false
	}
	var swapped bool
	err = e.session.do(ctx, "swap", func(ctx context.Context, m remote.Mirror) error {
		var err error
		swapped, err = m.Swap(ctx, ir.CollectionSOS, rec.ID, remote.Guard{Field: "status", Equals: string(want)}, data)
		return err
	})
	if err != nil {
		return false, false
	}
	return swapped, true
}

// cacheSOS merges rec into the cached collection.
func (e *Engine) cacheSOS(ctx context.Context, op string, rec ir.SOSRequest, after func(tx *store.Tx) error) error {
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		all, err := tx.ListSOS(ctx)
		if err != nil {
			return err
		}
		if err := tx.PutSOS(ctx, ir.ReplaceSOS(all, rec)); err != nil {
			return err
		}
		if after != nil {
			return after(tx)
		}
		return nil
	})
	if err != nil {
		return newError(ErrCodeUnavailable, op, rec.ID, "local cache write failed", err)
	}
	return nil
}

// cacheRescuer merges rec into the cached roster.
func (e *Engine) cacheRescuer(ctx context.Context, op string, rec ir.Rescuer, after func(tx *store.Tx) error) error {
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		all, err := tx.ListRescuers(ctx)
		if err != nil {
			return err
		}
		if err := tx.PutRescuers(ctx, ir.ReplaceRescuer(all, rec)); err != nil {
			return err
		}
		if after != nil {
			return after(tx)
		}
		return nil
	})
	if err != nil {
		return newError(ErrCodeUnavailable, op, rec.ID, "local cache write failed", err)
	}
	return nil
}

// finish records the mutation, pushes a remote announcement when the
// remote was written and marks the invalidation event for publishing.
func (e *Engine) finish(ctx context.Context, op string, remoteWritten bool) {
	path := metrics.PathLocal
	if remoteWritten {
		path = metrics.PathRemote
		e.session.announce(ctx)
	}
	e.metrics.Mutation(op, path)
	e.logger.Debug("mutation applied", "op", op, "path", path)
	e.changed = true
}

// lock serialises engine access. The returned unlock publishes
// bus.Changed after releasing the lock when a mutation finished, so
// subscribers may call back into the engine.
func (e *Engine) lock() (unlock func()) {
	e.mu.Lock()
	return func() {
		changed := e.changed
		e.changed = false
		e.mu.Unlock()
		if changed {
			e.bus.Publish(bus.Changed)
		}
	}
}

func invalid(op, id string, err error) error {
	return newError(ErrCodeInvalidInput, op, id, "invalid input", err)
}
