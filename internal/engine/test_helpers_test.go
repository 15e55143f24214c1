package engine

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/floodsync/internal/bus"
	"github.com/roach88/floodsync/internal/ir"
	"github.com/roach88/floodsync/internal/remote"
	"github.com/roach88/floodsync/internal/store"
	"github.com/roach88/floodsync/internal/testutil"
)

var fixedNow = time.Date(2025, 12, 1, 8, 0, 0, 0, time.UTC)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixture struct {
	engine *Engine
	store  *store.Store
	mirror *testutil.SpyMirror
	clock  *testutil.ManualClock
	events *atomic.Int32
}

// newLocalFixture builds an engine with no remote configured.
func newLocalFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newFixture(t, nil, opts...)
}

// newRemoteFixture builds an engine over an empty spy mirror.
func newRemoteFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newFixture(t, testutil.NewSpyMirror(), opts...)
}

func newFixture(t *testing.T, mirror *testutil.SpyMirror, opts ...Option) *fixture {
	t.Helper()
	clock := testutil.NewManualClock(fixedNow)

	s, err := store.Open(":memory:", store.WithClock(clock.Now), store.WithLogger(quietLogger))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	var m remote.Mirror
	if mirror != nil {
		m = mirror
	}
	session := NewSession(m, WithSessionLogger(quietLogger), WithRemoteTimeout(time.Second))

	f := &fixture{store: s, mirror: mirror, clock: clock, events: &atomic.Int32{}}
	base := []Option{
		WithLogger(quietLogger),
		WithClock(clock.Now),
		WithIDGenerator(NewFixedGenerator("sos-1", "sos-2", "sos-3", "sos-4")),
	}
	f.engine = New(s, session, bus.New(), append(base, opts...)...)
	f.engine.Bus().Subscribe(func(bus.Event) { f.events.Add(1) })
	return f
}

// newEngineWithMirror builds a second device over an arbitrary mirror.
func newEngineWithMirror(t *testing.T, m remote.Mirror) (*Engine, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:", store.WithClock(func() time.Time { return fixedNow }), store.WithLogger(quietLogger))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	session := NewSession(m, WithSessionLogger(quietLogger), WithRemoteTimeout(time.Second))
	e := New(s, session, bus.New(), WithLogger(quietLogger), WithClock(func() time.Time { return fixedNow }))
	return e, s
}

func (f *fixture) putRescuers(t *testing.T, rescuers ...ir.Rescuer) {
	t.Helper()
	require.NoError(t, f.store.PutRescuers(context.Background(), rescuers))
}

func (f *fixture) cachedSOS(t *testing.T, id string) ir.SOSRequest {
	t.Helper()
	all, err := f.store.ListSOS(context.Background())
	require.NoError(t, err)
	rec, ok := ir.FindSOS(all, id)
	require.True(t, ok, "SOS %s not in local cache", id)
	return rec
}

func (f *fixture) cachedRescuer(t *testing.T, id string) ir.Rescuer {
	t.Helper()
	all, err := f.store.ListRescuers(context.Background())
	require.NoError(t, err)
	r, ok := ir.FindRescuer(all, id)
	require.True(t, ok, "rescuer %s not in local cache", id)
	return r
}

func sampleDraft() ir.SOSDraft {
	return ir.SOSDraft{
		Name:     "A",
		Phone:    "1",
		Location: &ir.GeoLocation{Lat: 3.14, Lng: 101.68},
	}
}
