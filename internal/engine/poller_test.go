package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/floodsync/internal/breaker"
	"github.com/roach88/floodsync/internal/bus"
	"github.com/roach88/floodsync/internal/ir"
)

func TestRefresh_Snapshot(t *testing.T) {
	f := newLocalFixture(t)
	ctx := context.Background()

	first, err := f.engine.Refresh(ctx)
	require.NoError(t, err)
	assert.Len(t, first.SOS, 2)
	assert.Len(t, first.Rescuers, 3)
	assert.Empty(t, first.MySOSID)
	assert.Equal(t, breaker.Open, first.Breaker)

	again, err := f.engine.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Hash, again.Hash, "no change, same hash")

	rec, err := f.engine.CreateSOS(ctx, sampleDraft())
	require.NoError(t, err)
	after, err := f.engine.Refresh(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.Hash, after.Hash)
	assert.Equal(t, rec.ID, after.MySOSID)
	assert.Equal(t, int32(1), f.events.Load(), "refresh publishes nothing")
}

// collect returns an onChange callback and the channel it feeds.
func collect() (func(Snapshot), chan Snapshot) {
	ch := make(chan Snapshot, 16)
	return func(s Snapshot) { ch <- s }, ch
}

func next(t *testing.T, ch chan Snapshot) Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered")
		return Snapshot{}
	}
}

func TestPoller_RefreshesOnStartAndBus(t *testing.T) {
	f := newLocalFixture(t)
	onChange, ch := collect()

	stop := NewPoller(f.engine, time.Hour, onChange, WithMinRefreshGap(time.Millisecond)).Start(context.Background())
	defer stop()

	initial := next(t, ch)
	assert.Len(t, initial.SOS, 2)

	rec, err := f.engine.CreateSOS(context.Background(), sampleDraft())
	require.NoError(t, err)

	updated := next(t, ch)
	_, ok := ir.FindSOS(updated.SOS, rec.ID)
	assert.True(t, ok)
	assert.Equal(t, rec.ID, updated.MySOSID)
}

func TestPoller_SkipsUnchangedSnapshots(t *testing.T) {
	f := newLocalFixture(t)
	onChange, ch := collect()

	stop := NewPoller(f.engine, time.Hour, onChange, WithMinRefreshGap(time.Millisecond)).Start(context.Background())
	defer stop()
	next(t, ch)

	f.engine.Bus().Publish(bus.Changed)
	f.engine.Bus().Publish(bus.Changed)

	assert.Never(t, func() bool { return len(ch) > 0 }, 200*time.Millisecond, 20*time.Millisecond)
}

func TestPoller_RefreshesOnPush(t *testing.T) {
	f := newRemoteFixture(t)
	onChange, ch := collect()

	stop := NewPoller(f.engine, time.Hour, onChange, WithMinRefreshGap(time.Millisecond)).Start(context.Background())
	defer stop()

	initial := next(t, ch)
	assert.Empty(t, initial.SOS)
	require.Eventually(t, func() bool { return f.mirror.Listeners() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Another device writes to the same remote and announces it.
	other, _ := newEngineWithMirror(t, f.mirror)
	rec, err := other.CreateSOS(context.Background(), ir.SOSDraft{Name: "Elsewhere", Phone: "9"})
	require.NoError(t, err)

	updated := next(t, ch)
	_, ok := ir.FindSOS(updated.SOS, rec.ID)
	assert.True(t, ok)
	assert.Empty(t, updated.MySOSID, "someone else's SOS")
}

func TestPoller_StopReleasesEverything(t *testing.T) {
	f := newRemoteFixture(t)
	subscribers := f.engine.Bus().Len()
	onChange, ch := collect()

	stop := NewPoller(f.engine, time.Hour, onChange).Start(context.Background())
	next(t, ch)
	require.Eventually(t, func() bool { return f.mirror.Listeners() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, subscribers+1, f.engine.Bus().Len())

	stop()
	stop()

	assert.Equal(t, subscribers, f.engine.Bus().Len())
	assert.Equal(t, 0, f.mirror.Listeners())
}

func TestPoller_RunReturnsOnCancel(t *testing.T) {
	f := newLocalFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- NewPoller(f.engine, 0, nil).Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
