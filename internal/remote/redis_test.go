package remote

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/floodsync/internal/ir"
)

func newRedisMirror(t *testing.T) (*RedisMirror, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	mr.RequireAuth("secret")

	m, err := DialRedis(context.Background(), "redis://"+mr.Addr(), "secret", "test_updates", time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, mr
}

func TestRedisMirror_FetchEmpty(t *testing.T) {
	m, _ := newRedisMirror(t)

	rows, err := m.Fetch(context.Background(), ir.CollectionSOS)
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestRedisMirror_UpsertAndFetch(t *testing.T) {
	m, mr := newRedisMirror(t)
	ctx := context.Background()

	require.NoError(t, m.Upsert(ctx, ir.CollectionSOS, "b", json.RawMessage(`{"id":"b"}`)))
	require.NoError(t, m.Upsert(ctx, ir.CollectionSOS, "a", json.RawMessage(`{"id":"a"}`)))
	require.NoError(t, m.Upsert(ctx, ir.CollectionSOS, "a", json.RawMessage(`{"id":"a","v":2}`)))

	rows, err := m.Fetch(ctx, ir.CollectionSOS)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.JSONEq(t, `{"id":"a","v":2}`, string(rows[0]))
	assert.JSONEq(t, `{"id":"b"}`, string(rows[1]))

	// Rows are keyed "<collection>_<id>" inside the collection hash.
	assert.Equal(t, `{"id":"b"}`, mr.HGet("floodsync:sos", "sos_b"))
}

func TestRedisMirror_CollectionsAreSeparate(t *testing.T) {
	m, _ := newRedisMirror(t)
	ctx := context.Background()

	require.NoError(t, m.Upsert(ctx, ir.CollectionRescuers, "117", json.RawMessage(`{"id":"117"}`)))

	rows, err := m.Fetch(ctx, ir.CollectionSOS)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRedisMirror_Swap(t *testing.T) {
	m, _ := newRedisMirror(t)
	ctx := context.Background()
	guard := Guard{Field: "status", Equals: "ACTIVE"}

	// Absent rows are written.
	ok, err := m.Swap(ctx, ir.CollectionSOS, "s1", guard, json.RawMessage(`{"id":"s1","status":"RESCUED"}`))
	require.NoError(t, err)
	assert.True(t, ok)

	// The stored row is no longer ACTIVE, so the guard fails.
	ok, err = m.Swap(ctx, ir.CollectionSOS, "s1", guard, json.RawMessage(`{"id":"s1","status":"SAFE"}`))
	require.NoError(t, err)
	assert.False(t, ok)

	rows, err := m.Fetch(ctx, ir.CollectionSOS)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.JSONEq(t, `{"id":"s1","status":"RESCUED"}`, string(rows[0]))
}

func TestRedisMirror_SwapMatchingGuard(t *testing.T) {
	m, _ := newRedisMirror(t)
	ctx := context.Background()

	require.NoError(t, m.Upsert(ctx, ir.CollectionSOS, "s1", json.RawMessage(`{"id":"s1","status":"ACTIVE"}`)))

	ok, err := m.Swap(ctx, ir.CollectionSOS, "s1", Guard{Field: "status", Equals: "ACTIVE"},
		json.RawMessage(`{"id":"s1","status":"RESCUED"}`))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisMirror_Increment(t *testing.T) {
	m, _ := newRedisMirror(t)
	ctx := context.Background()

	require.NoError(t, m.Upsert(ctx, ir.CollectionRescuers, "117",
		json.RawMessage(`{"id":"117","name":"Master Chief","phone":"011-117117","rescuesCount":5}`)))

	out, err := m.Increment(ctx, ir.CollectionRescuers, "117", "rescuesCount", json.RawMessage(`{"id":"117","rescuesCount":0}`))
	require.NoError(t, err)

	var r ir.Rescuer
	require.NoError(t, json.Unmarshal(out, &r))
	assert.Equal(t, 6, r.RescuesCount)
	assert.Equal(t, "Master Chief", r.Name)
}

func TestRedisMirror_IncrementSeedsAbsentRow(t *testing.T) {
	m, _ := newRedisMirror(t)
	ctx := context.Background()

	out, err := m.Increment(ctx, ir.CollectionRescuers, "000", "rescuesCount",
		json.RawMessage(`{"id":"000","name":"Sincere Rescue Team","phone":"","rescuesCount":42}`))
	require.NoError(t, err)

	var r ir.Rescuer
	require.NoError(t, json.Unmarshal(out, &r))
	assert.Equal(t, 43, r.RescuesCount)
}

func TestRedisMirror_IncrementIsCumulative(t *testing.T) {
	m, _ := newRedisMirror(t)
	ctx := context.Background()
	seed := json.RawMessage(`{"id":"204","rescuesCount":0}`)

	for i := 0; i < 5; i++ {
		_, err := m.Increment(ctx, ir.CollectionRescuers, "204", "rescuesCount", seed)
		require.NoError(t, err)
	}

	rows, err := m.Fetch(ctx, ir.CollectionRescuers)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	var r ir.Rescuer
	require.NoError(t, json.Unmarshal(rows[0], &r))
	assert.Equal(t, 5, r.RescuesCount)
}

func TestRedisMirror_Delete(t *testing.T) {
	m, _ := newRedisMirror(t)
	ctx := context.Background()

	require.NoError(t, m.Upsert(ctx, ir.CollectionSOS, "s1", json.RawMessage(`{"id":"s1"}`)))
	require.NoError(t, m.Delete(ctx, ir.CollectionSOS, "s1"))
	require.NoError(t, m.Delete(ctx, ir.CollectionSOS, "missing"))

	rows, err := m.Fetch(ctx, ir.CollectionSOS)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRedisMirror_FailuresAreUnavailable(t *testing.T) {
	m, mr := newRedisMirror(t)
	mr.Close()

	_, err := m.Fetch(context.Background(), ir.CollectionSOS)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)

	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "fetch", ce.Op)
	assert.Equal(t, ir.CollectionSOS, ce.Collection)
}

func TestDialRedis_WrongPassword(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("secret")

	_, err := DialRedis(context.Background(), "redis://"+mr.Addr(), "wrong", "", time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRedisMirror_AnnounceAndListen(t *testing.T) {
	m, _ := newRedisMirror(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- m.Listen(ctx, func() { got.Add(1) })
	}()

	// Keep announcing until the subscriber is attached and has seen one.
	require.Eventually(t, func() bool {
		_ = m.Announce(context.Background())
		return got.Load() > 0
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}
