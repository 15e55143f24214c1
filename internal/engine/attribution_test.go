package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/floodsync/internal/breaker"
	"github.com/roach88/floodsync/internal/ir"
	"github.com/roach88/floodsync/internal/testutil"
)

func roster() []ir.Rescuer {
	return []ir.Rescuer{
		{ID: ir.SincereTeamID, Name: ir.SincereTeamName, Phone: "-", RescuesCount: 42},
		{ID: "117", Username: "chief117", Name: "Master Chief", Phone: "011-117117", RescuesCount: 5},
		{ID: "204", Username: "rescue_john", Name: "John Doe", Phone: "011-1111111", RescuesCount: 8},
	}
}

func counts(rs []ir.Rescuer) map[string]int {
	out := make(map[string]int, len(rs))
	for _, r := range rs {
		out[r.ID] = r.RescuesCount
	}
	return out
}

func TestAttributeRescue_EndToEndLocal(t *testing.T) {
	f := newLocalFixture(t)
	ctx := context.Background()
	f.putRescuers(t, roster()...)

	rec, err := f.engine.CreateSOS(ctx, sampleDraft())
	require.NoError(t, err)
	assert.Equal(t, ir.StatusActive, rec.Status)
	assert.Empty(t, rec.Messages)
	mine, err := f.store.MySOSID(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, mine)

	att, err := f.engine.AttributeRescue(ctx, rec.ID, "117")
	require.NoError(t, err)

	assert.Equal(t, ir.StatusRescued, att.SOS.Status)
	assert.Equal(t, "117", att.SOS.RescuerID)
	assert.Equal(t, 6, att.Rescuer.RescuesCount)
	assert.False(t, att.Remote)

	assert.Equal(t, att.SOS, f.cachedSOS(t, rec.ID))
	assert.Equal(t, 6, f.cachedRescuer(t, "117").RescuesCount)
	mine, err = f.store.MySOSID(ctx)
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestAttributeRescue_UnattributedCreditsSincerePoolOnly(t *testing.T) {
	f := newLocalFixture(t)
	ctx := context.Background()
	f.putRescuers(t, roster()...)

	att, err := f.engine.AttributeRescue(ctx, "seed-1", "")
	require.NoError(t, err)
	assert.Equal(t, ir.SincereTeamID, att.SOS.RescuerID)

	all, err := f.store.ListRescuers(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"000": 43, "117": 5, "204": 8}, counts(all))
}

func TestAttributeRescue_ExplicitSincereID(t *testing.T) {
	f := newLocalFixture(t)
	ctx := context.Background()
	f.putRescuers(t, roster()...)

	att, err := f.engine.AttributeRescue(ctx, "seed-1", "000")
	require.NoError(t, err)
	assert.Equal(t, 43, att.Rescuer.RescuesCount)
}

func TestAttributeRescue_CreditsOnlyClaimedRescuer(t *testing.T) {
	f := newLocalFixture(t)
	ctx := context.Background()
	f.putRescuers(t, roster()...)

	_, err := f.engine.AttributeRescue(ctx, "seed-2", " 204 ")
	require.NoError(t, err)

	all, err := f.store.ListRescuers(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"000": 42, "117": 5, "204": 9}, counts(all))
}

func TestAttributeRescue_MaterializesSincerePool(t *testing.T) {
	f := newLocalFixture(t)
	ctx := context.Background()
	f.putRescuers(t, roster()[1:]...)

	att, err := f.engine.AttributeRescue(ctx, "seed-1", "")
	require.NoError(t, err)

	pool := f.cachedRescuer(t, ir.SincereTeamID)
	assert.Equal(t, 1, pool.RescuesCount)
	assert.Equal(t, ir.SincereTeamName, pool.Name)
	assert.Equal(t, pool, att.Rescuer)
}

func TestAttributeRescue_UnknownRescuerIsRejected(t *testing.T) {
	f := newLocalFixture(t)
	ctx := context.Background()
	f.putRescuers(t, roster()...)

	_, err := f.engine.AttributeRescue(ctx, "seed-1", "999")
	assert.True(t, IsUnknownRescuer(err), "got %v", err)

	assert.Equal(t, ir.StatusActive, f.cachedSOS(t, "seed-1").Status)
	all, err := f.store.ListRescuers(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"000": 42, "117": 5, "204": 8}, counts(all))
	assert.Equal(t, int32(0), f.events.Load())
}

func TestAttributeRescue_TerminalIsIdempotent(t *testing.T) {
	f := newLocalFixture(t)
	ctx := context.Background()
	f.putRescuers(t, roster()...)

	_, err := f.engine.AttributeRescue(ctx, "seed-1", "117")
	require.NoError(t, err)

	_, err = f.engine.AttributeRescue(ctx, "seed-1", "117")
	assert.True(t, IsTerminal(err), "got %v", err)
	_, err = f.engine.AttributeRescue(ctx, "seed-1", "")
	assert.True(t, IsTerminal(err), "got %v", err)

	all, err := f.store.ListRescuers(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"000": 42, "117": 6, "204": 8}, counts(all))
	assert.Equal(t, "117", f.cachedSOS(t, "seed-1").RescuerID)
}

func TestAttributeRescue_SafeSOSIsTerminal(t *testing.T) {
	f := newLocalFixture(t)
	ctx := context.Background()

	_, err := f.engine.MarkSafe(ctx, "seed-2")
	require.NoError(t, err)

	_, err = f.engine.AttributeRescue(ctx, "seed-2", "")
	assert.True(t, IsTerminal(err), "got %v", err)
	assert.Equal(t, 42, f.cachedRescuer(t, ir.SincereTeamID).RescuesCount)
}

func TestAttributeRescue_NotFound(t *testing.T) {
	f := newLocalFixture(t)
	_, err := f.engine.AttributeRescue(context.Background(), "missing", "")
	assert.True(t, IsNotFound(err), "got %v", err)
}

func TestAttributeRescue_Remote(t *testing.T) {
	f := newRemoteFixture(t)
	ctx := context.Background()
	for _, r := range roster() {
		f.mirror.Seed(ir.CollectionRescuers, r.ID, r)
	}

	rec, err := f.engine.CreateSOS(ctx, sampleDraft())
	require.NoError(t, err)

	att, err := f.engine.AttributeRescue(ctx, rec.ID, "117")
	require.NoError(t, err)
	assert.True(t, att.Remote)
	assert.Equal(t, 6, att.Rescuer.RescuesCount)
	assert.Equal(t, "Master Chief", att.Rescuer.Name)

	var remoteSOS ir.SOSRequest
	require.True(t, f.mirror.Decode(ir.CollectionSOS, rec.ID, &remoteSOS))
	assert.Equal(t, ir.StatusRescued, remoteSOS.Status)
	assert.Equal(t, "117", remoteSOS.RescuerID)

	var remote117 ir.Rescuer
	require.True(t, f.mirror.Decode(ir.CollectionRescuers, "117", &remote117))
	assert.Equal(t, 6, remote117.RescuesCount)

	assert.Equal(t, 1, f.mirror.Calls(testutil.OpIncrement))
	assert.Equal(t, 6, f.cachedRescuer(t, "117").RescuesCount)
	assert.Equal(t, ir.StatusRescued, f.cachedSOS(t, rec.ID).Status)
	mine, err := f.store.MySOSID(ctx)
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestAttributeRescue_RemoteMaterializesSincerePool(t *testing.T) {
	f := newRemoteFixture(t)
	ctx := context.Background()
	f.mirror.Seed(ir.CollectionSOS, "s1", ir.SOSRequest{ID: "s1", Name: "B", Phone: "2", Status: ir.StatusActive, Messages: []ir.ChatMessage{}})

	att, err := f.engine.AttributeRescue(ctx, "s1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, att.Rescuer.RescuesCount)

	var pool ir.Rescuer
	require.True(t, f.mirror.Decode(ir.CollectionRescuers, ir.SincereTeamID, &pool))
	assert.Equal(t, 1, pool.RescuesCount)
	assert.Equal(t, ir.SincereTeamName, pool.Name)
}

func TestAttributeRescue_RemoteUnknownRescuerWritesNothing(t *testing.T) {
	f := newRemoteFixture(t)
	ctx := context.Background()
	f.mirror.Seed(ir.CollectionSOS, "s1", ir.SOSRequest{ID: "s1", Status: ir.StatusActive})

	_, err := f.engine.AttributeRescue(ctx, "s1", "117")
	assert.True(t, IsUnknownRescuer(err), "got %v", err)
	assert.Equal(t, 0, f.mirror.Calls(testutil.OpSwap))
	assert.Equal(t, 0, f.mirror.Calls(testutil.OpIncrement))
}

// racingMirror closes the SOS on "another device" right after the engine
// has read the roster, i.e. between its read and its guarded write.
type racingMirror struct {
	*testutil.SpyMirror
	once    sync.Once
	onFetch func()
}

func (r *racingMirror) Fetch(ctx context.Context, coll ir.Collection) ([]json.RawMessage, error) {
	out, err := r.SpyMirror.Fetch(ctx, coll)
	if coll == ir.CollectionRescuers {
		r.once.Do(r.onFetch)
	}
	return out, err
}

func TestAttributeRescue_ConcurrentCloseCreditsNobody(t *testing.T) {
	spy := testutil.NewSpyMirror()
	for _, r := range roster() {
		spy.Seed(ir.CollectionRescuers, r.ID, r)
	}
	spy.Seed(ir.CollectionSOS, "s1", ir.SOSRequest{ID: "s1", Status: ir.StatusActive, Messages: []ir.ChatMessage{}})

	m := &racingMirror{SpyMirror: spy}
	m.onFetch = func() {
		spy.Seed(ir.CollectionSOS, "s1", ir.SOSRequest{ID: "s1", Status: ir.StatusRescued, RescuerID: "204", Messages: []ir.ChatMessage{}})
	}

	e, _ := newEngineWithMirror(t, m)
	_, err := e.AttributeRescue(context.Background(), "s1", "117")
	assert.True(t, IsTerminal(err), "got %v", err)

	assert.Equal(t, 1, spy.Calls(testutil.OpSwap))
	assert.Equal(t, 0, spy.Calls(testutil.OpIncrement))
	var r117 ir.Rescuer
	require.True(t, spy.Decode(ir.CollectionRescuers, "117", &r117))
	assert.Equal(t, 5, r117.RescuesCount)
}

func TestAttributeRescue_TwoDevicesCreditOnce(t *testing.T) {
	spy := testutil.NewSpyMirror()
	for _, r := range roster() {
		spy.Seed(ir.CollectionRescuers, r.ID, r)
	}
	spy.Seed(ir.CollectionSOS, "s1", ir.SOSRequest{ID: "s1", Status: ir.StatusActive, Messages: []ir.ChatMessage{}})

	deviceA, _ := newEngineWithMirror(t, spy)
	deviceB, _ := newEngineWithMirror(t, spy)

	_, errA := deviceA.AttributeRescue(context.Background(), "s1", "117")
	_, errB := deviceB.AttributeRescue(context.Background(), "s1", "204")
	require.NoError(t, errA)
	assert.True(t, IsTerminal(errB), "got %v", errB)

	var r117, r204 ir.Rescuer
	require.True(t, spy.Decode(ir.CollectionRescuers, "117", &r117))
	require.True(t, spy.Decode(ir.CollectionRescuers, "204", &r204))
	assert.Equal(t, 6, r117.RescuesCount)
	assert.Equal(t, 8, r204.RescuesCount)
}

func TestAttributeRescue_PartialAttribution(t *testing.T) {
	f := newRemoteFixture(t)
	ctx := context.Background()
	for _, r := range roster() {
		f.mirror.Seed(ir.CollectionRescuers, r.ID, r)
	}
	f.mirror.Seed(ir.CollectionSOS, "s1", ir.SOSRequest{ID: "s1", Status: ir.StatusActive, Messages: []ir.ChatMessage{}})
	f.mirror.FailOn(testutil.OpIncrement, errors.New("connection reset"))

	att, err := f.engine.AttributeRescue(ctx, "s1", "117")
	require.Error(t, err)
	assert.True(t, IsPartialAttribution(err), "got %v", err)
	assert.False(t, att.Remote)

	// Remote: SOS closed, counter untouched. Both are detectable.
	var remoteSOS ir.SOSRequest
	require.True(t, f.mirror.Decode(ir.CollectionSOS, "s1", &remoteSOS))
	assert.Equal(t, ir.StatusRescued, remoteSOS.Status)
	var r117 ir.Rescuer
	require.True(t, f.mirror.Decode(ir.CollectionRescuers, "117", &r117))
	assert.Equal(t, 5, r117.RescuesCount)

	// Local cache carries the full attribution; the session is now local-only.
	assert.Equal(t, ir.StatusRescued, f.cachedSOS(t, "s1").Status)
	assert.Equal(t, 6, f.cachedRescuer(t, "117").RescuesCount)
	assert.Equal(t, breaker.Open, f.engine.Session().Breaker().State())
	assert.Equal(t, int32(1), f.events.Load())
}

func TestAttributeRescue_FallsBackWhenRemoteFails(t *testing.T) {
	f := newRemoteFixture(t)
	ctx := context.Background()
	f.putRescuers(t, roster()...)
	f.mirror.FailAll(errors.New("no route to host"))

	att, err := f.engine.AttributeRescue(ctx, "seed-1", "117")
	require.NoError(t, err)
	assert.False(t, att.Remote)
	assert.Equal(t, 6, f.cachedRescuer(t, "117").RescuesCount)
	assert.Equal(t, 1, f.mirror.TotalCalls(), "only the failing fetch reached the remote")
}
