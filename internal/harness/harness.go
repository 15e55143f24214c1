package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/floodsync/internal/bus"
	"github.com/roach88/floodsync/internal/engine"
	"github.com/roach88/floodsync/internal/ir"
	"github.com/roach88/floodsync/internal/remote"
	"github.com/roach88/floodsync/internal/store"
	"github.com/roach88/floodsync/internal/testutil"
)

// Epoch is the fixed wall-clock time every scenario starts at.
var Epoch = time.Date(2025, 12, 1, 8, 0, 0, 0, time.UTC)

// Harness executes the steps of one scenario.
type Harness struct {
	store    *store.Store
	engine   *engine.Engine
	mirror   *testutil.SpyMirror // nil for local-only scenarios
	clock    *testutil.ManualClock
	bindings map[string]string
	events   atomic.Int32
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory cache. A step whose outcome
// differs from its expectation and a failed assertion both mark the
// result as failed; an error is returned only when the scenario could
// not be executed at all.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger is Run with engine logging sent to logger.
func RunWithLogger(scenario *Scenario, logger *slog.Logger) (*Result, error) {
	ctx := context.Background()
	clock := testutil.NewManualClock(Epoch)

	st, err := store.Open(":memory:", store.WithClock(clock.Now), store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{store: st, clock: clock, bindings: map[string]string{}}

	var m remote.Mirror
	if scenario.Remote {
		h.mirror = testutil.NewSpyMirror()
		m = h.mirror
		for _, r := range scenario.RemoteRescuers {
			h.mirror.Seed(ir.CollectionRescuers, r.ID, r.rescuer())
		}
	}
	if len(scenario.Rescuers) > 0 {
		roster := make([]ir.Rescuer, 0, len(scenario.Rescuers))
		for _, r := range scenario.Rescuers {
			roster = append(roster, r.rescuer())
		}
		if err := st.PutRescuers(ctx, roster); err != nil {
			return nil, fmt.Errorf("failed to seed rescuers: %w", err)
		}
	}

	ids := make([]string, len(scenario.Steps))
	for i := range ids {
		ids[i] = fmt.Sprintf("sos-%d", i+1)
	}
	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithClock(clock.Now),
		engine.WithIDGenerator(engine.NewFixedGenerator(ids...)),
	}
	if len(scenario.RescuerIDs) > 0 {
		opts = append(opts, engine.WithRescuerIDSource(engine.SequenceRescuerIDs(scenario.RescuerIDs...)))
	}
	session := engine.NewSession(m, engine.WithSessionLogger(logger))
	h.engine = engine.New(st, session, bus.New(), opts...)
	h.engine.Bus().Subscribe(func(bus.Event) { h.events.Add(1) })

	result := NewResult()
	for i, step := range scenario.Steps {
		h.execute(ctx, i, step, result)
	}

	state, err := h.capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture final state: %w", err)
	}
	result.State = state

	for _, msg := range EvaluateAssertions(state, scenario.Assertions, h.bindings) {
		result.AddError(msg)
	}
	return result, nil
}

// execute runs one step and records it in the trace.
func (h *Harness) execute(ctx context.Context, i int, step Step, result *Result) {
	args := h.resolve(step.Args)
	out, err := h.apply(ctx, step.Op, args)

	outcome := OutcomeOK
	if err != nil {
		outcome = string(engine.CodeOf(err))
		if outcome == "" {
			outcome = "ERROR"
		}
	}
	if step.As != "" {
		if id, ok := out["id"].(string); ok && id != "" {
			h.bindings[step.As] = id
		}
	}
	result.AddTrace(step.Op, args, outcome, out)

	want := step.Expect
	if want == "" {
		want = OutcomeOK
	}
	if outcome != want {
		result.AddError(fmt.Sprintf("steps[%d] %s: expected %s, got %s (%v)", i, step.Op, want, outcome, err))
	}
}

// resolve substitutes "$name" references with bound ids.
func (h *Harness) resolve(args map[string]any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if ref, ok := reference(v); ok {
			v = h.bindings[ref]
		}
		out[k] = v
	}
	return out
}

func (h *Harness) apply(ctx context.Context, op string, args map[string]any) (map[string]any, error) {
	e := h.engine
	switch op {
	case OpCreateSOS:
		draft := ir.SOSDraft{
			Name:               str(args, "name"),
			Phone:              str(args, "phone"),
			Landmark:           str(args, "landmark"),
			Message:            str(args, "message"),
			IsMedicalEmergency: boolean(args, "medical"),
		}
		draft.Location = location(args)
		rec, err := e.CreateSOS(ctx, draft)
		return sosResult(rec, err), err

	case OpUpdateStatus:
		rec, err := e.UpdateSOSStatus(ctx, str(args, "sos"), ir.Status(str(args, "status")), str(args, "rescuer"))
		return sosResult(rec, err), err

	case OpMarkSafe:
		rec, err := e.MarkSafe(ctx, str(args, "sos"))
		return sosResult(rec, err), err

	case OpMarkRescued:
		rec, err := e.MarkRescued(ctx, str(args, "sos"))
		return sosResult(rec, err), err

	case OpUpdateDetails:
		var patch ir.SOSPatch
		if v, ok := args["name"]; ok {
			patch.Name = ir.StringPtr(fmt.Sprint(v))
		}
		if v, ok := args["phone"]; ok {
			patch.Phone = ir.StringPtr(fmt.Sprint(v))
		}
		if v, ok := args["landmark"]; ok {
			patch.Landmark = ir.StringPtr(fmt.Sprint(v))
		}
		if v, ok := args["message"]; ok {
			patch.Message = ir.StringPtr(fmt.Sprint(v))
		}
		if _, ok := args["medical"]; ok {
			patch.IsMedicalEmergency = ir.BoolPtr(boolean(args, "medical"))
		}
		patch.Location = location(args)
		rec, err := e.UpdateSOSDetails(ctx, str(args, "sos"), patch)
		return sosResult(rec, err), err

	case OpAppendMessage:
		msg := ir.ChatMessage{
			Sender:     ir.SenderRole(str(args, "sender")),
			Text:       str(args, "text"),
			SenderName: str(args, "sender_name"),
		}
		rec, err := e.AppendMessage(ctx, str(args, "sos"), msg)
		out := sosResult(rec, err)
		if err == nil {
			out["messages"] = len(rec.Messages)
			out["sender_name"] = rec.Messages[len(rec.Messages)-1].SenderName
		}
		return out, err

	case OpAttributeRescue:
		att, err := e.AttributeRescue(ctx, str(args, "sos"), str(args, "rescuer"))
		if att.SOS.ID == "" {
			return nil, err
		}
		return map[string]any{
			"id":      att.SOS.ID,
			"status":  string(att.SOS.Status),
			"rescuer": att.Rescuer.ID,
			"count":   att.Rescuer.RescuesCount,
			"remote":  att.Remote,
		}, err

	case OpRegisterRescuer:
		r, err := e.RegisterRescuer(ctx, ir.RescuerDraft{
			Username: str(args, "username"),
			Name:     str(args, "name"),
			Phone:    str(args, "phone"),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": r.ID}, nil

	case OpListSOS:
		all, err := e.ListSOS(ctx)
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(all))
		for i, rec := range all {
			ids[i] = rec.ID
		}
		return map[string]any{"count": len(all), "ids": ids}, nil

	case OpLeague:
		league, err := e.League(ctx)
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(league))
		for i, r := range league {
			ids[i] = r.ID
		}
		return map[string]any{"order": ids}, nil

	case OpRefresh:
		snap, err := e.Refresh(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"sos": len(snap.SOS), "rescuers": len(snap.Rescuers), "breaker": snap.Breaker.String()}, nil

	case OpRemoteFail:
		cause := errors.New(strOr(args, "error", "scripted remote failure"))
		if o := str(args, "op"); o != "" {
			h.mirror.FailOn(o, cause)
		} else {
			h.mirror.FailAll(cause)
		}
		return nil, nil

	case OpRemoteFailAfter:
		h.mirror.FailAfter(integer(args, "calls"))
		return nil, nil

	case OpRemoteRecover:
		if o := str(args, "op"); o != "" {
			h.mirror.FailOn(o, nil)
		} else {
			h.mirror.FailAll(nil)
		}
		return nil, nil

	case OpRemoteSeedStatus:
		// Simulates another device closing a SOS directly on the remote.
		id := str(args, "sos")
		var rec ir.SOSRequest
		if !h.mirror.Decode(ir.CollectionSOS, id, &rec) {
			return nil, fmt.Errorf("remote has no SOS %s", id)
		}
		rec.Status = ir.Status(str(args, "status"))
		h.mirror.Seed(ir.CollectionSOS, id, rec)
		return nil, nil

	case OpAdvanceClock:
		d, err := time.ParseDuration(strOr(args, "by", "1s"))
		if err != nil {
			return nil, err
		}
		h.clock.Advance(d)
		return nil, nil
	}
	return nil, fmt.Errorf("unknown op %q", op)
}

// capture reads the final state without calling the remote.
func (h *Harness) capture(ctx context.Context) (*State, error) {
	sos, err := h.store.ListSOS(ctx)
	if err != nil {
		return nil, err
	}
	rescuers, err := h.store.ListRescuers(ctx)
	if err != nil {
		return nil, err
	}
	mySOS, err := h.store.MySOSID(ctx)
	if err != nil {
		return nil, err
	}
	myRescuer, err := h.store.MyRescuerID(ctx)
	if err != nil {
		return nil, err
	}

	state := &State{
		SOS:         sos,
		Rescuers:    rescuers,
		MySOSID:     mySOS,
		MyRescuerID: myRescuer,
		Breaker:     h.engine.Session().Breaker().State().String(),
		Events:      int(h.events.Load()),
	}
	if h.mirror != nil {
		state.RemoteCalls = map[string]int{}
		for _, op := range []string{testutil.OpFetch, testutil.OpUpsert, testutil.OpSwap,
			testutil.OpIncrement, testutil.OpDelete, testutil.OpAnnounce} {
			if n := h.mirror.Calls(op); n > 0 {
				state.RemoteCalls[op] = n
			}
		}
		state.RemoteSOS = decodeRows[ir.SOSRequest](h.mirror.Rows(ir.CollectionSOS))
		state.RemoteRescuers = decodeRows[ir.Rescuer](h.mirror.Rows(ir.CollectionRescuers))
	}
	return state, nil
}

func decodeRows[T any](rows []json.RawMessage) []T {
	out := make([]T, 0, len(rows))
	for _, raw := range rows {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			out = append(out, v)
		}
	}
	return out
}

func sosResult(rec ir.SOSRequest, err error) map[string]any {
	if err != nil || rec.ID == "" {
		return nil
	}
	out := map[string]any{"id": rec.ID, "status": string(rec.Status)}
	if rec.RescuerID != "" {
		out["rescuer"] = rec.RescuerID
	}
	return out
}

func str(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func strOr(args map[string]any, key, def string) string {
	if s := str(args, key); s != "" {
		return s
	}
	return def
}

func boolean(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func integer(args map[string]any, key string) int {
	switch n := args[key].(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func location(args map[string]any) *ir.GeoLocation {
	lat, okLat := number(args["lat"])
	lng, okLng := number(args["lng"])
	if !okLat || !okLng {
		return nil
	}
	return &ir.GeoLocation{Lat: lat, Lng: lng}
}
