package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/floodsync/internal/ir"
	"github.com/roach88/floodsync/internal/remote"
)

// Operation names counted by SpyMirror.
const (
	OpFetch     = "fetch"
	OpUpsert    = "upsert"
	OpSwap      = "swap"
	OpIncrement = "increment"
	OpDelete    = "delete"
	OpAnnounce  = "announce"
)

// SpyMirror is an in-memory remote.Mirror that counts every call and can
// be scripted to fail. Its Swap and Increment follow the same rules as the
// real backends.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SpyMirror struct {
	mu        sync.Mutex
	rows      map[ir.Collection]map[string]json.RawMessage
	calls     map[string]int
	failOn    map[string]error
	failAll   error
	failAfter int
	hangOn    map[string]bool
	listeners map[int]func()
	nextL     int
	closed    bool
}

// NewSpyMirror creates an empty mirror.
func NewSpyMirror() *SpyMirror {
	return &SpyMirror{
		rows:      make(map[ir.Collection]map[string]json.RawMessage),
		calls:     make(map[string]int),
		failOn:    make(map[string]error),
		failAfter: -1,
		hangOn:    make(map[string]bool),
		listeners: make(map[int]func()),
	}
}

// Seed stores v (JSON-encoded) under (coll, id) without counting a call.
func (m *SpyMirror) Seed(coll ir.Collection, id string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("SpyMirror.Seed: %v", err))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(coll, id, data)
}

// Record returns the stored value of (coll, id).
func (m *SpyMirror) Record(coll ir.Collection, id string) (json.RawMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.rows[coll][coll.RowID(id)]
	return v, ok
}

// Decode unmarshals the stored value of (coll, id) into out.
func (m *SpyMirror) Decode(coll ir.Collection, id string, out any) bool {
	raw, ok := m.Record(coll, id)
	if !ok {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

// Rows returns the stored values of coll ordered by row id, without
// counting a call.
func (m *SpyMirror) Rows(coll ir.Collection) []json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.rows[coll]))
	for k := range m.rows[coll] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]json.RawMessage, 0, len(keys))
	for _, k := range keys {
		out = append(out, append(json.RawMessage(nil), m.rows[coll][k]...))
	}
	return out
}

// FailOn makes every later call of op return err.
func (m *SpyMirror) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[op] = err
}

// FailAll makes every later call return err.
func (m *SpyMirror) FailAll(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = err
}

// FailAfter lets n more calls succeed, then fails every call after them.
func (m *SpyMirror) FailAfter(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
}

// HangOn makes every later call of op block until its context is done,
// like a server that accepts the connection and never answers.
func (m *SpyMirror) HangOn(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hangOn[op] = true
}

// stall blocks a hung op until ctx is done and returns the context error.
// It returns nil at once for other ops.
func (m *SpyMirror) stall(ctx context.Context, op string) error {
	m.mu.Lock()
	hung := m.hangOn[op]
	if hung {
		m.calls[op]++
	}
	m.mu.Unlock()
	if !hung {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

// Calls returns how many times op was called.
func (m *SpyMirror) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// TotalCalls returns the number of calls of every operation except
// announcements.
func (m *SpyMirror) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for op, c := range m.calls {
		if op != OpAnnounce {
			n += c
		}
	}
	return n
}

// enter counts a call and returns the scripted failure, if any.
// Callers hold m.mu.
func (m *SpyMirror) enter(op string) error {
	m.calls[op]++
	if err := m.failOn[op]; err != nil {
		return err
	}
	if m.failAll != nil {
		return m.failAll
	}
	if m.failAfter == 0 {
		return fmt.Errorf("scripted failure on %s", op)
	}
	if m.failAfter > 0 {
		m.failAfter--
	}
	return nil
}

func (m *SpyMirror) put(coll ir.Collection, id string, data []byte) {
	if m.rows[coll] == nil {
		m.rows[coll] = make(map[string]json.RawMessage)
	}
	m.rows[coll][coll.RowID(id)] = append(json.RawMessage(nil), data...)
}

func (m *SpyMirror) Fetch(ctx context.Context, coll ir.Collection) ([]json.RawMessage, error) {
	if err := m.stall(ctx, OpFetch); err != nil {
		return nil, &remote.CallError{Op: OpFetch, Collection: coll, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpFetch); err != nil {
		return nil, &remote.CallError{Op: OpFetch, Collection: coll, Err: err}
	}
	rows := m.rows[coll]
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]json.RawMessage, 0, len(keys))
	for _, k := range keys {
		out = append(out, append(json.RawMessage(nil), rows[k]...))
	}
	return out, nil
}

func (m *SpyMirror) Upsert(ctx context.Context, coll ir.Collection, id string, value json.RawMessage) error {
	if err := m.stall(ctx, OpUpsert); err != nil {
		return &remote.CallError{Op: OpUpsert, Collection: coll, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpUpsert); err != nil {
		return &remote.CallError{Op: OpUpsert, Collection: coll, Err: err}
	}
	m.put(coll, id, value)
	return nil
}

func (m *SpyMirror) Swap(ctx context.Context, coll ir.Collection, id string, guard remote.Guard, value json.RawMessage) (bool, error) {
	if err := m.stall(ctx, OpSwap); err != nil {
		return false, &remote.CallError{Op: OpSwap, Collection: coll, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpSwap); err != nil {
		return false, &remote.CallError{Op: OpSwap, Collection: coll, Err: err}
	}
	if cur, ok := m.rows[coll][coll.RowID(id)]; ok {
		var rec map[string]any
		if err := json.Unmarshal(cur, &rec); err != nil {
			return false, nil
		}
		if s, _ := rec[guard.Field].(string); s != guard.Equals {
			return false, nil
		}
	}
	m.put(coll, id, value)
	return true, nil
}

func (m *SpyMirror) Increment(ctx context.Context, coll ir.Collection, id, field string, seed json.RawMessage) (json.RawMessage, error) {
	if err := m.stall(ctx, OpIncrement); err != nil {
		return nil, &remote.CallError{Op: OpIncrement, Collection: coll, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpIncrement); err != nil {
		return nil, &remote.CallError{Op: OpIncrement, Collection: coll, Err: err}
	}
	cur, ok := m.rows[coll][coll.RowID(id)]
	if !ok {
		cur = seed
	}
	dec := json.NewDecoder(bytes.NewReader(cur))
	dec.UseNumber()
	var rec map[string]any
	if err := dec.Decode(&rec); err != nil {
		return nil, &remote.CallError{Op: OpIncrement, Collection: coll, Err: err}
	}
	var n int64
	if num, ok := rec[field].(json.Number); ok {
		n, _ = num.Int64()
	}
	rec[field] = n + 1
	out, err := json.Marshal(rec)
	if err != nil {
		return nil, &remote.CallError{Op: OpIncrement, Collection: coll, Err: err}
	}
	m.put(coll, id, out)
	return out, nil
}

func (m *SpyMirror) Delete(ctx context.Context, coll ir.Collection, id string) error {
	if err := m.stall(ctx, OpDelete); err != nil {
		return &remote.CallError{Op: OpDelete, Collection: coll, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpDelete); err != nil {
		return &remote.CallError{Op: OpDelete, Collection: coll, Err: err}
	}
	delete(m.rows[coll], coll.RowID(id))
	return nil
}

func (m *SpyMirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *SpyMirror) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Announce calls every active listener. Scripted failures do not apply;
// use FailOn(OpAnnounce, err) to fail announcements.
func (m *SpyMirror) Announce(ctx context.Context) error {
	m.mu.Lock()
	m.calls[OpAnnounce]++
	if err := m.failOn[OpAnnounce]; err != nil {
		m.mu.Unlock()
		return &remote.CallError{Op: OpAnnounce, Err: err}
	}
	fns := make([]func(), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return nil
}

// Listen registers fn until ctx is done.
func (m *SpyMirror) Listen(ctx context.Context, fn func()) error {
	m.mu.Lock()
	id := m.nextL
	m.nextL++
	m.listeners[id] = fn
	m.mu.Unlock()

	<-ctx.Done()

	m.mu.Lock()
	delete(m.listeners, id)
	m.mu.Unlock()
	return nil
}

// Listeners returns the number of active Listen calls.
func (m *SpyMirror) Listeners() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

var (
	_ remote.Mirror    = (*SpyMirror)(nil)
	_ remote.Announcer = (*SpyMirror)(nil)
)
