package engine

import (
	"context"

	"github.com/roach88/floodsync/internal/breaker"
	"github.com/roach88/floodsync/internal/ir"
)

// Snapshot is everything a view renders, plus a content hash so callers
// can skip re-rendering when nothing changed.
type Snapshot struct {
	SOS         []ir.SOSRequest
	Rescuers    []ir.Rescuer
	MySOSID     string
	MyRescuerID string
	Breaker     breaker.State
	Hash        string
}

// Refresh re-reads both collections and the identity pointers. It is the
// entry point for periodic polling. The own-SOS pointer is dropped once
// that SOS is closed or deleted on another device.
func (e *Engine) Refresh(ctx context.Context) (Snapshot, error) {
	const op = "refresh"
	defer e.lock()()

	sos, err := e.loadSOS(ctx)
	if err != nil {
		return Snapshot{}, newError(ErrCodeUnavailable, op, "", "no readable copy of the SOS collection", err)
	}
	rescuers, err := e.loadRescuers(ctx)
	if err != nil {
		return Snapshot{}, newError(ErrCodeUnavailable, op, "", "no readable copy of the roster", err)
	}
	mySOS, err := e.store.MySOSID(ctx)
	if err != nil {
		return Snapshot{}, newError(ErrCodeUnavailable, op, "", "local cache read failed", err)
	}
	if mySOS, err = e.reconcileMySOS(ctx, op, sos, mySOS); err != nil {
		return Snapshot{}, err
	}
	myRescuer, err := e.store.MyRescuerID(ctx)
	if err != nil {
		return Snapshot{}, newError(ErrCodeUnavailable, op, "", "local cache read failed", err)
	}

	hash, err := ir.SnapshotHash(sos, rescuers, mySOS, myRescuer)
	if err != nil {
		return Snapshot{}, newError(ErrCodeUnavailable, op, "", "hash snapshot", err)
	}
	return Snapshot{
		SOS:         sos,
		Rescuers:    rescuers,
		MySOSID:     mySOS,
		MyRescuerID: myRescuer,
		Breaker:     e.session.Breaker().State(),
		Hash:        hash,
	}, nil
}
