package engine

import (
	"context"

	"github.com/roach88/floodsync/internal/ir"
	"github.com/roach88/floodsync/internal/store"
)

// League returns the roster ordered by rescues, highest first.
func (e *Engine) League(ctx context.Context) ([]ir.Rescuer, error) {
	all, err := e.ListRescuers(ctx)
	if err != nil {
		return nil, err
	}
	return ir.SortLeague(all), nil
}

// RegisterRescuer allocates a fresh id against the current roster, stores
// the new rescuer with a zero count and remembers it as this device's
// rescuer identity.
func (e *Engine) RegisterRescuer(ctx context.Context, draft ir.RescuerDraft) (ir.Rescuer, error) {
	const op = "register_rescuer"
	draft = draft.Normalize()
	if err := ir.Validate(draft); err != nil {
		return ir.Rescuer{}, invalid(op, "", err)
	}

	defer e.lock()()

	roster, err := e.loadRescuers(ctx)
	if err != nil {
		return ir.Rescuer{}, newError(ErrCodeUnavailable, op, "", "no readable copy of the roster", err)
	}
	id, err := AllocateRescuerID(roster, e.draw)
	if err != nil {
		return ir.Rescuer{}, err
	}

	rec := ir.Rescuer{
		ID:       id,
		Username: draft.Username,
		Name:     draft.Name,
		Phone:    draft.Phone,
	}
	remoteWritten := e.pushRecord(ctx, ir.CollectionRescuers, rec.ID, rec)
	err = e.cacheRescuer(ctx, op, rec, func(tx *store.Tx) error {
		return tx.SetMyRescuerID(ctx, rec.ID)
	})
	if err != nil {
		return ir.Rescuer{}, err
	}
	e.finish(ctx, op, remoteWritten)
	return rec, nil
}

// LocalRescuer returns the rescuer this device registered as.
func (e *Engine) LocalRescuer(ctx context.Context) (ir.Rescuer, bool, error) {
	defer e.lock()()

	r, ok, err := e.localRescuer(ctx)
	if err != nil {
		return ir.Rescuer{}, false, newError(ErrCodeUnavailable, "local_rescuer", "", "roster unreadable", err)
	}
	return r, ok, nil
}

func (e *Engine) localRescuer(ctx context.Context) (ir.Rescuer, bool, error) {
	id, err := e.store.MyRescuerID(ctx)
	if err != nil || id == "" {
		return ir.Rescuer{}, false, err
	}
	roster, err := e.loadRescuers(ctx)
	if err != nil {
		return ir.Rescuer{}, false, err
	}
	r, ok := ir.FindRescuer(roster, id)
	return r, ok, nil
}

// IsValidRescuerID reports whether id is in the current roster.
func (e *Engine) IsValidRescuerID(ctx context.Context, id string) (bool, error) {
	roster, err := e.ListRescuers(ctx)
	if err != nil {
		return false, err
	}
	_, ok := ir.FindRescuer(roster, id)
	return ok, nil
}
