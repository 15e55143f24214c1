package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/floodsync/internal/ir"
	"github.com/roach88/floodsync/internal/remote"
	"github.com/roach88/floodsync/internal/store"
)

// CounterField is the rescuer field incremented by attribution.
const CounterField = "rescuesCount"

// Attribution is the outcome of a credited rescue.
type Attribution struct {
	SOS     ir.SOSRequest
	Rescuer ir.Rescuer

	// Remote is true when both writes landed on the remote mirror.
	Remote bool
}

// AttributeRescue marks the SOS RESCUED and credits exactly one rescuer
// with exactly one rescue.
//
// An empty claimedRescuerID (or "000") credits the sincere pool, which is
// created with a zero count if missing. A claimed id that is not in the
// roster is rejected with UNKNOWN_RESCUER and nothing is written. A SOS that
// is already RESCUED or SAFE is rejected with TERMINAL_STATUS.
//
// On the remote path the SOS is replaced only while its remote status is
// still ACTIVE, so two devices racing on the same SOS credit one rescuer
// between them. The counter is then incremented on the server. If that
// increment fails after the SOS was written, the error is
// PARTIAL_ATTRIBUTION and the local cache carries both changes.
func (e *Engine) AttributeRescue(ctx context.Context, sosID, claimedRescuerID string) (Attribution, error) {
	const op = "attribute_rescue"
	claimed := strings.TrimSpace(claimedRescuerID)
	if claimed == ir.SincereTeamID {
		claimed = ""
	}

	defer e.lock()()

	if e.session.Available() {
		att, done, err := e.attributeRemote(ctx, op, sosID, claimed)
		if done {
			return att, err
		}
	}
	return e.attributeLocal(ctx, op, sosID, claimed)
}

// attributeRemote reports done=false when the remote became unavailable
// before anything was written, so the caller can take the local path.
func (e *Engine) attributeRemote(ctx context.Context, op, sosID, claimed string) (Attribution, bool, error) {
	sosAll, err := e.loadSOS(ctx)
	if err != nil {
		return Attribution{}, true, newError(ErrCodeUnavailable, op, sosID, "no readable copy of the SOS collection", err)
	}
	roster, err := e.loadRescuers(ctx)
	if err != nil {
		return Attribution{}, true, newError(ErrCodeUnavailable, op, sosID, "no readable copy of the roster", err)
	}
	if !e.session.Available() {
		return Attribution{}, false, nil
	}

	rec, target, err := planAttribution(op, sosAll, roster, sosID, claimed)
	if err != nil {
		return Attribution{}, true, err
	}

	written, reachable := e.swapSOS(ctx, rec, ir.StatusActive)
	if !reachable {
		return Attribution{}, false, nil
	}
	if !written {
		return Attribution{}, true, newError(ErrCodeTerminalStatus, op, sosID, "SOS was closed on another device", nil)
	}

	seed, err := json.Marshal(target)
	if err != nil {
		return Attribution{}, true, newError(ErrCodeUnavailable, op, sosID, "encode rescuer", err)
	}
	var out json.RawMessage
	incErr := e.session.do(ctx, "increment", func(ctx context.Context, m remote.Mirror) error {
		var err error
		out, err = m.Increment(ctx, ir.CollectionRescuers, target.ID, CounterField, seed)
		return err
	})

	credited := target
	credited.RescuesCount++
	if incErr == nil {
		var stored ir.Rescuer
		if err := json.Unmarshal(out, &stored); err == nil && stored.ID == target.ID {
			credited = stored
		}
	}

	if err := e.cacheAttribution(ctx, op, rec, credited); err != nil {
		return Attribution{}, true, err
	}
	e.finish(ctx, op, incErr == nil)

	att := Attribution{SOS: rec, Rescuer: credited, Remote: incErr == nil}
	if incErr != nil {
		return att, true, newError(ErrCodePartialAttribution, op, sosID,
			fmt.Sprintf("SOS marked RESCUED on the remote but rescuer %s was not credited there", target.ID), incErr)
	}
	return att, true, nil
}

// attributeLocal applies the attribution to both cached collections in
// one transaction.
func (e *Engine) attributeLocal(ctx context.Context, op, sosID, claimed string) (Attribution, error) {
	var att Attribution
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		sosAll, err := tx.ListSOS(ctx)
		if err != nil {
			return err
		}
		roster, err := tx.ListRescuers(ctx)
		if err != nil {
			return err
		}
		rec, target, err := planAttribution(op, sosAll, roster, sosID, claimed)
		if err != nil {
			return err
		}
		target.RescuesCount++

		if err := tx.PutSOS(ctx, ir.ReplaceSOS(sosAll, rec)); err != nil {
			return err
		}
		if err := tx.PutRescuers(ctx, ir.ReplaceRescuer(roster, target)); err != nil {
			return err
		}
		if err := clearMySOS(ctx, tx, sosID); err != nil {
			return err
		}
		att = Attribution{SOS: rec, Rescuer: target}
		return nil
	})
	if err != nil {
		if CodeOf(err) != "" {
			return Attribution{}, err
		}
		return Attribution{}, newError(ErrCodeUnavailable, op, sosID, "local cache write failed", err)
	}
	e.finish(ctx, op, false)
	return att, nil
}

// planAttribution validates the request against the given collections and
// returns the RESCUED record and the rescuer to credit (count not yet
// incremented).
func planAttribution(op string, sosAll []ir.SOSRequest, roster []ir.Rescuer, sosID, claimed string) (ir.SOSRequest, ir.Rescuer, error) {
	rec, ok := ir.FindSOS(sosAll, sosID)
	if !ok {
		return ir.SOSRequest{}, ir.Rescuer{}, newError(ErrCodeNotFound, op, sosID, "SOS not found", nil)
	}
	if rec.Status.Terminal() {
		return ir.SOSRequest{}, ir.Rescuer{}, newError(ErrCodeTerminalStatus, op, sosID,
			fmt.Sprintf("SOS is already %s", rec.Status), nil)
	}

	var target ir.Rescuer
	if claimed != "" {
		target, ok = ir.FindRescuer(roster, claimed)
		if !ok {
			return ir.SOSRequest{}, ir.Rescuer{}, newError(ErrCodeUnknownRescuer, op, sosID,
				fmt.Sprintf("rescuer %s is not registered", claimed), nil)
		}
	} else if target, ok = ir.FindRescuer(roster, ir.SincereTeamID); !ok {
		target = ir.SincereTeam()
	}

	rec.Status = ir.StatusRescued
	rec.RescuerID = target.ID
	return rec, target, nil
}

func (e *Engine) cacheAttribution(ctx context.Context, op string, rec ir.SOSRequest, credited ir.Rescuer) error {
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		sosAll, err := tx.ListSOS(ctx)
		if err != nil {
			return err
		}
		roster, err := tx.ListRescuers(ctx)
		if err != nil {
			return err
		}
		if err := tx.PutSOS(ctx, ir.ReplaceSOS(sosAll, rec)); err != nil {
			return err
		}
		if err := tx.PutRescuers(ctx, ir.ReplaceRescuer(roster, credited)); err != nil {
			return err
		}
		return clearMySOS(ctx, tx, rec.ID)
	})
	if err != nil {
		return newError(ErrCodeUnavailable, op, rec.ID, "local cache write failed", err)
	}
	return nil
}
