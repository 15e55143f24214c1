package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/floodsync/internal/ir"
	"github.com/roach88/floodsync/internal/store"
)

// CreateSOS records a new ACTIVE signal and remembers it as this device's
// own SOS.
func (e *Engine) CreateSOS(ctx context.Context, draft ir.SOSDraft) (ir.SOSRequest, error) {
	const op = "create_sos"
	draft = draft.Normalize()
	if err := ir.Validate(draft); err != nil {
		return ir.SOSRequest{}, invalid(op, "", err)
	}

	defer e.lock()()

	rec := ir.SOSRequest{
		ID:                 e.ids.Generate(),
		Name:               draft.Name,
		Phone:              draft.Phone,
		Landmark:           draft.Landmark,
		Status:             ir.StatusActive,
		Timestamp:          e.clock.Millis(),
		Message:            draft.Message,
		IsMedicalEmergency: draft.IsMedicalEmergency,
		Messages:           []ir.ChatMessage{},
	}
	if draft.Location != nil {
		loc := *draft.Location
		rec.Location = &loc
	}

	remoteWritten := e.pushRecord(ctx, ir.CollectionSOS, rec.ID, rec)
	err := e.cacheSOS(ctx, op, rec, func(tx *store.Tx) error {
		return tx.SetMySOSID(ctx, rec.ID)
	})
	if err != nil {
		return ir.SOSRequest{}, err
	}
	e.finish(ctx, op, remoteWritten)
	return rec, nil
}

// UpdateSOSStatus moves an ACTIVE SOS to RESCUED or SAFE. A non-empty
// rescuerID is recorded on the SOS; no counter changes (see
// AttributeRescue for that). The id must be "000" or in the roster,
// otherwise the call fails with UNKNOWN_RESCUER. Terminal records are
// rejected without any write. When the SOS is this device's own, the
// pointer is cleared.
func (e *Engine) UpdateSOSStatus(ctx context.Context, id string, status ir.Status, rescuerID string) (ir.SOSRequest, error) {
	const op = "update_sos_status"
	if !status.Terminal() {
		return ir.SOSRequest{}, invalid(op, id, fmt.Errorf("status %q is not a terminal status", status))
	}
	rescuerID = strings.TrimSpace(rescuerID)

	defer e.lock()()

	rec, err := e.findSOS(ctx, op, id)
	if err != nil {
		return ir.SOSRequest{}, err
	}
	if !rec.Status.CanTransition(status) {
		return ir.SOSRequest{}, newError(ErrCodeTerminalStatus, op, id,
			fmt.Sprintf("SOS is already %s", rec.Status), nil)
	}
	if rescuerID != "" && rescuerID != ir.SincereTeamID {
		roster, err := e.loadRescuers(ctx)
		if err != nil {
			return ir.SOSRequest{}, newError(ErrCodeUnavailable, op, id, "no readable copy of the roster", err)
		}
		if _, ok := ir.FindRescuer(roster, rescuerID); !ok {
			return ir.SOSRequest{}, newError(ErrCodeUnknownRescuer, op, id,
				fmt.Sprintf("rescuer %s is not registered", rescuerID), nil)
		}
	}

	rec.Status = status
	if rescuerID != "" {
		rec.RescuerID = rescuerID
	}

	written, reachable := e.swapSOS(ctx, rec, ir.StatusActive)
	if reachable && !written {
		return ir.SOSRequest{}, newError(ErrCodeTerminalStatus, op, id, "SOS was closed on another device", nil)
	}

	err = e.cacheSOS(ctx, op, rec, func(tx *store.Tx) error {
		return clearMySOS(ctx, tx, id)
	})
	if err != nil {
		return ir.SOSRequest{}, err
	}
	e.finish(ctx, op, written)
	return rec, nil
}

// MarkSafe is the victim's "I am safe" self-report.
func (e *Engine) MarkSafe(ctx context.Context, id string) (ir.SOSRequest, error) {
	return e.UpdateSOSStatus(ctx, id, ir.StatusSafe, "")
}

// MarkRescued is the victim's "I was rescued" self-report. It credits
// nobody.
func (e *Engine) MarkRescued(ctx context.Context, id string) (ir.SOSRequest, error) {
	return e.UpdateSOSStatus(ctx, id, ir.StatusRescued, "")
}

// UpdateSOSDetails applies a partial edit to an ACTIVE SOS and refreshes
// its timestamp.
func (e *Engine) UpdateSOSDetails(ctx context.Context, id string, patch ir.SOSPatch) (ir.SOSRequest, error) {
	const op = "update_sos_details"
	patch = patch.Normalize()
	if patch.Empty() {
		return ir.SOSRequest{}, invalid(op, id, errors.New("patch changes nothing"))
	}
	if err := ir.Validate(patch); err != nil {
		return ir.SOSRequest{}, invalid(op, id, err)
	}

	defer e.lock()()

	rec, err := e.findSOS(ctx, op, id)
	if err != nil {
		return ir.SOSRequest{}, err
	}
	if rec.Status != ir.StatusActive {
		return ir.SOSRequest{}, newError(ErrCodeNotActive, op, id,
			fmt.Sprintf("SOS is %s, details are frozen", rec.Status), nil)
	}

	rec = patch.Apply(rec, e.clock.Millis())

	written, reachable := e.swapSOS(ctx, rec, ir.StatusActive)
	if reachable && !written {
		return ir.SOSRequest{}, newError(ErrCodeNotActive, op, id, "SOS was closed on another device", nil)
	}
	if err := e.cacheSOS(ctx, op, rec, nil); err != nil {
		return ir.SOSRequest{}, err
	}
	e.finish(ctx, op, written)
	return rec, nil
}

// AppendMessage adds msg to the end of the SOS chat thread. Messages may
// be appended in any status. A zero timestamp is set to now; an empty
// sender name defaults to the local rescuer's username (or name) for
// rescuer messages and to the SOS name for victim messages.
func (e *Engine) AppendMessage(ctx context.Context, sosID string, msg ir.ChatMessage) (ir.SOSRequest, error) {
	const op = "append_message"
	msg.Text = ir.NormalizeText(msg.Text)
	msg.SenderName = ir.NormalizeText(msg.SenderName)
	if err := ir.Validate(msg); err != nil {
		return ir.SOSRequest{}, invalid(op, sosID, err)
	}

	defer e.lock()()

	if msg.Timestamp == 0 {
		msg.Timestamp = e.clock.Millis()
	}

	// The remote write is guarded on the status that was read, so a
	// concurrent close on another device is never reverted. One re-read
	// covers that case.
	var (
		rec       ir.SOSRequest
		written   bool
		reachable bool
	)
	for attempt := 0; attempt < 2; attempt++ {
		cur, err := e.findSOS(ctx, op, sosID)
		if err != nil {
			return ir.SOSRequest{}, err
		}
		if msg.SenderName == "" {
			msg.SenderName = e.defaultSenderName(ctx, msg.Sender, cur)
		}
		rec = cur
		rec.Messages = append(append([]ir.ChatMessage{}, cur.Messages...), msg)

		written, reachable = e.swapSOS(ctx, rec, cur.Status)
		if written || !reachable {
			break
		}
	}
	if reachable && !written {
		return ir.SOSRequest{}, newError(ErrCodeUnavailable, op, sosID, "SOS kept changing on the remote", nil)
	}

	if err := e.cacheSOS(ctx, op, rec, nil); err != nil {
		return ir.SOSRequest{}, err
	}
	e.finish(ctx, op, written)
	return rec, nil
}

func (e *Engine) defaultSenderName(ctx context.Context, role ir.SenderRole, rec ir.SOSRequest) string {
	if role == ir.SenderVictim {
		return rec.Name
	}
	r, ok, err := e.localRescuer(ctx)
	if err != nil || !ok {
		return ""
	}
	if r.Username != "" {
		return r.Username
	}
	return r.Name
}

// MySOS returns the SOS this device created, if it is still open. A
// pointer to a SOS that was closed or deleted elsewhere is cleared.
func (e *Engine) MySOS(ctx context.Context) (ir.SOSRequest, bool, error) {
	const op = "my_sos"
	defer e.lock()()

	id, err := e.store.MySOSID(ctx)
	if err != nil {
		return ir.SOSRequest{}, false, newError(ErrCodeUnavailable, op, "", "local cache read failed", err)
	}
	if id == "" {
		return ir.SOSRequest{}, false, nil
	}
	all, err := e.loadSOS(ctx)
	if err != nil {
		return ir.SOSRequest{}, false, newError(ErrCodeUnavailable, op, id, "no readable copy of the SOS collection", err)
	}
	id, err = e.reconcileMySOS(ctx, op, all, id)
	if err != nil || id == "" {
		return ir.SOSRequest{}, false, err
	}
	rec, ok := ir.FindSOS(all, id)
	return rec, ok, nil
}

// reconcileMySOS clears the own-SOS pointer when id is missing from all or
// no longer ACTIVE, and returns the pointer that remains.
func (e *Engine) reconcileMySOS(ctx context.Context, op string, all []ir.SOSRequest, id string) (string, error) {
	if id == "" {
		return "", nil
	}
	if rec, ok := ir.FindSOS(all, id); ok && rec.Status == ir.StatusActive {
		return id, nil
	}
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		return clearMySOS(ctx, tx, id)
	})
	if err != nil {
		return "", newError(ErrCodeUnavailable, op, id, "local cache write failed", err)
	}
	e.logger.Debug("own SOS closed elsewhere", "id", id)
	return "", nil
}

// clearMySOS forgets the device's own SOS pointer when it names id.
func clearMySOS(ctx context.Context, tx *store.Tx, id string) error {
	mine, err := tx.MySOSID(ctx)
	if err != nil {
		return err
	}
	if mine == id {
		return tx.ClearMySOSID(ctx)
	}
	return nil
}
