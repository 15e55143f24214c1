package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/floodsync/internal/ir"
)

// Keys of the four persisted values.
const (
	KeySOS         = "floodguard_sos_data"
	KeyMySOSID     = "floodguard_user_sos_id"
	KeyRescuers    = "floodguard_rescuers_data"
	KeyMyRescuerID = "floodguard_local_rescuer_id"
)

// ErrCorrupt marks a stored blob that could not be parsed.
// It never leaves this package: corrupt collections are reseeded.
var ErrCorrupt = errors.New("corrupt cache value")

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is a read/write handle on the cache, either inside Update or in
// autocommit mode.
type Tx struct {
	q     querier
	store *Store
}

func (tx *Tx) get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := tx.q.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	return value, true, nil
}

func (tx *Tx) put(ctx context.Context, key, value string) error {
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, tx.store.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (tx *Tx) remove(ctx context.Context, key string) error {
	if _, err := tx.q.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// ListSOS returns the cached SOS collection, seeding it when it was never
// written or cannot be parsed.
func (tx *Tx) ListSOS(ctx context.Context) ([]ir.SOSRequest, error) {
	raw, ok, err := tx.get(ctx, KeySOS)
	if err != nil {
		return nil, err
	}
	if ok {
		all, err := decodeSOS(raw)
		if err == nil {
			return all, nil
		}
		tx.store.logger.Warn("reseeding corrupt cache value", "key", KeySOS, "error", err)
	}
	seed := SeedSOS(tx.store.now())
	if err := tx.PutSOS(ctx, seed); err != nil {
		return nil, err
	}
	return seed, nil
}

// PutSOS overwrites the whole SOS collection.
func (tx *Tx) PutSOS(ctx context.Context, all []ir.SOSRequest) error {
	if all == nil {
		all = []ir.SOSRequest{}
	}
	data, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("encode %s: %w", KeySOS, err)
	}
	return tx.put(ctx, KeySOS, string(data))
}

// ListRescuers returns the cached roster, seeding it when it was never
// written or cannot be parsed.
func (tx *Tx) ListRescuers(ctx context.Context) ([]ir.Rescuer, error) {
	raw, ok, err := tx.get(ctx, KeyRescuers)
	if err != nil {
		return nil, err
	}
	if ok {
		all, err := decodeRescuers(raw)
		if err == nil {
			return all, nil
		}
		tx.store.logger.Warn("reseeding corrupt cache value", "key", KeyRescuers, "error", err)
	}
	seed := SeedRescuers()
	if err := tx.PutRescuers(ctx, seed); err != nil {
		return nil, err
	}
	return seed, nil
}

// PutRescuers overwrites the whole roster.
func (tx *Tx) PutRescuers(ctx context.Context, all []ir.Rescuer) error {
	if all == nil {
		all = []ir.Rescuer{}
	}
	data, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("encode %s: %w", KeyRescuers, err)
	}
	return tx.put(ctx, KeyRescuers, string(data))
}

// MySOSID returns the SOS id owned by this device, or "".
func (tx *Tx) MySOSID(ctx context.Context) (string, error) {
	v, _, err := tx.get(ctx, KeyMySOSID)
	return v, err
}

// SetMySOSID records the SOS id owned by this device.
func (tx *Tx) SetMySOSID(ctx context.Context, id string) error {
	return tx.put(ctx, KeyMySOSID, id)
}

// ClearMySOSID forgets the owned SOS.
func (tx *Tx) ClearMySOSID(ctx context.Context) error {
	return tx.remove(ctx, KeyMySOSID)
}

// MyRescuerID returns the rescuer id this device registered as, or "".
func (tx *Tx) MyRescuerID(ctx context.Context) (string, error) {
	v, _, err := tx.get(ctx, KeyMyRescuerID)
	return v, err
}

// SetMyRescuerID records the rescuer id this device registered as.
func (tx *Tx) SetMyRescuerID(ctx context.Context, id string) error {
	return tx.put(ctx, KeyMyRescuerID, id)
}

// ClearMyRescuerID forgets the local rescuer identity.
func (tx *Tx) ClearMyRescuerID(ctx context.Context) error {
	return tx.remove(ctx, KeyMyRescuerID)
}

func decodeSOS(raw string) ([]ir.SOSRequest, error) {
	var all []ir.SOSRequest
	if err := json.Unmarshal([]byte(raw), &all); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if all == nil {
		return nil, fmt.Errorf("%w: null collection", ErrCorrupt)
	}
	for i := range all {
		if all[i].Messages == nil {
			all[i].Messages = []ir.ChatMessage{}
		}
	}
	return all, nil
}

func decodeRescuers(raw string) ([]ir.Rescuer, error) {
	var all []ir.Rescuer
	if err := json.Unmarshal([]byte(raw), &all); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if all == nil {
		return nil, fmt.Errorf("%w: null collection", ErrCorrupt)
	}
	return all, nil
}

// ListSOS reads the SOS collection outside of a transaction.
func (s *Store) ListSOS(ctx context.Context) ([]ir.SOSRequest, error) {
	return s.view().ListSOS(ctx)
}

// PutSOS overwrites the SOS collection.
func (s *Store) PutSOS(ctx context.Context, all []ir.SOSRequest) error {
	return s.view().PutSOS(ctx, all)
}

// ListRescuers reads the roster outside of a transaction.
func (s *Store) ListRescuers(ctx context.Context) ([]ir.Rescuer, error) {
	return s.view().ListRescuers(ctx)
}

// PutRescuers overwrites the roster.
func (s *Store) PutRescuers(ctx context.Context, all []ir.Rescuer) error {
	return s.view().PutRescuers(ctx, all)
}

// MySOSID returns the SOS id owned by this device, or "".
func (s *Store) MySOSID(ctx context.Context) (string, error) {
	return s.view().MySOSID(ctx)
}

// MyRescuerID returns the rescuer id this device registered as, or "".
func (s *Store) MyRescuerID(ctx context.Context) (string, error) {
	return s.view().MyRescuerID(ctx)
}
