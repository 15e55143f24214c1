package engine

import (
	"context"
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/floodsync/internal/ir"
	"github.com/roach88/floodsync/internal/remote"
	"github.com/roach88/floodsync/internal/store"
)

// AdminCredentials configure the local admin gate. PasswordHash is a
// bcrypt hash. An empty Username disables the gate entirely.
type AdminCredentials struct {
	Username     string
	PasswordHash string
}

// Admin is an unlocked administrative handle.
type Admin struct {
	e *Engine
}

// Admin checks the credentials against the configured gate.
func (e *Engine) Admin(username, password string) (*Admin, error) {
	const op = "admin_login"
	if e.admin.Username == "" || e.admin.PasswordHash == "" {
		return nil, newError(ErrCodeForbidden, op, "", "admin access is not configured", nil)
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(e.admin.Username)) == 1
	passErr := bcrypt.CompareHashAndPassword([]byte(e.admin.PasswordHash), []byte(password))
	if !userOK || passErr != nil {
		return nil, newError(ErrCodeForbidden, op, "", "invalid admin credentials", nil)
	}
	return &Admin{e: e}, nil
}

// HashPassword returns a bcrypt hash suitable for AdminCredentials.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// DeleteSOS removes a SOS everywhere.
func (a *Admin) DeleteSOS(ctx context.Context, id string) error {
	const op = "delete_sos"
	e := a.e
	defer e.lock()()

	if _, err := e.findSOS(ctx, op, id); err != nil {
		return err
	}
	remoteWritten := e.session.do(ctx, "delete", func(ctx context.Context, m remote.Mirror) error {
		return m.Delete(ctx, ir.CollectionSOS, id)
	}) == nil

	err := e.store.Update(ctx, func(tx *store.Tx) error {
		all, err := tx.ListSOS(ctx)
		if err != nil {
			return err
		}
		if err := tx.PutSOS(ctx, ir.RemoveSOS(all, id)); err != nil {
			return err
		}
		return clearMySOS(ctx, tx, id)
	})
	if err != nil {
		return newError(ErrCodeUnavailable, op, id, "local cache write failed", err)
	}
	e.finish(ctx, op, remoteWritten)
	return nil
}

// DeleteRescuer removes a rescuer and with it the whole of its count.
func (a *Admin) DeleteRescuer(ctx context.Context, id string) error {
	const op = "delete_rescuer"
	e := a.e
	defer e.lock()()

	roster, err := e.loadRescuers(ctx)
	if err != nil {
		return newError(ErrCodeUnavailable, op, id, "no readable copy of the roster", err)
	}
	if _, ok := ir.FindRescuer(roster, id); !ok {
		return newError(ErrCodeNotFound, op, id, "rescuer not found", nil)
	}
	remoteWritten := e.session.do(ctx, "delete", func(ctx context.Context, m remote.Mirror) error {
		return m.Delete(ctx, ir.CollectionRescuers, id)
	}) == nil

	err = e.store.Update(ctx, func(tx *store.Tx) error {
		all, err := tx.ListRescuers(ctx)
		if err != nil {
			return err
		}
		if err := tx.PutRescuers(ctx, ir.RemoveRescuer(all, id)); err != nil {
			return err
		}
		mine, err := tx.MyRescuerID(ctx)
		if err != nil {
			return err
		}
		if mine == id {
			return tx.ClearMyRescuerID(ctx)
		}
		return nil
	})
	if err != nil {
		return newError(ErrCodeUnavailable, op, id, "local cache write failed", err)
	}
	e.finish(ctx, op, remoteWritten)
	return nil
}

// Stats summarises the SOS collection for the dashboard.
func (a *Admin) Stats(ctx context.Context) (ir.Stats, error) {
	all, err := a.e.ListSOS(ctx)
	if err != nil {
		return ir.Stats{}, err
	}
	return ir.Summarize(all), nil
}
