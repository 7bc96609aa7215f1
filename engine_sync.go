package goTrust

import (
	"context"
	"errors"

	"github.com/MrEthical07/goTrust/regionsync"
)

var _ regionsync.Applier = (*Engine)(nil)

// Apply re-applies an event received from a peer region. It never publishes,
// so applied events cannot echo back. Events stamped with the local region
// are ignored.
//
// Engine implements [regionsync.Applier]; hand it to
// [regionsync.Subscriber.Run].
func (e *Engine) Apply(ctx context.Context, ev regionsync.Event) error {
	if err := e.ready(); err != nil {
		return err
	}
	if ev.Region == e.config.Region {
		return nil
	}

	err := e.flows.ApplyRemote(ctx, ev)
	if err != nil && errors.Is(err, regionsync.ErrInvalidEvent) {
		e.emitAudit(ctx, auditEventSyncApplied, false, ev.Identity, ev.SessionID, err, func() map[string]string {
			return map[string]string{"kind": string(ev.Kind), "origin_region": ev.Region, "event_id": ev.ID}
		})
	}
	return err
}

// ReplicateUser stores a directory change locally and publishes it to peer
// regions. Conflicts resolve last-writer-wins on UpdatedAt with the region
// name as tie-break; a delete is kept as a tombstone. It reports whether the
// record superseded the stored one.
func (e *Engine) ReplicateUser(ctx context.Context, kind regionsync.Kind, user regionsync.UserRecord) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	if !kind.Replication() || user.ID == "" {
		return false, ErrInvalidRequest
	}

	now := e.now()
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}
	user.UpdatedAt = user.UpdatedAt.UTC()
	user.Region = e.config.Region
	user.Deleted = kind == regionsync.KindUserDeleted

	applied, err := e.backend.ApplyUser(ctx, user)
	if err != nil {
		err = storeUnavailable(err)
		e.emitAudit(ctx, auditEventUserReplicated, false, user.ID, "", err, nil)
		return false, err
	}
	if !applied {
		return false, nil
	}

	e.emitAudit(ctx, auditEventUserReplicated, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{"kind": string(kind)}
	})
	ev := regionsync.NewEvent(kind, e.config.Region, now)
	rec := user
	ev.User = &rec
	e.publish(ev)
	return true, nil
}

// User returns the replicated directory record, tombstones included. A
// missing record is (nil, nil).
func (e *Engine) User(ctx context.Context, id string) (*regionsync.UserRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	rec, err := e.backend.GetUser(ctx, id)
	if err != nil {
		return nil, storeUnavailable(err)
	}
	return rec, nil
}
