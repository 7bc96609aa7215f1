package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goTrust/regionsync"
	"github.com/MrEthical07/goTrust/session"
	"github.com/MrEthical07/goTrust/store"
)

// MirrorEvictor drops mirrored projections.
type MirrorEvictor interface {
	Evict(ctx context.Context, identity, id string) error
	EvictIdentity(ctx context.Context, identity string) (int, error)
}

type RemoteMetrics struct {
	RemoteApplied int
	RemoteStale   int
}

type RemoteEvents struct {
	Applied string
}

// RemoteDeps captures what applying a peer-region event needs. Nothing here
// publishes, so remote application never echoes back onto the bus.
type RemoteDeps struct {
	Now     func() time.Time
	Session SessionDeps
	Mirror  MirrorEvictor
	Locks   LockStore
	Users   store.Users

	MetricInc func(int)
	EmitAudit AuditFunc
	Metrics   RemoteMetrics
	Events    RemoteEvents
}

// RunApplyRemote re-applies a validated peer event to local state. Durable
// state is authoritative, so missing local rows are not errors.
func RunApplyRemote(ctx context.Context, ev regionsync.Event, deps RemoteDeps) error {
	normalizeRemoteDeps(&deps)

	if err := ev.Validate(); err != nil {
		return err
	}

	var (
		applied = true
		err     error
	)
	switch ev.Kind {
	case regionsync.KindLogin:
		// The session lives in its origin region; nothing to mirror here.
	case regionsync.KindLogout:
		if ev.SessionID != "" {
			err = remoteTerminate(ctx, ev.Identity, ev.SessionID, session.ReasonRemoteRevocation, deps)
		} else {
			err = remoteTerminateAll(ctx, ev.Identity, ev.ExceptSessionID, session.ReasonRemoteRevocation, deps)
		}
	case regionsync.KindRefresh:
		applied, err = remoteExtend(ctx, ev, deps)
	case regionsync.KindPasswordChange:
		err = remoteTerminateAll(ctx, ev.Identity, ev.ExceptSessionID, session.ReasonPasswordChanged, deps)
	case regionsync.KindAccountLocked:
		if deps.Locks != nil && !ev.LockedUntil.IsZero() {
			if _, err = deps.Locks.Lock(ctx, ev.Identity, ev.LockedUntil, ev.Reason, deps.Now()); err != nil {
				break
			}
		}
		err = remoteTerminateAll(ctx, ev.Identity, "", session.ReasonAccountLocked, deps)
	case regionsync.KindAccountUnlocked:
		if deps.Locks != nil {
			_, err = deps.Locks.Unlock(ctx, ev.Identity)
		}
	case regionsync.KindUserCreated, regionsync.KindUserUpdated, regionsync.KindUserDeleted:
		applied, err = remoteUser(ctx, ev, deps)
	default:
		return fmt.Errorf("%w: unhandled kind %q", regionsync.ErrInvalidEvent, ev.Kind)
	}
	if err != nil {
		return err
	}

	if !applied {
		deps.MetricInc(deps.Metrics.RemoteStale)
		return nil
	}
	deps.MetricInc(deps.Metrics.RemoteApplied)
	deps.EmitAudit(ctx, deps.Events.Applied, true, ev.Identity, ev.SessionID, nil, func() map[string]string {
		return map[string]string{
			"kind":          string(ev.Kind),
			"origin_region": ev.Region,
			"event_id":      ev.ID,
		}
	})
	return nil
}

func remoteTerminate(ctx context.Context, identity, id, reason string, deps RemoteDeps) error {
	if deps.Session.Sessions != nil {
		s, err := deps.Session.Sessions.ReadDurable(ctx, id)
		switch {
		case err == nil:
			if _, err := terminateSession(ctx, s, reason, false, deps.Session); err != nil {
				return err
			}
		case !errors.Is(err, session.ErrNotFound):
			return session.WrapStoreError(err)
		}
	}
	if deps.Mirror != nil {
		if err := deps.Mirror.Evict(ctx, identity, id); err != nil {
			return err
		}
	}
	return nil
}

func remoteTerminateAll(ctx context.Context, identity, except, reason string, deps RemoteDeps) error {
	if deps.Session.Sessions != nil {
		active, err := deps.Session.Sessions.Store().ListActive(ctx, identity)
		if err != nil {
			return session.WrapStoreError(err)
		}
		for _, s := range active {
			if s.ID == except {
				continue
			}
			if _, err := terminateSession(ctx, s, reason, false, deps.Session); err != nil {
				return err
			}
		}
	}
	if deps.Mirror == nil || except != "" {
		return nil
	}
	_, err := deps.Mirror.EvictIdentity(ctx, identity)
	return err
}

func remoteExtend(ctx context.Context, ev regionsync.Event, deps RemoteDeps) (bool, error) {
	if deps.Session.Sessions == nil {
		return false, nil
	}
	s, err := deps.Session.Sessions.ReadDurable(ctx, ev.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return false, nil
		}
		return false, session.WrapStoreError(err)
	}
	if !s.IsActive() || !ev.ExpiresAt.After(s.ExpiresAt) {
		return false, nil
	}
	if _, err := deps.Session.Sessions.Extend(ctx, s.ID, ev.ExpiresAt); err != nil {
		if errors.Is(err, session.ErrTransition) || errors.Is(err, session.ErrNotFound) {
			return false, nil
		}
		return false, session.WrapStoreError(err)
	}
	return true, nil
}

func remoteUser(ctx context.Context, ev regionsync.Event, deps RemoteDeps) (bool, error) {
	if deps.Users == nil {
		return false, nil
	}
	rec := *ev.User
	if rec.Region == "" {
		rec.Region = ev.Region
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = ev.At
	}
	if ev.Kind == regionsync.KindUserDeleted {
		rec.Deleted = true
	}
	return deps.Users.ApplyUser(ctx, rec)
}

func normalizeRemoteDeps(deps *RemoteDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	normalizeSessionDeps(&deps.Session)
	deps.Session.Publish = noopPublish
}
