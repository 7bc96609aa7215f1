package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goTrust/internal/limiters"
	"github.com/MrEthical07/goTrust/regionsync"
	"github.com/MrEthical07/goTrust/session"
)

// LockStore persists time-boxed account locks.
type LockStore interface {
	Lock(ctx context.Context, identity string, until time.Time, reason string, now time.Time) (time.Time, error)
	Get(ctx context.Context, identity string) (limiters.LockInfo, bool, error)
	Unlock(ctx context.Context, identity string) (bool, error)
}

// TerminateAllFunc terminates every session of identity except one.
type TerminateAllFunc func(ctx context.Context, identity, exceptSessionID, reason string, publish bool) (int, error)

type LockMetrics struct {
	AccountLocked   int
	AccountUnlocked int
	PasswordChanged int
}

type LockEvents struct {
	Locked          string
	Unlocked        string
	PasswordChanged string
}

type LockErrors struct {
	EngineNotReady error
	InvalidRequest error
	Unavailable    error
}

// LockDeps captures account lock and credential-change dependencies.
type LockDeps struct {
	Region string

	Now          func() time.Time
	Locks        LockStore
	Policy       PolicyFunc
	TerminateAll TerminateAllFunc
	LockDuration time.Duration

	Publish   PublishFunc
	Notify    NotifyFunc
	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics LockMetrics
	Events  LockEvents
	Errors  LockErrors
}

// LockRequest describes a lock. Until wins over Duration; both zero use the
// configured lock duration.
type LockRequest struct {
	Identity string
	Reason   string
	Duration time.Duration
	Until    time.Time
	// Publish fans the lock out to peer regions and alerts the owner.
	// Remote application leaves it unset.
	Publish bool
	// Quiet skips the owner alert when the caller sends its own.
	Quiet bool
}

// RunLockAccount locks identity, terminates its sessions and notifies the
// owner. It returns the effective deadline.
func RunLockAccount(ctx context.Context, req LockRequest, deps LockDeps) (time.Time, error) {
	normalizeLockDeps(&deps)

	if deps.Locks == nil || deps.TerminateAll == nil {
		return time.Time{}, deps.Errors.EngineNotReady
	}
	if req.Identity == "" {
		return time.Time{}, deps.Errors.InvalidRequest
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}

	now := deps.Now()
	until := req.Until
	if until.IsZero() {
		d := req.Duration
		if d <= 0 {
			d = deps.LockDuration
		}
		until = now.Add(d)
	}
	if !until.After(now) {
		return time.Time{}, deps.Errors.InvalidRequest
	}

	until, err := deps.Locks.Lock(ctx, req.Identity, until, req.Reason, now)
	if err != nil {
		err = storeError(deps.Errors.Unavailable, err)
		deps.EmitAudit(ctx, deps.Events.Locked, false, req.Identity, "", err, nil)
		return time.Time{}, err
	}

	// Peer regions terminate their own sessions when they apply the lock.
	_, termErr := deps.TerminateAll(ctx, req.Identity, "", session.ReasonAccountLocked, false)

	deps.MetricInc(deps.Metrics.AccountLocked)
	deps.EmitAudit(ctx, deps.Events.Locked, termErr == nil, req.Identity, "", termErr, func() map[string]string {
		return map[string]string{
			"reason": req.Reason,
			"until":  until.UTC().Format(time.RFC3339),
		}
	})

	if req.Publish && syncAllowed(ctx, req.Identity, deps.Policy) {
		ev := regionsync.NewEvent(regionsync.KindAccountLocked, deps.Region, now)
		ev.Identity = req.Identity
		ev.Reason = req.Reason
		ev.LockedUntil = until
		deps.Publish(ev)
	}
	if req.Publish && !req.Quiet {
		deps.Notify(ctx, req.Identity, "Your account has been locked",
			fmt.Sprintf("Your account is locked until %s (%s).", until.UTC().Format(time.RFC1123), req.Reason))
	}
	return until, termErr
}

// RunUnlockAccount removes a lock. It reports whether a lock existed.
func RunUnlockAccount(ctx context.Context, identity string, publish bool, deps LockDeps) (bool, error) {
	normalizeLockDeps(&deps)

	if deps.Locks == nil {
		return false, deps.Errors.EngineNotReady
	}
	if identity == "" {
		return false, deps.Errors.InvalidRequest
	}

	existed, err := deps.Locks.Unlock(ctx, identity)
	if err != nil {
		err = storeError(deps.Errors.Unavailable, err)
		deps.EmitAudit(ctx, deps.Events.Unlocked, false, identity, "", err, nil)
		return false, err
	}

	deps.MetricInc(deps.Metrics.AccountUnlocked)
	deps.EmitAudit(ctx, deps.Events.Unlocked, true, identity, "", nil, nil)
	if publish && syncAllowed(ctx, identity, deps.Policy) {
		ev := regionsync.NewEvent(regionsync.KindAccountUnlocked, deps.Region, deps.Now())
		ev.Identity = identity
		deps.Publish(ev)
	}
	return existed, nil
}

// RunAccountLock returns the active lock of identity. A lock whose deadline
// has passed on the injected clock is reported as absent.
func RunAccountLock(ctx context.Context, identity string, deps LockDeps) (limiters.LockInfo, bool, error) {
	normalizeLockDeps(&deps)

	if deps.Locks == nil {
		return limiters.LockInfo{}, false, nil
	}
	info, ok, err := deps.Locks.Get(ctx, identity)
	if err != nil {
		return limiters.LockInfo{}, false, storeError(deps.Errors.Unavailable, err)
	}
	if !ok || !info.Until.After(deps.Now()) {
		return limiters.LockInfo{}, false, nil
	}
	return info, true, nil
}

// RunPasswordChanged terminates the identity's other sessions when the policy
// asks for cross-device logout and fans the change out to peer regions.
func RunPasswordChanged(ctx context.Context, identity, exceptSessionID string, deps LockDeps) (int, error) {
	normalizeLockDeps(&deps)

	if deps.Policy == nil || deps.TerminateAll == nil {
		return 0, deps.Errors.EngineNotReady
	}
	if identity == "" {
		return 0, deps.Errors.InvalidRequest
	}

	policy, err := deps.Policy(ctx, identity)
	if err != nil {
		return 0, err
	}

	count := 0
	if policy.CrossDeviceLogout {
		count, err = deps.TerminateAll(ctx, identity, exceptSessionID, session.ReasonPasswordChanged, false)
	}

	deps.MetricInc(deps.Metrics.PasswordChanged)
	deps.EmitAudit(ctx, deps.Events.PasswordChanged, err == nil, identity, exceptSessionID, err, func() map[string]string {
		return map[string]string{"terminated": fmt.Sprint(count)}
	})
	if policy.CrossRegionSync {
		ev := regionsync.NewEvent(regionsync.KindPasswordChange, deps.Region, deps.Now())
		ev.Identity = identity
		ev.ExceptSessionID = exceptSessionID
		deps.Publish(ev)
	}
	deps.Notify(ctx, identity, "Your password was changed",
		"The password for your account was changed. If this was not you, reset it immediately.")
	return count, err
}

func syncAllowed(ctx context.Context, identity string, policy PolicyFunc) bool {
	if policy == nil {
		return true
	}
	p, err := policy(ctx, identity)
	if err != nil {
		return true
	}
	return p.CrossRegionSync
}

func normalizeLockDeps(deps *LockDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.LockDuration <= 0 {
		deps.LockDuration = 30 * time.Minute
	}
	if deps.Publish == nil {
		deps.Publish = noopPublish
	}
	if deps.Notify == nil {
		deps.Notify = noopNotify
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.Errors.EngineNotReady == nil {
		deps.Errors.EngineNotReady = errors.New("engine not ready")
	}
	if deps.Errors.InvalidRequest == nil {
		deps.Errors.InvalidRequest = errors.New("invalid request")
	}
	if deps.Errors.Unavailable == nil {
		deps.Errors.Unavailable = limiters.ErrLimiterUnavailable
	}
}
