package goTrust

import (
	"context"
	"time"

	"github.com/MrEthical07/goTrust/internal/flows"
)

// LockAccount locks an identity, terminates its sessions in this region and
// asks peer regions to do the same. An existing lock is only ever extended.
// It returns the effective deadline.
func (e *Engine) LockAccount(ctx context.Context, req LockRequest) (time.Time, error) {
	if err := e.ready(); err != nil {
		return time.Time{}, err
	}
	return e.flows.LockAccount(ctx, flows.LockRequest{
		Identity: req.Identity,
		Reason:   req.Reason,
		Duration: req.Duration,
		Until:    req.Until,
		Publish:  true,
	})
}

// UnlockAccount removes a lock. It reports whether one was active.
func (e *Engine) UnlockAccount(ctx context.Context, identity string) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	return e.flows.UnlockAccount(ctx, identity, true)
}

// IsAccountLocked reports whether identity is currently locked.
func (e *Engine) IsAccountLocked(ctx context.Context, identity string) (bool, error) {
	_, locked, err := e.AccountLock(ctx, identity)
	return locked, err
}

// AccountLock returns the active lock of identity, if any.
func (e *Engine) AccountLock(ctx context.Context, identity string) (AccountLock, bool, error) {
	if err := e.ready(); err != nil {
		return AccountLock{}, false, err
	}
	if identity == "" {
		return AccountLock{}, false, ErrInvalidRequest
	}
	info, ok, err := e.flows.AccountLock(ctx, identity)
	if err != nil || !ok {
		return AccountLock{}, false, err
	}
	return AccountLock{Until: info.Until, Reason: info.Reason}, true, nil
}

// NotifyPasswordChanged is called by the credential service after a
// password change. When the policy enables cross-device logout every other
// session is terminated; exceptSessionID keeps the caller's own session. The
// change is fanned out to peer regions and the identity is alerted.
func (e *Engine) NotifyPasswordChanged(ctx context.Context, identity, exceptSessionID string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	return e.flows.PasswordChanged(ctx, identity, exceptSessionID)
}
