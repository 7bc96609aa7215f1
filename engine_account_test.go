package goTrust

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/MrEthical07/goTrust/regionsync"
	"github.com/MrEthical07/goTrust/session"
)

func TestLockAndUnlockAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	s := env.createSession(t, "alice", "198.51.100.20")

	until, err := env.engine.LockAccount(ctx, LockRequest{Identity: "alice", Reason: "support", Duration: time.Hour})
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !until.Equal(testEpoch.Add(time.Hour)) {
		t.Fatalf("unexpected lock deadline %v", until)
	}

	lock, ok, err := env.engine.AccountLock(ctx, "alice")
	if err != nil || !ok {
		t.Fatalf("expected active lock, ok=%v err=%v", ok, err)
	}
	if lock.Reason != "support" {
		t.Fatalf("unexpected lock reason %q", lock.Reason)
	}

	// A shorter lock never shortens an existing one.
	shorter, err := env.engine.LockAccount(ctx, LockRequest{Identity: "alice", Duration: time.Minute})
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	if !shorter.Equal(until) {
		t.Fatalf("expected lock kept at %v, got %v", until, shorter)
	}

	got, err := env.store.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.IsActive() || got.State.Reason != session.ReasonAccountLocked {
		t.Fatalf("expected session terminated by lock, got active=%v reason=%q", got.IsActive(), got.State.Reason)
	}

	if _, err := env.engine.CreateSession(ctx, CreateSessionRequest{
		Identity: "alice",
		Context:  session.Context{IP: "198.51.100.20"},
	}); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}

	unlocked, err := env.engine.UnlockAccount(ctx, "alice")
	if err != nil || !unlocked {
		t.Fatalf("expected unlock, ok=%v err=%v", unlocked, err)
	}
	if locked, _ := env.engine.IsAccountLocked(ctx, "alice"); locked {
		t.Fatalf("expected account unlocked")
	}
	env.createSession(t, "alice", "198.51.100.20")

	if again, err := env.engine.UnlockAccount(ctx, "alice"); err != nil || again {
		t.Fatalf("expected no lock to remove, ok=%v err=%v", again, err)
	}

	kinds := env.published.kinds()
	if !slices.Contains(kinds, regionsync.KindAccountLocked) || !slices.Contains(kinds, regionsync.KindAccountUnlocked) {
		t.Fatalf("expected lock and unlock published, got %v", kinds)
	}
	if !slices.Contains(env.alerts.subjects(), "Your account has been locked") {
		t.Fatalf("expected lock alert, got %v", env.alerts.subjects())
	}
}

func TestLockAccountRejectsPastDeadline(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.engine.LockAccount(context.Background(), LockRequest{
		Identity: "alice",
		Until:    testEpoch.Add(-time.Minute),
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestPasswordChangeLogsOutOtherDevices(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	current := env.createSession(t, "alice", "198.51.100.20")
	other := env.createSession(t, "alice", "198.51.100.21")

	n, err := env.engine.NotifyPasswordChanged(ctx, "alice", current.ID)
	if err != nil {
		t.Fatalf("password changed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one session terminated, got %d", n)
	}

	res, err := env.engine.ValidateSession(ctx, current.ID, "alice", "198.51.100.20")
	if err != nil || !res.Valid {
		t.Fatalf("expected caller session kept, res=%+v err=%v", res, err)
	}
	res, err = env.engine.ValidateSession(ctx, other.ID, "alice", "198.51.100.21")
	if err != nil || res.Valid {
		t.Fatalf("expected other session terminated, res=%+v err=%v", res, err)
	}

	if !slices.Contains(env.published.kinds(), regionsync.KindPasswordChange) {
		t.Fatalf("expected password change published, got %v", env.published.kinds())
	}
	if !slices.Contains(env.alerts.subjects(), "Your password was changed") {
		t.Fatalf("expected password alert, got %v", env.alerts.subjects())
	}
}

func TestPasswordChangeWithoutCrossDeviceLogout(t *testing.T) {
	p := session.DefaultPolicy()
	p.CrossDeviceLogout = false
	env := newTestEnv(t, withPolicy(p))

	s := env.createSession(t, "alice", "198.51.100.20")
	n, err := env.engine.NotifyPasswordChanged(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("password changed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no terminations, got %d", n)
	}
	res, _ := env.engine.ValidateSession(context.Background(), s.ID, "alice", "198.51.100.20")
	if !res.Valid {
		t.Fatalf("expected session kept, got %+v", res)
	}
}
