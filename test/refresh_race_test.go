//go:build integration
// +build integration

package test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goTrust/session"
)

func TestTerminateRaceSingleWinner(t *testing.T) {
	ctx := context.Background()
	st := newIntegrationStore(t)

	now := time.Now().UTC()
	sess := newSession("sid-race", "u1", now)
	if err := st.Create(ctx, sess); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const workers = 16
	reasons := []string{session.ReasonLogout, session.ReasonForcedLogout, session.ReasonRemoteRevocation, session.ReasonExpired}

	start := make(chan struct{})
	var wg sync.WaitGroup
	var winners atomic.Int32
	var winningReason atomic.Value
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			reason := reasons[i%len(reasons)]
			_, changed, err := st.Terminate(ctx, sess.ID, reason, now.Add(time.Duration(i)*time.Millisecond))
			if err != nil {
				errs <- err
				return
			}
			if changed {
				winners.Add(1)
				winningReason.Store(reason)
			}
		}(i)
	}

	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("Terminate failed: %v", err)
	}
	if got := winners.Load(); got != 1 {
		t.Fatalf("expected exactly one winner, got %d", got)
	}

	got, err := st.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.IsActive() || got.State.Reason != winningReason.Load().(string) {
		t.Fatalf("expected the winning reason to stick, got %+v", got.State)
	}
	active, err := st.ListActive(ctx, "u1")
	if err != nil || len(active) != 0 {
		t.Fatalf("expected no active sessions, got %d err=%v", len(active), err)
	}
}

func TestConcurrentTouchNeverRegresses(t *testing.T) {
	ctx := context.Background()
	st := newIntegrationStore(t)

	now := time.Now().UTC()
	sess := newSession("sid-touch", "u1", now)
	if err := st.Create(ctx, sess); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := st.Touch(ctx, sess.ID, now.Add(time.Duration(i)*time.Second)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Touch failed: %v", err)
	}

	got, err := st.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	want := now.Add((workers - 1) * time.Second)
	if !got.LastActivityAt.Equal(want) {
		t.Fatalf("expected last activity %v, got %v", want, got.LastActivityAt)
	}
	if err := got.CheckInvariant(); err != nil {
		t.Fatalf("invariant: %v", err)
	}
}

func newSession(id, identity string, now time.Time) *session.Session {
	return &session.Session{
		ID:                id,
		Identity:          identity,
		Region:            "us-east",
		CreatedAt:         now,
		LastActivityAt:    now,
		ExpiresAt:         now.Add(time.Hour),
		AbsoluteExpiresAt: now.Add(24 * time.Hour),
		Context:           session.Context{IP: "198.51.100.20"},
		State:             session.Active(),
	}
}
