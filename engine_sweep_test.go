package goTrust

import (
	"context"
	"testing"
	"time"

	"github.com/MrEthical07/goTrust/session"
)

func TestSweepTerminatesExpiredAndIdle(t *testing.T) {
	p := session.DefaultPolicy()
	p.SessionDuration = time.Hour
	p.InactivityTimeout = 20 * time.Minute
	env := newTestEnv(t, withPolicy(p))
	ctx := context.Background()

	idle := env.createSession(t, "alice", "198.51.100.20")
	busy := env.createSession(t, "bob", "198.51.100.21")

	env.clock.Advance(15 * time.Minute)
	if res, _ := env.engine.ValidateSession(ctx, busy.ID, "bob", "198.51.100.21"); !res.Valid {
		t.Fatalf("expected busy session valid, got %+v", res)
	}
	env.clock.Advance(10 * time.Minute)

	res, err := env.engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Scanned != 2 || res.Inactive != 1 || res.Expired != 0 {
		t.Fatalf("unexpected first pass %+v", res)
	}
	got, err := env.store.Get(ctx, idle.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State.Reason != session.ReasonInactivityTimeout {
		t.Fatalf("expected inactivity termination, got %+v", got.State)
	}

	env.clock.Advance(time.Hour)
	res, err = env.engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Scanned != 1 || res.Expired != 1 {
		t.Fatalf("unexpected second pass %+v", res)
	}

	res, err = env.engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Scanned != 0 || res.Terminated() != 0 {
		t.Fatalf("expected idempotent empty pass, got %+v", res)
	}
	if got := env.counter(MetricSweepRuns); got != 3 {
		t.Fatalf("expected 3 sweep runs, got %d", got)
	}
}

func TestSweepTrimsOldestOverLimit(t *testing.T) {
	loose := newTestEnv(t, nil)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, loose.createSession(t, "alice", "198.51.100.20").ID)
		loose.clock.Advance(time.Second)
	}

	// A second engine over the same backends with a tighter limit.
	p := session.DefaultPolicy()
	p.MaxConcurrentSessions = 2
	strict := buildTestEnv(t, loose.redis, loose.client, loose.store, withPolicy(p))
	strict.clock.Advance(3 * time.Second)

	res, err := strict.engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Trimmed != 1 {
		t.Fatalf("expected one trimmed session, got %+v", res)
	}

	oldest, err := strict.store.Get(ctx, ids[0])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if oldest.IsActive() || oldest.State.Reason != session.ReasonSessionLimit {
		t.Fatalf("expected oldest session trimmed, got %+v", oldest.State)
	}
	for _, id := range ids[1:] {
		s, err := strict.store.Get(ctx, id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !s.IsActive() {
			t.Fatalf("expected session %s kept", id)
		}
	}
}

func TestSweepHonorsTerminationBudget(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config, _ *Builder) {
		cfg.Sweep.MaxTerminations = 1
	})
	ctx := context.Background()

	env.createSession(t, "alice", "198.51.100.20")
	env.createSession(t, "bob", "198.51.100.20")
	env.clock.Advance(2 * time.Hour)

	res, err := env.engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Expired != 1 || !res.Incomplete {
		t.Fatalf("expected a partial pass, got %+v", res)
	}
	res, err = env.engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Expired != 1 || res.Incomplete {
		t.Fatalf("expected the remainder in the next pass, got %+v", res)
	}
}
