package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestTieredReadFallsBackAndRepopulates(t *testing.T) {
	m, _, done := newMirrorTest(t)
	defer done()
	ctx := context.Background()
	now := time.Now().UTC()

	repo := NewMemoryRepository()
	s := testSession(now)
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}

	tiered := NewTiered(m, repo, func() time.Time { return now }, zerolog.Nop())
	got, src, err := tiered.Read(ctx, s.ID)
	if err != nil || src != SourceStore {
		t.Fatalf("first read: src=%v err=%v", src, err)
	}
	if got.ID != s.ID {
		t.Fatalf("unexpected session %+v", got)
	}

	_, src, err = tiered.Read(ctx, s.ID)
	if err != nil || src != SourceMirror {
		t.Fatalf("second read should hit mirror: src=%v err=%v", src, err)
	}

	if _, _, err := tiered.Read(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTieredDegradesWhenMirrorDown(t *testing.T) {
	m, mr, done := newMirrorTest(t)
	defer done()
	ctx := context.Background()
	now := time.Now().UTC()

	repo := NewMemoryRepository()
	s := testSession(now)
	tiered := NewTiered(m, repo, func() time.Time { return now }, zerolog.Nop())
	if err := tiered.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}

	mr.Close()
	got, src, err := tiered.Read(ctx, s.ID)
	if err != nil || src != SourceStore || got == nil {
		t.Fatalf("expected durable fallback, src=%v err=%v", src, err)
	}
	if _, err := tiered.Touch(ctx, s.ID, now.Add(time.Minute)); err != nil {
		t.Fatalf("touch must not fail on mirror outage: %v", err)
	}
}

func TestTieredTerminateEvicts(t *testing.T) {
	m, _, done := newMirrorTest(t)
	defer done()
	ctx := context.Background()
	now := time.Now().UTC()

	repo := NewMemoryRepository()
	tiered := NewTiered(m, repo, func() time.Time { return now }, zerolog.Nop())
	s := testSession(now)
	if err := tiered.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, changed, err := tiered.Terminate(ctx, s.ID, ReasonLogout, now)
	if err != nil || !changed {
		t.Fatalf("terminate: changed=%v err=%v", changed, err)
	}
	_, changed, err = tiered.Terminate(ctx, s.ID, ReasonLogout, now)
	if err != nil || changed {
		t.Fatalf("second terminate: changed=%v err=%v", changed, err)
	}
	if _, ok, _ := m.Read(ctx, s.ID); ok {
		t.Fatal("mirror entry must be evicted")
	}
	got, src, err := tiered.Read(ctx, s.ID)
	if err != nil || src != SourceStore || got.IsActive() {
		t.Fatalf("terminated session should come from store inactive: src=%v err=%v", src, err)
	}
}

func TestWrapStoreError(t *testing.T) {
	if err := WrapStoreError(ErrNotFound); err != ErrNotFound {
		t.Fatalf("domain error rewrapped: %v", err)
	}
	err := WrapStoreError(errors.New("disk full"))
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
