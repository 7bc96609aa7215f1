package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned when no session exists for an id.
	ErrNotFound = errors.New("session not found")
	// ErrStoreUnavailable wraps durable store failures. Callers may retry.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrMirrorUnavailable wraps Redis mirror failures.
	ErrMirrorUnavailable = errors.New("session mirror unavailable")
)

// Repository is the durable, authoritative session store. Every mutating
// method is a single atomic read-modify-write of one session row and
// applies the matching Apply* transition.
type Repository interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	ListActive(ctx context.Context, identity string) ([]*Session, error)

	Touch(ctx context.Context, id string, at time.Time) (*Session, error)
	Extend(ctx context.Context, id string, expiresAt time.Time) (*Session, error)
	CompleteMFA(ctx context.Context, id string) (*Session, error)
	// Terminate reports whether this call performed the transition.
	Terminate(ctx context.Context, id, reason string, at time.Time) (*Session, bool, error)

	// ScanActive calls fn for every active session until fn returns an error.
	ScanActive(ctx context.Context, fn func(*Session) error) error
}

// Cache is the volatile first tier.
type Cache interface {
	Read(ctx context.Context, id string) (*Session, bool, error)
	Write(ctx context.Context, s *Session, ttl time.Duration) error
	Evict(ctx context.Context, identity, id string) error
}

// Source tells which tier served a read.
type Source uint8

const (
	SourceNone Source = iota
	SourceMirror
	SourceStore
)

// Tiered reads through the cache and writes through to both tiers. Cache
// failures are logged and degrade to the durable store.
type Tiered struct {
	cache  Cache
	store  Repository
	now    func() time.Time
	logger zerolog.Logger
}

// NewTiered wires the two tiers. cache may be nil, in which case every read
// goes to the store.
func NewTiered(cache Cache, store Repository, now func() time.Time, logger zerolog.Logger) *Tiered {
	if now == nil {
		now = time.Now
	}
	return &Tiered{
		cache:  cache,
		store:  store,
		now:    now,
		logger: logger.With().Str("component", "session.tiered").Logger(),
	}
}

// Store returns the durable tier.
func (t *Tiered) Store() Repository { return t.store }

// Read returns the session with id, or ErrNotFound. A durable hit for an
// active session is written back to the cache.
func (t *Tiered) Read(ctx context.Context, id string) (*Session, Source, error) {
	if t.cache != nil {
		s, ok, err := t.cache.Read(ctx, id)
		switch {
		case err != nil:
			t.logger.Warn().Err(err).Str("session_id", id).Msg("mirror read failed, using durable store")
		case ok:
			return s, SourceMirror, nil
		}
	}

	s, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, SourceNone, err
	}
	if s.IsActive() {
		t.mirror(ctx, s)
	}
	return s, SourceStore, nil
}

// ReadDurable bypasses the cache.
func (t *Tiered) ReadDurable(ctx context.Context, id string) (*Session, error) {
	return t.store.Get(ctx, id)
}

// Create persists s durably and mirrors it.
func (t *Tiered) Create(ctx context.Context, s *Session) error {
	if err := t.store.Create(ctx, s); err != nil {
		return err
	}
	t.mirror(ctx, s)
	return nil
}

// Touch writes an activity bump through both tiers.
func (t *Tiered) Touch(ctx context.Context, id string, at time.Time) (*Session, error) {
	s, err := t.store.Touch(ctx, id, at)
	if err != nil {
		return nil, err
	}
	t.mirror(ctx, s)
	return s, nil
}

// Extend writes a new expiry through both tiers.
func (t *Tiered) Extend(ctx context.Context, id string, expiresAt time.Time) (*Session, error) {
	s, err := t.store.Extend(ctx, id, expiresAt)
	if err != nil {
		return nil, err
	}
	t.mirror(ctx, s)
	return s, nil
}

// CompleteMFA flips the MFA flag in both tiers.
func (t *Tiered) CompleteMFA(ctx context.Context, id string) (*Session, error) {
	s, err := t.store.CompleteMFA(ctx, id)
	if err != nil {
		return nil, err
	}
	t.mirror(ctx, s)
	return s, nil
}

// Terminate soft-deletes durably and evicts the cache entry. Eviction runs
// even when the durable row was already terminated.
func (t *Tiered) Terminate(ctx context.Context, id, reason string, at time.Time) (*Session, bool, error) {
	s, changed, err := t.store.Terminate(ctx, id, reason, at)
	if err != nil {
		return nil, false, err
	}
	t.Evict(ctx, s.Identity, id)
	return s, changed, nil
}

// Evict drops the cache entry for id.
func (t *Tiered) Evict(ctx context.Context, identity, id string) {
	if t.cache == nil {
		return
	}
	if err := t.cache.Evict(ctx, identity, id); err != nil {
		t.logger.Warn().Err(err).Str("session_id", id).Msg("mirror evict failed")
	}
}

func (t *Tiered) mirror(ctx context.Context, s *Session) {
	if t.cache == nil {
		return
	}
	ttl := s.ExpiresAt.Sub(t.now())
	if ttl <= 0 {
		return
	}
	if err := t.cache.Write(ctx, s, ttl); err != nil {
		t.logger.Warn().Err(err).Str("session_id", s.ID).Msg("mirror write failed")
	}
}

// WrapStoreError tags err as a durable store failure unless it is already a
// domain error.
func WrapStoreError(err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrTransition) || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
