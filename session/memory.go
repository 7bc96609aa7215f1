package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-process [Repository] for tests and single-node
// development.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]*Session)}
}

func (r *MemoryRepository) Create(_ context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.ID]; exists {
		return errors.New("session already exists")
	}
	r.sessions[s.ID] = s.Clone()
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (r *MemoryRepository) ListActive(_ context.Context, identity string) ([]*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0)
	for _, s := range r.sessions {
		if s.Identity == identity && s.IsActive() {
			out = append(out, s.Clone())
		}
	}
	sortByCreation(out)
	return out, nil
}

func (r *MemoryRepository) Touch(_ context.Context, id string, at time.Time) (*Session, error) {
	return r.mutate(id, func(s *Session) error { return s.ApplyTouch(at) })
}

func (r *MemoryRepository) Extend(_ context.Context, id string, expiresAt time.Time) (*Session, error) {
	return r.mutate(id, func(s *Session) error { return s.ApplyExtend(expiresAt) })
}

func (r *MemoryRepository) CompleteMFA(_ context.Context, id string) (*Session, error) {
	return r.mutate(id, func(s *Session) error { return s.ApplyMFACompleted() })
}

func (r *MemoryRepository) Terminate(_ context.Context, id, reason string, at time.Time) (*Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	changed := s.ApplyTerminate(reason, at)
	return s.Clone(), changed, nil
}

func (r *MemoryRepository) ScanActive(ctx context.Context, fn func(*Session) error) error {
	r.mu.Lock()
	active := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.IsActive() {
			active = append(active, s.Clone())
		}
	}
	r.mu.Unlock()

	sortByCreation(active)
	for _, s := range active {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}

func (r *MemoryRepository) mutate(id string, apply func(*Session) error) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := s.Clone()
	if err := apply(next); err != nil {
		return nil, err
	}
	r.sessions[id] = next
	return next.Clone(), nil
}

// sortByCreation orders oldest first, breaking ties by id.
func sortByCreation(list []*Session) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

// SortByCreation orders sessions oldest first.
func SortByCreation(list []*Session) { sortByCreation(list) }
