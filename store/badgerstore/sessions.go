package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/MrEthical07/goTrust/session"
)

var errSessionExists = errors.New("session already exists")

func sessionKey(id string) []byte { return key(prefixSession, id) }

func indexKey(identity, id string) []byte { return key(prefixIdentity, identity, id) }

// Create inserts s and indexes it under its identity.
func (s *Store) Create(ctx context.Context, sess *session.Session) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(sessionKey(sess.ID)); err == nil {
			return errSessionExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := setJSON(txn, sessionKey(sess.ID), sess, 0); err != nil {
			return err
		}
		if sess.IsActive() {
			return txn.Set(indexKey(sess.Identity, sess.ID), nil)
		}
		return nil
	})
	if errors.Is(err, errSessionExists) {
		return fmt.Errorf("create session %s: %w", sess.ID, err)
	}
	return session.WrapStoreError(err)
}

// Get returns the session or session.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*session.Session, error) {
	var out session.Session
	err := s.view(ctx, func(txn *badger.Txn) error {
		ok, err := getJSON(txn, sessionKey(id), &out)
		if err != nil {
			return err
		}
		if !ok {
			return session.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, session.WrapStoreError(err)
	}
	return &out, nil
}

// ListActive returns the identity's active sessions oldest first.
func (s *Store) ListActive(ctx context.Context, identity string) ([]*session.Session, error) {
	out := make([]*session.Session, 0)
	err := s.view(ctx, func(txn *badger.Txn) error {
		p := prefix(prefixIdentity, identity)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			id := string(it.Item().Key()[len(p):])
			var sess session.Session
			ok, err := getJSON(txn, sessionKey(id), &sess)
			if err != nil {
				return err
			}
			if ok && sess.IsActive() {
				out = append(out, &sess)
			}
		}
		return nil
	})
	if err != nil {
		return nil, session.WrapStoreError(err)
	}
	session.SortByCreation(out)
	return out, nil
}

// Touch records activity.
func (s *Store) Touch(ctx context.Context, id string, at time.Time) (*session.Session, error) {
	return s.mutate(ctx, id, func(sess *session.Session) error { return sess.ApplyTouch(at) })
}

// Extend moves the expiry.
func (s *Store) Extend(ctx context.Context, id string, expiresAt time.Time) (*session.Session, error) {
	return s.mutate(ctx, id, func(sess *session.Session) error { return sess.ApplyExtend(expiresAt) })
}

// CompleteMFA sets the one-way MFA flag.
func (s *Store) CompleteMFA(ctx context.Context, id string) (*session.Session, error) {
	return s.mutate(ctx, id, func(sess *session.Session) error { return sess.ApplyMFACompleted() })
}

// Terminate soft-deletes the session and drops it from the active index.
func (s *Store) Terminate(ctx context.Context, id, reason string, at time.Time) (*session.Session, bool, error) {
	var (
		out     session.Session
		changed bool
	)
	err := s.update(ctx, func(txn *badger.Txn) error {
		out = session.Session{}
		ok, err := getJSON(txn, sessionKey(id), &out)
		if err != nil {
			return err
		}
		if !ok {
			return session.ErrNotFound
		}
		changed = out.ApplyTerminate(reason, at)
		if !changed {
			return nil
		}
		if err := setJSON(txn, sessionKey(id), &out, 0); err != nil {
			return err
		}
		return txn.Delete(indexKey(out.Identity, id))
	})
	if err != nil {
		return nil, false, session.WrapStoreError(err)
	}
	return &out, changed, nil
}

// ScanActive visits every active session oldest first.
func (s *Store) ScanActive(ctx context.Context, fn func(*session.Session) error) error {
	active := make([]*session.Session, 0)
	err := s.view(ctx, func(txn *badger.Txn) error {
		return eachJSON(txn, prefix(prefixSession), func(sess session.Session) (bool, error) {
			if sess.IsActive() {
				active = append(active, &sess)
			}
			return true, nil
		})
	})
	if err != nil {
		return session.WrapStoreError(err)
	}

	session.SortByCreation(active)
	for _, sess := range active {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(sess); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) mutate(ctx context.Context, id string, apply func(*session.Session) error) (*session.Session, error) {
	var out session.Session
	err := s.update(ctx, func(txn *badger.Txn) error {
		out = session.Session{}
		ok, err := getJSON(txn, sessionKey(id), &out)
		if err != nil {
			return err
		}
		if !ok {
			return session.ErrNotFound
		}
		if err := apply(&out); err != nil {
			return err
		}
		return setJSON(txn, sessionKey(id), &out, 0)
	})
	if err != nil {
		return nil, session.WrapStoreError(err)
	}
	return &out, nil
}
