// Package badgerstore implements the durable stores on an embedded BadgerDB.
//
// Keys are namespaced by a one-letter table prefix and NUL-separated parts:
//
//	s  <id>                        session JSON
//	si <identity> <id>             active-session index
//	h  <identity> <inverted ts> <uuid> login record (TTL = history retention)
//	a  <identity> <inverted ts> <id>   risk assessment
//	d  <identity> <fingerprint>    trusted device
//	m  <identity>                  MFA state
//	u  <id>                        replicated user
//
// Inverted timestamps make prefix iteration return newest entries first.
// Every mutation is a single Badger transaction; conflicting transactions
// are retried.
package badgerstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/MrEthical07/goTrust/session"
	"github.com/MrEthical07/goTrust/store"
)

const (
	prefixSession    = "s"
	prefixIdentity   = "si"
	prefixHistory    = "h"
	prefixAssessment = "a"
	prefixDevice     = "d"
	prefixMFA        = "m"
	prefixUser       = "u"

	sep = "\x00"

	maxConflictRetries = 8
)

// Options tunes the store.
type Options struct {
	// Path is the data directory. Empty with InMemory set runs without disk.
	Path     string
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// HistoryRetention bounds how long login records are kept. Zero keeps
	// them forever.
	HistoryRetention time.Duration
}

// DefaultOptions returns options for a data directory at path.
func DefaultOptions(path string) Options {
	return Options{
		Path:             path,
		SyncWrites:       true,
		HistoryRetention: 90 * 24 * time.Hour,
	}
}

// Store is a [store.Backend] on BadgerDB.
type Store struct {
	db        *badger.DB
	retention time.Duration
	ownsDB    bool
}

var _ store.Backend = (*Store)(nil)

// Open opens or creates the database described by opts.
func Open(opts Options) (*Store, error) {
	bo := badger.DefaultOptions(opts.Path)
	if opts.InMemory {
		bo = badger.DefaultOptions("").WithInMemory(true)
	}
	bo.Logger = nil
	bo.SyncWrites = opts.SyncWrites
	bo.ValueLogFileSize = 64 << 20

	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db, retention: opts.HistoryRetention, ownsDB: true}, nil
}

// New wraps an existing database. Close leaves db open.
func New(db *badger.DB, opts Options) *Store {
	return &Store{db: db, retention: opts.HistoryRetention}
}

// Close releases the database if Open created it.
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database accepts transactions.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return fmt.Errorf("%w: badger closed", session.ErrStoreUnavailable)
	}
	return nil
}

// RunGC reclaims value log space. It returns nil when nothing was rewritten.
func (s *Store) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

func key(parts ...string) []byte {
	var b bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(p)
	}
	return b.Bytes()
}

// prefix returns key(parts...) followed by a separator so that identities
// sharing a leading substring never match each other.
func prefix(parts ...string) []byte {
	return append(key(parts...), sep...)
}

func inverted(t time.Time) string {
	return fmt.Sprintf("%020d", math.MaxInt64-t.UnixNano())
}

func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			continue
		}
		return err
	}
}

func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

// getJSON decodes the value at k into v. It reports false when k is absent.
func getJSON(txn *badger.Txn, k []byte, v any) (bool, error) {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, k []byte, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	e := badger.NewEntry(k, data)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return txn.SetEntry(e)
}

// eachJSON decodes every value under p in key order into a fresh T.
func eachJSON[T any](txn *badger.Txn, p []byte, fn func(T) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	opts.Prefix = p
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		var v T
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		}); err != nil {
			return err
		}
		more, err := fn(v)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}
