package badgerstore

import (
	"context"

	"github.com/dgraph-io/badger/v4"

	"github.com/MrEthical07/goTrust/regionsync"
	"github.com/MrEthical07/goTrust/session"
)

// GetUser returns the replicated user or nil. Tombstones are returned with
// Deleted set.
func (s *Store) GetUser(ctx context.Context, id string) (*regionsync.UserRecord, error) {
	var (
		rec   regionsync.UserRecord
		found bool
	)
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, key(prefixUser, id), &rec)
		return err
	})
	if err != nil {
		return nil, session.WrapStoreError(err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

// ApplyUser stores rec when it wins last-writer-wins against the stored row.
// Deletes are kept as tombstones so stale updates cannot resurrect a user.
func (s *Store) ApplyUser(ctx context.Context, rec regionsync.UserRecord) (bool, error) {
	var applied bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		var current regionsync.UserRecord
		found, err := getJSON(txn, key(prefixUser, rec.ID), &current)
		if err != nil {
			return err
		}
		applied = !found || rec.Newer(current)
		if !applied {
			return nil
		}
		return setJSON(txn, key(prefixUser, rec.ID), rec, 0)
	})
	if err != nil {
		return false, session.WrapStoreError(err)
	}
	return applied, nil
}
