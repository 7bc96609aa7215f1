package badgerstore

import (
	"context"

	"github.com/dgraph-io/badger/v4"

	"github.com/MrEthical07/goTrust/mfa"
	"github.com/MrEthical07/goTrust/session"
	"github.com/MrEthical07/goTrust/store"
)

// GetMFA returns the stored state or nil.
func (s *Store) GetMFA(ctx context.Context, identity string) (*mfa.State, error) {
	var (
		st    mfa.State
		found bool
	)
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, key(prefixMFA, identity), &st)
		return err
	})
	if err != nil {
		return nil, session.WrapStoreError(err)
	}
	if !found {
		return nil, nil
	}
	return &st, nil
}

// UpdateMFA applies fn to the identity's state inside one transaction.
func (s *Store) UpdateMFA(ctx context.Context, identity string, fn func(*mfa.State) error) (*mfa.State, error) {
	var (
		st    *mfa.State
		fnErr error
	)
	err := s.update(ctx, func(txn *badger.Txn) error {
		st = store.NewMFAState(identity)
		if _, err := getJSON(txn, key(prefixMFA, identity), st); err != nil {
			return err
		}
		if fnErr = fn(st); fnErr != nil {
			return nil
		}
		return setJSON(txn, key(prefixMFA, identity), st, 0)
	})
	if err != nil {
		return nil, session.WrapStoreError(err)
	}
	if fnErr != nil {
		return nil, fnErr
	}
	return st, nil
}
