package badgerstore

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/MrEthical07/goTrust/risk"
	"github.com/MrEthical07/goTrust/session"
)

// RecordLogin appends rec to the identity's history.
func (s *Store) RecordLogin(ctx context.Context, rec risk.LoginRecord) error {
	k := key(prefixHistory, rec.Identity, inverted(rec.At), uuid.NewString())
	err := s.update(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, k, rec, s.retention)
	})
	return session.WrapStoreError(err)
}

// LoginHistory returns records newer than since, newest first.
func (s *Store) LoginHistory(ctx context.Context, identity string, since time.Time, limit int) ([]risk.LoginRecord, error) {
	out := make([]risk.LoginRecord, 0)
	err := s.view(ctx, func(txn *badger.Txn) error {
		return eachJSON(txn, prefix(prefixHistory, identity), func(rec risk.LoginRecord) (bool, error) {
			if !since.IsZero() && !rec.At.After(since) {
				return false, nil
			}
			out = append(out, rec)
			return limit <= 0 || len(out) < limit, nil
		})
	})
	if err != nil {
		return nil, session.WrapStoreError(err)
	}
	return out, nil
}

// AppendAssessment stores a. Assessments are never rewritten.
func (s *Store) AppendAssessment(ctx context.Context, a risk.Assessment) error {
	id := a.ID
	if id == "" {
		id = uuid.NewString()
	}
	k := key(prefixAssessment, a.Identity, inverted(a.AssessedAt), id)
	err := s.update(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, k, a, 0)
	})
	return session.WrapStoreError(err)
}

// ListAssessments returns the newest assessments first.
func (s *Store) ListAssessments(ctx context.Context, identity string, limit int) ([]risk.Assessment, error) {
	out := make([]risk.Assessment, 0)
	err := s.view(ctx, func(txn *badger.Txn) error {
		return eachJSON(txn, prefix(prefixAssessment, identity), func(a risk.Assessment) (bool, error) {
			out = append(out, a)
			return limit <= 0 || len(out) < limit, nil
		})
	})
	if err != nil {
		return nil, session.WrapStoreError(err)
	}
	return out, nil
}
