package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/goccy/go-json"

	"github.com/MrEthical07/goTrust/regionsync"
)

// GetUser returns the replicated user or nil.
func (s *Store) GetUser(ctx context.Context, id string) (*regionsync.UserRecord, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rec, err := scanUser(s.db.QueryRowContext(ctx, `SELECT id, attributes, deleted, updated_at, region
		FROM replicated_users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get user", err)
	}
	return rec, nil
}

func scanUser(row rowScanner) (*regionsync.UserRecord, error) {
	var (
		rec   regionsync.UserRecord
		attrs []byte
	)
	if err := row.Scan(&rec.ID, &attrs, &rec.Deleted, &rec.UpdatedAt, &rec.Region); err != nil {
		return nil, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &rec.Attributes); err != nil {
			return nil, err
		}
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

// ApplyUser writes rec when it wins last-writer-wins.
func (s *Store) ApplyUser(ctx context.Context, rec regionsync.UserRecord) (bool, error) {
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return false, err
	}

	var applied bool
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := scanUser(tx.QueryRowContext(ctx, `SELECT id, attributes, deleted, updated_at, region
			FROM replicated_users WHERE id = $1 FOR UPDATE`, rec.ID))
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		applied = current == nil || rec.Newer(*current)
		if !applied {
			return nil
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO replicated_users (id, attributes, deleted, updated_at, region)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET attributes = EXCLUDED.attributes, deleted = EXCLUDED.deleted,
				updated_at = EXCLUDED.updated_at, region = EXCLUDED.region`,
			rec.ID, attrs, rec.Deleted, rec.UpdatedAt, rec.Region)
		return err
	})
	if err != nil {
		return false, wrap("apply user", err)
	}
	return applied, nil
}
