package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MrEthical07/goTrust/mfa"
	"github.com/MrEthical07/goTrust/store"
)

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadMFA(ctx context.Context, q querier, identity string, forUpdate bool) (*mfa.State, bool, error) {
	query := `SELECT identity, enabled, method, sealed_secret, last_used_counter,
		last_verified_at, enabled_at, disabled_at FROM mfa_state WHERE identity = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		st                          mfa.State
		method                      string
		verified, enabled, disabled sql.NullTime
	)
	err := q.QueryRowContext(ctx, query, identity).Scan(&st.Identity, &st.Enabled, &method, &st.SealedSecret,
		&st.LastUsedCounter, &verified, &enabled, &disabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	st.Method = mfa.Method(method)
	st.LastVerifiedAt = fromNullTime(verified)
	st.EnabledAt = fromNullTime(enabled)
	st.DisabledAt = fromNullTime(disabled)

	rows, err := q.QueryContext(ctx, `SELECT code_hash, used, used_at, expires_at
		FROM mfa_backup_codes WHERE identity = $1 ORDER BY position`, identity)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			c            mfa.BackupCode
			hash         []byte
			usedAt, exps sql.NullTime
		)
		if err := rows.Scan(&hash, &c.Used, &usedAt, &exps); err != nil {
			return nil, false, err
		}
		if len(hash) != len(c.Hash) {
			return nil, false, fmt.Errorf("backup code hash has %d bytes", len(hash))
		}
		copy(c.Hash[:], hash)
		c.UsedAt = fromNullTime(usedAt)
		c.ExpiresAt = fromNullTime(exps)
		st.BackupCodes = append(st.BackupCodes, c)
	}
	return &st, true, rows.Err()
}

// GetMFA returns the stored state or nil.
func (s *Store) GetMFA(ctx context.Context, identity string) (*mfa.State, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	st, found, err := loadMFA(ctx, s.db, identity, false)
	if err != nil {
		return nil, wrap("get mfa", err)
	}
	if !found {
		return nil, nil
	}
	return st, nil
}

// UpdateMFA applies fn under a row lock. Backup codes are upserted and never
// deleted.
func (s *Store) UpdateMFA(ctx context.Context, identity string, fn func(*mfa.State) error) (*mfa.State, error) {
	var (
		st    *mfa.State
		fnErr error
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO mfa_state (identity) VALUES ($1)
			ON CONFLICT (identity) DO NOTHING`, identity); err != nil {
			return err
		}
		loaded, found, err := loadMFA(ctx, tx, identity, true)
		if err != nil {
			return err
		}
		st = loaded
		if !found {
			st = store.NewMFAState(identity)
		}
		if st.Method == "" {
			st.Method = mfa.MethodNone
		}
		if fnErr = fn(st); fnErr != nil {
			return fnErr
		}
		return saveMFA(ctx, tx, st)
	})
	if fnErr != nil {
		return nil, fnErr
	}
	if err != nil {
		return nil, wrap("update mfa", err)
	}
	return st, nil
}

func saveMFA(ctx context.Context, tx *sql.Tx, st *mfa.State) error {
	if _, err := tx.ExecContext(ctx, `UPDATE mfa_state SET enabled = $2, method = $3, sealed_secret = $4,
		last_used_counter = $5, last_verified_at = $6, enabled_at = $7, disabled_at = $8
		WHERE identity = $1`,
		st.Identity, st.Enabled, string(st.Method), st.SealedSecret, st.LastUsedCounter,
		nullTime(st.LastVerifiedAt), nullTime(st.EnabledAt), nullTime(st.DisabledAt)); err != nil {
		return err
	}
	for i, c := range st.BackupCodes {
		if _, err := tx.ExecContext(ctx, `INSERT INTO mfa_backup_codes
			(identity, code_hash, used, used_at, expires_at, position)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (identity, code_hash) DO UPDATE SET
				used = EXCLUDED.used, used_at = EXCLUDED.used_at, position = EXCLUDED.position`,
			st.Identity, c.Hash[:], c.Used, nullTime(c.UsedAt), nullTime(c.ExpiresAt), i); err != nil {
			return err
		}
	}
	return nil
}
