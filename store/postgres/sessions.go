package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goTrust/session"
)

const sessionColumns = `id, identity, region, created_at, expires_at, last_activity_at,
	absolute_expires_at, ip, fingerprint, user_agent, country, city, latitude, longitude,
	mfa_completed, mfa_pending, status, terminated_reason, terminated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*session.Session, error) {
	var (
		s            session.Session
		status       int16
		terminatedAt sql.NullTime
	)
	err := row.Scan(
		&s.ID, &s.Identity, &s.Region, &s.CreatedAt, &s.ExpiresAt, &s.LastActivityAt,
		&s.AbsoluteExpiresAt, &s.Context.IP, &s.Context.Fingerprint, &s.Context.UserAgent,
		&s.Context.Country, &s.Context.City, &s.Context.Latitude, &s.Context.Longitude,
		&s.MFACompleted, &s.MFAPending, &status, &s.State.Reason, &terminatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.State.Status = session.Status(status)
	s.State.At = fromNullTime(terminatedAt)
	s.CreatedAt = s.CreatedAt.UTC()
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.LastActivityAt = s.LastActivityAt.UTC()
	s.AbsoluteExpiresAt = s.AbsoluteExpiresAt.UTC()
	return &s, nil
}

// Create inserts s.
func (s *Store) Create(ctx context.Context, sess *session.Session) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		sess.ID, sess.Identity, sess.Region, sess.CreatedAt, sess.ExpiresAt, sess.LastActivityAt,
		sess.AbsoluteExpiresAt, sess.Context.IP, sess.Context.Fingerprint, sess.Context.UserAgent,
		sess.Context.Country, sess.Context.City, sess.Context.Latitude, sess.Context.Longitude,
		sess.MFACompleted, sess.MFAPending, int16(sess.State.Status), sess.State.Reason, nullTime(sess.State.At),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("create session %s: already exists", sess.ID)
	}
	return wrap("create session", err)
}

// Get returns the session or session.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*session.Session, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	out, err := scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, wrap("get session", err)
	}
	return out, nil
}

// ListActive returns active sessions of identity oldest first.
func (s *Store) ListActive(ctx context.Context, identity string) ([]*session.Session, error) {
	return s.querySessions(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE identity = $1 AND status = $2 ORDER BY created_at, id`, identity, int16(session.StatusActive))
}

// ScanActive visits every active session oldest first. Rows are read before
// fn runs so fn may call back into the store.
func (s *Store) ScanActive(ctx context.Context, fn func(*session.Session) error) error {
	active, err := s.querySessions(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE status = $1 ORDER BY created_at, id`, int16(session.StatusActive))
	if err != nil {
		return err
	}
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

func (s *Store) querySessions(ctx context.Context, query string, args ...any) ([]*session.Session, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list sessions", err)
	}
	defer rows.Close()

	out := make([]*session.Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, wrap("scan session", err)
		}
		out = append(out, sess)
	}
	return out, wrap("list sessions", rows.Err())
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

// Terminate soft-deletes the session.
func (s *Store) Terminate(ctx context.Context, id, reason string, at time.Time) (*session.Session, bool, error) {
	var (
		out     *session.Session
		changed bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = lockSession(ctx, tx, id)
		if err != nil {
			return err
		}
		changed = out.ApplyTerminate(reason, at)
		if !changed {
			return nil
		}
		return saveSession(ctx, tx, out)
	})
	if err != nil {
		return nil, false, wrap("terminate session", err)
	}
	return out, changed, nil
}

func (s *Store) mutate(ctx context.Context, id string, apply func(*session.Session) error) (*session.Session, error) {
	var out *session.Session
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = lockSession(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := apply(out); err != nil {
			return err
		}
		return saveSession(ctx, tx, out)
	})
	if err != nil {
		return nil, wrap("update session", err)
	}
	return out, nil
}

func lockSession(ctx context.Context, tx *sql.Tx, id string) (*session.Session, error) {
	sess, err := scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	return sess, err
}

func saveSession(ctx context.Context, tx *sql.Tx, sess *session.Session) error {
	_, err := tx.ExecContext(ctx, `UPDATE sessions SET
		expires_at = $2, last_activity_at = $3, mfa_completed = $4, mfa_pending = $5,
		status = $6, terminated_reason = $7, terminated_at = $8
		WHERE id = $1`,
		sess.ID, sess.ExpiresAt, sess.LastActivityAt, sess.MFACompleted, sess.MFAPending,
		int16(sess.State.Status), sess.State.Reason, nullTime(sess.State.At),
	)
	return err
}
