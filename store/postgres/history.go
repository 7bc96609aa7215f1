package postgres

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/MrEthical07/goTrust/risk"
)

// RecordLogin appends rec to login_history.
func (s *Store) RecordLogin(ctx context.Context, rec risk.LoginRecord) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var geo []byte
	if rec.Geo != nil {
		var err error
		if geo, err = json.Marshal(rec.Geo); err != nil {
			return err
		}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO login_history
		(identity, at, succeeded, ip, fingerprint, geo, flagged)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.Identity, rec.At, rec.Succeeded, rec.IP, rec.Fingerprint, geo, rec.Flagged)
	return wrap("record login", err)
}

// LoginHistory returns records newer than since, newest first.
func (s *Store) LoginHistory(ctx context.Context, identity string, since time.Time, limit int) ([]risk.LoginRecord, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT identity, at, succeeded, ip, fingerprint, geo, flagged
		FROM login_history
		WHERE identity = $1 AND ($2::timestamptz IS NULL OR at > $2)
		ORDER BY at DESC, id DESC
		LIMIT $3`, identity, nullTime(since), nullLimit(limit))
	if err != nil {
		return nil, wrap("login history", err)
	}
	defer rows.Close()

	out := make([]risk.LoginRecord, 0)
	for rows.Next() {
		var (
			rec risk.LoginRecord
			geo []byte
		)
		if err := rows.Scan(&rec.Identity, &rec.At, &rec.Succeeded, &rec.IP, &rec.Fingerprint, &geo, &rec.Flagged); err != nil {
			return nil, wrap("scan login", err)
		}
		if len(geo) > 0 {
			rec.Geo = &risk.GeoPoint{}
			if err := json.Unmarshal(geo, rec.Geo); err != nil {
				return nil, wrap("decode geo", err)
			}
		}
		rec.At = rec.At.UTC()
		out = append(out, rec)
	}
	return out, wrap("login history", rows.Err())
}

// AppendAssessment inserts a. Existing ids are left untouched.
func (s *Store) AppendAssessment(ctx context.Context, a risk.Assessment) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	factors, err := json.Marshal(a.Factors)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO risk_assessments
		(id, identity, score, factors, account_age_days, succeeded, ip, fingerprint, country, assessed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		a.ID, a.Identity, a.Score, factors, a.AccountAgeDays, a.Succeeded, a.IP, a.Fingerprint, a.Country, a.AssessedAt)
	return wrap("append assessment", err)
}

// ListAssessments returns the newest assessments first.
func (s *Store) ListAssessments(ctx context.Context, identity string, limit int) ([]risk.Assessment, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT id, identity, score, factors, account_age_days,
		succeeded, ip, fingerprint, country, assessed_at
		FROM risk_assessments WHERE identity = $1
		ORDER BY assessed_at DESC LIMIT $2`, identity, nullLimit(limit))
	if err != nil {
		return nil, wrap("list assessments", err)
	}
	defer rows.Close()

	out := make([]risk.Assessment, 0)
	for rows.Next() {
		var (
			a       risk.Assessment
			factors []byte
		)
		if err := rows.Scan(&a.ID, &a.Identity, &a.Score, &factors, &a.AccountAgeDays,
			&a.Succeeded, &a.IP, &a.Fingerprint, &a.Country, &a.AssessedAt); err != nil {
			return nil, wrap("scan assessment", err)
		}
		if err := json.Unmarshal(factors, &a.Factors); err != nil {
			return nil, wrap("decode factors", err)
		}
		a.AssessedAt = a.AssessedAt.UTC()
		out = append(out, a)
	}
	return out, wrap("list assessments", rows.Err())
}
