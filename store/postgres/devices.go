package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/MrEthical07/goTrust/device"
	"github.com/MrEthical07/goTrust/store"
)

const deviceColumns = `identity, fingerprint, level, label, first_seen_at, last_used_at, country, city, revoked_at`

func scanDevice(row rowScanner) (device.TrustedDevice, error) {
	var (
		d       device.TrustedDevice
		level   int16
		revoked sql.NullTime
	)
	err := row.Scan(&d.Identity, &d.Fingerprint, &level, &d.Label, &d.FirstSeenAt, &d.LastUsedAt, &d.Country, &d.City, &revoked)
	d.Level = device.TrustLevel(level)
	d.RevokedAt = fromNullTime(revoked)
	d.FirstSeenAt = d.FirstSeenAt.UTC()
	d.LastUsedAt = d.LastUsedAt.UTC()
	return d, err
}

func upsertDevice(ctx context.Context, tx *sql.Tx, d device.TrustedDevice) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO trusted_devices (`+deviceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (identity, fingerprint) DO UPDATE SET
			level = EXCLUDED.level, label = EXCLUDED.label, first_seen_at = EXCLUDED.first_seen_at,
			last_used_at = EXCLUDED.last_used_at, country = EXCLUDED.country, city = EXCLUDED.city,
			revoked_at = EXCLUDED.revoked_at`,
		d.Identity, d.Fingerprint, int16(d.Level), d.Label, d.FirstSeenAt, d.LastUsedAt, d.Country, d.City, nullTime(d.RevokedAt))
	return err
}

// GetDevice returns the device row or nil.
func (s *Store) GetDevice(ctx context.Context, identity, fingerprint string) (*device.TrustedDevice, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	d, err := scanDevice(s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM trusted_devices
		WHERE identity = $1 AND fingerprint = $2`, identity, fingerprint))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get device", err)
	}
	return &d, nil
}

// RecordDeviceUse upserts a sighting of d.
func (s *Store) RecordDeviceUse(ctx context.Context, d device.TrustedDevice) (device.TrustedDevice, bool, error) {
	var (
		stored  device.TrustedDevice
		created bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanDevice(tx.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM trusted_devices
			WHERE identity = $1 AND fingerprint = $2 FOR UPDATE`, d.Identity, d.Fingerprint))
		found := err == nil
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		stored, created = store.MergeDeviceUse(existing, found, d)
		return upsertDevice(ctx, tx, stored)
	})
	if err != nil {
		return device.TrustedDevice{}, false, wrap("record device", err)
	}
	return stored, created, nil
}

// ListDevices returns every device row of identity.
func (s *Store) ListDevices(ctx context.Context, identity string) ([]device.TrustedDevice, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM trusted_devices
		WHERE identity = $1 ORDER BY first_seen_at, fingerprint`, identity)
	if err != nil {
		return nil, wrap("list devices", err)
	}
	defer rows.Close()

	out := make([]device.TrustedDevice, 0)
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, wrap("scan device", err)
		}
		out = append(out, d)
	}
	return out, wrap("list devices", rows.Err())
}

// SetDeviceTrust changes the trust level of an existing row.
func (s *Store) SetDeviceTrust(ctx context.Context, identity, fingerprint string, level device.TrustLevel, at time.Time) (*device.TrustedDevice, error) {
	var (
		d     device.TrustedDevice
		found bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		d, err = scanDevice(tx.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM trusted_devices
			WHERE identity = $1 AND fingerprint = $2 FOR UPDATE`, identity, fingerprint))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		store.ApplyTrust(&d, level, at)
		return upsertDevice(ctx, tx, d)
	})
	if err != nil {
		return nil, wrap("set device trust", err)
	}
	if !found {
		return nil, nil
	}
	return &d, nil
}
