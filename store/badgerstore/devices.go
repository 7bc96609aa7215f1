package badgerstore

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/MrEthical07/goTrust/device"
	"github.com/MrEthical07/goTrust/session"
	"github.com/MrEthical07/goTrust/store"
)

func deviceKey(identity, fingerprint string) []byte {
	return key(prefixDevice, identity, fingerprint)
}

// GetDevice returns the device row or nil.
func (s *Store) GetDevice(ctx context.Context, identity, fingerprint string) (*device.TrustedDevice, error) {
	var (
		d     device.TrustedDevice
		found bool
	)
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, deviceKey(identity, fingerprint), &d)
		return err
	})
	if err != nil {
		return nil, session.WrapStoreError(err)
	}
	if !found {
		return nil, nil
	}
	return &d, nil
}

// RecordDeviceUse upserts d.
func (s *Store) RecordDeviceUse(ctx context.Context, d device.TrustedDevice) (device.TrustedDevice, bool, error) {
	var (
		stored  device.TrustedDevice
		created bool
	)
	err := s.update(ctx, func(txn *badger.Txn) error {
		var existing device.TrustedDevice
		found, err := getJSON(txn, deviceKey(d.Identity, d.Fingerprint), &existing)
		if err != nil {
			return err
		}
		stored, created = store.MergeDeviceUse(existing, found, d)
		return setJSON(txn, deviceKey(d.Identity, d.Fingerprint), stored, 0)
	})
	if err != nil {
		return device.TrustedDevice{}, false, session.WrapStoreError(err)
	}
	return stored, created, nil
}

// ListDevices returns every device row of identity, revoked ones included.
func (s *Store) ListDevices(ctx context.Context, identity string) ([]device.TrustedDevice, error) {
	out := make([]device.TrustedDevice, 0)
	err := s.view(ctx, func(txn *badger.Txn) error {
		return eachJSON(txn, prefix(prefixDevice, identity), func(d device.TrustedDevice) (bool, error) {
			out = append(out, d)
			return true, nil
		})
	})
	if err != nil {
		return nil, session.WrapStoreError(err)
	}
	return out, nil
}

// SetDeviceTrust changes the trust level of an existing row.
func (s *Store) SetDeviceTrust(ctx context.Context, identity, fingerprint string, level device.TrustLevel, at time.Time) (*device.TrustedDevice, error) {
	var (
		d     device.TrustedDevice
		found bool
	)
	err := s.update(ctx, func(txn *badger.Txn) error {
		var err error
		d = device.TrustedDevice{}
		found, err = getJSON(txn, deviceKey(identity, fingerprint), &d)
		if err != nil || !found {
			return err
		}
		store.ApplyTrust(&d, level, at)
		return setJSON(txn, deviceKey(identity, fingerprint), d, 0)
	})
	if err != nil {
		return nil, session.WrapStoreError(err)
	}
	if !found {
		return nil, nil
	}
	return &d, nil
}
