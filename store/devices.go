package store

import (
	"time"

	"github.com/MrEthical07/goTrust/device"
)

// MergeDeviceUse folds a sighting into the stored row and reports whether
// the result counts as a newly trusted device. Backends call it inside their
// read-modify-write.
func MergeDeviceUse(existing device.TrustedDevice, found bool, seen device.TrustedDevice) (device.TrustedDevice, bool) {
	if !found || existing.Level == device.TrustRevoked {
		seen.Level = device.TrustStandard
		seen.RevokedAt = time.Time{}
		if seen.FirstSeenAt.IsZero() {
			seen.FirstSeenAt = seen.LastUsedAt
		}
		return seen, true
	}
	if seen.LastUsedAt.After(existing.LastUsedAt) {
		existing.LastUsedAt = seen.LastUsedAt
	}
	if seen.Country != "" {
		existing.Country = seen.Country
		existing.City = seen.City
	}
	if seen.Label != "" {
		existing.Label = seen.Label
	}
	return existing, false
}

// ApplyTrust sets level on d and maintains RevokedAt.
func ApplyTrust(d *device.TrustedDevice, level device.TrustLevel, at time.Time) {
	d.Level = level
	if level == device.TrustRevoked {
		if d.RevokedAt.IsZero() {
			d.RevokedAt = at
		}
		return
	}
	d.RevokedAt = time.Time{}
}
