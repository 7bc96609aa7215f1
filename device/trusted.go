package device

import "time"

// TrustLevel grades a known device.
type TrustLevel uint8

const (
	TrustStandard TrustLevel = iota + 1
	TrustElevated
	TrustRevoked
)

func (l TrustLevel) String() string {
	switch l {
	case TrustStandard:
		return "standard"
	case TrustElevated:
		return "elevated"
	case TrustRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// TrustedDevice is a device an identity has successfully signed in from.
// The pair (Identity, Fingerprint) is unique. Revocation is a soft delete.
type TrustedDevice struct {
	Identity    string     `json:"identity"`
	Fingerprint string     `json:"fingerprint"`
	Level       TrustLevel `json:"level"`
	Label       string     `json:"label,omitempty"`
	FirstSeenAt time.Time  `json:"first_seen_at"`
	LastUsedAt  time.Time  `json:"last_used_at"`
	Country     string     `json:"country,omitempty"`
	City        string     `json:"city,omitempty"`
	RevokedAt   time.Time  `json:"revoked_at,omitempty"`
}

// Trusted reports whether the device still counts as known.
func (d *TrustedDevice) Trusted() bool {
	return d != nil && d.Level != TrustRevoked
}

// Label renders a short human description such as "Chrome on Mac OS X".
func (i Info) Label() string {
	switch {
	case i.Browser != "" && i.OS != "":
		return i.Browser + " on " + i.OS
	case i.Browser != "":
		return i.Browser
	case i.OS != "":
		return i.OS
	}
	return "Unknown device"
}
