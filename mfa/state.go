package mfa

import (
	"crypto/subtle"
	"time"
)

// Method is the enrolled second-factor method.
type Method string

const (
	MethodNone Method = "none"
	MethodTOTP Method = "totp"
	MethodSMS  Method = "sms"
)

// BackupCode is one entry of the backup pool. Codes are never deleted; a
// consumed code keeps its hash for the audit trail.
type BackupCode struct {
	Hash      [32]byte  `json:"hash"`
	Used      bool      `json:"used"`
	UsedAt    time.Time `json:"used_at,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Usable reports whether the code can still be redeemed at now.
func (c BackupCode) Usable(now time.Time) bool {
	if c.Used {
		return false
	}
	return c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt)
}

// State is the persisted second-factor state of one identity.
type State struct {
	Identity        string       `json:"identity"`
	Enabled         bool         `json:"enabled"`
	Method          Method       `json:"method"`
	SealedSecret    []byte       `json:"sealed_secret,omitempty"`
	LastUsedCounter int64        `json:"last_used_counter"`
	LastVerifiedAt  time.Time    `json:"last_verified_at,omitempty"`
	EnabledAt       time.Time    `json:"enabled_at,omitempty"`
	DisabledAt      time.Time    `json:"disabled_at,omitempty"`
	BackupCodes     []BackupCode `json:"backup_codes,omitempty"`
}

// RemainingBackupCodes counts usable codes.
func (s *State) RemainingBackupCodes(now time.Time) int {
	if s == nil {
		return 0
	}
	n := 0
	for _, c := range s.BackupCodes {
		if c.Usable(now) {
			n++
		}
	}
	return n
}

// ConsumeBackupCode marks the usable code matching hash as used. It reports
// whether a code was consumed.
func (s *State) ConsumeBackupCode(hash [32]byte, now time.Time) bool {
	for i := range s.BackupCodes {
		c := &s.BackupCodes[i]
		if !c.Usable(now) {
			continue
		}
		if subtle.ConstantTimeCompare(c.Hash[:], hash[:]) == 1 {
			c.Used = true
			c.UsedAt = now
			return true
		}
	}
	return false
}

// RetireBackupCodes marks every outstanding code as used.
func (s *State) RetireBackupCodes(now time.Time) {
	for i := range s.BackupCodes {
		if !s.BackupCodes[i].Used {
			s.BackupCodes[i].Used = true
			s.BackupCodes[i].UsedAt = now
		}
	}
}

// Disable clears the secret and retires the backup pool.
func (s *State) Disable(now time.Time) {
	s.Enabled = false
	s.Method = MethodNone
	s.SealedSecret = nil
	s.LastUsedCounter = 0
	s.DisabledAt = now
	s.RetireBackupCodes(now)
}
