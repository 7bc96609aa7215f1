// Package store declares the durable record stores behind the trust engine.
//
// Sessions are persisted through [session.Repository]. The interfaces here
// cover the remaining tables: login history and risk assessments
// (append-only), trusted devices keyed by (identity, fingerprint), MFA state
// with its backup-code pool, and the replicated user directory.
//
// Implementations live in store/badgerstore (embedded) and store/postgres.
// Missing rows are reported as nil values, not errors. Backend failures wrap
// [session.ErrStoreUnavailable].
package store

import (
	"context"
	"time"

	"github.com/MrEthical07/goTrust/device"
	"github.com/MrEthical07/goTrust/mfa"
	"github.com/MrEthical07/goTrust/regionsync"
	"github.com/MrEthical07/goTrust/risk"
	"github.com/MrEthical07/goTrust/session"
)

// History stores login attempts and the assessments computed for them.
type History interface {
	RecordLogin(ctx context.Context, rec risk.LoginRecord) error
	// LoginHistory returns records newer than since, newest first. limit <= 0
	// means no limit.
	LoginHistory(ctx context.Context, identity string, since time.Time, limit int) ([]risk.LoginRecord, error)

	AppendAssessment(ctx context.Context, a risk.Assessment) error
	// ListAssessments returns the newest assessments first.
	ListAssessments(ctx context.Context, identity string, limit int) ([]risk.Assessment, error)
}

// Devices stores trusted devices.
type Devices interface {
	GetDevice(ctx context.Context, identity, fingerprint string) (*device.TrustedDevice, error)
	// RecordDeviceUse inserts d or refreshes LastUsedAt and location on an
	// existing row. A revoked row is re-trusted at the standard level. created
	// reports whether the device was new or previously revoked.
	RecordDeviceUse(ctx context.Context, d device.TrustedDevice) (stored device.TrustedDevice, created bool, err error)
	ListDevices(ctx context.Context, identity string) ([]device.TrustedDevice, error)
	// SetDeviceTrust changes the trust level. It returns nil when no row exists.
	SetDeviceTrust(ctx context.Context, identity, fingerprint string, level device.TrustLevel, at time.Time) (*device.TrustedDevice, error)
}

// MFA stores second-factor state.
type MFA interface {
	GetMFA(ctx context.Context, identity string) (*mfa.State, error)
	// UpdateMFA atomically loads the state (a fresh disabled state when none
	// exists), applies fn and persists the result. If fn returns an error
	// nothing is written.
	UpdateMFA(ctx context.Context, identity string, fn func(*mfa.State) error) (*mfa.State, error)
}

// Users stores the replicated user directory.
type Users interface {
	GetUser(ctx context.Context, id string) (*regionsync.UserRecord, error)
	// ApplyUser writes rec if it is newer than the stored row
	// (last-writer-wins on UpdatedAt). It reports whether rec was applied.
	ApplyUser(ctx context.Context, rec regionsync.UserRecord) (bool, error)
}

// Backend is a complete durable store.
type Backend interface {
	session.Repository
	History
	Devices
	MFA
	Users
	Ping(ctx context.Context) error
	Close() error
}

// NewMFAState returns the initial state for an identity with no enrollment.
func NewMFAState(identity string) *mfa.State {
	return &mfa.State{Identity: identity, Method: mfa.MethodNone}
}
