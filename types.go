package goTrust

import (
	"time"

	"github.com/MrEthical07/goTrust/device"
	"github.com/MrEthical07/goTrust/internal/flows"
	"github.com/MrEthical07/goTrust/mfa"
	"github.com/MrEthical07/goTrust/risk"
	"github.com/MrEthical07/goTrust/session"
)

// Validation failure reasons. Session termination reasons (expired,
// ip-restricted, inactivity-timeout) are reported verbatim.
const (
	ReasonNotFound          = flows.ReasonNotFound
	ReasonInactive          = flows.ReasonInactive
	ReasonIdentityMismatch  = flows.ReasonIdentityMismatch
	ReasonExpired           = session.ReasonExpired
	ReasonIPRestricted      = session.ReasonIPRestricted
	ReasonInactivityTimeout = session.ReasonInactivityTimeout
)

/*
====================================
SESSIONS
====================================
*/

// CreateSessionRequest describes a freshly authenticated caller.
type CreateSessionRequest struct {
	Identity string
	// Context must carry an IP. It is usually built with [SessionContext].
	Context session.Context
	// MFACompleted marks the session as second-factor verified from the start.
	MFACompleted bool
	// MFAPending creates the session in the pending state a risk decision
	// asked for. It cannot be extended until [Engine.CompleteSessionMFA].
	MFAPending bool
}

// ValidationResult is the outcome of [Engine.ValidateSession]. Invalid
// sessions are never reported through an error.
type ValidationResult struct {
	Valid   bool
	Session *session.Session
	Reason  string
	// FromMirror reports whether the fast-access tier served the read.
	FromMirror bool
}

// SessionContext builds a session source context from an extracted device
// and an optional location.
func SessionContext(info device.Info, geo *risk.GeoPoint) session.Context {
	c := session.Context{
		IP:          info.IP,
		Fingerprint: info.Fingerprint,
		UserAgent:   info.UserAgent,
	}
	if geo != nil {
		c.Country = geo.Country
		c.City = geo.City
		c.Latitude = geo.Latitude
		c.Longitude = geo.Longitude
	}
	return c
}

/*
====================================
LOGIN RISK
====================================
*/

// LoginAttempt is one authentication attempt after the credential check.
type LoginAttempt struct {
	Identity         string
	Request          device.Request
	Geo              *risk.GeoPoint
	Succeeded        bool
	AccountCreatedAt time.Time
}

// LoginResult is the risk verdict for a [LoginAttempt].
type LoginResult struct {
	Assessment risk.Assessment
	Device     device.Info
	RequireMFA bool
	Blocked    bool
	// NewDevice reports that this attempt registered a device for the first
	// time, or re-trusted a revoked one.
	NewDevice   bool
	LockedUntil time.Time
}

// SessionContext returns the source context for a session created from r.
func (r *LoginResult) SessionContext(geo *risk.GeoPoint) session.Context {
	return SessionContext(r.Device, geo)
}

/*
====================================
MFA
====================================
*/

// MFAEnrollment is a pending TOTP enrollment.
type MFAEnrollment struct {
	Secret          string
	ProvisioningURI string
	ExpiresAt       time.Time
}

// MFAStatus summarizes an identity's second factor.
type MFAStatus struct {
	Enabled              bool
	Method               mfa.Method
	LastVerifiedAt       time.Time
	RemainingBackupCodes int
}

/*
====================================
ACCOUNT
====================================
*/

// AccountLock is an active account lock.
type AccountLock struct {
	Until  time.Time
	Reason string
}

// LockRequest describes a manual lock. Until wins over Duration; both zero
// use the configured lock duration.
type LockRequest struct {
	Identity string
	Reason   string
	Duration time.Duration
	Until    time.Time
}

// SweepResult summarizes one reconciliation pass.
type SweepResult = flows.SweepResult
