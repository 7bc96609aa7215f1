package goTrust

import (
	"errors"

	"github.com/MrEthical07/goTrust/internal/flows"
	"github.com/MrEthical07/goTrust/internal/limiters"
	"github.com/MrEthical07/goTrust/regionsync"
	"github.com/MrEthical07/goTrust/session"
)

var (
	// ErrPolicyDenied matches every *PolicyDeniedError.
	ErrPolicyDenied = errors.New("policy denied")
	// ErrInvalidRequest is returned when a required argument is missing.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidCredential is returned when an upstream credential is rejected.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrInvalidMFACode is returned when a TOTP or backup code does not verify.
	ErrInvalidMFACode = errors.New("invalid mfa code")
	// ErrSessionNotFound is returned by operations that need an existing session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionInactive is returned when a mutating operation targets a
	// terminated session.
	ErrSessionInactive = errors.New("session inactive")
	// ErrAccountLocked is returned while an identity is locked.
	ErrAccountLocked = errors.New("account locked")
	// ErrMFANotEnabled is returned by MFA operations on identities without an
	// enabled second factor.
	ErrMFANotEnabled = errors.New("mfa not enabled")
	// ErrMFAAlreadyEnabled is returned by enroll when MFA is already active.
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled")
	// ErrMFAEnrollmentNotFound is returned when no pending enrollment exists.
	ErrMFAEnrollmentNotFound = errors.New("mfa enrollment not found")
	// ErrMFAEnrollmentAttempts is returned when a pending enrollment exhausted
	// its confirmation attempts and was discarded.
	ErrMFAEnrollmentAttempts = errors.New("mfa enrollment attempts exceeded")
	// ErrRateLimited is returned when an attempt limiter refuses a call.
	ErrRateLimited = errors.New("rate limited")
	// ErrDeviceNotFound is returned by trust changes on unknown devices.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrStoreUnavailable is the retryable storage failure. Mirror failures
	// degrade to the durable store and never surface as this error.
	ErrStoreUnavailable = session.ErrStoreUnavailable
	// ErrLimiterUnavailable is returned when the Redis-backed limiters or
	// locks cannot be reached.
	ErrLimiterUnavailable = limiters.ErrLimiterUnavailable
	// ErrBusUnavailable is logged when a cross-region publish fails. It never
	// blocks a local operation.
	ErrBusUnavailable = regionsync.ErrBusUnavailable
	// ErrEngineNotReady is returned by a zero or partially built Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Policy denial reasons.
const (
	DenyIPRestricted = session.ReasonIPRestricted
	DenyMaxSessions  = flows.DenyMaxSessions
)

// PolicyDeniedError reports which session policy rule rejected a request.
type PolicyDeniedError struct {
	Reason string
}

func (e *PolicyDeniedError) Error() string {
	return "policy denied: " + e.Reason
}

// Is makes errors.Is(err, ErrPolicyDenied) hold for every reason.
func (e *PolicyDeniedError) Is(target error) bool {
	return target == ErrPolicyDenied
}

func policyDenied(reason string) error {
	return &PolicyDeniedError{Reason: reason}
}

// DenialReason returns the reason of a policy denial, or "" when err is not
// one.
func DenialReason(err error) string {
	var pd *PolicyDeniedError
	if errors.As(err, &pd) {
		return pd.Reason
	}
	return ""
}
