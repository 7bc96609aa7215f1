package internaldefs

import (
	goTrust "github.com/MrEthical07/goTrust"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   goTrust.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   goTrust.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter of audit events dropped under backpressure.
const AuditDroppedName = "gotrust_audit_dropped_total"

var CounterDefs = []CounterDef{
	{ID: goTrust.MetricSessionCreated, Name: "gotrust_session_created_total", Help: "Created sessions."},
	{ID: goTrust.MetricSessionDenied, Name: "gotrust_session_denied_total", Help: "Session creations rejected by policy or account lock."},
	{ID: goTrust.MetricSessionValidated, Name: "gotrust_session_validated_total", Help: "Sessions that passed validation."},
	{ID: goTrust.MetricSessionRejected, Name: "gotrust_session_rejected_total", Help: "Sessions that failed validation."},
	{ID: goTrust.MetricSessionExtended, Name: "gotrust_session_extended_total", Help: "Extended sessions."},
	{ID: goTrust.MetricSessionExtendDenied, Name: "gotrust_session_extend_denied_total", Help: "Extensions refused for a missing second factor."},
	{ID: goTrust.MetricSessionTerminated, Name: "gotrust_session_terminated_total", Help: "Terminated sessions."},
	{ID: goTrust.MetricSessionMFACompleted, Name: "gotrust_session_mfa_completed_total", Help: "Sessions marked second-factor verified."},
	{ID: goTrust.MetricLoginAssessed, Name: "gotrust_login_assessed_total", Help: "Risk-assessed login attempts."},
	{ID: goTrust.MetricLoginFailed, Name: "gotrust_login_failed_total", Help: "Assessed login attempts that failed the credential check."},
	{ID: goTrust.MetricRiskMFARequired, Name: "gotrust_risk_mfa_required_total", Help: "Logins escalated to a second factor."},
	{ID: goTrust.MetricRiskBlocked, Name: "gotrust_risk_blocked_total", Help: "Logins blocked by risk score."},
	{ID: goTrust.MetricDeviceRegistered, Name: "gotrust_device_registered_total", Help: "Newly trusted devices."},
	{ID: goTrust.MetricDeviceElevated, Name: "gotrust_device_elevated_total", Help: "Devices raised to elevated trust."},
	{ID: goTrust.MetricDeviceRevoked, Name: "gotrust_device_revoked_total", Help: "Revoked devices."},
	{ID: goTrust.MetricMFAEnrollStarted, Name: "gotrust_mfa_enroll_started_total", Help: "Started TOTP enrollments."},
	{ID: goTrust.MetricMFAEnabled, Name: "gotrust_mfa_enabled_total", Help: "Confirmed TOTP enrollments."},
	{ID: goTrust.MetricMFADisabled, Name: "gotrust_mfa_disabled_total", Help: "Disabled second factors."},
	{ID: goTrust.MetricTOTPSuccess, Name: "gotrust_totp_success_total", Help: "Successful TOTP verifications."},
	{ID: goTrust.MetricTOTPFailure, Name: "gotrust_totp_failure_total", Help: "Failed TOTP verifications."},
	{ID: goTrust.MetricTOTPReplay, Name: "gotrust_totp_replay_total", Help: "Rejected TOTP code replays."},
	{ID: goTrust.MetricBackupCodeUsed, Name: "gotrust_backup_code_used_total", Help: "Consumed backup codes."},
	{ID: goTrust.MetricBackupCodeFailed, Name: "gotrust_backup_code_failed_total", Help: "Failed backup-code verifications."},
	{ID: goTrust.MetricBackupCodeRegenerated, Name: "gotrust_backup_code_regenerated_total", Help: "Backup-code pool regenerations."},
	{ID: goTrust.MetricMFARateLimited, Name: "gotrust_mfa_rate_limited_total", Help: "MFA attempts refused by a limiter."},
	{ID: goTrust.MetricAccountLocked, Name: "gotrust_account_locked_total", Help: "Account locks."},
	{ID: goTrust.MetricAccountUnlocked, Name: "gotrust_account_unlocked_total", Help: "Account unlocks."},
	{ID: goTrust.MetricPasswordChanged, Name: "gotrust_password_changed_total", Help: "Processed password changes."},
	{ID: goTrust.MetricSweepRuns, Name: "gotrust_sweep_runs_total", Help: "Reconciliation passes."},
	{ID: goTrust.MetricSweepExpired, Name: "gotrust_sweep_expired_total", Help: "Sessions terminated by the sweep for expiry."},
	{ID: goTrust.MetricSweepIdle, Name: "gotrust_sweep_idle_total", Help: "Sessions terminated by the sweep for inactivity."},
	{ID: goTrust.MetricSweepTrimmed, Name: "gotrust_sweep_trimmed_total", Help: "Sessions trimmed over the concurrency limit."},
	{ID: goTrust.MetricRemoteApplied, Name: "gotrust_remote_applied_total", Help: "Peer-region events applied locally."},
	{ID: goTrust.MetricRemoteStale, Name: "gotrust_remote_stale_total", Help: "Peer-region events with nothing left to apply."},
	{ID: goTrust.MetricBusDropped, Name: "gotrust_bus_dropped_total", Help: "Lifecycle events dropped before reaching the bus."},
}

var HistogramDefs = []HistogramDef{
	{ID: goTrust.MetricValidateLatency, Name: "gotrust_validate_latency_seconds", Help: "ValidateSession latency."},
}

// HistogramBounds are the upper bounds, in seconds, of the engine's latency
// buckets. The last bucket is unbounded.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters that
// flatten buckets into gauges.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the engine's bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
