package goTrust

import (
	"context"
	"errors"

	"github.com/MrEthical07/goTrust/internal/audit"
	"github.com/MrEthical07/goTrust/internal/stores"
	"github.com/MrEthical07/goTrust/regionsync"
)

const (
	auditEventSessionCreated          = "session.created"
	auditEventSessionDenied           = "session.denied"
	auditEventSessionExtended         = "session.extended"
	auditEventSessionExtendDenied     = "session.extend_denied"
	auditEventSessionTerminated       = "session.terminated"
	auditEventSessionIdentityMismatch = "session.identity_mismatch"
	auditEventSessionMFACompleted     = "session.mfa_completed"
	auditEventSessionMFAFailed        = "session.mfa_failed"

	auditEventRiskAssessed    = "risk.assessed"
	auditEventRiskMFARequired = "risk.mfa_required"
	auditEventRiskBlocked     = "risk.blocked"
	auditEventLoginFailure    = "login.failure"
	auditEventDeviceNew       = "device.new"
	auditEventDeviceElevated  = "device.elevated"
	auditEventDeviceRevoked   = "device.revoked"

	auditEventMFAEnrollStarted    = "mfa.enroll_started"
	auditEventMFAEnabled          = "mfa.enabled"
	auditEventMFAEnrollFailed     = "mfa.enroll_failed"
	auditEventMFADisabled         = "mfa.disabled"
	auditEventMFAVerifySuccess    = "mfa.verify_success"
	auditEventMFAVerifyFailure    = "mfa.verify_failure"
	auditEventMFABackupCodeUsed   = "mfa.backup_code_used"
	auditEventMFACodesRegenerated = "mfa.backup_codes_regenerated"
	auditEventMFARateLimited      = "mfa.rate_limited"

	auditEventAccountLocked   = "account.locked"
	auditEventAccountUnlocked = "account.unlocked"
	auditEventPasswordChanged = "account.password_changed"

	auditEventSyncApplied    = "sync.applied"
	auditEventUserReplicated = "sync.user_replicated"
)

// Security outcomes are graded above info so sinks can route them.
var auditSeverity = map[string]AuditSeverity{
	auditEventSessionDenied:           SeverityWarning,
	auditEventSessionIdentityMismatch: SeverityCritical,
	auditEventSessionMFAFailed:        SeverityWarning,
	auditEventRiskMFARequired:         SeverityWarning,
	auditEventRiskBlocked:             SeverityCritical,
	auditEventLoginFailure:            SeverityWarning,
	auditEventDeviceNew:               SeverityWarning,
	auditEventDeviceRevoked:           SeverityWarning,
	auditEventMFADisabled:             SeverityCritical,
	auditEventMFAVerifyFailure:        SeverityWarning,
	auditEventMFARateLimited:          SeverityWarning,
	auditEventMFACodesRegenerated:     SeverityWarning,
	auditEventAccountLocked:           SeverityCritical,
	auditEventPasswordChanged:         SeverityWarning,
}

// AuditErrorCode is the stable error label carried by failed audit events.
type AuditErrorCode string

const (
	auditErrPolicyDenied      AuditErrorCode = "policy_denied"
	auditErrInvalidRequest    AuditErrorCode = "invalid_request"
	auditErrInvalidCredential AuditErrorCode = "invalid_credential"
	auditErrInvalidMFACode    AuditErrorCode = "invalid_mfa_code"
	auditErrSessionNotFound   AuditErrorCode = "session_not_found"
	auditErrSessionInactive   AuditErrorCode = "session_inactive"
	auditErrAccountLocked     AuditErrorCode = "account_locked"
	auditErrMFANotEnabled     AuditErrorCode = "mfa_not_enabled"
	auditErrMFAAlreadyEnabled AuditErrorCode = "mfa_already_enabled"
	auditErrEnrollmentInvalid AuditErrorCode = "enrollment_invalid"
	auditErrAttemptsExceeded  AuditErrorCode = "attempts_exceeded"
	auditErrRateLimited       AuditErrorCode = "rate_limited"
	auditErrDeviceNotFound    AuditErrorCode = "device_not_found"
	auditErrInvalidEvent      AuditErrorCode = "invalid_event"
	auditErrUnavailable       AuditErrorCode = "backend_unavailable"
	auditErrInternal          AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	identity string,
	sessionID string,
	err error,
	detailsBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var details map[string]string
	if detailsBuilder != nil {
		details = detailsBuilder()
	}

	severity, ok := auditSeverity[eventType]
	if !ok {
		severity = SeverityInfo
	}
	if !success && severity == SeverityInfo {
		severity = SeverityWarning
	}

	event := audit.Event{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		Severity:  severity,
		Identity:  identity,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Region:    e.config.Region,
		Success:   success,
		Details:   details,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrPolicyDenied):
		return auditErrPolicyDenied
	case errors.Is(err, ErrInvalidRequest):
		return auditErrInvalidRequest
	case errors.Is(err, ErrInvalidCredential):
		return auditErrInvalidCredential
	case errors.Is(err, ErrInvalidMFACode):
		return auditErrInvalidMFACode
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrSessionInactive):
		return auditErrSessionInactive
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrMFANotEnabled):
		return auditErrMFANotEnabled
	case errors.Is(err, ErrMFAAlreadyEnabled):
		return auditErrMFAAlreadyEnabled
	case errors.Is(err, ErrMFAEnrollmentNotFound),
		errors.Is(err, stores.ErrEnrollmentNotFound),
		errors.Is(err, stores.ErrEnrollmentExpired):
		return auditErrEnrollmentInvalid
	case errors.Is(err, ErrMFAEnrollmentAttempts):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrDeviceNotFound):
		return auditErrDeviceNotFound
	case errors.Is(err, regionsync.ErrInvalidEvent):
		return auditErrInvalidEvent
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrLimiterUnavailable),
		errors.Is(err, ErrBusUnavailable),
		errors.Is(err, stores.ErrEnrollmentBackend):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
