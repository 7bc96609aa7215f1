package flows

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/goTrust/internal/stores"
	"github.com/MrEthical07/goTrust/mfa"
	"github.com/MrEthical07/goTrust/store"
)

// EnrollmentStore holds pending (unconfirmed) TOTP enrollments.
type EnrollmentStore interface {
	Save(ctx context.Context, record *stores.PendingEnrollment, ttl time.Duration) error
	Get(ctx context.Context, identity string) (*stores.PendingEnrollment, error)
	Delete(ctx context.Context, identity string) (bool, error)
	RecordFailure(ctx context.Context, identity string, maxAttempts int) (bool, error)
}

// SecretSealer encrypts TOTP secrets at rest, bound to the identity.
type SecretSealer interface {
	Seal(identity string, plaintext []byte) ([]byte, error)
	Open(identity string, sealed []byte) ([]byte, error)
}

// TOTPProvider generates and checks RFC 6238 codes.
type TOTPProvider interface {
	GenerateSecret() ([]byte, string, error)
	ProvisioningURI(secretBase32, account string) string
	Verify(secret []byte, code string, now time.Time) (bool, int64, error)
}

// AttemptLimiter bounds failed attempts per identity.
type AttemptLimiter interface {
	Check(ctx context.Context, identity string) error
	RecordFailure(ctx context.Context, identity string) error
	Reset(ctx context.Context, identity string) error
}

type noopLimiter struct{}

func (noopLimiter) Check(context.Context, string) error         { return nil }
func (noopLimiter) RecordFailure(context.Context, string) error { return nil }
func (noopLimiter) Reset(context.Context, string) error         { return nil }

type MFAMetrics struct {
	MFAEnrollStarted      int
	MFAEnabled            int
	MFADisabled           int
	TOTPSuccess           int
	TOTPFailure           int
	TOTPReplay            int
	BackupCodeUsed        int
	BackupCodeFailed      int
	BackupCodeRegenerated int
	MFARateLimited        int
}

type MFAEvents struct {
	EnrollStarted      string
	Enabled            string
	EnrollFailed       string
	Disabled           string
	VerifySuccess      string
	VerifyFailure      string
	BackupCodeUsed     string
	CodesRegenerated   string
	RateLimitTriggered string
}

type MFAErrors struct {
	EngineNotReady     error
	InvalidRequest     error
	NotEnabled         error
	AlreadyEnabled     error
	EnrollmentNotFound error
	EnrollmentAttempts error
	InvalidCode        error
	RateLimited        error
	Unavailable        error
}

// MFADeps captures second-factor dependencies.
type MFADeps struct {
	Now func() time.Time

	Store         store.MFA
	Enrollment    EnrollmentStore
	Box           SecretSealer
	TOTP          TOTPProvider
	TOTPLimiter   AttemptLimiter
	BackupLimiter AttemptLimiter
	IsRateLimited func(error) bool

	TOTPDigits        int
	EnrollmentTTL     time.Duration
	MaxEnrollAttempts int
	BackupCodeCount   int
	BackupCodeLength  int
	BackupCodeTTL     time.Duration

	Notify    NotifyFunc
	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics MFAMetrics
	Events  MFAEvents
	Errors  MFAErrors
}

// Enrollment is a pending TOTP enrollment handed to the user.
type Enrollment struct {
	Secret          string
	ProvisioningURI string
	ExpiresAt       time.Time
}

var (
	errTOTPReplay     = errors.New("totp counter already used")
	errNoBackupMatch  = errors.New("no usable backup code matched")
	errSecretUnsealed = errors.New("totp secret could not be opened")
)

// RunEnrollMFA starts a TOTP enrollment. The secret is only stored sealed and
// only in the short-lived pending record.
func RunEnrollMFA(ctx context.Context, identity, account string, deps MFADeps) (*Enrollment, error) {
	normalizeMFADeps(&deps)

	if deps.Store == nil || deps.Enrollment == nil || deps.Box == nil || deps.TOTP == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if identity == "" {
		return nil, deps.Errors.InvalidRequest
	}
	if account == "" {
		account = identity
	}

	st, err := deps.Store.GetMFA(ctx, identity)
	if err != nil {
		return nil, storeError(deps.Errors.Unavailable, err)
	}
	if st != nil && st.Enabled {
		return nil, deps.Errors.AlreadyEnabled
	}

	raw, b32, err := deps.TOTP.GenerateSecret()
	if err != nil {
		return nil, storeError(deps.Errors.Unavailable, err)
	}
	sealed, err := deps.Box.Seal(identity, raw)
	if err != nil {
		return nil, storeError(deps.Errors.Unavailable, err)
	}

	expiresAt := deps.Now().Add(deps.EnrollmentTTL)
	record := &stores.PendingEnrollment{
		Identity:     identity,
		SealedSecret: sealed,
		ExpiresAt:    expiresAt.Unix(),
	}
	if err := deps.Enrollment.Save(ctx, record, deps.EnrollmentTTL); err != nil {
		return nil, storeError(deps.Errors.Unavailable, err)
	}

	deps.MetricInc(deps.Metrics.MFAEnrollStarted)
	deps.EmitAudit(ctx, deps.Events.EnrollStarted, true, identity, "", nil, nil)
	return &Enrollment{
		Secret:          b32,
		ProvisioningURI: deps.TOTP.ProvisioningURI(b32, account),
		ExpiresAt:       expiresAt,
	}, nil
}

// RunConfirmEnrollment checks the first code of a pending enrollment, enables
// TOTP and returns a fresh backup-code pool in plaintext. The pending record
// is discarded on success and after too many wrong codes.
func RunConfirmEnrollment(ctx context.Context, identity, code string, deps MFADeps) ([]string, error) {
	normalizeMFADeps(&deps)

	if deps.Store == nil || deps.Enrollment == nil || deps.Box == nil || deps.TOTP == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if identity == "" {
		return nil, deps.Errors.InvalidRequest
	}

	pending, err := deps.Enrollment.Get(ctx, identity)
	if err != nil {
		if errors.Is(err, stores.ErrEnrollmentNotFound) || errors.Is(err, stores.ErrEnrollmentExpired) {
			return nil, deps.Errors.EnrollmentNotFound
		}
		return nil, storeError(deps.Errors.Unavailable, err)
	}
	secret, err := deps.Box.Open(identity, pending.SealedSecret)
	if err != nil {
		_, _ = deps.Enrollment.Delete(ctx, identity)
		return nil, deps.Errors.EnrollmentNotFound
	}

	now := deps.Now()
	ok, counter, _ := deps.TOTP.Verify(secret, strings.TrimSpace(code), now)
	if !ok {
		deps.MetricInc(deps.Metrics.TOTPFailure)
		exceeded, ferr := deps.Enrollment.RecordFailure(ctx, identity, deps.MaxEnrollAttempts)
		if ferr == nil && exceeded {
			deps.EmitAudit(ctx, deps.Events.EnrollFailed, false, identity, "", deps.Errors.EnrollmentAttempts, nil)
			return nil, deps.Errors.EnrollmentAttempts
		}
		deps.EmitAudit(ctx, deps.Events.EnrollFailed, false, identity, "", deps.Errors.InvalidCode, nil)
		return nil, deps.Errors.InvalidCode
	}

	codes, pool, err := mfa.GenerateBackupCodes(identity, deps.BackupCodeCount, deps.BackupCodeLength, deps.BackupCodeTTL, now)
	if err != nil {
		return nil, storeError(deps.Errors.Unavailable, err)
	}
	_, err = deps.Store.UpdateMFA(ctx, identity, func(s *mfa.State) error {
		if s.Enabled {
			return deps.Errors.AlreadyEnabled
		}
		s.RetireBackupCodes(now)
		s.Enabled = true
		s.Method = mfa.MethodTOTP
		s.SealedSecret = pending.SealedSecret
		s.LastUsedCounter = counter
		s.LastVerifiedAt = now
		s.EnabledAt = now
		s.DisabledAt = time.Time{}
		s.BackupCodes = append(s.BackupCodes, pool...)
		return nil
	})
	if err != nil {
		if errors.Is(err, deps.Errors.AlreadyEnabled) {
			return nil, err
		}
		return nil, storeError(deps.Errors.Unavailable, err)
	}
	_, _ = deps.Enrollment.Delete(ctx, identity)

	deps.MetricInc(deps.Metrics.MFAEnabled)
	deps.EmitAudit(ctx, deps.Events.Enabled, true, identity, "", nil, func() map[string]string {
		return map[string]string{"method": string(mfa.MethodTOTP), "backup_codes": strconv.Itoa(len(codes))}
	})
	deps.Notify(ctx, identity, "Two-step verification enabled",
		"Two-step verification was turned on for your account. Store your backup codes somewhere safe.")
	return codes, nil
}

// RunVerifyMFA checks a TOTP code (with window tolerance and replay
// protection) and then an unused, unexpired backup code, which is consumed on
// match. A wrong code is (false, nil).
func RunVerifyMFA(ctx context.Context, identity, code string, deps MFADeps) (bool, error) {
	normalizeMFADeps(&deps)

	if deps.Store == nil || deps.Box == nil || deps.TOTP == nil {
		return false, deps.Errors.EngineNotReady
	}
	code = strings.TrimSpace(code)
	if identity == "" || code == "" {
		return false, nil
	}

	st, err := deps.Store.GetMFA(ctx, identity)
	if err != nil {
		return false, storeError(deps.Errors.Unavailable, err)
	}
	if st == nil || !st.Enabled {
		return false, deps.Errors.NotEnabled
	}

	now := deps.Now()
	if looksLikeTOTP(code, deps.TOTPDigits) {
		ok, err := verifyTOTP(ctx, st, code, now, deps)
		if err != nil {
			return false, err
		}
		if ok {
			deps.MetricInc(deps.Metrics.TOTPSuccess)
			deps.EmitAudit(ctx, deps.Events.VerifySuccess, true, identity, "", nil, func() map[string]string {
				return map[string]string{"method": "totp"}
			})
			return true, nil
		}
	}

	ok, err := consumeBackupCode(ctx, identity, code, now, deps)
	if err != nil {
		return false, err
	}
	if !ok {
		deps.EmitAudit(ctx, deps.Events.VerifyFailure, false, identity, "", deps.Errors.InvalidCode, nil)
		return false, nil
	}
	deps.MetricInc(deps.Metrics.BackupCodeUsed)
	deps.EmitAudit(ctx, deps.Events.BackupCodeUsed, true, identity, "", nil, func() map[string]string {
		return map[string]string{"method": "backup_code"}
	})
	return true, nil
}

// RunDisableMFA clears the secret and retires every backup code. The outcome
// is audited on both paths.
func RunDisableMFA(ctx context.Context, identity string, deps MFADeps) error {
	normalizeMFADeps(&deps)

	if deps.Store == nil {
		return deps.Errors.EngineNotReady
	}
	if identity == "" {
		return deps.Errors.InvalidRequest
	}

	now := deps.Now()
	_, err := deps.Store.UpdateMFA(ctx, identity, func(s *mfa.State) error {
		if !s.Enabled {
			return deps.Errors.NotEnabled
		}
		s.Disable(now)
		return nil
	})
	if err != nil {
		if !errors.Is(err, deps.Errors.NotEnabled) {
			err = storeError(deps.Errors.Unavailable, err)
		}
		deps.EmitAudit(ctx, deps.Events.Disabled, false, identity, "", err, nil)
		return err
	}
	if deps.Enrollment != nil {
		_, _ = deps.Enrollment.Delete(ctx, identity)
	}

	deps.MetricInc(deps.Metrics.MFADisabled)
	deps.EmitAudit(ctx, deps.Events.Disabled, true, identity, "", nil, nil)
	deps.Notify(ctx, identity, "Two-step verification disabled",
		"Two-step verification was turned off for your account. If this was not you, secure your account now.")
	return nil
}

// RunRegenerateBackupCodes requires a valid TOTP code, retires the old pool
// and returns a new one.
func RunRegenerateBackupCodes(ctx context.Context, identity, totpCode string, deps MFADeps) ([]string, error) {
	normalizeMFADeps(&deps)

	if deps.Store == nil || deps.Box == nil || deps.TOTP == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if identity == "" {
		return nil, deps.Errors.InvalidRequest
	}

	st, err := deps.Store.GetMFA(ctx, identity)
	if err != nil {
		return nil, storeError(deps.Errors.Unavailable, err)
	}
	if st == nil || !st.Enabled {
		return nil, deps.Errors.NotEnabled
	}

	now := deps.Now()
	codes, pool, err := mfa.GenerateBackupCodes(identity, deps.BackupCodeCount, deps.BackupCodeLength, deps.BackupCodeTTL, now)
	if err != nil {
		return nil, storeError(deps.Errors.Unavailable, err)
	}

	ok, err := verifyTOTPWith(ctx, st, strings.TrimSpace(totpCode), now, deps, func(s *mfa.State) {
		s.RetireBackupCodes(now)
		s.BackupCodes = append(s.BackupCodes, pool...)
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		deps.EmitAudit(ctx, deps.Events.VerifyFailure, false, identity, "", deps.Errors.InvalidCode, nil)
		return nil, deps.Errors.InvalidCode
	}

	deps.MetricInc(deps.Metrics.BackupCodeRegenerated)
	deps.EmitAudit(ctx, deps.Events.CodesRegenerated, true, identity, "", nil, func() map[string]string {
		return map[string]string{"backup_codes": strconv.Itoa(len(codes))}
	})
	return codes, nil
}

func verifyTOTP(ctx context.Context, st *mfa.State, code string, now time.Time, deps MFADeps) (bool, error) {
	return verifyTOTPWith(ctx, st, code, now, deps, nil)
}

// verifyTOTPWith checks code against st and, on success, atomically advances
// the replay counter and applies extra in the same update.
func verifyTOTPWith(ctx context.Context, st *mfa.State, code string, now time.Time, deps MFADeps, extra func(*mfa.State)) (bool, error) {
	identity := st.Identity
	if err := deps.TOTPLimiter.Check(ctx, identity); err != nil {
		return false, limiterError(ctx, identity, err, deps)
	}

	secret, err := deps.Box.Open(identity, st.SealedSecret)
	if err != nil {
		return false, storeError(deps.Errors.Unavailable, errSecretUnsealed)
	}
	ok, counter, _ := deps.TOTP.Verify(secret, code, now)
	if ok && counter <= st.LastUsedCounter {
		deps.MetricInc(deps.Metrics.TOTPReplay)
		ok = false
	}
	if !ok {
		deps.MetricInc(deps.Metrics.TOTPFailure)
		_ = deps.TOTPLimiter.RecordFailure(ctx, identity)
		return false, nil
	}

	_, err = deps.Store.UpdateMFA(ctx, identity, func(s *mfa.State) error {
		if !s.Enabled {
			return deps.Errors.NotEnabled
		}
		if counter <= s.LastUsedCounter {
			return errTOTPReplay
		}
		s.LastUsedCounter = counter
		s.LastVerifiedAt = now
		if extra != nil {
			extra(s)
		}
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, errTOTPReplay):
		deps.MetricInc(deps.Metrics.TOTPReplay)
		_ = deps.TOTPLimiter.RecordFailure(ctx, identity)
		return false, nil
	case errors.Is(err, deps.Errors.NotEnabled):
		return false, err
	default:
		return false, storeError(deps.Errors.Unavailable, err)
	}

	_ = deps.TOTPLimiter.Reset(ctx, identity)
	return true, nil
}

func consumeBackupCode(ctx context.Context, identity, code string, now time.Time, deps MFADeps) (bool, error) {
	canonical := mfa.CanonicalBackupCode(code)
	if canonical == "" {
		return false, nil
	}
	if err := deps.BackupLimiter.Check(ctx, identity); err != nil {
		return false, limiterError(ctx, identity, err, deps)
	}

	hash := mfa.HashBackupCode(identity, canonical)
	_, err := deps.Store.UpdateMFA(ctx, identity, func(s *mfa.State) error {
		if !s.Enabled {
			return deps.Errors.NotEnabled
		}
		if !s.ConsumeBackupCode(hash, now) {
			return errNoBackupMatch
		}
		s.LastVerifiedAt = now
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, errNoBackupMatch):
		deps.MetricInc(deps.Metrics.BackupCodeFailed)
		_ = deps.BackupLimiter.RecordFailure(ctx, identity)
		return false, nil
	case errors.Is(err, deps.Errors.NotEnabled):
		return false, err
	default:
		return false, storeError(deps.Errors.Unavailable, err)
	}

	_ = deps.BackupLimiter.Reset(ctx, identity)
	return true, nil
}

func limiterError(ctx context.Context, identity string, err error, deps MFADeps) error {
	if deps.IsRateLimited(err) {
		deps.MetricInc(deps.Metrics.MFARateLimited)
		deps.EmitAudit(ctx, deps.Events.RateLimitTriggered, false, identity, "", deps.Errors.RateLimited, nil)
		return deps.Errors.RateLimited
	}
	return storeError(deps.Errors.Unavailable, err)
}

func looksLikeTOTP(code string, digits int) bool {
	if len(code) != digits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

func normalizeMFADeps(deps *MFADeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.TOTPLimiter == nil {
		deps.TOTPLimiter = noopLimiter{}
	}
	if deps.BackupLimiter == nil {
		deps.BackupLimiter = noopLimiter{}
	}
	if deps.IsRateLimited == nil {
		deps.IsRateLimited = func(error) bool { return false }
	}
	if deps.TOTPDigits <= 0 {
		deps.TOTPDigits = 6
	}
	if deps.EnrollmentTTL <= 0 {
		deps.EnrollmentTTL = 10 * time.Minute
	}
	if deps.MaxEnrollAttempts <= 0 {
		deps.MaxEnrollAttempts = 5
	}
	if deps.BackupCodeCount <= 0 {
		deps.BackupCodeCount = mfa.DefaultBackupCodeCount
	}
	if deps.BackupCodeLength <= 0 {
		deps.BackupCodeLength = 10
	}
	if deps.Notify == nil {
		deps.Notify = noopNotify
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.Errors.EngineNotReady == nil {
		deps.Errors.EngineNotReady = errors.New("engine not ready")
	}
	if deps.Errors.InvalidRequest == nil {
		deps.Errors.InvalidRequest = errors.New("invalid request")
	}
	if deps.Errors.NotEnabled == nil {
		deps.Errors.NotEnabled = errors.New("mfa not enabled")
	}
	if deps.Errors.AlreadyEnabled == nil {
		deps.Errors.AlreadyEnabled = errors.New("mfa already enabled")
	}
	if deps.Errors.EnrollmentNotFound == nil {
		deps.Errors.EnrollmentNotFound = stores.ErrEnrollmentNotFound
	}
	if deps.Errors.EnrollmentAttempts == nil {
		deps.Errors.EnrollmentAttempts = errors.New("mfa enrollment attempts exceeded")
	}
	if deps.Errors.InvalidCode == nil {
		deps.Errors.InvalidCode = errors.New("invalid mfa code")
	}
	if deps.Errors.RateLimited == nil {
		deps.Errors.RateLimited = errors.New("mfa attempts rate limited")
	}
	if deps.Errors.Unavailable == nil {
		deps.Errors.Unavailable = errors.New("mfa backend unavailable")
	}
}
