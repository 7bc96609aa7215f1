package goTrust

import (
	"context"

	"github.com/MrEthical07/goTrust/mfa"
)

// EnrollMFA starts a TOTP enrollment. The returned secret is pending until
// [Engine.ConfirmMFAEnrollment] succeeds; it expires after
// MFA.EnrollmentTTL. account labels the provisioning URI and defaults to
// the identity.
func (e *Engine) EnrollMFA(ctx context.Context, identity, account string) (*MFAEnrollment, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	enr, err := e.flows.EnrollMFA(ctx, identity, account)
	if err != nil {
		return nil, err
	}
	return &MFAEnrollment{
		Secret:          enr.Secret,
		ProvisioningURI: enr.ProvisioningURI,
		ExpiresAt:       enr.ExpiresAt,
	}, nil
}

// ConfirmMFAEnrollment checks code against the pending secret, activates
// TOTP and returns the backup codes in plaintext. They are not retrievable
// afterwards.
func (e *Engine) ConfirmMFAEnrollment(ctx context.Context, identity, code string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.flows.ConfirmEnrollment(ctx, identity, code)
}

// VerifyMFA checks a TOTP code first and falls back to an unused backup
// code, consuming it on match. A wrong code is (false, nil); limiter
// refusals and backend failures are errors.
func (e *Engine) VerifyMFA(ctx context.Context, identity, code string) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	return e.flows.VerifyMFA(ctx, identity, code)
}

// DisableMFA clears the secret and retires every backup code. It is always
// audited and the identity is alerted.
func (e *Engine) DisableMFA(ctx context.Context, identity string) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.flows.DisableMFA(ctx, identity)
}

// RegenerateBackupCodes replaces the backup pool after a valid TOTP code.
// Old codes are marked used, not deleted.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, identity, totpCode string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.flows.RegenerateBackupCodes(ctx, identity, totpCode)
}

// MFAStatus reports the identity's second factor. Identities that never
// enrolled report a disabled status.
func (e *Engine) MFAStatus(ctx context.Context, identity string) (MFAStatus, error) {
	if err := e.ready(); err != nil {
		return MFAStatus{}, err
	}
	if identity == "" {
		return MFAStatus{}, ErrInvalidRequest
	}

	st, err := e.backend.GetMFA(ctx, identity)
	if err != nil {
		return MFAStatus{}, storeUnavailable(err)
	}
	if st == nil {
		return MFAStatus{Method: mfa.MethodNone}, nil
	}
	return MFAStatus{
		Enabled:              st.Enabled,
		Method:               st.Method,
		LastVerifiedAt:       st.LastVerifiedAt,
		RemainingBackupCodes: st.RemainingBackupCodes(e.now()),
	}, nil
}
