package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/goTrust/internal/limiters"
	"github.com/MrEthical07/goTrust/regionsync"
	"github.com/MrEthical07/goTrust/session"
)

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring. Lock and
// remote flows terminate sessions through the session deps.
func New(deps Deps) Service {
	s := Service{deps: deps}
	if s.deps.Lock.TerminateAll == nil {
		s.deps.Lock.TerminateAll = s.TerminateAllSessions
	}
	if s.deps.Sweep.Session.Sessions == nil {
		s.deps.Sweep.Session = deps.Session
	}
	if s.deps.Sweep.Policy == nil {
		s.deps.Sweep.Policy = deps.Session.Policy
	}
	if s.deps.Sweep.Now == nil {
		s.deps.Sweep.Now = deps.Session.Now
	}
	if s.deps.Remote.Session.Sessions == nil {
		s.deps.Remote.Session = deps.Session
	}
	if s.deps.Remote.Now == nil {
		s.deps.Remote.Now = deps.Session.Now
	}
	return s
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Session.Sessions != nil && s.deps.Session.Policy != nil
}

func (s Service) CreateSession(ctx context.Context, req CreateRequest) (*session.Session, error) {
	return RunCreateSession(ctx, req, s.deps.Session)
}

func (s Service) ValidateSession(ctx context.Context, req ValidateRequest) (ValidateResult, error) {
	return RunValidateSession(ctx, req, s.deps.Session)
}

func (s Service) ExtendSession(ctx context.Context, sessionID string, requireMFA bool) (bool, error) {
	return RunExtendSession(ctx, sessionID, requireMFA, s.deps.Session)
}

func (s Service) TerminateSession(ctx context.Context, sessionID, reason string) error {
	return RunTerminateSession(ctx, sessionID, reason, s.deps.Session)
}

func (s Service) TerminateAllSessions(ctx context.Context, identity, exceptSessionID, reason string, publish bool) (int, error) {
	return RunTerminateAllSessions(ctx, identity, exceptSessionID, reason, publish, s.deps.Session)
}

func (s Service) CompleteSessionMFA(ctx context.Context, sessionID, code string) (*session.Session, error) {
	deps := s.deps.Session
	if deps.VerifyMFA == nil {
		deps.VerifyMFA = s.VerifyMFA
	}
	return RunCompleteSessionMFA(ctx, sessionID, code, deps)
}

func (s Service) EvaluateLogin(ctx context.Context, req LoginRequest) (*LoginOutcome, error) {
	deps := s.deps.Login
	if deps.LockAccount == nil {
		deps.LockAccount = func(ctx context.Context, identity, reason string) (time.Time, error) {
			return s.LockAccount(ctx, LockRequest{Identity: identity, Reason: reason, Publish: true, Quiet: true})
		}
	}
	return RunEvaluateLogin(ctx, req, deps)
}

func (s Service) EnrollMFA(ctx context.Context, identity, account string) (*Enrollment, error) {
	return RunEnrollMFA(ctx, identity, account, s.deps.MFA)
}

func (s Service) ConfirmEnrollment(ctx context.Context, identity, code string) ([]string, error) {
	return RunConfirmEnrollment(ctx, identity, code, s.deps.MFA)
}

func (s Service) VerifyMFA(ctx context.Context, identity, code string) (bool, error) {
	return RunVerifyMFA(ctx, identity, code, s.deps.MFA)
}

func (s Service) DisableMFA(ctx context.Context, identity string) error {
	return RunDisableMFA(ctx, identity, s.deps.MFA)
}

func (s Service) RegenerateBackupCodes(ctx context.Context, identity, totpCode string) ([]string, error) {
	return RunRegenerateBackupCodes(ctx, identity, totpCode, s.deps.MFA)
}

func (s Service) LockAccount(ctx context.Context, req LockRequest) (time.Time, error) {
	return RunLockAccount(ctx, req, s.deps.Lock)
}

func (s Service) UnlockAccount(ctx context.Context, identity string, publish bool) (bool, error) {
	return RunUnlockAccount(ctx, identity, publish, s.deps.Lock)
}

func (s Service) AccountLock(ctx context.Context, identity string) (limiters.LockInfo, bool, error) {
	return RunAccountLock(ctx, identity, s.deps.Lock)
}

func (s Service) PasswordChanged(ctx context.Context, identity, exceptSessionID string) (int, error) {
	return RunPasswordChanged(ctx, identity, exceptSessionID, s.deps.Lock)
}

func (s Service) Sweep(ctx context.Context) (SweepResult, error) {
	return RunSweep(ctx, s.deps.Sweep)
}

func (s Service) ApplyRemote(ctx context.Context, ev regionsync.Event) error {
	return RunApplyRemote(ctx, ev, s.deps.Remote)
}
