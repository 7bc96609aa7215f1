package test

import (
	"context"
	"net/http"
	"testing"

	goTrust "github.com/MrEthical07/goTrust"
	"github.com/MrEthical07/goTrust/middleware"
	"github.com/MrEthical07/goTrust/regionsync"
	"github.com/MrEthical07/goTrust/session"
)

// This test intentionally guards public API compile-compat for consumers.
func TestPublicAPISurfaceCompile(t *testing.T) {
	_ = goTrust.New
	_ = goTrust.DefaultConfig

	var _ *goTrust.Engine
	var _ goTrust.Config
	var _ goTrust.CreateSessionRequest
	var _ goTrust.ValidationResult
	var _ goTrust.LoginAttempt
	var _ goTrust.LoginResult
	var _ goTrust.MFAStatus
	var _ goTrust.LockRequest
	var _ goTrust.SweepResult
	var _ goTrust.AuditSink
	var _ goTrust.EventPublisher = (*regionsync.Publisher)(nil)
	var _ regionsync.Applier = (*goTrust.Engine)(nil)

	var _ error = goTrust.ErrPolicyDenied
	var _ error = goTrust.ErrInvalidRequest
	var _ error = goTrust.ErrInvalidMFACode
	var _ error = goTrust.ErrAccountLocked
	var _ error = goTrust.ErrRateLimited
	var _ error = goTrust.ErrStoreUnavailable
	var _ error = goTrust.ErrEngineNotReady

	var _ func(*goTrust.Engine, ...middleware.Option) func(http.Handler) http.Handler = middleware.RequireSession

	var _ func(*goTrust.Engine, context.Context, goTrust.CreateSessionRequest) (*session.Session, error) = (*goTrust.Engine).CreateSession
	var _ func(*goTrust.Engine, context.Context, string, string, string) (goTrust.ValidationResult, error) = (*goTrust.Engine).ValidateSession
	var _ func(*goTrust.Engine, context.Context, string, bool) (bool, error) = (*goTrust.Engine).ExtendSession
	var _ func(*goTrust.Engine, context.Context, string, string) error = (*goTrust.Engine).TerminateSession
	var _ func(*goTrust.Engine, context.Context, string, string, string) (int, error) = (*goTrust.Engine).TerminateAllSessions
	var _ func(*goTrust.Engine, context.Context, goTrust.LoginAttempt) (*goTrust.LoginResult, error) = (*goTrust.Engine).EvaluateLogin
	var _ func(*goTrust.Engine, context.Context, string, string) (bool, error) = (*goTrust.Engine).VerifyMFA
	var _ func(*goTrust.Engine, context.Context, regionsync.Event) error = (*goTrust.Engine).Apply
}
