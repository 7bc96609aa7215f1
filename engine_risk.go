package goTrust

import (
	"context"

	"github.com/MrEthical07/goTrust/internal/flows"
	"github.com/MrEthical07/goTrust/risk"
	"github.com/MrEthical07/goTrust/session"
)

// EvaluateLogin scores one login attempt and applies the decision.
//
// The attempt is recorded in the identity's history whether or not it
// succeeded; failures also feed the brute-force window. A block decision
// locks the account, terminates its sessions and alerts the identity. A
// successful attempt registers or refreshes the trusted device.
//
// Callers should create the session with MFAPending set when RequireMFA is
// true, and must not create one when Blocked is true.
func (e *Engine) EvaluateLogin(ctx context.Context, attempt LoginAttempt) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if attempt.Request.IP == "" {
		attempt.Request.IP = clientIPFromContext(ctx)
	}

	out, err := e.flows.EvaluateLogin(ctx, flows.LoginRequest{
		Identity:         attempt.Identity,
		Request:          attempt.Request,
		Geo:              attempt.Geo,
		Succeeded:        attempt.Succeeded,
		AccountCreatedAt: attempt.AccountCreatedAt,
	})
	if out == nil {
		return nil, err
	}
	return &LoginResult{
		Assessment:  out.Assessment,
		Device:      out.Device,
		RequireMFA:  out.Decision.RequireMFA,
		Blocked:     out.Decision.Block,
		NewDevice:   out.NewDevice,
		LockedUntil: out.LockedUntil,
	}, err
}

// Assess scores in without side effects. The result depends only on in.
func (e *Engine) Assess(in risk.Input) risk.Assessment {
	return e.risk.Assess(in)
}

// Decide maps a score onto the configured MFA and block thresholds.
func (e *Engine) Decide(score int) risk.Decision {
	return e.risk.Decide(score)
}

// Assessments returns the identity's stored assessments, newest first.
func (e *Engine) Assessments(ctx context.Context, identity string, limit int) ([]risk.Assessment, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if identity == "" {
		return nil, ErrInvalidRequest
	}
	out, err := e.backend.ListAssessments(ctx, identity, limit)
	if err != nil {
		return nil, storeUnavailable(err)
	}
	return out, nil
}

// LoginHistory returns the identity's login records within the configured
// history window.
func (e *Engine) LoginHistory(ctx context.Context, identity string, limit int) ([]risk.LoginRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if identity == "" {
		return nil, ErrInvalidRequest
	}
	since := e.now().Add(-e.config.Risk.HistoryWindow)
	out, err := e.backend.LoginHistory(ctx, identity, since, limit)
	if err != nil {
		return nil, storeUnavailable(err)
	}
	return out, nil
}

func storeUnavailable(err error) error {
	return session.WrapStoreError(err)
}
