package goTrust

import (
	"context"
	"time"

	"github.com/MrEthical07/goTrust/internal/flows"
	"github.com/MrEthical07/goTrust/session"
)

// CreateSession opens a session for a freshly authenticated identity.
//
// The identity's policy is applied first: an address outside the allowed
// ranges fails with a [*PolicyDeniedError] carrying [DenyIPRestricted]. When
// the identity already holds MaxConcurrentSessions live sessions, single
// session mode terminates them all; otherwise the call fails with
// [DenyMaxSessions]. A locked account fails with [ErrAccountLocked].
//
// When req.Context.IP is empty the address attached with [WithClientIP] is
// used.
func (e *Engine) CreateSession(ctx context.Context, req CreateSessionRequest) (*session.Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if req.Context.IP == "" {
		req.Context.IP = clientIPFromContext(ctx)
	}
	return e.flows.CreateSession(ctx, flows.CreateRequest{
		Identity:     req.Identity,
		Context:      req.Context,
		MFACompleted: req.MFACompleted,
		MFAPending:   req.MFAPending,
	})
}

// ValidateSession checks a presented session and bumps its activity on
// success. identity and ip are optional; an empty ip falls back to the
// address attached with [WithClientIP].
//
// A session that does not pass is reported with Valid=false and a reason,
// never with an error. Errors are reserved for backend failures.
func (e *Engine) ValidateSession(ctx context.Context, sessionID, identity, ip string) (ValidationResult, error) {
	if err := e.ready(); err != nil {
		return ValidationResult{}, err
	}
	if ip == "" {
		ip = clientIPFromContext(ctx)
	}

	start := time.Now()
	res, err := e.flows.ValidateSession(ctx, flows.ValidateRequest{
		SessionID: sessionID,
		Identity:  identity,
		IP:        ip,
	})
	if e.metrics != nil && e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}
	if err != nil {
		return ValidationResult{}, err
	}

	return ValidationResult{
		Valid:      res.Valid,
		Session:    res.Session,
		Reason:     res.Reason,
		FromMirror: res.Source == session.SourceMirror,
	}, nil
}

// ExtendSession pushes the expiry out by the policy's session duration,
// capped at the absolute timeout. It fails closed: a session that needs a
// second factor, by requireMFA, by policy or by a pending risk decision, is
// left untouched and false is returned.
func (e *Engine) ExtendSession(ctx context.Context, sessionID string, requireMFA bool) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	return e.flows.ExtendSession(ctx, sessionID, requireMFA)
}

// TerminateSession ends one session. Unknown and already terminated sessions
// are not errors. An empty reason records a logout.
func (e *Engine) TerminateSession(ctx context.Context, sessionID, reason string) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.flows.TerminateSession(ctx, sessionID, reason)
}

// TerminateAllSessions ends every active session of identity except
// exceptSessionID and reports how many it terminated. Peer regions receive
// one identity-wide logout when the policy enables sync.
func (e *Engine) TerminateAllSessions(ctx context.Context, identity, exceptSessionID, reason string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	return e.flows.TerminateAllSessions(ctx, identity, exceptSessionID, reason, true)
}

// CompleteSessionMFA verifies code for the session's identity and marks the
// session second-factor verified. The flag never reverts.
func (e *Engine) CompleteSessionMFA(ctx context.Context, sessionID, code string) (*session.Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.flows.CompleteSessionMFA(ctx, sessionID, code)
}

// ActiveSessions lists the identity's sessions that are still marked active
// in the durable store, including expired ones the sweep has not reached.
func (e *Engine) ActiveSessions(ctx context.Context, identity string) ([]*session.Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if identity == "" {
		return nil, ErrInvalidRequest
	}
	active, err := e.backend.ListActive(ctx, identity)
	if err != nil {
		return nil, session.WrapStoreError(err)
	}
	return active, nil
}
