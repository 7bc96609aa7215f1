package flows

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goTrust/regionsync"
	"github.com/MrEthical07/goTrust/session"
)

// Validation reasons that do not terminate the session.
const (
	ReasonNotFound         = "not-found"
	ReasonInactive         = "inactive"
	ReasonIdentityMismatch = "identity-mismatch"
)

// DenyMaxSessions is the policy-denied reason when an identity is at its
// concurrent session limit.
const DenyMaxSessions = "max-sessions"

type SessionMetrics struct {
	SessionCreated      int
	SessionDenied       int
	SessionValidated    int
	SessionRejected     int
	SessionExtended     int
	SessionExtendDenied int
	SessionTerminated   int
	SessionMFACompleted int
}

type SessionEvents struct {
	Created          string
	Denied           string
	Extended         string
	ExtendDenied     string
	Terminated       string
	IdentityMismatch string
	MFACompleted     string
	MFAFailed        string
}

type SessionErrors struct {
	EngineNotReady  error
	InvalidRequest  error
	AccountLocked   error
	SessionNotFound error
	SessionInactive error
	InvalidMFACode  error
	PolicyDenied    func(reason string) error
}

// SessionDeps captures session lifecycle dependencies.
type SessionDeps struct {
	Region string

	Now           func() time.Time
	NewID         func() (string, error)
	Policy        PolicyFunc
	Sessions      SessionStore
	AccountLocked func(context.Context, string) (bool, error)
	VerifyMFA     func(ctx context.Context, identity, code string) (bool, error)

	Publish   PublishFunc
	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics SessionMetrics
	Events  SessionEvents
	Errors  SessionErrors
}

// CreateRequest describes a session to open after successful authentication.
type CreateRequest struct {
	Identity     string
	Context      session.Context
	MFACompleted bool
	// MFAPending marks a session whose login requires a second factor before
	// any state-mutating operation.
	MFAPending bool
}

// ValidateRequest carries the optional identity and address checks.
type ValidateRequest struct {
	SessionID string
	Identity  string
	IP        string
}

// ValidateResult is the outcome of a validation. Reason is empty when Valid.
type ValidateResult struct {
	Valid   bool
	Session *session.Session
	Reason  string
	Source  session.Source
}

func RunCreateSession(ctx context.Context, req CreateRequest, deps SessionDeps) (*session.Session, error) {
	normalizeSessionDeps(&deps)

	if deps.Sessions == nil || deps.Policy == nil {
		return nil, deps.Errors.EngineNotReady
	}
	req.Context.IP = strings.TrimSpace(req.Context.IP)
	if req.Identity == "" || req.Context.IP == "" {
		return nil, deps.Errors.InvalidRequest
	}

	if deps.AccountLocked != nil {
		locked, err := deps.AccountLocked(ctx, req.Identity)
		if err != nil {
			return nil, err
		}
		if locked {
			deps.MetricInc(deps.Metrics.SessionDenied)
			deps.EmitAudit(ctx, deps.Events.Denied, false, req.Identity, "", deps.Errors.AccountLocked, nil)
			return nil, deps.Errors.AccountLocked
		}
	}

	policy, err := deps.Policy(ctx, req.Identity)
	if err != nil {
		return nil, err
	}
	if !policy.AllowsIP(req.Context.IP) {
		return nil, denySession(ctx, req.Identity, session.ReasonIPRestricted, deps)
	}

	active, err := deps.Sessions.Store().ListActive(ctx, req.Identity)
	if err != nil {
		return nil, session.WrapStoreError(err)
	}

	now := deps.Now()
	live := active[:0]
	for _, s := range active {
		reason := ""
		switch {
		case now.After(s.ExpiresAt):
			reason = session.ReasonExpired
		case policy.InactivityTimeout > 0 && now.Sub(s.LastActivityAt) > policy.InactivityTimeout:
			reason = session.ReasonInactivityTimeout
		}
		if reason == "" {
			live = append(live, s)
			continue
		}
		if _, err := terminateSession(ctx, s, reason, policy.CrossRegionSync, deps); err != nil {
			return nil, err
		}
	}

	if len(live) >= policy.MaxConcurrentSessions {
		if !policy.EnforceSingleSession {
			return nil, denySession(ctx, req.Identity, DenyMaxSessions, deps)
		}
		for _, s := range live {
			if _, err := terminateSession(ctx, s, session.ReasonSingleSession, policy.CrossRegionSync, deps); err != nil {
				return nil, err
			}
		}
	}

	id, err := deps.NewID()
	if err != nil {
		return nil, err
	}
	s := &session.Session{
		ID:                id,
		Identity:          req.Identity,
		Region:            deps.Region,
		CreatedAt:         now,
		ExpiresAt:         now.Add(policy.SessionDuration),
		LastActivityAt:    now,
		AbsoluteExpiresAt: now.Add(policy.AbsoluteTimeout),
		Context:           req.Context,
		MFACompleted:      req.MFACompleted,
		MFAPending:        req.MFAPending && !req.MFACompleted,
		State:             session.Active(),
	}
	if err := deps.Sessions.Create(ctx, s); err != nil {
		return nil, session.WrapStoreError(err)
	}

	deps.MetricInc(deps.Metrics.SessionCreated)
	deps.EmitAudit(ctx, deps.Events.Created, true, s.Identity, s.ID, nil, func() map[string]string {
		return map[string]string{
			"expires_at":    s.ExpiresAt.UTC().Format(time.RFC3339),
			"mfa_completed": boolString(s.MFACompleted),
			"mfa_pending":   boolString(s.MFAPending),
		}
	})
	if policy.CrossRegionSync {
		ev := regionsync.NewEvent(regionsync.KindLogin, deps.Region, now)
		ev.Identity = s.Identity
		ev.SessionID = s.ID
		ev.ExpiresAt = s.ExpiresAt
		deps.Publish(ev)
	}
	return s.Clone(), nil
}

func RunValidateSession(ctx context.Context, req ValidateRequest, deps SessionDeps) (ValidateResult, error) {
	normalizeSessionDeps(&deps)

	if deps.Sessions == nil || deps.Policy == nil {
		return ValidateResult{}, deps.Errors.EngineNotReady
	}
	if req.SessionID == "" {
		return rejectValidation(ReasonNotFound, nil, deps), nil
	}

	s, src, err := deps.Sessions.Read(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return rejectValidation(ReasonNotFound, nil, deps), nil
		}
		return ValidateResult{}, session.WrapStoreError(err)
	}
	if !s.IsActive() {
		return rejectValidation(ReasonInactive, s, deps), nil
	}
	if req.Identity != "" && req.Identity != s.Identity {
		deps.EmitAudit(ctx, deps.Events.IdentityMismatch, false, req.Identity, s.ID, nil, nil)
		return rejectValidation(ReasonIdentityMismatch, nil, deps), nil
	}

	policy, err := deps.Policy(ctx, s.Identity)
	if err != nil {
		return ValidateResult{}, err
	}

	now := deps.Now()
	var reason string
	switch {
	case now.After(s.ExpiresAt):
		reason = session.ReasonExpired
	case req.IP != "" && !policy.AllowsIP(req.IP):
		reason = session.ReasonIPRestricted
	case policy.InactivityTimeout > 0 && now.Sub(s.LastActivityAt) > policy.InactivityTimeout:
		reason = session.ReasonInactivityTimeout
	}
	if reason != "" {
		// Terminal failures are audited by terminateSession; a store error
		// must not turn an invalid session into a valid one.
		changed, err := terminateSession(ctx, s, reason, policy.CrossRegionSync, deps)
		if err == nil && !changed {
			// The cache served a session already terminated durably.
			deps.Sessions.Evict(ctx, s.Identity, s.ID)
			return rejectValidation(ReasonInactive, s, deps), nil
		}
		return rejectValidation(reason, s, deps), nil
	}

	touched, err := deps.Sessions.Touch(ctx, s.ID, now)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrTransition):
			deps.Sessions.Evict(ctx, s.Identity, s.ID)
			return rejectValidation(ReasonInactive, s, deps), nil
		case errors.Is(err, session.ErrNotFound):
			deps.Sessions.Evict(ctx, s.Identity, s.ID)
			return rejectValidation(ReasonNotFound, nil, deps), nil
		}
		return ValidateResult{}, session.WrapStoreError(err)
	}

	deps.MetricInc(deps.Metrics.SessionValidated)
	return ValidateResult{Valid: true, Session: touched, Source: src}, nil
}

func RunExtendSession(ctx context.Context, sessionID string, requireMFA bool, deps SessionDeps) (bool, error) {
	normalizeSessionDeps(&deps)

	if deps.Sessions == nil || deps.Policy == nil {
		return false, deps.Errors.EngineNotReady
	}

	s, _, err := deps.Sessions.Read(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return false, nil
		}
		return false, session.WrapStoreError(err)
	}
	if !s.IsActive() {
		return false, nil
	}

	policy, err := deps.Policy(ctx, s.Identity)
	if err != nil {
		return false, err
	}

	now := deps.Now()
	if now.After(s.ExpiresAt) {
		_, _ = terminateSession(ctx, s, session.ReasonExpired, policy.CrossRegionSync, deps)
		return false, nil
	}
	if s.MFAPending || ((requireMFA || policy.RequireMFAToExtend) && !s.MFACompleted) {
		deps.MetricInc(deps.Metrics.SessionExtendDenied)
		deps.EmitAudit(ctx, deps.Events.ExtendDenied, false, s.Identity, s.ID, nil, func() map[string]string {
			return map[string]string{"reason": "mfa-required"}
		})
		return false, nil
	}

	expiresAt := now.Add(policy.SessionDuration)
	if expiresAt.After(s.AbsoluteExpiresAt) {
		expiresAt = s.AbsoluteExpiresAt
	}
	updated, err := deps.Sessions.Extend(ctx, s.ID, expiresAt)
	if err != nil {
		if errors.Is(err, session.ErrTransition) || errors.Is(err, session.ErrNotFound) {
			deps.Sessions.Evict(ctx, s.Identity, s.ID)
			return false, nil
		}
		return false, session.WrapStoreError(err)
	}

	deps.MetricInc(deps.Metrics.SessionExtended)
	deps.EmitAudit(ctx, deps.Events.Extended, true, updated.Identity, updated.ID, nil, func() map[string]string {
		return map[string]string{"expires_at": updated.ExpiresAt.UTC().Format(time.RFC3339)}
	})
	if policy.CrossRegionSync {
		ev := regionsync.NewEvent(regionsync.KindRefresh, deps.Region, now)
		ev.Identity = updated.Identity
		ev.SessionID = updated.ID
		ev.ExpiresAt = updated.ExpiresAt
		deps.Publish(ev)
	}
	return true, nil
}

// RunTerminateSession is idempotent: unknown and already terminated sessions
// are not errors.
func RunTerminateSession(ctx context.Context, sessionID, reason string, deps SessionDeps) error {
	normalizeSessionDeps(&deps)

	if deps.Sessions == nil || deps.Policy == nil {
		return deps.Errors.EngineNotReady
	}
	if reason == "" {
		reason = session.ReasonLogout
	}

	s, err := deps.Sessions.ReadDurable(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			deps.Sessions.Evict(ctx, "", sessionID)
			return nil
		}
		return session.WrapStoreError(err)
	}

	policy, err := deps.Policy(ctx, s.Identity)
	if err != nil {
		return err
	}
	_, err = terminateSession(ctx, s, reason, policy.CrossRegionSync, deps)
	return err
}

// RunTerminateAllSessions terminates every active session of identity except
// exceptSessionID. When publish is set and the policy allows it, one
// identity-wide logout is sent to peer regions.
func RunTerminateAllSessions(ctx context.Context, identity, exceptSessionID, reason string, publish bool, deps SessionDeps) (int, error) {
	normalizeSessionDeps(&deps)

	if deps.Sessions == nil || deps.Policy == nil {
		return 0, deps.Errors.EngineNotReady
	}
	if identity == "" {
		return 0, deps.Errors.InvalidRequest
	}
	if reason == "" {
		reason = session.ReasonForcedLogout
	}

	policy, err := deps.Policy(ctx, identity)
	if err != nil {
		return 0, err
	}
	active, err := deps.Sessions.Store().ListActive(ctx, identity)
	if err != nil {
		return 0, session.WrapStoreError(err)
	}

	count := 0
	for _, s := range active {
		if s.ID == exceptSessionID {
			continue
		}
		changed, err := terminateSession(ctx, s, reason, false, deps)
		if err != nil {
			return count, err
		}
		if changed {
			count++
		}
	}

	if publish && policy.CrossRegionSync {
		ev := regionsync.NewEvent(regionsync.KindLogout, deps.Region, deps.Now())
		ev.Identity = identity
		ev.ExceptSessionID = exceptSessionID
		ev.Reason = reason
		deps.Publish(ev)
	}
	return count, nil
}

// RunCompleteSessionMFA verifies code for the session's identity and sets the
// one-way MFA flag.
func RunCompleteSessionMFA(ctx context.Context, sessionID, code string, deps SessionDeps) (*session.Session, error) {
	normalizeSessionDeps(&deps)

	if deps.Sessions == nil || deps.VerifyMFA == nil {
		return nil, deps.Errors.EngineNotReady
	}

	s, _, err := deps.Sessions.Read(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, deps.Errors.SessionNotFound
		}
		return nil, session.WrapStoreError(err)
	}
	if !s.IsActive() || deps.Now().After(s.ExpiresAt) {
		return nil, deps.Errors.SessionInactive
	}
	if s.MFACompleted {
		return s, nil
	}

	ok, err := deps.VerifyMFA(ctx, s.Identity, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		deps.EmitAudit(ctx, deps.Events.MFAFailed, false, s.Identity, s.ID, deps.Errors.InvalidMFACode, nil)
		return nil, deps.Errors.InvalidMFACode
	}

	updated, err := deps.Sessions.CompleteMFA(ctx, s.ID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrTransition):
			deps.Sessions.Evict(ctx, s.Identity, s.ID)
			return nil, deps.Errors.SessionInactive
		case errors.Is(err, session.ErrNotFound):
			return nil, deps.Errors.SessionNotFound
		}
		return nil, session.WrapStoreError(err)
	}

	deps.MetricInc(deps.Metrics.SessionMFACompleted)
	deps.EmitAudit(ctx, deps.Events.MFACompleted, true, updated.Identity, updated.ID, nil, nil)
	return updated, nil
}

// terminateSession reports whether this call moved s to Terminated. A row
// that vanished from the durable store only has its mirror entry dropped.
func terminateSession(ctx context.Context, s *session.Session, reason string, publish bool, deps SessionDeps) (bool, error) {
	_, changed, err := deps.Sessions.Terminate(ctx, s.ID, reason, deps.Now())
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			deps.Sessions.Evict(ctx, s.Identity, s.ID)
			return false, nil
		}
		err = session.WrapStoreError(err)
		deps.EmitAudit(ctx, deps.Events.Terminated, false, s.Identity, s.ID, err, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return false, err
	}
	if !changed {
		return false, nil
	}

	deps.MetricInc(deps.Metrics.SessionTerminated)
	deps.EmitAudit(ctx, deps.Events.Terminated, true, s.Identity, s.ID, nil, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	if publish {
		ev := regionsync.NewEvent(regionsync.KindLogout, deps.Region, deps.Now())
		ev.Identity = s.Identity
		ev.SessionID = s.ID
		ev.Reason = reason
		deps.Publish(ev)
	}
	return true, nil
}

func denySession(ctx context.Context, identity, reason string, deps SessionDeps) error {
	err := deps.Errors.PolicyDenied(reason)
	deps.MetricInc(deps.Metrics.SessionDenied)
	deps.EmitAudit(ctx, deps.Events.Denied, false, identity, "", err, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return err
}

func rejectValidation(reason string, s *session.Session, deps SessionDeps) ValidateResult {
	deps.MetricInc(deps.Metrics.SessionRejected)
	return ValidateResult{Reason: reason, Session: s}
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func normalizeSessionDeps(deps *SessionDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = func() (string, error) { return "", errors.New("session id generator not configured") }
	}
	if deps.Publish == nil {
		deps.Publish = noopPublish
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.Errors.PolicyDenied == nil {
		deps.Errors.PolicyDenied = func(reason string) error { return errors.New("policy denied: " + reason) }
	}
	if deps.Errors.EngineNotReady == nil {
		deps.Errors.EngineNotReady = errors.New("engine not ready")
	}
	if deps.Errors.InvalidRequest == nil {
		deps.Errors.InvalidRequest = errors.New("invalid request")
	}
	if deps.Errors.SessionNotFound == nil {
		deps.Errors.SessionNotFound = session.ErrNotFound
	}
	if deps.Errors.SessionInactive == nil {
		deps.Errors.SessionInactive = session.ErrTransition
	}
	if deps.Errors.InvalidMFACode == nil {
		deps.Errors.InvalidMFACode = errors.New("invalid mfa code")
	}
	if deps.Errors.AccountLocked == nil {
		deps.Errors.AccountLocked = errors.New("account locked")
	}
}
