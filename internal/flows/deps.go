package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goTrust/regionsync"
	"github.com/MrEthical07/goTrust/session"
)

// Deps groups flow dependency sets. Root engine builds this once and delegates
// request methods to the matching flow implementation.
type Deps struct {
	Session SessionDeps
	Login   LoginDeps
	MFA     MFADeps
	Lock    LockDeps
	Sweep   SweepDeps
	Remote  RemoteDeps
}

// AuditFunc emits one audit record. details is only invoked when the record
// is actually built.
type AuditFunc func(ctx context.Context, event string, success bool, identity, sessionID string, err error, details func() map[string]string)

// PublishFunc hands an event to the cross-region publisher. It must not block.
type PublishFunc func(ev regionsync.Event)

// NotifyFunc sends a security alert for identity. Failures are the callee's
// concern.
type NotifyFunc func(ctx context.Context, identity, subject, body string)

// SessionStore is the two-tier session repository used by the lifecycle flows.
type SessionStore interface {
	Read(ctx context.Context, id string) (*session.Session, session.Source, error)
	ReadDurable(ctx context.Context, id string) (*session.Session, error)
	Create(ctx context.Context, s *session.Session) error
	Touch(ctx context.Context, id string, at time.Time) (*session.Session, error)
	Extend(ctx context.Context, id string, expiresAt time.Time) (*session.Session, error)
	CompleteMFA(ctx context.Context, id string) (*session.Session, error)
	Terminate(ctx context.Context, id, reason string, at time.Time) (*session.Session, bool, error)
	Evict(ctx context.Context, identity, id string)
	Store() session.Repository
}

// PolicyFunc resolves the session policy of an identity.
type PolicyFunc func(ctx context.Context, identity string) (session.Policy, error)

func noopAudit(context.Context, string, bool, string, string, error, func() map[string]string) {}

func noopPublish(regionsync.Event) {}

func noopNotify(context.Context, string, string, string) {}

func noopMetric(int) {}

// storeError tags err with sentinel unless it already carries it.
func storeError(sentinel, err error) error {
	if err == nil || errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %v", sentinel, err)
}
