package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goTrust/session"
)

type SweepMetrics struct {
	SweepRuns    int
	SweepExpired int
	SweepIdle    int
	SweepTrimmed int
}

// SweepDeps captures the reconciliation pass dependencies. Terminations go
// through the Session deps so they are audited and fanned out like any
// other termination.
type SweepDeps struct {
	Now     func() time.Time
	Policy  PolicyFunc
	Session SessionDeps
	// MaxTerminations caps the work of one pass. Zero means unlimited.
	MaxTerminations int

	MetricInc func(int)
	Metrics   SweepMetrics
}

// SweepResult summarizes one pass.
type SweepResult struct {
	Scanned    int
	Expired    int
	Inactive   int
	Trimmed    int
	Failed     int
	Incomplete bool
}

// Terminated is the number of sessions this pass terminated.
func (r SweepResult) Terminated() int {
	return r.Expired + r.Inactive + r.Trimmed
}

// RunSweep terminates expired and inactivity-breached sessions and trims
// identities that overshot their concurrent limit, oldest first. It is
// idempotent; a failed pass can simply be retried.
func RunSweep(ctx context.Context, deps SweepDeps) (SweepResult, error) {
	normalizeSweepDeps(&deps)

	var res SweepResult
	if deps.Policy == nil || deps.Session.Sessions == nil {
		return res, errors.New("sweep not configured")
	}

	byIdentity := make(map[string][]*session.Session)
	err := deps.Session.Sessions.Store().ScanActive(ctx, func(s *session.Session) error {
		res.Scanned++
		byIdentity[s.Identity] = append(byIdentity[s.Identity], s)
		return ctx.Err()
	})
	if err != nil {
		return res, session.WrapStoreError(err)
	}

	now := deps.Now()
	budget := deps.MaxTerminations
	spend := func() bool {
		if deps.MaxTerminations <= 0 {
			return true
		}
		if budget == 0 {
			res.Incomplete = true
			return false
		}
		budget--
		return true
	}

	var firstErr error
	terminate := func(s *session.Session, reason string, sync bool) bool {
		if !spend() {
			return false
		}
		changed, err := terminateSession(ctx, s, reason, sync, deps.Session)
		if err != nil {
			res.Failed++
			if firstErr == nil {
				firstErr = err
			}
			return false
		}
		return changed
	}

	for identity, list := range byIdentity {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		policy, err := deps.Policy(ctx, identity)
		if err != nil {
			res.Failed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		live := list[:0]
		for _, s := range list {
			switch {
			case now.After(s.ExpiresAt):
				if terminate(s, session.ReasonExpired, policy.CrossRegionSync) {
					res.Expired++
					deps.MetricInc(deps.Metrics.SweepExpired)
				}
			case policy.InactivityTimeout > 0 && now.Sub(s.LastActivityAt) > policy.InactivityTimeout:
				if terminate(s, session.ReasonInactivityTimeout, policy.CrossRegionSync) {
					res.Inactive++
					deps.MetricInc(deps.Metrics.SweepIdle)
				}
			default:
				live = append(live, s)
			}
		}

		excess := len(live) - policy.MaxConcurrentSessions
		if excess <= 0 {
			continue
		}
		session.SortByCreation(live)
		for _, s := range live[:excess] {
			if terminate(s, session.ReasonSessionLimit, policy.CrossRegionSync) {
				res.Trimmed++
				deps.MetricInc(deps.Metrics.SweepTrimmed)
			}
		}
	}

	deps.MetricInc(deps.Metrics.SweepRuns)
	return res, firstErr
}

func normalizeSweepDeps(deps *SweepDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	normalizeSessionDeps(&deps.Session)
}
