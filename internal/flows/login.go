package flows

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/goTrust/device"
	"github.com/MrEthical07/goTrust/risk"
	"github.com/MrEthical07/goTrust/store"
)

// FailureCounter tracks failed attempts in a trailing window.
type FailureCounter interface {
	Record(ctx context.Context, identity string, at time.Time) (int, error)
	Count(ctx context.Context, identity string, now time.Time) (int, error)
}

type LoginMetrics struct {
	LoginAssessed    int
	LoginFailed      int
	RiskMFARequired  int
	RiskBlocked      int
	DeviceRegistered int
}

type LoginEvents struct {
	Assessed     string
	MFARequired  string
	Blocked      string
	NewDevice    string
	LoginFailure string
}

type LoginErrors struct {
	EngineNotReady   error
	InvalidRequest   error
	StoreUnavailable error
}

// LoginDeps captures login evaluation dependencies.
type LoginDeps struct {
	Now   func() time.Time
	NewID func() string

	Extract func(device.Request) device.Info
	Assess  func(risk.Input) risk.Assessment
	Decide  func(int) risk.Decision

	History  store.History
	Devices  store.Devices
	Failures FailureCounter

	// HistoryWindow bounds how far back login history is loaded.
	HistoryWindow time.Duration
	HistoryLimit  int

	// LockAccount is invoked on a block decision. It owns session
	// termination and cross-region fan-out.
	LockAccount func(ctx context.Context, identity, reason string) (time.Time, error)
	Notify      NotifyFunc
	Warn        func(err error, msg string)

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

// LoginRequest describes one authentication attempt as seen by the trust
// core. Credential checking happens upstream.
type LoginRequest struct {
	Identity         string
	Request          device.Request
	Geo              *risk.GeoPoint
	Succeeded        bool
	AccountCreatedAt time.Time
}

// LoginOutcome is the result of [RunEvaluateLogin].
type LoginOutcome struct {
	Assessment  risk.Assessment
	Decision    risk.Decision
	Device      device.Info
	NewDevice   bool
	Locked      bool
	LockedUntil time.Time
}

// RunEvaluateLogin extracts the device context, scores the attempt against
// the identity's history, persists the assessment and applies the decision.
func RunEvaluateLogin(ctx context.Context, req LoginRequest, deps LoginDeps) (*LoginOutcome, error) {
	normalizeLoginDeps(&deps)

	if deps.Extract == nil || deps.Assess == nil || deps.Decide == nil || deps.History == nil || deps.Devices == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if req.Identity == "" {
		return nil, deps.Errors.InvalidRequest
	}

	now := deps.Now()
	info := deps.Extract(req.Request)

	history, err := deps.History.LoginHistory(ctx, req.Identity, now.Add(-deps.HistoryWindow), deps.HistoryLimit)
	if err != nil {
		return nil, storeError(deps.Errors.StoreUnavailable, err)
	}
	devices, err := deps.Devices.ListDevices(ctx, req.Identity)
	if err != nil {
		return nil, storeError(deps.Errors.StoreUnavailable, err)
	}
	known := make([]string, 0, len(devices))
	for i := range devices {
		if devices[i].Trusted() {
			known = append(known, devices[i].Fingerprint)
		}
	}

	failures := 0
	if deps.Failures != nil {
		n, err := deps.Failures.Count(ctx, req.Identity, now)
		if err != nil {
			deps.Warn(err, "failure window unavailable, using login history")
		} else {
			failures = n
		}
	}

	assessment := deps.Assess(risk.Input{
		Identity:         req.Identity,
		Now:              now,
		Device:           info,
		Geo:              req.Geo,
		Succeeded:        req.Succeeded,
		AccountCreatedAt: req.AccountCreatedAt,
		KnownDevices:     known,
		History:          history,
		RecentFailures:   failures,
	})
	assessment.ID = deps.NewID()
	decision := deps.Decide(assessment.Score)

	if err := deps.History.AppendAssessment(ctx, assessment); err != nil {
		return nil, storeError(deps.Errors.StoreUnavailable, err)
	}
	rec := risk.LoginRecord{
		Identity:    req.Identity,
		At:          now,
		Succeeded:   req.Succeeded,
		IP:          info.IP,
		Fingerprint: info.Fingerprint,
		Geo:         req.Geo,
		Flagged:     decision.RequireMFA || decision.Block,
	}
	if err := deps.History.RecordLogin(ctx, rec); err != nil {
		return nil, storeError(deps.Errors.StoreUnavailable, err)
	}

	outcome := &LoginOutcome{Assessment: assessment, Decision: decision, Device: info}
	deps.MetricInc(deps.Metrics.LoginAssessed)
	deps.EmitAudit(ctx, deps.Events.Assessed, req.Succeeded, req.Identity, "", nil, assessmentDetails(assessment))

	if !req.Succeeded {
		deps.MetricInc(deps.Metrics.LoginFailed)
		if deps.Failures != nil {
			if _, err := deps.Failures.Record(ctx, req.Identity, now); err != nil {
				deps.Warn(err, "failure window record failed")
			}
		}
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, req.Identity, "", nil, nil)
	}

	switch {
	case decision.Block:
		deps.MetricInc(deps.Metrics.RiskBlocked)
		var lockErr error
		if deps.LockAccount != nil {
			outcome.LockedUntil, lockErr = deps.LockAccount(ctx, req.Identity, "risk-score")
			outcome.Locked = lockErr == nil
		}
		deps.EmitAudit(ctx, deps.Events.Blocked, false, req.Identity, "", lockErr, assessmentDetails(assessment))
		// The lock raised by a block is announced by this alert alone.
		deps.Notify(ctx, req.Identity, "Suspicious sign-in blocked",
			fmt.Sprintf("A sign-in attempt from %s (%s) was blocked and your account has been temporarily locked.", info.Label(), displayIP(info.IP)))
		if lockErr != nil {
			return outcome, lockErr
		}
		return outcome, nil
	case decision.RequireMFA:
		deps.MetricInc(deps.Metrics.RiskMFARequired)
		deps.EmitAudit(ctx, deps.Events.MFARequired, true, req.Identity, "", nil, assessmentDetails(assessment))
	}

	if req.Succeeded && info.Fingerprint != "" {
		seen := device.TrustedDevice{
			Identity:    req.Identity,
			Fingerprint: info.Fingerprint,
			Level:       device.TrustStandard,
			Label:       info.Label(),
			FirstSeenAt: now,
			LastUsedAt:  now,
		}
		if req.Geo != nil {
			seen.Country = req.Geo.Country
			seen.City = req.Geo.City
		}
		_, created, err := deps.Devices.RecordDeviceUse(ctx, seen)
		if err != nil {
			return outcome, storeError(deps.Errors.StoreUnavailable, err)
		}
		if created {
			outcome.NewDevice = true
			deps.MetricInc(deps.Metrics.DeviceRegistered)
			deps.EmitAudit(ctx, deps.Events.NewDevice, true, req.Identity, "", nil, func() map[string]string {
				return map[string]string{"fingerprint": info.Fingerprint, "label": seen.Label}
			})
			deps.Notify(ctx, req.Identity, "New sign-in to your account",
				fmt.Sprintf("Your account was signed in from a new device: %s (%s).", seen.Label, displayIP(info.IP)))
		}
	}
	return outcome, nil
}

func assessmentDetails(a risk.Assessment) func() map[string]string {
	return func() map[string]string {
		return map[string]string{
			"assessment_id": a.ID,
			"score":         strconv.Itoa(a.Score),
			"factors":       strings.Join(a.Factors.Names(), ","),
		}
	}
}

func displayIP(ip string) string {
	if ip == "" {
		return "unknown address"
	}
	return ip
}

func normalizeLoginDeps(deps *LoginDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = func() string { return "" }
	}
	if deps.HistoryWindow <= 0 {
		deps.HistoryWindow = 30 * 24 * time.Hour
	}
	if deps.Notify == nil {
		deps.Notify = noopNotify
	}
	if deps.Warn == nil {
		deps.Warn = func(error, string) {}
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
	if deps.Errors.StoreUnavailable == nil {
		deps.Errors.StoreUnavailable = errors.New("store unavailable")
	}
}
