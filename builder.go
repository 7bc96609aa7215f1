package goTrust

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goTrust/device"
	"github.com/MrEthical07/goTrust/internal"
	"github.com/MrEthical07/goTrust/internal/audit"
	"github.com/MrEthical07/goTrust/internal/flows"
	"github.com/MrEthical07/goTrust/internal/limiters"
	"github.com/MrEthical07/goTrust/internal/secretbox"
	"github.com/MrEthical07/goTrust/internal/stores"
	"github.com/MrEthical07/goTrust/mfa"
	"github.com/MrEthical07/goTrust/notify"
	"github.com/MrEthical07/goTrust/risk"
	"github.com/MrEthical07/goTrust/session"
	"github.com/MrEthical07/goTrust/store"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Builder assembles an [Engine]. It is configured during initialization and
// can be built exactly once.
type Builder struct {
	config Config

	redis   redis.UniversalClient
	backend store.Backend
	logger  zerolog.Logger

	policies  session.PolicySource
	classify  session.ClassifyFunc
	hours     risk.HourStrategy
	proxies   risk.ProxyDetector
	extractor *device.Extractor

	publisher EventPublisher
	notifier  notify.Notifier
	resolve   AddressResolver
	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
		logger: zerolog.Nop(),
	}
}

// WithConfig replaces the configuration. The value is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing the session mirror, limiters, account
// locks and pending enrollments. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStore sets the durable backend. Required.
func (b *Builder) WithStore(backend store.Backend) *Builder {
	b.backend = backend
	return b
}

func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithPolicySource overrides the configured policy table.
func (b *Builder) WithPolicySource(src session.PolicySource) *Builder {
	b.policies = src
	return b
}

// WithClassifier maps identities onto the policy classes of the configured
// table. It is ignored when a PolicySource is set.
func (b *Builder) WithClassifier(fn session.ClassifyFunc) *Builder {
	b.classify = fn
	return b
}

// WithHourStrategy overrides the configured unusual-hour detector.
func (b *Builder) WithHourStrategy(s risk.HourStrategy) *Builder {
	b.hours = s
	return b
}

// WithProxyDetector overrides the detector built from Risk.ProxyCIDRs.
func (b *Builder) WithProxyDetector(d risk.ProxyDetector) *Builder {
	b.proxies = d
	return b
}

func (b *Builder) WithExtractor(e *device.Extractor) *Builder {
	b.extractor = e
	return b
}

// WithPublisher attaches the cross-region publisher. Without one, lifecycle
// events stay local.
func (b *Builder) WithPublisher(p EventPublisher) *Builder {
	b.publisher = p
	return b
}

// WithNotifier sets the security alert channel. When Notify.Enabled is set
// it is wrapped in a per-address throttle.
func (b *Builder) WithNotifier(n notify.Notifier) *Builder {
	b.notifier = n
	return b
}

// WithAddressResolver maps identities onto alert addresses. Without one the
// identity itself is used.
func (b *Builder) WithAddressResolver(fn AddressResolver) *Builder {
	b.resolve = fn
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock replaces time.Now. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.backend == nil {
		return nil, errors.New("durable store required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	policies := b.policies
	if policies == nil {
		static, err := session.NewStaticPolicies(cfg.Session.Default, cfg.Session.Classes, b.classify)
		if err != nil {
			return nil, err
		}
		policies = static
	}

	box, err := secretbox.New(cfg.MFA.SecretKey, "totp")
	if err != nil {
		return nil, fmt.Errorf("MFA SecretKey: %w", err)
	}

	hours := b.hours
	if hours == nil {
		hours = hourStrategy(cfg.Risk)
	}
	proxies := b.proxies
	if proxies == nil && len(cfg.Risk.ProxyCIDRs) > 0 {
		detector, err := risk.NewPrefixDetector(cfg.Risk.ProxyCIDRs)
		if err != nil {
			return nil, err
		}
		proxies = detector
	}
	riskOpts := []risk.EngineOption{risk.WithHourStrategy(hours)}
	if proxies != nil {
		riskOpts = append(riskOpts, risk.WithProxyDetector(proxies))
	}

	extractor := b.extractor
	if extractor == nil {
		extractor = device.NewExtractor()
	}

	sink := b.auditSink
	if sink == nil {
		sink = audit.NewZerologSink(b.logger)
	}

	var notifier notify.Notifier
	if cfg.Notify.Enabled {
		notifier = b.notifier
		if notifier == nil {
			notifier = notify.NewLogNotifier(b.logger)
		}
		notifier = notify.NewThrottled(notifier, cfg.Notify.Throttle)
	}

	prefix := cfg.Account.RedisPrefix
	mirror := session.NewMirror(b.redis, cfg.Session.MirrorPrefix)

	e := &Engine{
		config:    cfg,
		now:       now,
		logger:    b.logger,
		backend:   b.backend,
		mirror:    mirror,
		sessions:  session.NewTiered(mirror, b.backend, now, b.logger),
		policies:  policies,
		locks:     limiters.NewAccountLock(b.redis, prefix),
		risk:      risk.NewEngine(cfg.Risk.Config, riskOpts...),
		extractor: extractor,
		publisher: b.publisher,
		notifier:  notifier,
		resolve:   b.resolve,
		audit:     audit.NewDispatcher(cfg.Audit, sink),
		metrics:   NewMetrics(cfg.Metrics),
	}

	totp := mfa.NewTOTP(cfg.MFA.TOTP)
	e.flows = flows.New(e.flowDeps(
		limiters.NewFailureWindow(b.redis, prefix, cfg.Account.FailureWindow),
		stores.NewEnrollmentStore(b.redis, prefix, now),
		box,
		totp,
		limiters.NewTOTPLimiter(b.redis, prefix, cfg.MFA.TOTPAttempts),
		limiters.NewBackupCodeLimiter(b.redis, prefix, cfg.MFA.BackupAttempts),
	))

	b.built = true
	return e, nil
}

func hourStrategy(cfg RiskConfig) risk.HourStrategy {
	window := risk.HourWindow{Start: cfg.UnusualStart, End: cfg.UnusualEnd, Location: time.UTC}
	if cfg.HourStrategy == HourStrategyBaseline {
		return risk.HourBaseline{MinSamples: 10, MinShare: 0.05, Tolerance: 1, Fallback: window}
	}
	return window
}

func newSessionID() (string, error) {
	id, err := internal.NewSessionID()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// flowDeps binds every flow to the engine. Metric and event identifiers are
// set explicitly; a zero value would alias the first metric.
func (e *Engine) flowDeps(
	failures flows.FailureCounter,
	enrollment flows.EnrollmentStore,
	box flows.SecretSealer,
	totp flows.TOTPProvider,
	totpLimiter flows.AttemptLimiter,
	backupLimiter flows.AttemptLimiter,
) flows.Deps {
	cfg := e.config
	policy := e.policies.PolicyFor

	sessionDeps := flows.SessionDeps{
		Region:   cfg.Region,
		Now:      e.now,
		NewID:    newSessionID,
		Policy:   policy,
		Sessions: e.sessions,
		AccountLocked: func(ctx context.Context, identity string) (bool, error) {
			_, locked, err := e.flows.AccountLock(ctx, identity)
			return locked, err
		},
		VerifyMFA: func(ctx context.Context, identity, code string) (bool, error) {
			return e.flows.VerifyMFA(ctx, identity, code)
		},
		Publish:   e.publish,
		MetricInc: e.flowMetricInc,
		EmitAudit: e.emitAudit,
		Metrics: flows.SessionMetrics{
			SessionCreated:      int(MetricSessionCreated),
			SessionDenied:       int(MetricSessionDenied),
			SessionValidated:    int(MetricSessionValidated),
			SessionRejected:     int(MetricSessionRejected),
			SessionExtended:     int(MetricSessionExtended),
			SessionExtendDenied: int(MetricSessionExtendDenied),
			SessionTerminated:   int(MetricSessionTerminated),
			SessionMFACompleted: int(MetricSessionMFACompleted),
		},
		Events: flows.SessionEvents{
			Created:          auditEventSessionCreated,
			Denied:           auditEventSessionDenied,
			Extended:         auditEventSessionExtended,
			ExtendDenied:     auditEventSessionExtendDenied,
			Terminated:       auditEventSessionTerminated,
			IdentityMismatch: auditEventSessionIdentityMismatch,
			MFACompleted:     auditEventSessionMFACompleted,
			MFAFailed:        auditEventSessionMFAFailed,
		},
		Errors: flows.SessionErrors{
			EngineNotReady:  ErrEngineNotReady,
			InvalidRequest:  ErrInvalidRequest,
			AccountLocked:   ErrAccountLocked,
			SessionNotFound: ErrSessionNotFound,
			SessionInactive: ErrSessionInactive,
			InvalidMFACode:  ErrInvalidMFACode,
			PolicyDenied:    policyDenied,
		},
	}

	// TerminateAll is left to flows.New, which binds it to the session flow.
	lockDeps := flows.LockDeps{
		Region:       cfg.Region,
		Now:          e.now,
		Locks:        e.locks,
		Policy:       policy,
		LockDuration: cfg.Account.LockDuration,
		Publish:      e.publish,
		Notify:       e.notify,
		MetricInc:    e.flowMetricInc,
		EmitAudit:    e.emitAudit,
		Metrics: flows.LockMetrics{
			AccountLocked:   int(MetricAccountLocked),
			AccountUnlocked: int(MetricAccountUnlocked),
			PasswordChanged: int(MetricPasswordChanged),
		},
		Events: flows.LockEvents{
			Locked:          auditEventAccountLocked,
			Unlocked:        auditEventAccountUnlocked,
			PasswordChanged: auditEventPasswordChanged,
		},
		Errors: flows.LockErrors{
			EngineNotReady: ErrEngineNotReady,
			InvalidRequest: ErrInvalidRequest,
			Unavailable:    ErrLimiterUnavailable,
		},
	}

	return flows.Deps{
		Session: sessionDeps,
		Login: flows.LoginDeps{
			Now:           e.now,
			NewID:         uuid.NewString,
			Extract:       e.extractor.Extract,
			Assess:        e.risk.Assess,
			Decide:        e.risk.Decide,
			History:       e.backend,
			Devices:       e.backend,
			Failures:      failures,
			HistoryWindow: cfg.Risk.HistoryWindow,
			HistoryLimit:  cfg.Risk.HistoryLimit,
			LockAccount: func(ctx context.Context, identity, reason string) (time.Time, error) {
				return e.flows.LockAccount(ctx, flows.LockRequest{Identity: identity, Reason: reason, Publish: true, Quiet: true})
			},
			Notify:    e.notify,
			Warn:      e.warn,
			MetricInc: e.flowMetricInc,
			EmitAudit: e.emitAudit,
			Metrics: flows.LoginMetrics{
				LoginAssessed:    int(MetricLoginAssessed),
				LoginFailed:      int(MetricLoginFailed),
				RiskMFARequired:  int(MetricRiskMFARequired),
				RiskBlocked:      int(MetricRiskBlocked),
				DeviceRegistered: int(MetricDeviceRegistered),
			},
			Events: flows.LoginEvents{
				Assessed:     auditEventRiskAssessed,
				MFARequired:  auditEventRiskMFARequired,
				Blocked:      auditEventRiskBlocked,
				NewDevice:    auditEventDeviceNew,
				LoginFailure: auditEventLoginFailure,
			},
			Errors: flows.LoginErrors{
				EngineNotReady:   ErrEngineNotReady,
				InvalidRequest:   ErrInvalidRequest,
				StoreUnavailable: ErrStoreUnavailable,
			},
		},
		MFA: flows.MFADeps{
			Now:               e.now,
			Store:             e.backend,
			Enrollment:        enrollment,
			Box:               box,
			TOTP:              totp,
			TOTPLimiter:       totpLimiter,
			BackupLimiter:     backupLimiter,
			IsRateLimited:     e.isRateLimited,
			TOTPDigits:        cfg.MFA.TOTP.Digits,
			EnrollmentTTL:     cfg.MFA.EnrollmentTTL,
			MaxEnrollAttempts: cfg.MFA.MaxEnrollAttempts,
			BackupCodeCount:   cfg.MFA.BackupCodeCount,
			BackupCodeLength:  cfg.MFA.BackupCodeLength,
			BackupCodeTTL:     cfg.MFA.BackupCodeTTL,
			Notify:            e.notify,
			MetricInc:         e.flowMetricInc,
			EmitAudit:         e.emitAudit,
			Metrics: flows.MFAMetrics{
				MFAEnrollStarted:      int(MetricMFAEnrollStarted),
				MFAEnabled:            int(MetricMFAEnabled),
				MFADisabled:           int(MetricMFADisabled),
				TOTPSuccess:           int(MetricTOTPSuccess),
				TOTPFailure:           int(MetricTOTPFailure),
				TOTPReplay:            int(MetricTOTPReplay),
				BackupCodeUsed:        int(MetricBackupCodeUsed),
				BackupCodeFailed:      int(MetricBackupCodeFailed),
				BackupCodeRegenerated: int(MetricBackupCodeRegenerated),
				MFARateLimited:        int(MetricMFARateLimited),
			},
			Events: flows.MFAEvents{
				EnrollStarted:      auditEventMFAEnrollStarted,
				Enabled:            auditEventMFAEnabled,
				EnrollFailed:       auditEventMFAEnrollFailed,
				Disabled:           auditEventMFADisabled,
				VerifySuccess:      auditEventMFAVerifySuccess,
				VerifyFailure:      auditEventMFAVerifyFailure,
				BackupCodeUsed:     auditEventMFABackupCodeUsed,
				CodesRegenerated:   auditEventMFACodesRegenerated,
				RateLimitTriggered: auditEventMFARateLimited,
			},
			Errors: flows.MFAErrors{
				EngineNotReady:     ErrEngineNotReady,
				InvalidRequest:     ErrInvalidRequest,
				NotEnabled:         ErrMFANotEnabled,
				AlreadyEnabled:     ErrMFAAlreadyEnabled,
				EnrollmentNotFound: ErrMFAEnrollmentNotFound,
				EnrollmentAttempts: ErrMFAEnrollmentAttempts,
				InvalidCode:        ErrInvalidMFACode,
				RateLimited:        ErrRateLimited,
				Unavailable:        ErrStoreUnavailable,
			},
		},
		Lock: lockDeps,
		Sweep: flows.SweepDeps{
			Now:             e.now,
			Policy:          policy,
			Session:         sessionDeps,
			MaxTerminations: cfg.Sweep.MaxTerminations,
			MetricInc:       e.flowMetricInc,
			Metrics: flows.SweepMetrics{
				SweepRuns:    int(MetricSweepRuns),
				SweepExpired: int(MetricSweepExpired),
				SweepIdle:    int(MetricSweepIdle),
				SweepTrimmed: int(MetricSweepTrimmed),
			},
		},
		Remote: flows.RemoteDeps{
			Now:       e.now,
			Session:   sessionDeps,
			Mirror:    e.mirror,
			Locks:     e.locks,
			Users:     e.backend,
			MetricInc: e.flowMetricInc,
			EmitAudit: e.emitAudit,
			Metrics: flows.RemoteMetrics{
				RemoteApplied: int(MetricRemoteApplied),
				RemoteStale:   int(MetricRemoteStale),
			},
			Events: flows.RemoteEvents{
				Applied: auditEventSyncApplied,
			},
		},
	}
}
