package goTrust

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goTrust/device"
	"github.com/MrEthical07/goTrust/internal/audit"
	"github.com/MrEthical07/goTrust/internal/flows"
	"github.com/MrEthical07/goTrust/internal/limiters"
	"github.com/MrEthical07/goTrust/notify"
	"github.com/MrEthical07/goTrust/regionsync"
	"github.com/MrEthical07/goTrust/risk"
	"github.com/MrEthical07/goTrust/session"
	"github.com/MrEthical07/goTrust/store"
	"github.com/rs/zerolog"
)

// EventPublisher hands lifecycle events to the cross-region bus. Publish
// must not block; it reports false when the event was dropped.
// *regionsync.Publisher satisfies it.
type EventPublisher interface {
	Publish(ev regionsync.Event) bool
}

// AddressResolver maps an identity onto the address security alerts are
// sent to.
type AddressResolver func(ctx context.Context, identity string) (string, error)

// Engine is the session-and-trust core. It is safe for concurrent use and
// holds no per-request state; every instance of a region shares the same
// durable store and Redis mirror.
type Engine struct {
	config Config
	now    func() time.Time
	logger zerolog.Logger

	flows flows.Service

	backend   store.Backend
	sessions  *session.Tiered
	mirror    *session.Mirror
	policies  session.PolicySource
	locks     *limiters.AccountLock
	risk      *risk.Engine
	extractor *device.Extractor

	publisher EventPublisher
	notifier  notify.Notifier
	resolve   AddressResolver

	audit   *audit.Dispatcher
	metrics *Metrics
}

// Close flushes the audit dispatcher. The engine does not own the store,
// Redis client or publisher handed to the Builder.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Config returns a copy of the frozen configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Region returns the local region name.
func (e *Engine) Region() string {
	return e.config.Region
}

// AuditDropped reports events dropped because the dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Ping checks the durable store and the Redis mirror.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil || e.backend == nil {
		return ErrEngineNotReady
	}
	if err := e.backend.Ping(ctx); err != nil {
		return err
	}
	if e.mirror != nil {
		if _, err := e.mirror.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) flowMetricInc(id int) {
	e.metricInc(MetricID(id))
}

func (e *Engine) ready() error {
	if e == nil || !e.flows.Initialized() {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) publish(ev regionsync.Event) {
	if e.publisher == nil {
		return
	}
	if !e.publisher.Publish(ev) {
		e.metricInc(MetricBusDropped)
		e.logger.Warn().
			Err(ErrBusUnavailable).
			Str("kind", string(ev.Kind)).
			Str("event_id", ev.ID).
			Msg("cross-region event dropped")
	}
}

func (e *Engine) notify(ctx context.Context, identity, subject, body string) {
	if e.notifier == nil {
		return
	}
	address := identity
	if e.resolve != nil {
		resolved, err := e.resolve(ctx, identity)
		if err != nil || resolved == "" {
			e.logger.Warn().Err(err).Str("identity", identity).Msg("no alert address for identity")
			return
		}
		address = resolved
	}
	if err := e.notifier.SendSecurityAlert(ctx, address, subject, body); err != nil {
		e.logger.Warn().Err(err).Str("identity", identity).Str("subject", subject).Msg("security alert not delivered")
	}
}

func (e *Engine) warn(err error, msg string) {
	e.logger.Warn().Err(err).Msg(msg)
}

func (e *Engine) isRateLimited(err error) bool {
	return errors.Is(err, limiters.ErrRateLimited)
}
