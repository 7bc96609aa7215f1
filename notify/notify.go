// Package notify delivers security alerts to account owners. Delivery is the
// job of an external service; failures are logged by callers and never fail
// the triggering operation.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrThrottled is returned when an address exceeded its alert budget.
var ErrThrottled = errors.New("notify: alert throttled")

// Notifier sends a security alert.
type Notifier interface {
	SendSecurityAlert(ctx context.Context, address, subject, body string) error
}

// NotifierFunc adapts a function to [Notifier].
type NotifierFunc func(ctx context.Context, address, subject, body string) error

func (f NotifierFunc) SendSecurityAlert(ctx context.Context, address, subject, body string) error {
	return f(ctx, address, subject, body)
}

// Nop discards alerts.
type Nop struct{}

func (Nop) SendSecurityAlert(context.Context, string, string, string) error { return nil }

// LogNotifier writes alerts to a logger. It is the default when no delivery
// service is wired.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier returns a notifier logging at info level.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) SendSecurityAlert(_ context.Context, address, subject, body string) error {
	n.logger.Info().Str("address", address).Str("subject", subject).Str("body", body).Msg("security alert")
	return nil
}

// ThrottleConfig bounds alerts per address.
type ThrottleConfig struct {
	// Every is the steady-state interval between alerts to one address.
	Every time.Duration `koanf:"every"`
	Burst int           `koanf:"burst"`
	// IdleTTL evicts limiters for addresses that have been quiet this long.
	IdleTTL time.Duration `koanf:"idle_ttl"`
}

// DefaultThrottleConfig allows a burst of 5 and one alert per minute after.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{Every: time.Minute, Burst: 5, IdleTTL: time.Hour}
}

type bucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

// Throttled wraps a notifier with a token bucket per address.
type Throttled struct {
	next Notifier
	cfg  ThrottleConfig
	now  func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	sweepAt time.Time
}

// NewThrottled wraps next.
func NewThrottled(next Notifier, cfg ThrottleConfig) *Throttled {
	def := DefaultThrottleConfig()
	if cfg.Every <= 0 {
		cfg.Every = def.Every
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = def.IdleTTL
	}
	return &Throttled{next: next, cfg: cfg, now: time.Now, buckets: make(map[string]*bucket)}
}

func (t *Throttled) allow(address string) bool {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	if now.After(t.sweepAt) {
		for addr, b := range t.buckets {
			if now.Sub(b.seen) > t.cfg.IdleTTL {
				delete(t.buckets, addr)
			}
		}
		t.sweepAt = now.Add(t.cfg.IdleTTL)
	}

	b, ok := t.buckets[address]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Every(t.cfg.Every), t.cfg.Burst)}
		t.buckets[address] = b
	}
	b.seen = now
	return b.limiter.AllowN(now, 1)
}

func (t *Throttled) SendSecurityAlert(ctx context.Context, address, subject, body string) error {
	if !t.allow(address) {
		return ErrThrottled
	}
	return t.next.SendSecurityAlert(ctx, address, subject, body)
}
