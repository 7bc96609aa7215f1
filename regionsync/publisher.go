package regionsync

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

const (
	// DefaultTopicPrefix namespaces region topics.
	DefaultTopicPrefix = "gotrust.sessions"

	metadataSignature = "gotrust-sig"
	metadataKind      = "gotrust-kind"
	metadataRegion    = "gotrust-region"
)

// ErrBusUnavailable is reported when the breaker is open or the bus
// rejects a publish.
var ErrBusUnavailable = errors.New("regionsync: bus unavailable")

// Topic returns the topic a region publishes to.
func Topic(prefix, region string) string {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return prefix + "." + region
}

// BreakerConfig tunes the publish circuit breaker.
type BreakerConfig struct {
	FailureThreshold uint32        `koanf:"failure_threshold"`
	MaxRequests      uint32        `koanf:"max_requests"`
	Interval         time.Duration `koanf:"interval"`
	Timeout          time.Duration `koanf:"timeout"`
}

// PublisherConfig configures a [Publisher].
type PublisherConfig struct {
	Region      string
	TopicPrefix string
	QueueSize   int
	Breaker     BreakerConfig
}

// PublisherStats are cumulative counters.
type PublisherStats struct {
	Published uint64
	Dropped   uint64
	Failed    uint64
}

// Publisher sends events to the region topic without blocking callers.
type Publisher struct {
	pub    message.Publisher
	signer *Signer
	cb     *gobreaker.CircuitBreaker[struct{}]
	topic  string
	region string
	logger zerolog.Logger

	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// NewPublisher starts the drain goroutine. Close stops it.
func NewPublisher(cfg PublisherConfig, pub message.Publisher, signer *Signer, logger zerolog.Logger) (*Publisher, error) {
	if cfg.Region == "" {
		return nil, errors.New("regionsync: publisher region is empty")
	}
	if pub == nil || signer == nil {
		return nil, errors.New("regionsync: publisher and signer are required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.Timeout <= 0 {
		cfg.Breaker.Timeout = 30 * time.Second
	}

	p := &Publisher{
		pub:    pub,
		signer: signer,
		topic:  Topic(cfg.TopicPrefix, cfg.Region),
		region: cfg.Region,
		logger: logger.With().Str("component", "regionsync.publisher").Str("region", cfg.Region).Logger(),
		ch:     make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	p.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "regionsync-" + cfg.Region,
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("bus breaker state changed")
		},
	})

	p.wg.Add(1)
	go p.run()
	return p, nil
}

// Region returns the origin region stamped on published events.
func (p *Publisher) Region() string { return p.region }

// Publish queues ev. It reports false when the event was dropped. Region is
// forced to the publisher's region.
func (p *Publisher) Publish(ev Event) bool {
	if p == nil || p.closed.Load() {
		return false
	}
	ev.Region = p.region
	select {
	case p.ch <- ev:
		return true
	case <-p.done:
		return false
	default:
		p.dropped.Add(1)
		p.logger.Warn().Str("kind", string(ev.Kind)).Str("event_id", ev.ID).Msg("publish queue full, event dropped")
		return false
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for {
		select {
		case ev := <-p.ch:
			p.send(ev)
		case <-p.done:
			for {
				select {
				case ev := <-p.ch:
					p.send(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) send(ev Event) {
	if err := p.PublishNow(ev); err != nil {
		p.failed.Add(1)
		p.logger.Warn().Err(err).Str("kind", string(ev.Kind)).Str("event_id", ev.ID).Msg("event publish failed")
		return
	}
	p.published.Add(1)
}

// PublishNow signs and sends ev synchronously.
func (p *Publisher) PublishNow(ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	sig, err := p.signer.Sign(ev, payload)
	if err != nil {
		return fmt.Errorf("sign event: %w", err)
	}

	msg := message.NewMessage(ev.ID, payload)
	msg.Metadata.Set(metadataSignature, sig)
	msg.Metadata.Set(metadataKind, string(ev.Kind))
	msg.Metadata.Set(metadataRegion, ev.Region)

	_, err = p.cb.Execute(func() (struct{}, error) {
		return struct{}{}, p.pub.Publish(p.topic, msg)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}
	return nil
}

// BreakerState reports the breaker state name.
func (p *Publisher) BreakerState() string { return p.cb.State().String() }

// Stats returns a snapshot of the counters.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Failed:    p.failed.Load(),
	}
}

// Close drains queued events and stops the drain goroutine. The underlying
// watermill publisher is left open.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.done)
		p.wg.Wait()
	})
}
