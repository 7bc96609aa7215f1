package regionsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// ErrSubscriptionClosed is returned by Run when the bus closes a
// subscription while the context is still live.
var ErrSubscriptionClosed = errors.New("regionsync: subscription closed")

// SubscriberConfig configures a [Subscriber].
type SubscriberConfig struct {
	Region      string
	Peers       []string
	TopicPrefix string
	// KindQueueSize bounds each per-kind worker queue.
	KindQueueSize int
}

// SubscriberStats are cumulative counters.
type SubscriberStats struct {
	Received uint64
	Ignored  uint64
	Rejected uint64
	Applied  uint64
	Failed   uint64
	Dropped  uint64
}

// Subscriber consumes peer region topics and applies their events locally.
type Subscriber struct {
	sub    message.Subscriber
	signer *Signer
	cfg    SubscriberConfig
	logger zerolog.Logger

	received atomic.Uint64
	ignored  atomic.Uint64
	rejected atomic.Uint64

	mu   sync.Mutex
	disp *Dispatcher
	// totals from dispatchers of previous runs
	applied, failed, dropped uint64
}

// NewSubscriber validates cfg.
func NewSubscriber(cfg SubscriberConfig, sub message.Subscriber, signer *Signer, logger zerolog.Logger) (*Subscriber, error) {
	if cfg.Region == "" {
		return nil, errors.New("regionsync: subscriber region is empty")
	}
	if sub == nil || signer == nil {
		return nil, errors.New("regionsync: subscriber and signer are required")
	}
	return &Subscriber{
		sub:    sub,
		signer: signer,
		cfg:    cfg,
		logger: logger.With().Str("component", "regionsync.subscriber").Str("region", cfg.Region).Logger(),
	}, nil
}

// Peers returns the regions this subscriber listens to.
func (s *Subscriber) Peers() []string {
	out := make([]string, 0, len(s.cfg.Peers))
	for _, p := range s.cfg.Peers {
		if p != "" && p != s.cfg.Region {
			out = append(out, p)
		}
	}
	return out
}

// Run subscribes to every peer topic and applies events until ctx is done.
// It returns ctx.Err() on cancellation and ErrSubscriptionClosed when the bus
// ends a subscription first.
func (s *Subscriber) Run(ctx context.Context, applier Applier) error {
	peers := s.Peers()
	if len(peers) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	disp := NewDispatcher(runCtx, applier, s.cfg.KindQueueSize, s.logger)
	s.mu.Lock()
	s.disp = disp
	s.mu.Unlock()
	defer s.retire(disp)

	channels := make(map[string]<-chan *message.Message, len(peers))
	for _, peer := range peers {
		ch, err := s.sub.Subscribe(runCtx, Topic(s.cfg.TopicPrefix, peer))
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", peer, err)
		}
		channels[peer] = ch
	}
	s.logger.Info().Strs("peers", peers).Msg("region sync subscribed")

	closed := make(chan string, len(channels))
	var wg sync.WaitGroup
	for peer, ch := range channels {
		wg.Add(1)
		go func(peer string, ch <-chan *message.Message) {
			defer wg.Done()
			for msg := range ch {
				s.handle(peer, msg, disp)
			}
			closed <- peer
		}(peer, ch)
	}

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case peer := <-closed:
		err = fmt.Errorf("%w: %s", ErrSubscriptionClosed, peer)
	}
	cancel()
	wg.Wait()
	return err
}

func (s *Subscriber) retire(disp *Dispatcher) {
	disp.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied += disp.applied.Load()
	s.failed += disp.failed.Load()
	s.dropped += disp.dropped.Load()
	if s.disp == disp {
		s.disp = nil
	}
}

// handle decodes and verifies msg, then hands it to the dispatcher. The
// message is acked in every case; delivery is at-most-once.
func (s *Subscriber) handle(peer string, msg *message.Message, disp *Dispatcher) {
	defer msg.Ack()
	s.received.Add(1)

	var ev Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		s.reject(peer, msg.UUID, fmt.Errorf("decode: %w", err))
		return
	}
	if ev.Region == s.cfg.Region {
		s.ignored.Add(1)
		return
	}
	if ev.Region != peer {
		s.reject(peer, ev.ID, fmt.Errorf("%w: origin %q on topic of %q", ErrInvalidEvent, ev.Region, peer))
		return
	}
	if err := ev.Validate(); err != nil {
		s.reject(peer, ev.ID, err)
		return
	}
	if err := s.signer.Verify(msg.Metadata.Get(metadataSignature), ev, msg.Payload); err != nil {
		s.reject(peer, ev.ID, err)
		return
	}
	disp.Dispatch(ev)
}

func (s *Subscriber) reject(peer, id string, err error) {
	s.rejected.Add(1)
	s.logger.Warn().Err(err).Str("origin", peer).Str("event_id", id).Msg("remote event rejected")
}

// Stats returns a snapshot of the counters.
func (s *Subscriber) Stats() SubscriberStats {
	st := SubscriberStats{
		Received: s.received.Load(),
		Ignored:  s.ignored.Load(),
		Rejected: s.rejected.Load(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st.Applied, st.Failed, st.Dropped = s.applied, s.failed, s.dropped
	if s.disp != nil {
		st.Applied += s.disp.applied.Load()
		st.Failed += s.disp.failed.Load()
		st.Dropped += s.disp.dropped.Load()
	}
	return st
}
