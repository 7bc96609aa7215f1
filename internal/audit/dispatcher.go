package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool `koanf:"enabled"`
	BufferSize int  `koanf:"buffer_size"`
	// DropIfFull discards info events while the queue is full. Warning and
	// critical events wait up to UrgentWait for room first.
	DropIfFull bool          `koanf:"drop_if_full"`
	UrgentWait time.Duration `koanf:"urgent_wait"`
}

const defaultUrgentWait = 25 * time.Millisecond

// Stats are the dispatcher's delivery counters.
type Stats struct {
	Emitted       uint64
	Dropped       uint64
	DroppedUrgent uint64
	SinkPanics    uint64
}

// Dispatcher queues events for a single delivery goroutine. Events are
// expected to be fully populated by the caller.
type Dispatcher struct {
	cfg   Config
	sink  Sink
	queue chan Event

	mu      sync.RWMutex
	closed  bool
	drained chan struct{}

	emitted       atomic.Uint64
	dropped       atomic.Uint64
	droppedUrgent atomic.Uint64
	panics        atomic.Uint64
}

// NewDispatcher starts delivery. It returns nil when cfg is disabled; every
// method is nil-safe.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.UrgentWait <= 0 {
		cfg.UrgentWait = defaultUrgentWait
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:     cfg,
		sink:    sink,
		queue:   make(chan Event, cfg.BufferSize),
		drained: make(chan struct{}),
	}
	go d.drain()
	return d
}

func (d *Dispatcher) drain() {
	defer close(d.drained)
	for ev := range d.queue {
		d.deliver(ev)
	}
}

// deliver isolates the queue from a panicking sink.
func (d *Dispatcher) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
		}
	}()
	d.sink.Emit(context.Background(), ev)
	d.emitted.Add(1)
}

func urgent(ev Event) bool {
	return ev.Severity == SeverityWarning || ev.Severity == SeverityCritical
}

// Emit queues ev. Without DropIfFull it waits for room until ctx ends.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.queue <- ev:
		return
	default:
	}

	var wait <-chan time.Time
	switch {
	case !d.cfg.DropIfFull:
	case urgent(ev):
		timer := time.NewTimer(d.cfg.UrgentWait)
		defer timer.Stop()
		wait = timer.C
	default:
		d.dropped.Add(1)
		return
	}

	select {
	case d.queue <- ev:
	case <-wait:
		d.dropUrgent()
	case <-ctx.Done():
		if urgent(ev) {
			d.dropUrgent()
			return
		}
		d.dropped.Add(1)
	}
}

func (d *Dispatcher) dropUrgent() {
	d.dropped.Add(1)
	d.droppedUrgent.Add(1)
}

// Close stops intake and returns once every queued event was delivered.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.drained
}

func (d *Dispatcher) Stats() Stats {
	if d == nil {
		return Stats{}
	}
	return Stats{
		Emitted:       d.emitted.Load(),
		Dropped:       d.dropped.Load(),
		DroppedUrgent: d.droppedUrgent.Load(),
		SinkPanics:    d.panics.Load(),
	}
}

// Dropped counts events discarded for lack of room, urgent ones included.
func (d *Dispatcher) Dropped() uint64 {
	return d.Stats().Dropped
}

func (d *Dispatcher) Emitted() uint64 {
	return d.Stats().Emitted
}
