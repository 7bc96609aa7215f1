package regionsync

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Applier applies a remote event to local state.
type Applier interface {
	Apply(ctx context.Context, ev Event) error
}

// ApplierFunc adapts a function to [Applier].
type ApplierFunc func(ctx context.Context, ev Event) error

func (f ApplierFunc) Apply(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Dispatcher runs one serial worker per kind.
type Dispatcher struct {
	applier Applier
	logger  zerolog.Logger
	queues  map[Kind]chan Event

	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
	closeOnce sync.Once

	applied atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// NewDispatcher starts the workers. Events are applied with a context
// derived from ctx; Close cancels it.
func NewDispatcher(ctx context.Context, applier Applier, queueSize int, logger zerolog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	ctx, cancel := context.WithCancel(ctx)
	d := &Dispatcher{
		applier: applier,
		logger:  logger,
		queues:  make(map[Kind]chan Event, len(kinds)),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, k := range kinds {
		q := make(chan Event, queueSize)
		d.queues[k] = q
		d.wg.Add(1)
		go d.work(q)
	}
	return d
}

func (d *Dispatcher) work(q <-chan Event) {
	defer d.wg.Done()
	for ev := range q {
		if d.ctx.Err() != nil {
			continue
		}
		if err := d.applier.Apply(d.ctx, ev); err != nil {
			d.failed.Add(1)
			d.logger.Warn().Err(err).Str("kind", string(ev.Kind)).Str("event_id", ev.ID).
				Str("origin", ev.Region).Msg("remote event apply failed")
			continue
		}
		d.applied.Add(1)
	}
}

// Dispatch queues ev on its kind's worker. It reports false when the event
// was dropped.
func (d *Dispatcher) Dispatch(ev Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	q, ok := d.queues[ev.Kind]
	if !ok {
		d.dropped.Add(1)
		return false
	}
	select {
	case q <- ev:
		return true
	default:
		d.dropped.Add(1)
		d.logger.Warn().Str("kind", string(ev.Kind)).Str("event_id", ev.ID).Msg("dispatch queue full, event dropped")
		return false
	}
}

// Close stops accepting events and waits for queued events to be applied.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		for _, q := range d.queues {
			close(q)
		}
		d.mu.Unlock()
		d.wg.Wait()
		d.cancel()
	})
}

// Abort cancels in-flight applies and closes the dispatcher.
func (d *Dispatcher) Abort() {
	d.cancel()
	d.Close()
}
