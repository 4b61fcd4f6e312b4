package audit

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull makes Emit non-blocking; events that do not fit are counted
	// and discarded.
	DropIfFull bool
	// Logger receives sink panics. Nil means no logging.
	Logger *zap.Logger
}

// Dispatcher forwards events to a sink from a single worker goroutine, so
// the sink sees events in emission order and never concurrently.
type Dispatcher struct {
	cfg    Config
	sink   Sink
	logger *zap.Logger

	// mu guards closed and the send side of queue: senders hold it shared,
	// Close holds it exclusively before closing the channel.
	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}

	dropped   atomic.Uint64
	delivered atomic.Uint64
	panics    atomic.Uint64
}

// NewDispatcher starts the worker. It returns nil when cfg.Enabled is false;
// every method is safe on a nil Dispatcher.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		queue:  make(chan Event, cfg.BufferSize),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.queue {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			d.logger.Error("audit sink panicked", zap.String("event", ev.EventType), zap.Any("panic", r))
		}
	}()
	d.sink.Emit(context.Background(), ev)
	d.delivered.Add(1)
}

// Emit queues ev. In blocking mode it waits for buffer space or ctx.
// Events emitted after Close are discarded.
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

	if d.cfg.DropIfFull {
		select {
		case d.queue <- ev:
		default:
			d.dropped.Add(1)
		}
		return
	}
	select {
	case d.queue <- ev:
	case <-ctx.Done():
	}
}

// Close stops accepting events, delivers everything already queued and
// waits for the worker to exit.
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
	<-d.done
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Delivered counts events the sink returned from normally.
func (d *Dispatcher) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}
