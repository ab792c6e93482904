package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// envelope keeps the emitting context's values (trace span, request ids)
// while detaching it from the caller's cancellation.
type envelope struct {
	ctx   context.Context
	event Event
}

// Dispatcher asynchronously forwards audit events to a sink from a single
// worker goroutine. A nil Dispatcher accepts and discards events.
type Dispatcher struct {
	cfg       Config
	sink      Sink
	ch        chan envelope
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	delivered atomic.Uint64
	panics    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher returns nil when cfg is disabled.
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

	d := &Dispatcher{
		cfg:  cfg,
		sink: sink,
		ch:   make(chan envelope, cfg.BufferSize),
		done: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case env := <-d.ch:
			d.deliver(env)
		case <-d.done:
			for {
				select {
				case env := <-d.ch:
					d.deliver(env)
				default:
					return
				}
			}
		}
	}
}

// deliver isolates the worker from sink panics.
func (d *Dispatcher) deliver(env envelope) {
	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
		}
	}()
	d.sink.Emit(env.ctx, env.event)
	d.delivered.Add(1)
}

// Emit queues event. With DropIfFull set a full buffer drops the event and
// counts it; otherwise Emit blocks until there is room, ctx is done, or the
// dispatcher closes.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	env := envelope{ctx: context.WithoutCancel(ctx), event: event}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- env:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- env:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.done:
	}
}

// Close stops accepting events, drains the buffer and waits for the worker.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

func (d *Dispatcher) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}

// SinkPanics counts events whose sink call panicked.
func (d *Dispatcher) SinkPanics() uint64 {
	if d == nil {
		return 0
	}
	return d.panics.Load()
}
