package audit

import (
	"context"
	"sync"

	"github.com/nerrad567/dispatch-auth/internal/auth"
	"github.com/nerrad567/dispatch-auth/internal/infrastructure/logging"
)

// DefaultQueueSize is the buffer used by NewAsync when size is not positive.
// Events beyond it are dropped rather than blocking the caller.
const DefaultQueueSize = 256

type queuedEvent struct {
	ctx   context.Context //nolint:containedctx // carried to the drain goroutine without its cancellation
	event auth.Event
}

// Async hands events to an inner sink on a single background goroutine.
// Writes are serialised, which suits SQLite's single-writer model.
type Async struct {
	name   string
	inner  auth.EventSink
	logger *logging.Logger
	ch     chan queuedEvent

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewAsync wraps inner with a bounded queue. Call Start before use and
// Close on shutdown to flush queued events.
func NewAsync(name string, inner auth.EventSink, size int, logger *logging.Logger) *Async {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Async{
		name:   name,
		inner:  inner,
		logger: logger,
		ch:     make(chan queuedEvent, size),
		done:   make(chan struct{}),
	}
}

// Start launches the drain goroutine. It stops when ctx is cancelled or
// Close is called, writing whatever is still queued first.
func (a *Async) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		ctx, a.cancel = context.WithCancel(ctx)
		go func() {
			defer close(a.done)
			a.drain(ctx)
		}()
	})
}

// Close stops the drain goroutine after flushing queued events.
// It is a no-op if Start was never called.
func (a *Async) Close() {
	a.stopOnce.Do(func() {
		if a.cancel == nil {
			return
		}
		a.cancel()
		<-a.done
	})
}

// Emit implements auth.EventSink. If the queue is full the event is dropped
// and a warning is logged.
func (a *Async) Emit(ctx context.Context, e auth.Event) {
	select {
	case a.ch <- queuedEvent{ctx: context.WithoutCancel(ctx), event: e}:
	default:
		a.logger.Warn("event queue full, dropping event",
			"sink", a.name,
			"action", string(e.Type),
		)
	}
}

func (a *Async) drain(ctx context.Context) {
	for {
		select {
		case q := <-a.ch:
			a.inner.Emit(q.ctx, q.event)
		case <-ctx.Done():
			for {
				select {
				case q := <-a.ch:
					a.inner.Emit(q.ctx, q.event)
				default:
					return
				}
			}
		}
	}
}
