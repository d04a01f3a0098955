package audit

import (
	"context"

	"github.com/nerrad567/dispatch-auth/internal/auth"
	"github.com/nerrad567/dispatch-auth/internal/infrastructure/logging"
)

// Fanout delivers each event to every configured sink in order.
// A panicking sink is logged and skipped.
type Fanout struct {
	sinks  []auth.EventSink
	logger *logging.Logger
}

// NewFanout creates a Fanout. Nil sinks are ignored.
func NewFanout(logger *logging.Logger, sinks ...auth.EventSink) *Fanout {
	if logger == nil {
		logger = logging.Discard()
	}
	f := &Fanout{logger: logger}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Len returns the number of sinks.
func (f *Fanout) Len() int {
	return len(f.sinks)
}

// Emit implements auth.EventSink.
func (f *Fanout) Emit(ctx context.Context, e auth.Event) {
	for _, s := range f.sinks {
		f.emitOne(ctx, s, e)
	}
}

func (f *Fanout) emitOne(ctx context.Context, s auth.EventSink, e auth.Event) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("event sink panicked",
				"action", string(e.Type),
				"panic", r,
			)
		}
	}()
	s.Emit(ctx, e)
}
