package orchestration

import (
	"context"
	"sync"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
)

// ProgressSink receives progress events in order. Emit must not retain or
// mutate the event's Data map after returning.
type ProgressSink interface {
	Emit(ctx context.Context, event models.ProgressEvent)
}

// SinkFunc adapts a function to ProgressSink.
type SinkFunc func(ctx context.Context, event models.ProgressEvent)

func (f SinkFunc) Emit(ctx context.Context, event models.ProgressEvent) {
	f(ctx, event)
}

type nopSink struct{}

func (nopSink) Emit(context.Context, models.ProgressEvent) {}

// ChannelSink forwards events to a buffered channel. Emit blocks while the
// buffer is full unless ctx is done, in which case the event is dropped.
type ChannelSink struct {
	mu     sync.Mutex
	ch     chan models.ProgressEvent
	closed bool
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan models.ProgressEvent, buffer)}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan models.ProgressEvent {
	return s.ch
}

// Emit implements ProgressSink.
func (s *ChannelSink) Emit(ctx context.Context, event models.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- event:
	case <-ctx.Done():
	}
}

// Close closes the channel. Later Emits are ignored.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// MultiSink fans one event out to several sinks in order.
type MultiSink []ProgressSink

func (m MultiSink) Emit(ctx context.Context, event models.ProgressEvent) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}
