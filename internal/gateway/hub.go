package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/orchestration"
)

const (
	defaultSubscriberBuffer = 64
	defaultRetention        = 5 * time.Minute
)

// ProgressHub fans progress events of running generations out to websocket
// subscribers. Every stream keeps its full history so late subscribers get a
// replay before live events. Streams are forgotten a while after their
// terminal event.
type ProgressHub struct {
	mu        sync.Mutex
	streams   map[string]*stream
	buffer    int
	retention time.Duration
}

type stream struct {
	history []models.ProgressEvent
	subs    map[int]chan models.ProgressEvent
	nextID  int
	ended   bool
}

// NewProgressHub creates a hub. Zero values select defaults.
func NewProgressHub(buffer int, retention time.Duration) *ProgressHub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	return &ProgressHub{
		streams:   make(map[string]*stream),
		buffer:    buffer,
		retention: retention,
	}
}

// SinkFor returns a sink that publishes into the generation's stream.
func (h *ProgressHub) SinkFor(generationID string) orchestration.ProgressSink {
	return orchestration.SinkFunc(func(_ context.Context, event models.ProgressEvent) {
		event.GenerationID = generationID
		h.Publish(event)
	})
}

// Publish appends event to its stream and delivers it to subscribers. A
// subscriber whose buffer is full is disconnected instead of blocking the
// publisher.
func (h *ProgressHub) Publish(event models.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.streamLocked(event.GenerationID)
	if s.ended {
		return
	}
	s.history = append(s.history, event)

	for id, ch := range s.subs {
		select {
		case ch <- event:
		default:
			close(ch)
			delete(s.subs, id)
		}
	}

	if event.Terminal() {
		s.ended = true
		for id, ch := range s.subs {
			close(ch)
			delete(s.subs, id)
		}
		generationID := event.GenerationID
		time.AfterFunc(h.retention, func() { h.forget(generationID) })
	}
}

// Subscribe returns the events published so far and a channel of later
// ones. The channel is closed after the terminal event, on cancel, or when
// the subscriber falls behind.
func (h *ProgressHub) Subscribe(generationID string) ([]models.ProgressEvent, <-chan models.ProgressEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.streamLocked(generationID)
	replay := append([]models.ProgressEvent(nil), s.history...)
	ch := make(chan models.ProgressEvent, h.buffer)
	if s.ended {
		close(ch)
		return replay, ch, func() {}
	}

	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				close(c)
				delete(s.subs, id)
			}
			// A stream nobody published to only exists for its
			// subscribers.
			if len(s.subs) == 0 && len(s.history) == 0 && !s.ended && h.streams[generationID] == s {
				delete(h.streams, generationID)
			}
		})
	}
	return replay, ch, cancel
}

// holds reports whether the hub has a stream for the generation.
func (h *ProgressHub) holds(generationID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.streams[generationID]
	return ok
}

// Ended reports whether the generation's terminal event was published.
func (h *ProgressHub) Ended(generationID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.streams[generationID]
	return ok && s.ended
}

// active reports how many streams the hub holds.
func (h *ProgressHub) active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams)
}

func (h *ProgressHub) streamLocked(generationID string) *stream {
	s, ok := h.streams[generationID]
	if !ok {
		s = &stream{subs: make(map[int]chan models.ProgressEvent)}
		h.streams[generationID] = s
	}
	return s
}

func (h *ProgressHub) forget(generationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.streams[generationID]; ok && s.ended {
		delete(h.streams, generationID)
	}
}
