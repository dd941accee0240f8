// Package notify fans ledger events out to consumers that live outside the
// engine: websocket feeds, a Redis channel and Prometheus metrics.
package notify

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/luca-patrignani/greetme/ledger"
)

var ErrHubClosed = errors.New("hub closed")

// Subscription is a single consumer of a Hub.
type Subscription struct {
	ID string
	C  <-chan ledger.Event

	ch      chan ledger.Event
	dropped atomic.Uint64
}

// Dropped returns the number of events this subscriber missed because its
// buffer was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Hub is a ledger.Listener that copies every event to its subscribers.
// Delivery never blocks: a subscriber with a full buffer loses the event.
type Hub struct {
	buffer int
	logger *slog.Logger

	mu      sync.RWMutex
	subs    map[string]*Subscription
	closed  bool
	dropped atomic.Uint64
}

type HubOption func(*Hub)

// WithBuffer sets the channel capacity of new subscriptions.
func WithBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

func WithLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) { h.logger = logger }
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		buffer: 64,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		subs:   map[string]*Subscription{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a new consumer.
func (h *Hub) Subscribe() (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	ch := make(chan ledger.Event, h.buffer)
	s := &Subscription{ID: uuid.NewString(), C: ch, ch: ch}
	h.subs[s.ID] = s
	h.logger.Debug("subscriber added", "id", s.ID, "subscribers", len(h.subs))
	return s, nil
}

// Unsubscribe removes the consumer and closes its channel. Unknown ids are
// ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(s.ch)
	h.logger.Debug("subscriber removed", "id", id, "dropped", s.Dropped())
}

func (h *Hub) Notify(ev ledger.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
			h.dropped.Add(1)
		}
	}
}

// Len returns the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns the number of events lost across all subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close unsubscribes everyone. Later calls to Subscribe fail.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, s := range h.subs {
		close(s.ch)
		delete(h.subs, id)
	}
}
