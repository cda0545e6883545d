// unadulting/realtime/feed.go

// Package realtime carries row-level change notifications from the write
// path to any live views. Delivery is asynchronous and unordered relative
// to foreground fetches; consumers must merge idempotently.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Tables that emit change events.
const (
	TableTopics = "topics"
	TablePosts  = "posts"
)

// Event is one row-level change: the affected table, the kind of change,
// and the row as JSON.
type Event struct {
	Table  string          `json:"table"`
	Action Action          `json:"action"`
	Row    json.RawMessage `json:"row"`
}

// Feed is the change-notification channel. Publish is called by the write
// path after a committed mutation; Subscribe returns a receive channel for
// one table plus an unsubscribe func. Slow subscribers lose events rather
// than blocking publishers.
type Feed interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(table string) (<-chan Event, func())
}

const subscriberBuffer = 64

// subscriberChan is a best-effort event channel that tolerates sends after
// close, for transports whose delivery callbacks may still be in flight
// when the subscriber cancels.
type subscriberChan struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func newSubscriberChan() *subscriberChan {
	return &subscriberChan{ch: make(chan Event, subscriberBuffer)}
}

// send delivers ev unless the subscriber is gone or its buffer is full.
// Reports whether the event was accepted.
func (s *subscriberChan) send(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

func (s *subscriberChan) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// --- In-process hub ---

// Hub is the in-process Feed used when no NATS URL is configured, and by
// tests. Fan-out is best-effort: a full subscriber channel drops the event.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan Event
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[int]chan Event),
		logger: logger,
	}
}

func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[ev.Table] {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("Dropping realtime event for slow subscriber", "table", ev.Table, "action", ev.Action)
		}
	}
	return nil
}

func (h *Hub) Subscribe(table string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, subscriberBuffer)
	if h.subs[table] == nil {
		h.subs[table] = make(map[int]chan Event)
	}
	h.subs[table][id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[table][id]; ok {
			delete(h.subs[table], id)
			close(sub)
		}
	}
	return ch, cancel
}
