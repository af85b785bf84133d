package feed

import (
	"context"
	"sync"

	"assistant-hub/internal/domain"
)

const defaultBuffer = 64

// Hub is an in-process fan-out of values keyed by topic. Publishing never
// blocks: a subscriber whose buffer is full misses the value.
type Hub[T any] struct {
	mu     sync.Mutex
	buffer int
	subs   map[string]map[*hubSub[T]]struct{}
	closed bool
}

type hubSub[T any] struct {
	ch     chan T
	closed bool
}

// NewHub creates a Hub whose subscriber channels hold buffer values.
func NewHub[T any](buffer int) *Hub[T] {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub[T]{buffer: buffer, subs: make(map[string]map[*hubSub[T]]struct{})}
}

// Subscribe registers interest in topic. On a closed hub the returned
// channel is already closed.
func (h *Hub[T]) Subscribe(topic string) (<-chan T, func()) {
	s := &hubSub[T]{ch: make(chan T, h.buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	set, ok := h.subs[topic]
	if !ok {
		set = make(map[*hubSub[T]]struct{})
		h.subs[topic] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if s.closed {
			return
		}
		s.closed = true
		delete(h.subs[topic], s)
		if len(h.subs[topic]) == 0 {
			delete(h.subs, topic)
		}
		close(s.ch)
	}
	return s.ch, cancel
}

// Publish delivers v to every current subscriber of topic and reports how
// many received it.
func (h *Hub[T]) Publish(topic string, v T) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for s := range h.subs[topic] {
		select {
		case s.ch <- v:
			delivered++
		default:
		}
	}
	return delivered
}

// Subscribers reports the number of live subscriptions on topic.
func (h *Hub[T]) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[topic])
}

// Close ends every subscription. Later publishes are dropped.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for topic, set := range h.subs {
		for s := range set {
			s.closed = true
			close(s.ch)
		}
		delete(h.subs, topic)
	}
}

// MessageHub adapts a Hub to the Publisher and Subscriber interfaces.
// It shares the Hub's drop semantics: a message published to a
// conversation without subscribers, or to a subscriber with a full
// buffer, is lost for that subscriber.
type MessageHub struct {
	hub *Hub[domain.Message]
}

// NewMessageHub creates an in-process message feed.
func NewMessageHub(buffer int) *MessageHub {
	return &MessageHub{hub: NewHub[domain.Message](buffer)}
}

// Close ends every open subscription.
func (m *MessageHub) Close() {
	m.hub.Close()
}

func (m *MessageHub) Publish(_ context.Context, msg domain.Message) error {
	m.hub.Publish(Topic(msg.ConversationID), msg)
	return nil
}

func (m *MessageHub) Subscribe(_ context.Context, conversationID string) (<-chan domain.Message, func(), error) {
	ch, cancel := m.hub.Subscribe(Topic(conversationID))
	return ch, cancel, nil
}
