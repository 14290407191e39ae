package events

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultSubscriberBuffer = 64

// Hub fans envelopes out to in-process subscribers. A subscriber that falls
// behind loses events instead of blocking the registry.
type Hub struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]*Subscription
	dropped atomic.Uint64
}

type Subscription struct {
	id     uint64
	hub    *Hub
	topics map[string]struct{}
	ch     chan Envelope
	once   sync.Once
}

func NewHub() *Hub {
	return &Hub{subs: map[uint64]*Subscription{}}
}

// Subscribe registers interest in topics. No topics means every event.
func (h *Hub) Subscribe(topics []string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	filter := make(map[string]struct{}, len(topics))
	for _, topic := range topics {
		if topic != "" {
			filter[topic] = struct{}{}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &Subscription{
		id:     h.nextID,
		hub:    h,
		topics: filter,
		ch:     make(chan Envelope, buffer),
	}
	h.subs[sub.id] = sub
	return sub
}

func (h *Hub) Publish(_ context.Context, envelope Envelope) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if !envelope.HasTopic(sub.topics) {
			continue
		}
		select {
		case sub.ch <- envelope:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped counts envelopes discarded for slow subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (s *Subscription) C() <-chan Envelope {
	return s.ch
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		s.hub.mu.Unlock()
		close(s.ch)
	})
}
