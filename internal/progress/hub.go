// Package progress fans download progress events out to per-resource subscribers.
package progress

import (
	"sync"
	"time"

	"setup-wizard/internal/domain"
)

const subscriberBuffer = 64

// Hub stores recent progress events and pushes new ones to subscribers.
type Hub struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []domain.ProgressEvent
	subs      map[domain.ResourceID]map[*subscription]struct{}
	closed    bool
}

type subscription struct {
	ch   chan domain.ProgressEvent
	done chan struct{}
	once sync.Once
}

func (s *subscription) close() {
	s.once.Do(func() {
		close(s.done)
	})
}

// NewHub creates a hub with a bounded event history.
func NewHub(maxEvents int) *Hub {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &Hub{
		maxEvents: maxEvents,
		events:    make([]domain.ProgressEvent, 0, maxEvents),
		subs:      make(map[domain.ResourceID]map[*subscription]struct{}),
	}
}

// Publish assigns sequence and timestamp, records the event and delivers it
// to every subscriber of the event's resource. Delivery blocks until each
// subscriber has taken the event or unsubscribed.
func (h *Hub) Publish(event domain.ProgressEvent) domain.ProgressEvent {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return event
	}

	h.nextSeq++
	event.Seq = h.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	h.events = append(h.events, event)
	if len(h.events) > h.maxEvents {
		trim := len(h.events) - h.maxEvents
		h.events = append([]domain.ProgressEvent(nil), h.events[trim:]...)
	}

	targets := make([]*subscription, 0, len(h.subs[event.Resource]))
	for sub := range h.subs[event.Resource] {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- event:
		case <-sub.done:
		}
	}
	return event
}

// Subscribe returns a stream of future events for one resource and a func
// that releases it. The channel is never closed; select on your own context.
func (h *Hub) Subscribe(resource domain.ResourceID) (<-chan domain.ProgressEvent, func()) {
	sub := &subscription{
		ch:   make(chan domain.ProgressEvent, subscriberBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.close()
		return sub.ch, func() {}
	}
	if h.subs[resource] == nil {
		h.subs[resource] = make(map[*subscription]struct{})
	}
	h.subs[resource][sub] = struct{}{}
	h.mu.Unlock()

	return sub.ch, func() {
		h.mu.Lock()
		delete(h.subs[resource], sub)
		h.mu.Unlock()
		sub.close()
	}
}

// Since returns events with sequence strictly greater than seq.
func (h *Hub) Since(seq int64) []domain.ProgressEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.events) == 0 {
		return nil
	}

	out := make([]domain.ProgressEvent, 0, len(h.events))
	for _, event := range h.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// Latest returns the most recent event for a resource, if any.
func (h *Hub) Latest(resource domain.ResourceID) (domain.ProgressEvent, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for i := len(h.events) - 1; i >= 0; i-- {
		if h.events[i].Resource == resource {
			return h.events[i], true
		}
	}
	return domain.ProgressEvent{}, false
}

// Subscribers reports how many live subscriptions a resource has.
func (h *Hub) Subscribers(resource domain.ResourceID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[resource])
}

// Close releases every subscription and ignores later publishes.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for resource, subs := range h.subs {
		for sub := range subs {
			sub.close()
		}
		delete(h.subs, resource)
	}
}
