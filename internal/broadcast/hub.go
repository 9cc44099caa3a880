// Package broadcast fans slot switch messages out to every surface of a
// display.
//
// # Core Philosophy
//
// "Drop, never queue." A surface that cannot keep up loses messages instead of
// slowing the publisher down. Only the latest slot matters, so a stale backlog
// has no value. Delivery is at-most-once and unordered across publishers.
//
// # Channels
//
// Subscribers join a named channel. A message published on a channel reaches
// every other subscriber of that channel and is never echoed back to the
// publisher, the same contract a browser BroadcastChannel gives.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Publish never blocks.
package broadcast

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"

	"github.com/sakif/protoface/internal/model"
)

var (
	// ErrSubscriberExists is returned when Subscribe is called with a duplicate id.
	ErrSubscriberExists = errors.New("subscriber id already exists")

	// ErrSubscriberNotFound is returned when Unsubscribe is called with unknown id.
	ErrSubscriberNotFound = errors.New("subscriber id not found")

	// ErrHubClosed is returned when operations are attempted on a closed hub.
	ErrHubClosed = errors.New("hub is closed")
)

// Stats is a snapshot of one channel's counters.
type Stats struct {
	Published   uint64
	Sent        uint64
	Dropped     uint64
	Subscribers map[string]SubscriberStats
}

// SubscriberStats tracks delivery for a single subscriber.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

type subscriber struct {
	ch      chan<- model.SyncMessage
	sent    atomic.Uint64
	dropped atomic.Uint64
}

type channel struct {
	subscribers map[string]*subscriber
	published   atomic.Uint64
}

// Hub routes messages between subscribers of named channels.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]*channel
	closed   bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{channels: make(map[string]*channel)}
}

// Subscribe registers ch to receive messages published on name.
func (h *Hub) Subscribe(name, id string, ch chan<- model.SyncMessage) error {
	if ch == nil {
		return errors.New("subscriber channel cannot be nil")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}

	c, ok := h.channels[name]
	if !ok {
		c = &channel{subscribers: make(map[string]*subscriber)}
		h.channels[name] = c
	}
	if _, exists := c.subscribers[id]; exists {
		return ErrSubscriberExists
	}
	c.subscribers[id] = &subscriber{ch: ch}
	return nil
}

// Unsubscribe removes a subscriber. An emptied channel is forgotten.
func (h *Hub) Unsubscribe(name, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}

	c, ok := h.channels[name]
	if !ok {
		return ErrSubscriberNotFound
	}
	if _, exists := c.subscribers[id]; !exists {
		return ErrSubscriberNotFound
	}

	delete(c.subscribers, id)
	if len(c.subscribers) == 0 {
		delete(h.channels, name)
	}
	return nil
}

// Publish delivers msg to every subscriber of name except from, without
// blocking. A subscriber whose buffer is full misses the message. Publish
// returns the number of subscribers that received it; on a closed hub it
// does nothing and returns 0.
func (h *Hub) Publish(name, from string, msg model.SyncMessage) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return 0
	}
	c, ok := h.channels[name]
	if !ok {
		return 0
	}
	c.published.Add(1)

	delivered := 0
	for id, sub := range c.subscribers {
		if id == from {
			continue
		}
		select {
		case sub.ch <- msg:
			sub.sent.Add(1)
			delivered++
		default:
			// Channel full - drop message
			sub.dropped.Add(1)
		}
	}
	return delivered
}

// Stats returns a snapshot of the counters of channel name.
func (h *Hub) Stats(name string) Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := Stats{Subscribers: make(map[string]SubscriberStats)}
	c, ok := h.channels[name]
	if !ok {
		return result
	}

	result.Published = c.published.Load()
	for id, sub := range c.subscribers {
		s := SubscriberStats{Sent: sub.sent.Load(), Dropped: sub.dropped.Load()}
		result.Sent += s.Sent
		result.Dropped += s.Dropped
		result.Subscribers[id] = s
	}
	return result
}

// Close stops the hub. It does not close subscriber channels; their owners
// do. Close is idempotent.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	h.channels = make(map[string]*channel)
	return nil
}

// Endpoint is one surface's membership in a channel: a receive buffer plus
// a publish handle that never echoes to itself.
type Endpoint struct {
	hub     *Hub
	channel string
	id      string
	ch      chan model.SyncMessage
	once    sync.Once
}

// Join subscribes a new endpoint with a fresh id and the given buffer size.
func (h *Hub) Join(name string, buffer int) (*Endpoint, error) {
	if buffer <= 0 {
		buffer = 1
	}
	e := &Endpoint{
		hub:     h,
		channel: name,
		id:      xid.New().String(),
		ch:      make(chan model.SyncMessage, buffer),
	}
	if err := h.Subscribe(name, e.id, e.ch); err != nil {
		return nil, err
	}
	return e, nil
}

// ID returns the endpoint's subscriber id.
func (e *Endpoint) ID() string { return e.id }

// Messages delivers what other endpoints publish.
func (e *Endpoint) Messages() <-chan model.SyncMessage { return e.ch }

// Publish sends msg to the other endpoints of the channel.
func (e *Endpoint) Publish(msg model.SyncMessage) int {
	return e.hub.Publish(e.channel, e.id, msg)
}

// PublishSlot announces a slot switch.
func (e *Endpoint) PublishSlot(slot int) {
	e.Publish(model.SlotMessage(slot))
}

// Leave unsubscribes the endpoint. Calling it more than once is harmless.
func (e *Endpoint) Leave() {
	e.once.Do(func() {
		_ = e.hub.Unsubscribe(e.channel, e.id)
	})
}
