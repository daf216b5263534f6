// Package bus provides the publish/subscribe transport between the gesture
// publisher and the actuator: an in-memory bus with bounded per-subscriber
// queues, and a websocket transport so the two can run as separate processes.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultChannel is the channel name used when none is configured.
const DefaultChannel = "topic"

// ErrPublish is returned when a payload could not be handed to the bus.
var ErrPublish = errors.New("publish failed")

// Publisher sends payloads on a named channel.
type Publisher interface {
	Publish(ctx context.Context, channel, payload string) error
}

// Bus is a publish/subscribe transport.
type Bus interface {
	Publisher
	Subscribe(channel string, depth int) (*Subscription, error)
}

// Memory is an in-process Bus. Payloads from one publisher are delivered to
// every subscriber of the channel in publish order.
type Memory struct {
	mu     sync.Mutex
	subs   map[string][]*Subscription
	closed bool

	// OnDrop is called, outside the bus lock, when a subscriber queue
	// overflows and its oldest payload is discarded.
	OnDrop func(sub *Subscription)
}

// NewMemory creates an empty in-memory bus.
func NewMemory() *Memory {
	return &Memory{
		subs: make(map[string][]*Subscription),
	}
}

// Publish enqueues payload on every subscription of channel. Publishing to a
// channel without subscribers is not an error.
func (m *Memory) Publish(ctx context.Context, channel, payload string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("%w: bus closed", ErrPublish)
	}

	var overflowed []*Subscription
	for _, sub := range m.subs[channel] {
		if sub.push(payload) {
			overflowed = append(overflowed, sub)
		}
	}
	onDrop := m.OnDrop
	m.mu.Unlock()

	if onDrop != nil {
		for _, sub := range overflowed {
			onDrop(sub)
		}
	}
	return nil
}

// Subscribe registers a new subscription with a queue of the given depth.
// A depth <= 0 selects DefaultQueueDepth.
func (m *Memory) Subscribe(channel string, depth int) (*Subscription, error) {
	if channel == "" {
		return nil, errors.New("channel name is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.New("bus closed")
	}

	sub := newSubscription(channel, depth)
	sub.detach = func() { m.remove(sub) }
	m.subs[channel] = append(m.subs[channel], sub)
	return sub, nil
}

// Subscribers returns the number of live subscriptions on channel.
func (m *Memory) Subscribers(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[channel])
}

func (m *Memory) remove(sub *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.subs[sub.channel]
	for i, s := range list {
		if s == sub {
			m.subs[sub.channel] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(m.subs[sub.channel]) == 0 {
		delete(m.subs, sub.channel)
	}
}

// Close closes every subscription and rejects further publishes.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var all []*Subscription
	for _, list := range m.subs {
		all = append(all, list...)
	}
	m.mu.Unlock()

	for _, sub := range all {
		sub.Close()
	}
	return nil
}
