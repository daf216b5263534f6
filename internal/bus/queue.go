package bus

import (
	"context"
	"errors"
	"sync"
)

// DefaultQueueDepth is the per-subscriber bound used when none is configured.
const DefaultQueueDepth = 10

// ErrClosed is returned when reading from a closed subscription.
var ErrClosed = errors.New("subscription closed")

// Subscription is a bounded FIFO of pending payloads for one subscriber.
// When full, pushing a new payload silently drops the oldest one.
type Subscription struct {
	channel string
	depth   int

	mu      sync.Mutex
	items   []string // ring buffer
	head    int
	size    int
	dropped uint64
	closed  bool
	ready   chan struct{}
	detach  func()
}

func newSubscription(channel string, depth int) *Subscription {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Subscription{
		channel: channel,
		depth:   depth,
		items:   make([]string, depth),
		ready:   make(chan struct{}, 1),
	}
}

// Channel returns the channel name this subscription listens on.
func (s *Subscription) Channel() string {
	return s.channel
}

// Depth returns the fixed capacity of the queue.
func (s *Subscription) Depth() int {
	return s.depth
}

// push appends a payload, dropping the oldest one on overflow.
// It reports whether a payload was dropped.
func (s *Subscription) push(payload string) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}

	dropped := false
	if s.size == s.depth {
		s.head = (s.head + 1) % s.depth
		s.size--
		s.dropped++
		dropped = true
	}
	s.items[(s.head+s.size)%s.depth] = payload
	s.size++
	s.mu.Unlock()

	s.signal()
	return dropped
}

func (s *Subscription) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest pending payload.
func (s *Subscription) Pop() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size == 0 {
		return "", false
	}
	payload := s.items[s.head]
	s.items[s.head] = ""
	s.head = (s.head + 1) % s.depth
	s.size--
	return payload, true
}

// Ready returns a channel that receives a value after new payloads arrive.
// Consumers should drain with Pop until it reports false.
func (s *Subscription) Ready() <-chan struct{} {
	return s.ready
}

// Next blocks until a payload is available, the context is done, or the
// subscription is closed.
func (s *Subscription) Next(ctx context.Context) (string, error) {
	for {
		if payload, ok := s.Pop(); ok {
			return payload, nil
		}
		if s.Closed() {
			return "", ErrClosed
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-s.ready:
		}
	}
}

// Len returns the number of pending payloads.
func (s *Subscription) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Dropped returns how many payloads were discarded due to overflow.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close detaches the subscription from its bus. Pending payloads can still
// be popped; Next returns ErrClosed once they are drained.
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	detach := s.detach
	s.mu.Unlock()

	if detach != nil {
		detach()
	}
	s.signal()
	return nil
}

// Closed reports whether Close has been called.
func (s *Subscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Dispatch delivers payloads from sub to fn one at a time, in order, until
// the context is done or the subscription is closed.
func Dispatch(ctx context.Context, sub *Subscription, fn func(payload string)) error {
	for {
		payload, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
		fn(payload)
	}
}
