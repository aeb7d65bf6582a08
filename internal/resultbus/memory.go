package resultbus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MemoryBus is an in-process Bus.
// Each subscriber owns an unbounded FIFO queue so a slow reader never
// blocks publishers and never loses messages.
type MemoryBus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[string]map[*memorySubscription]struct{}
	kv     map[string]string
	closed bool
}

var _ Bus = (*MemoryBus)(nil)

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus(logger *slog.Logger) *MemoryBus {
	return &MemoryBus{
		logger: logger.With("component", "memory_bus"),
		subs:   make(map[string]map[*memorySubscription]struct{}),
		kv:     make(map[string]string),
	}
}

// Publish implements Publisher.
func (b *MemoryBus) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, ErrClosed
	}

	var n int64
	for sub := range b.subs[channel] {
		// Each subscriber gets its own copy.
		buf := make([]byte, len(payload))
		copy(buf, payload)
		if sub.push(Message{Channel: channel, Payload: buf}) {
			n++
		}
	}
	return n, nil
}

// Subscribe implements Bus.
func (b *MemoryBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub := &memorySubscription{
		bus:     b,
		channel: channel,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*memorySubscription]struct{})
	}
	b.subs[channel][sub] = struct{}{}
	return sub, nil
}

// HealthCheck implements Bus with a round-trip through the in-memory key store.
func (b *MemoryBus) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	b.kv[HealthCheckKey] = HealthCheckValue
	got := b.kv[HealthCheckKey]
	delete(b.kv, HealthCheckKey)
	if got != HealthCheckValue {
		return ErrHealthCheck
	}
	return nil
}

// SubscriberCount returns the number of open subscriptions on channel.
func (b *MemoryBus) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

// Close implements Bus. All open subscriptions are closed.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var open []*memorySubscription
	for _, subs := range b.subs {
		for sub := range subs {
			open = append(open, sub)
		}
	}
	b.subs = make(map[string]map[*memorySubscription]struct{})
	b.mu.Unlock()

	for _, sub := range open {
		sub.shutdown()
	}
	return nil
}

func (b *MemoryBus) remove(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subs[sub.channel]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.subs, sub.channel)
		}
	}
}

type memorySubscription struct {
	bus     *MemoryBus
	channel string

	mu     sync.Mutex
	queue  []Message
	closed bool

	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (s *memorySubscription) push(msg Message) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

func (s *memorySubscription) pop() (Message, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Message{}, false, true
	}
	if len(s.queue) == 0 {
		return Message{}, false, false
	}
	msg := s.queue[0]
	s.queue[0] = Message{}
	s.queue = s.queue[1:]
	return msg, true, false
}

// Receive implements Subscription.
func (s *memorySubscription) Receive(ctx context.Context, wait time.Duration) (Message, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		msg, ok, closed := s.pop()
		if closed {
			return Message{}, ErrClosed
		}
		if ok {
			return msg, nil
		}

		select {
		case <-s.notify:
		case <-s.done:
			return Message{}, ErrClosed
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-timer.C:
			return Message{}, ErrNoMessage
		}
	}
}

// Close implements Subscription.
func (s *memorySubscription) Close() error {
	s.bus.remove(s)
	s.shutdown()
	return nil
}

func (s *memorySubscription) shutdown() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
	})
}
