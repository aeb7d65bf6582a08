package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/taskrelay/internal/domain"
	"github.com/phrazzld/taskrelay/internal/events"
	"github.com/phrazzld/taskrelay/internal/platform/logger"
	"github.com/phrazzld/taskrelay/internal/resultbus"
	"github.com/stretchr/testify/require"
)

const testResults = "results_queue"

// fakeTransport records everything written to it.
type fakeTransport struct {
	mu       sync.Mutex
	sent     [][]byte
	closed   bool
	code     int
	sendErr  error
	sendHook func(payload []byte)
}

func (f *fakeTransport) Send(_ context.Context, payload []byte) error {
	if f.sendHook != nil {
		f.sendHook(payload)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("transport closed")
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), payload...))
	return nil
}

func (f *fakeTransport) Close(code int, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.code = code
	return nil
}

func (f *fakeTransport) messages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) closeState() (bool, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.code
}

// taskIDs decodes every recorded result event and returns its task ids.
func (f *fakeTransport) taskIDs(t *testing.T) []string {
	t.Helper()
	var ids []string
	for _, m := range f.messages() {
		e, err := events.Decode(m)
		require.NoError(t, err)
		ids = append(ids, e.TaskID)
	}
	return ids
}

func newTestRouter(t *testing.T, bus resultbus.Bus) *Router {
	t.Helper()
	return NewRouter(bus, NewHub(), RouterConfig{
		ResultsChannel: testResults,
		PollWait:       20 * time.Millisecond,
		RetryBackoff:   5 * time.Millisecond,
	}, logger.Discard())
}

func newMemoryBus(t *testing.T) *resultbus.MemoryBus {
	t.Helper()
	bus := resultbus.NewMemoryBus(logger.Discard())
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func publish(t *testing.T, bus resultbus.Publisher, identity domain.Identity, taskID string) {
	t.Helper()
	event := events.NewError(identity, taskID, "reverse_string", "irrelevant")
	_, err := resultbus.PublishEvent(context.Background(), bus, testResults, event)
	require.NoError(t, err)
}

func decodeControl(t *testing.T, payload []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(payload, &out))
	return out
}

// flakyBus fails the first failures receives of each subscription.
type flakyBus struct {
	*resultbus.MemoryBus
	failures int
}

func (b *flakyBus) Subscribe(ctx context.Context, channel string) (resultbus.Subscription, error) {
	sub, err := b.MemoryBus.Subscribe(ctx, channel)
	if err != nil {
		return nil, err
	}
	return &flakySubscription{Subscription: sub, remaining: b.failures}, nil
}

type flakySubscription struct {
	resultbus.Subscription
	mu        sync.Mutex
	remaining int
}

func (s *flakySubscription) Receive(ctx context.Context, wait time.Duration) (resultbus.Message, error) {
	s.mu.Lock()
	if s.remaining > 0 {
		s.remaining--
		s.mu.Unlock()
		return resultbus.Message{}, errors.New("connection reset by peer")
	}
	s.mu.Unlock()
	return s.Subscription.Receive(ctx, wait)
}

// brokenBus refuses subscriptions.
type brokenBus struct {
	*resultbus.MemoryBus
}

func (brokenBus) Subscribe(context.Context, string) (resultbus.Subscription, error) {
	return nil, errors.New("subscribe refused")
}
