package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/taskrelay/internal/domain"
	"github.com/phrazzld/taskrelay/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_RoutesOnlyMatchingEventsInOrder(t *testing.T) {
	bus := newMemoryBus(t)
	router := newTestRouter(t, bus)
	ctx := context.Background()

	identities := []domain.Identity{"u1", "u2", "u3"}
	transports := map[domain.Identity]*fakeTransport{}
	for _, id := range identities {
		tr := &fakeTransport{}
		s, err := router.Open(ctx, id, tr)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close(CloseNormal, "") })
		transports[id] = tr
	}
	// A second session for u1 receives the same subsequence.
	extra := &fakeTransport{}
	s, err := router.Open(ctx, "u1", extra)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(CloseNormal, "") })

	// An identity with no session, to check nothing leaks.
	all := append(identities, "nobody")
	want := map[domain.Identity][]string{}
	for i := 0; i < 120; i++ {
		id := all[(i*7)%len(all)]
		taskID := fmt.Sprintf("task-%03d", i)
		publish(t, bus, id, taskID)
		want[id] = append(want[id], taskID)
	}

	for _, id := range identities {
		tr := transports[id]
		require.Eventually(t, func() bool { return len(tr.messages()) == len(want[id]) },
			2*time.Second, 5*time.Millisecond, "identity %s", id)
		assert.Equal(t, want[id], tr.taskIDs(t), "identity %s", id)
	}
	require.Eventually(t, func() bool { return len(extra.messages()) == len(want["u1"]) },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, want["u1"], extra.taskIDs(t))

	// Nothing beyond the expected subsequence arrives later.
	time.Sleep(50 * time.Millisecond)
	for _, id := range identities {
		assert.Len(t, transports[id].messages(), len(want[id]))
	}
}

func TestRouter_TwoSessionsOnlyTargetObserves(t *testing.T) {
	bus := newMemoryBus(t)
	router := newTestRouter(t, bus)

	t1, t2 := &fakeTransport{}, &fakeTransport{}
	s1, err := router.Open(context.Background(), "u1", t1)
	require.NoError(t, err)
	defer s1.Close(CloseNormal, "")
	s2, err := router.Open(context.Background(), "u2", t2)
	require.NoError(t, err)
	defer s2.Close(CloseNormal, "")

	publish(t, bus, "u2", "t-1")

	require.Eventually(t, func() bool { return len(t2.messages()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, t1.messages())
	assert.Equal(t, int64(1), s2.Delivered())
	assert.Equal(t, int64(0), s1.Delivered())
}

func TestRouter_ClosedSessionReceivesNothing(t *testing.T) {
	bus := newMemoryBus(t)
	router := newTestRouter(t, bus)

	tr := &fakeTransport{}
	s, err := router.Open(context.Background(), "u1", tr)
	require.NoError(t, err)
	assert.Equal(t, 1, bus.SubscriberCount(testResults))
	assert.Equal(t, 1, router.Hub().Count())

	require.NoError(t, s.Close(CloseNormal, "bye"))

	select {
	case <-s.Done():
	default:
		t.Fatal("Done must be closed after Close returns")
	}
	closed, code := tr.closeState()
	assert.True(t, closed)
	assert.Equal(t, CloseNormal, code)
	assert.Equal(t, CloseNormal, s.CloseCode())
	assert.Equal(t, 0, bus.SubscriberCount(testResults), "subscription released")
	assert.Equal(t, 0, router.Hub().Count(), "group left")

	// Publishing for the former identity is harmless.
	publish(t, bus, "u1", "late")
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, tr.messages())
	assert.ErrorIs(t, s.Send(context.Background(), []byte("x")), ErrSessionClosed)
}

func TestRouter_CloseIsIdempotentAndConcurrent(t *testing.T) {
	bus := newMemoryBus(t)
	router := newTestRouter(t, bus)

	tr := &fakeTransport{}
	s, err := router.Open(context.Background(), "u1", tr)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(code int) {
			defer wg.Done()
			_ = s.Close(code, "")
		}(CloseNormal + i%2)
	}
	wg.Wait()
	<-s.Done()

	assert.Contains(t, []int{CloseNormal, CloseGoingAway}, s.CloseCode())
	assert.Equal(t, 0, bus.SubscriberCount(testResults))
}

func TestRouter_UndecodableEventsAreDropped(t *testing.T) {
	bus := newMemoryBus(t)
	buf, log := logger.NewTestLogger()
	router := NewRouter(bus, NewHub(), RouterConfig{
		ResultsChannel: testResults,
		PollWait:       20 * time.Millisecond,
	}, log)

	tr := &fakeTransport{}
	s, err := router.Open(context.Background(), "u1", tr)
	require.NoError(t, err)
	defer s.Close(CloseNormal, "")

	_, err = bus.Publish(context.Background(), testResults, []byte("{garbage"))
	require.NoError(t, err)
	_, err = bus.Publish(context.Background(), testResults, []byte(`{"user_id":"u1","status":"weird"}`))
	require.NoError(t, err)
	publish(t, bus, "u1", "after-garbage")

	require.Eventually(t, func() bool { return len(tr.messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"after-garbage"}, tr.taskIDs(t))
	assert.True(t, buf.HasMessage("dropping undecodable result event"))
	assert.Zero(t, s.CloseCode(), "decode errors are not fatal")
}

func TestRouter_TransientReceiveErrorsRetry(t *testing.T) {
	bus := &flakyBus{MemoryBus: newMemoryBus(t), failures: 3}
	router := newTestRouter(t, bus)

	tr := &fakeTransport{}
	s, err := router.Open(context.Background(), "u1", tr)
	require.NoError(t, err)
	defer s.Close(CloseNormal, "")

	publish(t, bus, "u1", "survived")
	require.Eventually(t, func() bool { return len(tr.messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, s.CloseCode())
}

func TestRouter_DeliveryFailureClosesWithInternalError(t *testing.T) {
	bus := newMemoryBus(t)
	router := newTestRouter(t, bus)

	tr := &fakeTransport{sendErr: errors.New("broken pipe")}
	s, err := router.Open(context.Background(), "u1", tr)
	require.NoError(t, err)

	publish(t, bus, "u1", "doomed")

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close after delivery failure")
	}
	_, code := tr.closeState()
	assert.Equal(t, CloseInternalError, code)
	assert.Equal(t, 0, bus.SubscriberCount(testResults))
	assert.Equal(t, 0, router.Hub().Count())
}

func TestRouter_ListenerPanicClosesWithInternalError(t *testing.T) {
	bus := newMemoryBus(t)
	router := newTestRouter(t, bus)

	tr := &fakeTransport{sendHook: func([]byte) { panic("writer exploded") }}
	s, err := router.Open(context.Background(), "u1", tr)
	require.NoError(t, err)

	publish(t, bus, "u1", "boom")

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close after listener panic")
	}
	assert.Equal(t, CloseInternalError, s.CloseCode())
	assert.Equal(t, 0, bus.SubscriberCount(testResults))
}

func TestRouter_BusClosedUnderneathClosesSession(t *testing.T) {
	bus := newMemoryBus(t)
	router := newTestRouter(t, bus)

	tr := &fakeTransport{}
	s, err := router.Open(context.Background(), "u1", tr)
	require.NoError(t, err)

	require.NoError(t, bus.Close())

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close")
	}
	assert.Equal(t, CloseInternalError, s.CloseCode())
}

func TestRouter_SubscribeFailureReleasesPartialSetup(t *testing.T) {
	bus := brokenBus{MemoryBus: newMemoryBus(t)}
	router := newTestRouter(t, bus)

	tr := &fakeTransport{}
	s, err := router.Open(context.Background(), "u1", tr)
	require.Error(t, err)
	assert.Nil(t, s)
	assert.Equal(t, 0, router.Hub().Count(), "group membership released")

	closed, _ := tr.closeState()
	assert.False(t, closed, "caller owns the transport close code")
}

func TestSession_AcknowledgeAndInbound(t *testing.T) {
	bus := newMemoryBus(t)
	router := newTestRouter(t, bus)
	ctx := context.Background()

	tr := &fakeTransport{}
	s, err := router.Open(ctx, "42", tr)
	require.NoError(t, err)
	defer s.Close(CloseNormal, "")

	require.NoError(t, s.Acknowledge(ctx))
	require.NoError(t, s.HandleInbound(ctx, []byte(`{"type":"ping"}`)))
	require.NoError(t, s.HandleInbound(ctx, []byte(`hello there`)))
	require.NoError(t, s.HandleInbound(ctx, []byte(`{"type":"submit_task"}`)))

	msgs := tr.messages()
	require.Len(t, msgs, 4)

	ack := decodeControl(t, msgs[0])
	assert.Equal(t, TypeConnectionEstablished, ack["type"])
	assert.Equal(t, "42", ack["user_id"])
	assert.Equal(t, "Connected as user 42", ack["message"])

	assert.Equal(t, map[string]any{"type": "pong"}, decodeControl(t, msgs[1]))
	assert.Equal(t, map[string]any{"type": "echo", "message": "hello there"}, decodeControl(t, msgs[2]))
	assert.Equal(t, map[string]any{"type": "echo", "message": `{"type":"submit_task"}`}, decodeControl(t, msgs[3]))
}
