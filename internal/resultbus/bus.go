package resultbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/taskrelay/internal/events"
)

// Common errors returned by buses and subscriptions
var (
	// ErrNoMessage means the receive wait elapsed without a message.
	// It is the expected, frequent outcome of an idle channel.
	ErrNoMessage = errors.New("no message available")

	// ErrClosed is returned by operations on a closed bus or subscription.
	ErrClosed = errors.New("bus is closed")

	// ErrHealthCheck is returned when the write/read/delete round-trip fails.
	ErrHealthCheck = errors.New("bus health check failed")
)

// Health check key and value used for the round-trip check.
const (
	HealthCheckKey   = "taskrelay_health_key"
	HealthCheckValue = "taskrelay_health_value"
)

// Message is one raw inbound message.
type Message struct {
	Channel string
	Payload []byte
}

// Publisher sends messages on a named channel.
type Publisher interface {
	// Publish sends payload on channel and returns how many subscribers
	// were notified. Zero does not mean failure.
	Publish(ctx context.Context, channel string, payload []byte) (int64, error)
}

// Subscription is a cancellable stream of messages from one channel.
type Subscription interface {
	// Receive blocks for at most wait. It returns ErrNoMessage when the wait
	// elapsed, ctx.Err() when ctx is done, ErrClosed after Close, and any
	// other error for transport failures.
	Receive(ctx context.Context, wait time.Duration) (Message, error)

	// Close unsubscribes and releases the subscription's connection.
	// It is safe to call more than once.
	Close() error
}

// Bus is a broker connection.
type Bus interface {
	Publisher

	// Subscribe returns a confirmed subscription to channel.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// HealthCheck performs a write/read/delete round-trip against the backing store.
	HealthCheck(ctx context.Context) error

	// Close releases the connection. Existing subscriptions are closed.
	Close() error
}

// PublishEvent encodes a result event and publishes it on channel.
func PublishEvent(ctx context.Context, pub Publisher, channel string, event events.ResultEvent) (int64, error) {
	payload, err := events.Encode(event)
	if err != nil {
		return 0, fmt.Errorf("failed to encode result event: %w", err)
	}
	n, err := pub.Publish(ctx, channel, payload)
	if err != nil {
		return 0, fmt.Errorf("failed to publish result event on %s: %w", channel, err)
	}
	return n, nil
}

// PublishJSON marshals v and publishes it on channel.
func PublishJSON(ctx context.Context, pub Publisher, channel string, v any) (int64, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("failed to encode message: %w", err)
	}
	n, err := pub.Publish(ctx, channel, payload)
	if err != nil {
		return 0, fmt.Errorf("failed to publish on %s: %w", channel, err)
	}
	return n, nil
}
