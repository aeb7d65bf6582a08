package resultbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/phrazzld/taskrelay/internal/config"
	"github.com/phrazzld/taskrelay/internal/redact"
	"github.com/redis/go-redis/v9"
)

// closeTimeout bounds the UNSUBSCRIBE sent when a subscription closes.
const closeTimeout = 2 * time.Second

// RedisBus is a Bus backed by a Redis server.
// Publishing and the health check use the pooled client; every subscription
// holds its own dedicated connection until it is closed.
type RedisBus struct {
	client *redis.Client
	logger *slog.Logger
}

var _ Bus = (*RedisBus)(nil)

// RedisOptions converts the configuration into go-redis options.
// A configured URL takes precedence over host and port.
func RedisOptions(cfg config.RedisConfig) (*redis.Options, error) {
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url %s: %w", redact.String(cfg.URL), err)
		}
		return opts, nil
	}
	return &redis.Options{
		Addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Password: cfg.Password,
		DB:       cfg.DB,
	}, nil
}

// NewRedisBus connects to Redis and runs the health check before returning.
// A failure here is meant to be fatal to the caller's startup.
func NewRedisBus(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*RedisBus, error) {
	opts, err := RedisOptions(cfg)
	if err != nil {
		return nil, err
	}

	bus := NewRedisBusFromClient(redis.NewClient(opts), logger)
	if err := bus.HealthCheck(ctx); err != nil {
		_ = bus.client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	bus.logger.Info("redis connection ready", "addr", opts.Addr, "db", opts.DB)
	return bus, nil
}

// NewRedisBusFromClient wraps an existing client without probing it.
func NewRedisBusFromClient(client *redis.Client, logger *slog.Logger) *RedisBus {
	return &RedisBus{
		client: client,
		logger: logger.With("component", "redis_bus"),
	}
}

// Publish implements Publisher.
func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	n, err := b.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return 0, ErrClosed
		}
		return 0, err
	}
	b.logger.Debug("published message", "channel", channel, "receivers", n, "bytes", len(payload))
	return n, nil
}

// Subscribe implements Bus. The subscription is confirmed by the server
// before Subscribe returns.
func (b *RedisBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		if errors.Is(err, redis.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	b.logger.Debug("subscribed", "channel", channel)
	return &redisSubscription{ps: ps, channel: channel, logger: b.logger}, nil
}

// HealthCheck implements Bus with a SET/GET/DEL round-trip.
func (b *RedisBus) HealthCheck(ctx context.Context) error {
	if err := b.client.Set(ctx, HealthCheckKey, HealthCheckValue, time.Minute).Err(); err != nil {
		return fmt.Errorf("%w: set: %v", ErrHealthCheck, err)
	}
	got, err := b.client.Get(ctx, HealthCheckKey).Result()
	if err != nil {
		return fmt.Errorf("%w: get: %v", ErrHealthCheck, err)
	}
	if err := b.client.Del(ctx, HealthCheckKey).Err(); err != nil {
		return fmt.Errorf("%w: delete: %v", ErrHealthCheck, err)
	}
	if got != HealthCheckValue {
		return fmt.Errorf("%w: expected %q, got %q", ErrHealthCheck, HealthCheckValue, got)
	}
	return nil
}

// Close implements Bus.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	ps      *redis.PubSub
	channel string
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
}

func (s *redisSubscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Receive implements Subscription. The wait is enforced as a read deadline
// on the subscription's connection.
func (s *redisSubscription) Receive(ctx context.Context, wait time.Duration) (Message, error) {
	if s.isClosed() {
		return Message{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	raw, err := s.ps.ReceiveTimeout(ctx, wait)
	if err != nil {
		switch {
		case s.isClosed() || errors.Is(err, redis.ErrClosed):
			return Message{}, ErrClosed
		case ctx.Err() != nil:
			return Message{}, ctx.Err()
		case isTimeout(err):
			return Message{}, ErrNoMessage
		default:
			return Message{}, err
		}
	}

	switch m := raw.(type) {
	case *redis.Message:
		return Message{Channel: m.Channel, Payload: []byte(m.Payload)}, nil
	default:
		// Subscription confirmations and pongs are control traffic.
		return Message{}, ErrNoMessage
	}
}

// Close implements Subscription.
func (s *redisSubscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var errs []error
	if err := s.ps.Unsubscribe(ctx, s.channel); err != nil && !errors.Is(err, redis.ErrClosed) {
		errs = append(errs, fmt.Errorf("unsubscribe %s: %w", s.channel, err))
	}
	if err := s.ps.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		errs = append(errs, fmt.Errorf("close pubsub: %w", err))
	}
	s.logger.Debug("subscription closed", "channel", s.channel)
	return errors.Join(errs...)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
