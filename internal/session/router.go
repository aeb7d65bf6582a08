package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/taskrelay/internal/config"
	"github.com/phrazzld/taskrelay/internal/domain"
	"github.com/phrazzld/taskrelay/internal/resultbus"
)

// RouterConfig holds the listener timings.
type RouterConfig struct {
	ResultsChannel string
	PollWait       time.Duration
	RetryBackoff   time.Duration
}

// RouterConfigFrom builds a RouterConfig from loaded configuration.
func RouterConfigFrom(redis config.RedisConfig, sess config.SessionConfig) RouterConfig {
	return RouterConfig{
		ResultsChannel: redis.ResultsChannel,
		PollWait:       sess.PollWait(),
		RetryBackoff:   sess.RetryBackoff(),
	}
}

// Router opens sessions against the shared result channel.
type Router struct {
	bus    resultbus.Bus
	hub    *Hub
	cfg    RouterConfig
	logger *slog.Logger
}

// NewRouter creates a Router.
func NewRouter(bus resultbus.Bus, hub *Hub, cfg RouterConfig, logger *slog.Logger) *Router {
	if cfg.PollWait <= 0 {
		cfg.PollWait = time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	return &Router{
		bus:    bus,
		hub:    hub,
		cfg:    cfg,
		logger: logger.With("component", "session_router"),
	}
}

// Hub returns the registry the router adds sessions to.
func (r *Router) Hub() *Hub {
	return r.hub
}

// Open joins the identity's group, subscribes to the result channel and
// starts the listener. On failure whatever was acquired is released and the
// transport is left open for the caller to close with its own code.
func (r *Router) Open(ctx context.Context, identity domain.Identity, transport Transport) (*Session, error) {
	s := newSession(identity, transport, r.hub, r.logger)
	r.hub.Join(s)

	sub, err := r.bus.Subscribe(ctx, r.cfg.ResultsChannel)
	if err != nil {
		r.hub.Leave(s)
		return nil, fmt.Errorf("failed to subscribe session to %s: %w", r.cfg.ResultsChannel, err)
	}

	if !s.attach(sub, func(ctx context.Context) error { return r.listen(ctx, s, sub) }) {
		_ = sub.Close()
		r.hub.Leave(s)
		return nil, ErrSessionClosed
	}

	s.logger.Info("session opened", "group", s.Group)
	return s, nil
}

// listen pulls messages until ctx is cancelled. Transport errors back off
// and retry; a returned error is fatal to the session.
func (r *Router) listen(ctx context.Context, s *Session, sub resultbus.Subscription) error {
	for {
		msg, err := sub.Receive(ctx, r.cfg.PollWait)
		switch {
		case err == nil:
			if err := s.deliver(ctx, msg.Payload); err != nil {
				return err
			}
		case errors.Is(err, resultbus.ErrNoMessage):
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, resultbus.ErrClosed):
			return fmt.Errorf("result subscription closed: %w", err)
		default:
			s.logger.Warn("error receiving result event, retrying", "error", err, "backoff", r.cfg.RetryBackoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.cfg.RetryBackoff):
			}
		}
	}
}
