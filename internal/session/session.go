package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskrelay/internal/domain"
	"github.com/phrazzld/taskrelay/internal/events"
	"github.com/phrazzld/taskrelay/internal/resultbus"
)

// ErrSessionClosed is returned when operating on a closed session.
var ErrSessionClosed = errors.New("session is closed")

// Transport is the client connection behind a session.
// Send must be safe for concurrent use.
type Transport interface {
	Send(ctx context.Context, payload []byte) error
	Close(code int, reason string) error
}

// Session is one admitted client connection.
// Every field is always present; resource handles start nil and are set
// once acquired, so teardown releases exactly what was acquired.
type Session struct {
	ID       string
	Identity domain.Identity
	Group    string
	OpenedAt time.Time

	transport Transport
	hub       *Hub
	logger    *slog.Logger

	mu      sync.Mutex
	sub     resultbus.Subscription
	cancel  context.CancelFunc
	done    chan struct{}
	closing bool

	closeOnce sync.Once
	closed    chan struct{}
	closeCode atomic.Int32

	delivered atomic.Int64
}

func newSession(identity domain.Identity, transport Transport, hub *Hub, logger *slog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		ID:        id,
		Identity:  identity,
		Group:     identity.GroupName(),
		OpenedAt:  time.Now(),
		transport: transport,
		hub:       hub,
		logger:    logger.With("session_id", id, "user_id", identity),
		closed:    make(chan struct{}),
	}
}

// Send writes payload to the client.
func (s *Session) Send(ctx context.Context, payload []byte) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	if err := s.transport.Send(ctx, payload); err != nil {
		s.logger.Warn("failed to write to client", "error", err)
		return err
	}
	return nil
}

// SendJSON marshals v and writes it to the client.
func (s *Session) SendJSON(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return s.Send(ctx, payload)
}

// Acknowledge sends the connection_established message.
func (s *Session) Acknowledge(ctx context.Context) error {
	return s.SendJSON(ctx, NewAck(s.Identity))
}

// HandleInbound answers a text frame from the client. A ping gets a pong;
// anything else is echoed back. Client messages never submit tasks.
func (s *Session) HandleInbound(ctx context.Context, data []byte) error {
	if isPing(data) {
		return s.SendJSON(ctx, Control{Type: TypePong})
	}
	return s.SendJSON(ctx, Control{Type: TypeEcho, Message: string(data)})
}

// Delivered returns the number of result events forwarded to the client.
func (s *Session) Delivered() int64 {
	return s.delivered.Load()
}

// Done is closed once teardown has completed.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// CloseCode returns the code the session was closed with, or 0 while open.
func (s *Session) CloseCode() int {
	return int(s.closeCode.Load())
}

// attach records the subscription and starts the listener unless the session
// is already closing. It reports whether the listener was started.
func (s *Session) attach(sub resultbus.Subscription, loop func(ctx context.Context) error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.sub = sub
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx, loop, s.done)
	return true
}

// run executes the listen loop. A fatal error or panic closes the session
// with an internal error after done is closed, so Close never waits on itself.
func (s *Session) run(ctx context.Context, loop func(ctx context.Context) error, done chan struct{}) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("listener panicked: %v", r)
			}
		}()
		return loop(ctx)
	}()
	close(done)

	if err != nil {
		s.logger.Error("session listener failed", "error", err)
		_ = s.Close(CloseInternalError, "internal error")
	}
}

// Close tears the session down with the given close code. It is idempotent
// and safe to call from any goroutine, including failure paths.
func (s *Session) Close(code int, reason string) error {
	var errs []error
	s.closeOnce.Do(func() {
		s.closeCode.Store(int32(code))

		s.mu.Lock()
		s.closing = true
		cancel, done, sub := s.cancel, s.done, s.sub
		s.mu.Unlock()

		// a. stop the listener and wait for it to acknowledge
		if cancel != nil {
			cancel()
			<-done
		}

		// b, c. release the subscription and its connection
		if sub != nil {
			if err := sub.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close subscription: %w", err))
			}
		}

		// d. leave the group
		if s.hub != nil {
			s.hub.Leave(s)
		}

		if err := s.transport.Close(code, reason); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
		close(s.closed)

		s.logger.Info("session closed",
			"code", code,
			"delivered", s.delivered.Load(),
			"duration", time.Since(s.OpenedAt).String())
	})

	if len(errs) > 0 {
		s.logger.Warn("session teardown incomplete", "error", errors.Join(errs...))
	}
	return errors.Join(errs...)
}

// deliver forwards an event payload if it belongs to this session.
func (s *Session) deliver(ctx context.Context, payload []byte) error {
	event, err := events.Decode(payload)
	if err != nil {
		s.logger.Warn("dropping undecodable result event", "error", err, "bytes", len(payload))
		return nil
	}
	if !event.BelongsTo(s.Identity) {
		return nil
	}

	if err := s.transport.Send(ctx, payload); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("deliver event %s: %w", event.TaskID, err)
	}
	s.delivered.Add(1)
	s.logger.Debug("delivered result event", "task_id", event.TaskID, "status", event.Status)
	return nil
}
