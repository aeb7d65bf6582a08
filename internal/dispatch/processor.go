package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/taskrelay/internal/domain"
	"github.com/phrazzld/taskrelay/internal/resultbus"
)

// Processor consumes the task-submission channel and hands each
// submission to a Bridge.
type Processor struct {
	bus      resultbus.Bus
	bridge   *Bridge
	channel  string
	pollWait time.Duration
	backoff  time.Duration
	logger   *slog.Logger
}

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	TasksChannel string
	PollWait     time.Duration
	RetryBackoff time.Duration
}

// NewProcessor creates a Processor.
func NewProcessor(bus resultbus.Bus, bridge *Bridge, cfg ProcessorConfig, logger *slog.Logger) *Processor {
	if cfg.PollWait <= 0 {
		cfg.PollWait = time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	return &Processor{
		bus:      bus,
		bridge:   bridge,
		channel:  cfg.TasksChannel,
		pollWait: cfg.PollWait,
		backoff:  cfg.RetryBackoff,
		logger:   logger.With("component", "task_processor", "channel", cfg.TasksChannel),
	}
}

// Run subscribes to the task channel and processes submissions until ctx is
// cancelled. A failure to subscribe is returned immediately.
func (p *Processor) Run(ctx context.Context) error {
	sub, err := p.bus.Subscribe(ctx, p.channel)
	if err != nil {
		return fmt.Errorf("failed to subscribe to task channel: %w", err)
	}
	defer func() {
		if err := sub.Close(); err != nil {
			p.logger.Warn("failed to close task subscription", "error", err)
		}
	}()

	p.logger.Info("task processor started")

	for {
		msg, err := sub.Receive(ctx, p.pollWait)
		switch {
		case err == nil:
			p.Handle(ctx, msg.Payload)
		case errors.Is(err, resultbus.ErrNoMessage):
		case ctx.Err() != nil:
			p.logger.Info("task processor stopped")
			return nil
		case errors.Is(err, resultbus.ErrClosed):
			return fmt.Errorf("task subscription closed: %w", err)
		default:
			p.logger.Error("error receiving task submission", "error", err)
			select {
			case <-ctx.Done():
				p.logger.Info("task processor stopped")
				return nil
			case <-time.After(p.backoff):
			}
		}
	}
}

// Handle decodes one raw submission and dispatches it.
// Payloads that are not JSON objects are logged and dropped. An object whose
// fields have the wrong shape is rejected with a synthetic error event.
func (p *Processor) Handle(ctx context.Context, payload []byte) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		p.logger.Error("dropping malformed task submission", "error", err, "bytes", len(payload))
		return
	}

	sub, reason := decodeSubmission(fields)

	var err error
	if reason != "" {
		_, err = p.bridge.Reject(ctx, sub, reason)
	} else {
		_, err = p.bridge.Dispatch(ctx, sub)
	}
	if err != nil {
		p.logger.Error("task submission did not reach a terminal state", "error", err)
	}
}

// decodeSubmission decodes each field separately so that a bad field still
// leaves the others available for the rejection event.
func decodeSubmission(fields map[string]json.RawMessage) (domain.TaskSubmission, string) {
	var sub domain.TaskSubmission
	reason := ""

	if raw, ok := fields["user_id"]; ok {
		if err := json.Unmarshal(raw, &sub.UserID); err != nil {
			reason = ReasonMissingUserID
		}
	}
	if raw, ok := fields["task_type"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &sub.TaskType); err != nil && reason == "" {
			reason = "Invalid parameters: task_type must be a string"
		}
	}
	if raw, ok := fields["parameters"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &sub.Parameters); err != nil && reason == "" {
			reason = "Invalid parameters: parameters must be an object"
		}
	}
	return sub, reason
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
