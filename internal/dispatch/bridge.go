package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/taskrelay/internal/domain"
	"github.com/phrazzld/taskrelay/internal/events"
	"github.com/phrazzld/taskrelay/internal/resultbus"
	"github.com/phrazzld/taskrelay/internal/task"
)

// Rejection reasons published in synthetic error events.
const (
	ReasonMissingUserID    = "Missing 'user_id'"
	ReasonMissingTaskType  = "Missing 'task_type'"
	ReasonQueueUnavailable = "Task queue unavailable"
)

// Enqueuer accepts validated work. task.WorkerPool satisfies it.
type Enqueuer interface {
	Enqueue(userID domain.Identity, kind string, params map[string]any) (uuid.UUID, error)
}

// Outcome reports what the bridge did with one submission.
type Outcome struct {
	// Dispatched is true when the worker pool accepted the task.
	Dispatched bool

	// TaskID is the queued task's id, or "error" for a rejection.
	TaskID string

	// Reason is the error message published for a rejection.
	Reason string
}

// Bridge validates submissions and forwards them to the worker pool.
// It keeps no per-submission state.
type Bridge struct {
	registry       *task.Registry
	pool           Enqueuer
	publisher      resultbus.Publisher
	resultsChannel string
	logger         *slog.Logger
}

// NewBridge creates a Bridge.
func NewBridge(
	registry *task.Registry,
	pool Enqueuer,
	publisher resultbus.Publisher,
	resultsChannel string,
	logger *slog.Logger,
) *Bridge {
	return &Bridge{
		registry:       registry,
		pool:           pool,
		publisher:      publisher,
		resultsChannel: resultsChannel,
		logger:         logger.With("component", "dispatch_bridge"),
	}
}

// Dispatch validates sub and enqueues it, or publishes a synthetic error
// event when it cannot be enqueued. The returned error is non-nil only when
// that synthetic event could not be published.
func (b *Bridge) Dispatch(ctx context.Context, sub domain.TaskSubmission) (Outcome, error) {
	log := b.logger.With("user_id", sub.UserID, "task_type", sub.TaskType)

	if reason, ok := b.validate(sub); !ok {
		log.Warn("rejecting task submission", "reason", reason)
		return b.reject(ctx, sub, reason)
	}

	id, err := b.pool.Enqueue(sub.UserID, sub.TaskType, sub.Parameters)
	if err != nil {
		reason := rejectionReason(err)
		if reason == ReasonQueueUnavailable {
			log.Error("failed to enqueue task", "error", err)
		} else {
			log.Warn("worker pool rejected task submission", "reason", reason)
		}
		return b.reject(ctx, sub, reason)
	}

	log.Info("task dispatched", "task_id", id)
	return Outcome{Dispatched: true, TaskID: id.String()}, nil
}

// Reject publishes a synthetic error event for a submission that could not
// be decoded well enough to validate. A missing identity takes precedence
// over reason.
func (b *Bridge) Reject(ctx context.Context, sub domain.TaskSubmission, reason string) (Outcome, error) {
	if sub.UserID.IsZero() {
		reason = ReasonMissingUserID
	}
	b.logger.Warn("rejecting task submission",
		"user_id", sub.UserID,
		"task_type", sub.TaskType,
		"reason", reason)
	return b.reject(ctx, sub, reason)
}

// validate runs the checks the bridge can decide without the worker pool.
func (b *Bridge) validate(sub domain.TaskSubmission) (string, bool) {
	if err := sub.Validate(); err != nil {
		switch {
		case errors.Is(err, domain.ErrMissingIdentity):
			return ReasonMissingUserID, false
		case errors.Is(err, domain.ErrMissingTaskType):
			return ReasonMissingTaskType, false
		default:
			return "Invalid parameters: " + err.Error(), false
		}
	}
	if _, _, err := b.registry.Resolve(sub.TaskType, sub.Parameters); err != nil {
		return rejectionReason(err), false
	}
	return "", true
}

func (b *Bridge) reject(ctx context.Context, sub domain.TaskSubmission, reason string) (Outcome, error) {
	out := Outcome{TaskID: events.SyntheticTaskID, Reason: reason}

	event := events.NewError(sub.UserID, events.SyntheticTaskID, sub.TaskType, reason)
	if _, err := resultbus.PublishEvent(ctx, b.publisher, b.resultsChannel, event); err != nil {
		b.logger.Error("failed to publish synthetic error event",
			"user_id", sub.UserID,
			"task_type", sub.TaskType,
			"reason", reason,
			"error", err)
		return out, fmt.Errorf("publish rejection for %q: %w", sub.TaskType, err)
	}
	return out, nil
}

// rejectionReason maps validation and enqueue errors to client-facing text.
func rejectionReason(err error) string {
	var unknown *task.UnknownKindError
	var param *task.ParameterError
	switch {
	case errors.As(err, &unknown):
		return unknown.Error()
	case errors.As(err, &param):
		return param.Error()
	case errors.Is(err, domain.ErrMissingIdentity):
		return ReasonMissingUserID
	default:
		return ReasonQueueUnavailable
	}
}
