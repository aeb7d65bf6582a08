package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskrelay/internal/domain"
)

// Status is the terminal state of a task.
type Status string

// Possible result statuses
const (
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// SyntheticTaskID is the task id used for error events that were produced
// without any work being dispatched.
const SyntheticTaskID = "error"

// TimestampLayout is ISO-8601 with microseconds. Event timestamps are
// always formatted in UTC, so they end in "Z".
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// Decoding errors
var (
	ErrMalformedEvent = errors.New("malformed result event")
	ErrUnknownStatus  = errors.New("unknown result status")
)

// ResultEvent is the terminal outcome of a single task submission.
// Result is present iff Status is completed; Error is present iff Status is error.
type ResultEvent struct {
	UserID    domain.Identity `json:"user_id"`
	TaskID    string          `json:"task_id"`
	TaskType  string          `json:"task_type"`
	Status    Status          `json:"status"`
	Timestamp string          `json:"timestamp"`
	Result    map[string]any  `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// NewCompleted builds a completed event for taskID.
func NewCompleted(userID domain.Identity, taskID uuid.UUID, taskType string, result map[string]any) ResultEvent {
	if result == nil {
		result = map[string]any{}
	}
	return ResultEvent{
		UserID:    userID,
		TaskID:    taskID.String(),
		TaskType:  taskType,
		Status:    StatusCompleted,
		Timestamp: now(),
		Result:    result,
	}
}

// NewError builds an error event. An empty taskID yields SyntheticTaskID.
func NewError(userID domain.Identity, taskID string, taskType string, message string) ResultEvent {
	if taskID == "" {
		taskID = SyntheticTaskID
	}
	return ResultEvent{
		UserID:    userID,
		TaskID:    taskID,
		TaskType:  taskType,
		Status:    StatusError,
		Timestamp: now(),
		Error:     message,
	}
}

// Validate checks the status discriminator and its paired field.
func (e ResultEvent) Validate() error {
	switch e.Status {
	case StatusCompleted:
		if e.Error != "" {
			return fmt.Errorf("%w: completed event carries an error", ErrMalformedEvent)
		}
	case StatusError:
		if e.Result != nil {
			return fmt.Errorf("%w: error event carries a result", ErrMalformedEvent)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStatus, e.Status)
	}
	if e.TaskID == "" {
		return fmt.Errorf("%w: missing task_id", ErrMalformedEvent)
	}
	return nil
}

// BelongsTo reports whether the event should be delivered to identity.
func (e ResultEvent) BelongsTo(identity domain.Identity) bool {
	return !identity.IsZero() && e.UserID == identity
}

// Encode serializes the event to its flat JSON wire form.
func Encode(e ResultEvent) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// Decode parses one wire message into a ResultEvent.
func Decode(data []byte) (ResultEvent, error) {
	var e ResultEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return ResultEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := e.Validate(); err != nil {
		return ResultEvent{}, err
	}
	return e, nil
}

var clock = time.Now

func now() string {
	return clock().UTC().Format(TimestampLayout)
}
