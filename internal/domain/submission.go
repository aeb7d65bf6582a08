package domain

import "strings"

// TaskSubmission is a request to run a named unit of work on behalf of an identity.
type TaskSubmission struct {
	UserID     Identity       `json:"user_id"`
	TaskType   string         `json:"task_type"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Validate checks the fields every submission needs regardless of its kind.
// Kind-specific parameter checks belong to the task registry.
func (s TaskSubmission) Validate() error {
	if s.UserID.IsZero() {
		return NewValidationError("user_id", "is required", ErrMissingIdentity)
	}
	if strings.TrimSpace(s.TaskType) == "" {
		return NewValidationError("task_type", "is required", ErrMissingTaskType)
	}
	return nil
}

// Param returns the named parameter, or nil when absent.
func (s TaskSubmission) Param(name string) any {
	if s.Parameters == nil {
		return nil
	}
	return s.Parameters[name]
}
