package task

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/taskrelay/internal/domain"
)

// job is the Task created for an accepted submission.
type job struct {
	id     uuid.UUID
	kind   Kind
	userID domain.Identity
	params map[string]any

	mu     sync.Mutex
	status TaskStatus
}

func newJob(userID domain.Identity, kind Kind, params map[string]any) *job {
	return &job{
		id:     uuid.New(),
		kind:   kind,
		userID: userID,
		params: params,
		status: TaskStatusPending,
	}
}

func (j *job) ID() uuid.UUID           { return j.id }
func (j *job) Type() string            { return j.kind.Name }
func (j *job) UserID() domain.Identity { return j.userID }

func (j *job) Status() TaskStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *job) setStatus(status TaskStatus) {
	j.mu.Lock()
	j.status = status
	j.mu.Unlock()
}

// Execute runs the kind's handler and records the final status.
func (j *job) Execute(ctx context.Context) (map[string]any, error) {
	j.setStatus(TaskStatusProcessing)
	result, err := j.kind.Run(ctx, j.params)
	if err != nil {
		j.setStatus(TaskStatusFailed)
		return nil, err
	}
	j.setStatus(TaskStatusCompleted)
	return result, nil
}
