package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/taskrelay/internal/api/shared"
	"github.com/phrazzld/taskrelay/internal/domain"
	"github.com/phrazzld/taskrelay/internal/platform/logger"
	"github.com/phrazzld/taskrelay/internal/resultbus"
	"github.com/phrazzld/taskrelay/internal/task"
)

// publishTimeout bounds a single publish to the tasks channel.
const publishTimeout = 5 * time.Second

// errNoProcessor is returned when a submission reached no processor.
var errNoProcessor = errors.New("no processor subscribed to the tasks channel")

// TaskHandler accepts task submissions over HTTP and forwards them to the
// tasks channel, where the dispatch processor picks them up.
type TaskHandler struct {
	registry     *task.Registry
	publisher    resultbus.Publisher
	tasksChannel string
	logger       *slog.Logger
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(
	registry *task.Registry,
	publisher resultbus.Publisher,
	tasksChannel string,
	logger *slog.Logger,
) *TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{
		registry:     registry,
		publisher:    publisher,
		tasksChannel: tasksChannel,
		logger:       logger.With("component", "task_handler"),
	}
}

// ListTasks handles GET /api/tasks.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	kinds := h.registry.Kinds()
	resp := TaskListResponse{Tasks: make([]TaskKindResponse, 0, len(kinds))}
	for _, k := range kinds {
		params := k.Params
		if params == nil {
			params = []string{}
		}
		resp.Tasks = append(resp.Tasks, TaskKindResponse{
			Name:        k.Name,
			Aliases:     k.Aliases,
			Description: k.Description,
			Parameters:  params,
		})
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// SubmitTask handles POST /api/tasks/{task_type}. The body is the parameter
// object for the kind and may be empty. Parameters are checked against the
// registry before publishing so that the caller gets immediate feedback;
// the processor validates again on receipt.
func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	log := logger.FromContext(r.Context()).With("user_id", identity.String())

	kind := chi.URLParam(r, "task_type")
	var params map[string]any
	if !decodeOptionalJSON(w, r, &params) {
		return
	}

	if _, _, err := h.registry.Resolve(kind, params); err != nil {
		log.Debug("task submission rejected", "task_type", kind, "error", err)
		HandleAPIError(w, r, err, "")
		return
	}

	sub := domain.TaskSubmission{UserID: identity, TaskType: kind, Parameters: params}
	ctx, cancel := context.WithTimeout(r.Context(), publishTimeout)
	defer cancel()

	receivers, err := resultbus.PublishJSON(ctx, h.publisher, h.tasksChannel, sub)
	if err != nil {
		HandleAPIError(w, r, err, "Task queue unavailable")
		return
	}
	if receivers == 0 {
		HandleAPIError(w, r, errNoProcessor, "")
		return
	}

	log.Info("task submitted", "task_type", kind, "channel", h.tasksChannel)
	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitTaskResponse{
		Status:   "submitted",
		TaskType: kind,
		Message:  "Task submitted; the result will be delivered over the websocket connection",
	})
}
