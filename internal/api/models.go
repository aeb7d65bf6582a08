package api

// TaskKindResponse describes one submittable task kind.
type TaskKindResponse struct {
	Name        string   `json:"name"`
	Aliases     []string `json:"aliases,omitempty"`
	Description string   `json:"description"`
	Parameters  []string `json:"parameters"`
}

// TaskListResponse is returned by GET /api/tasks.
type TaskListResponse struct {
	Tasks []TaskKindResponse `json:"tasks"`
}

// SubmitTaskResponse acknowledges a submission. The outcome arrives later as
// a result event on the submitter's websocket sessions.
type SubmitTaskResponse struct {
	Status   string `json:"status"`
	TaskType string `json:"task_type"`
	Message  string `json:"message"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// BusDiagnosticsResponse reports result bus health and live session counts.
type BusDiagnosticsResponse struct {
	Status   string         `json:"status"`
	Message  string         `json:"message"`
	Sessions int            `json:"sessions"`
	Groups   map[string]int `json:"groups"`
}

// GroupMessageRequest is the optional body of POST /api/diagnostics/groups/{user_id}.
type GroupMessageRequest struct {
	Message string `json:"message" validate:"max=1000"`
}

// GroupMessageResponse reports how many sessions received a diagnostic message.
type GroupMessageResponse struct {
	Status    string `json:"status"`
	Group     string `json:"group"`
	Delivered int    `json:"delivered"`
}
