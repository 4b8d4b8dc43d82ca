package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/orchestrator"
)

// TaskHandler exposes the dependency resolver over HTTP.
type TaskHandler struct {
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

// NewTaskHandler creates a task handler.
func NewTaskHandler(orch *orchestrator.Orchestrator, logger *zap.Logger) *TaskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskHandler{orch: orch, logger: logger.With(zap.String("component", "task_handler"))}
}

// RegisterTaskRequest is the POST /api/tasks body.
type RegisterTaskRequest struct {
	TaskID       string         `json:"task_id"`
	Dependencies []string       `json:"dependencies,omitempty"`
	AgentID      string         `json:"agent_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// HandleRegister serves POST /api/tasks.
func (h *TaskHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.TaskID == "" {
		WriteBadRequest(w, "task_id is required")
		return
	}

	if _, err := h.orch.RegisterTask(req.TaskID, req.Dependencies, req.AgentID, req.Metadata); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"task_id": req.TaskID})
}

// HandleCanStart serves GET /api/tasks/{id}/can-start.
func (h *TaskHandler) HandleCanStart(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	WriteSuccess(w, map[string]any{
		"task_id":   taskID,
		"can_start": h.orch.CanStart(taskID),
	})
}

// StartTaskRequest is the POST /api/tasks/{id}/start body.
type StartTaskRequest struct {
	AgentID string `json:"agent_id"`
}

// HandleStart serves POST /api/tasks/{id}/start.
func (h *TaskHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	var req StartTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	if err := h.orch.StartTask(taskID, req.AgentID); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"task_id": taskID})
}

// CompleteTaskRequest is the POST /api/tasks/{id}/complete body.
type CompleteTaskRequest struct {
	Result any `json:"result,omitempty"`
}

// HandleComplete serves POST /api/tasks/{id}/complete.
func (h *TaskHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	var req CompleteTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	if err := h.orch.CompleteTask(taskID, req.Result); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"task_id": taskID})
}

// FailTaskRequest is the POST /api/tasks/{id}/fail body.
type FailTaskRequest struct {
	Error string `json:"error,omitempty"`
}

// HandleFail serves POST /api/tasks/{id}/fail.
func (h *TaskHandler) HandleFail(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	var req FailTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	var taskErr error
	if req.Error != "" {
		taskErr = errors.New(req.Error)
	}
	if err := h.orch.FailTask(taskID, taskErr); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"task_id": taskID})
}

// HandleDependencyChain serves GET /api/tasks/{id}/dependencies.
func (h *TaskHandler) HandleDependencyChain(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	chain, err := h.orch.DependencyChain(taskID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{
		"task_id":      taskID,
		"dependencies": chain,
	})
}

// HandleSystemStatus serves GET /api/status.
func (h *TaskHandler) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.orch.SystemStatus())
}
