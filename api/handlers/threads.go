package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/checkpoint"
	"github.com/taskmesh/taskmesh/orchestrator"
)

// ThreadHandler exposes thread lifecycle and time-travel over HTTP.
type ThreadHandler struct {
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

// NewThreadHandler creates a thread handler.
func NewThreadHandler(orch *orchestrator.Orchestrator, logger *zap.Logger) *ThreadHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ThreadHandler{orch: orch, logger: logger.With(zap.String("component", "thread_handler"))}
}

// CreateThreadRequest is the POST /api/threads body.
type CreateThreadRequest struct {
	Namespace string         `json:"namespace,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// HandleCreate serves POST /api/threads.
func (h *ThreadHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateThreadRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	thread, err := h.orch.CreateThread(r.Context(), checkpoint.ThreadConfig{
		Namespace: req.Namespace,
		Metadata:  req.Metadata,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, thread)
}

// HandleGet serves GET /api/threads/{id}.
func (h *ThreadHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	thread, err := h.orch.GetThread(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, thread)
}

// HandleClose serves POST /api/threads/{id}/close.
func (h *ThreadHandler) HandleClose(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if err := h.orch.CloseThread(r.Context(), threadID); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"thread_id": threadID})
}

// SaveCheckpointRequest is the POST /api/threads/{id}/checkpoints body.
type SaveCheckpointRequest struct {
	Payload  any            `json:"payload"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// HandleSaveCheckpoint serves POST /api/threads/{id}/checkpoints.
func (h *ThreadHandler) HandleSaveCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req SaveCheckpointRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	cp, err := h.orch.SaveCheckpoint(r.Context(), r.PathValue("id"), req.Payload, req.Metadata)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, cp)
}

// HandleLoadCheckpoint serves GET /api/threads/{id}/checkpoint.
func (h *ThreadHandler) HandleLoadCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := h.orch.LoadCheckpoint(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	// cp is nil when the thread has no visible checkpoints yet.
	WriteSuccess(w, cp)
}

// HandleHistory serves GET /api/threads/{id}/checkpoints?limit=N.
func (h *ThreadHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	history, err := h.orch.CheckpointHistory(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, history)
}

// RevertRequest is the POST /api/threads/{id}/revert body.
type RevertRequest struct {
	CheckpointID string `json:"checkpoint_id"`
}

// HandleRevert serves POST /api/threads/{id}/revert.
func (h *ThreadHandler) HandleRevert(w http.ResponseWriter, r *http.Request) {
	var req RevertRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.CheckpointID == "" {
		WriteBadRequest(w, "checkpoint_id is required")
		return
	}

	cp, err := h.orch.RevertToCheckpoint(r.Context(), r.PathValue("id"), req.CheckpointID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, cp)
}

// HandleStats serves GET /api/stats.
func (h *ThreadHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.orch.ThreadStats(r.Context())
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, stats)
}
