package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/orchestrator"
)

// ApprovalHandler exposes the approval queue over HTTP.
type ApprovalHandler struct {
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

// NewApprovalHandler creates an approval handler.
func NewApprovalHandler(orch *orchestrator.Orchestrator, logger *zap.Logger) *ApprovalHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApprovalHandler{orch: orch, logger: logger.With(zap.String("component", "approval_handler"))}
}

// HandlePending serves GET /api/approvals?thread_id=X.
func (h *ApprovalHandler) HandlePending(w http.ResponseWriter, r *http.Request) {
	threadID := r.URL.Query().Get("thread_id")
	WriteSuccess(w, h.orch.PendingApprovals(threadID))
}

// ResolveApprovalRequest is the approve/reject body.
type ResolveApprovalRequest struct {
	Feedback string `json:"feedback,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// HandleApprove serves POST /api/approvals/{id}/approve.
func (h *ApprovalHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	approvalID := r.PathValue("id")
	var req ResolveApprovalRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	if err := h.orch.ApproveAction(approvalID, req.Feedback); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"approval_id": approvalID, "approved": true})
}

// HandleReject serves POST /api/approvals/{id}/reject.
func (h *ApprovalHandler) HandleReject(w http.ResponseWriter, r *http.Request) {
	approvalID := r.PathValue("id")
	var req ResolveApprovalRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = "rejected by operator"
	}

	if err := h.orch.RejectAction(approvalID, req.Reason); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"approval_id": approvalID, "approved": false})
}
