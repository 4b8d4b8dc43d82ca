package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/orchestrator"
)

// Routes builds the API mux. eventsHandler, when non-nil, is mounted at
// /api/events for websocket subscribers.
func Routes(orch *orchestrator.Orchestrator, eventsHandler http.Handler, version string, logger *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	health := NewHealthHandler(version, logger)
	tasks := NewTaskHandler(orch, logger)
	threads := NewThreadHandler(orch, logger)
	approvals := NewApprovalHandler(orch, logger)

	mux.HandleFunc("GET /health", health.HandleHealth)

	mux.HandleFunc("POST /api/tasks", tasks.HandleRegister)
	mux.HandleFunc("GET /api/tasks/{id}/can-start", tasks.HandleCanStart)
	mux.HandleFunc("POST /api/tasks/{id}/start", tasks.HandleStart)
	mux.HandleFunc("POST /api/tasks/{id}/complete", tasks.HandleComplete)
	mux.HandleFunc("POST /api/tasks/{id}/fail", tasks.HandleFail)
	mux.HandleFunc("GET /api/tasks/{id}/dependencies", tasks.HandleDependencyChain)
	mux.HandleFunc("GET /api/status", tasks.HandleSystemStatus)

	mux.HandleFunc("POST /api/threads", threads.HandleCreate)
	mux.HandleFunc("GET /api/threads/{id}", threads.HandleGet)
	mux.HandleFunc("POST /api/threads/{id}/close", threads.HandleClose)
	mux.HandleFunc("POST /api/threads/{id}/checkpoints", threads.HandleSaveCheckpoint)
	mux.HandleFunc("GET /api/threads/{id}/checkpoints", threads.HandleHistory)
	mux.HandleFunc("GET /api/threads/{id}/checkpoint", threads.HandleLoadCheckpoint)
	mux.HandleFunc("POST /api/threads/{id}/revert", threads.HandleRevert)
	mux.HandleFunc("GET /api/stats", threads.HandleStats)

	mux.HandleFunc("GET /api/approvals", approvals.HandlePending)
	mux.HandleFunc("POST /api/approvals/{id}/approve", approvals.HandleApprove)
	mux.HandleFunc("POST /api/approvals/{id}/reject", approvals.HandleReject)

	if eventsHandler != nil {
		mux.Handle("GET /api/events", eventsHandler)
	}

	return mux
}
