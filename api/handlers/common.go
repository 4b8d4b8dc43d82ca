package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/types"
)

// Response is the unified API envelope.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ErrorInfo carries a structured error to the client.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already out; nothing left to do.
		return
	}
}

// WriteSuccess writes a 200 envelope.
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// WriteError maps a domain error onto an HTTP status and envelope.
func WriteError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var terr *types.Error
	if !errors.As(err, &terr) {
		terr = types.NewError(types.ErrPersistence, err.Error())
	}
	status := httpStatus(terr.Code)

	if logger != nil {
		logger.Error("API error",
			zap.String("code", string(terr.Code)),
			zap.String("message", terr.Message),
			zap.Int("status", status),
		)
	}

	WriteJSON(w, status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      string(terr.Code),
			Message:   terr.Message,
			Retryable: terr.Retryable,
		},
		Timestamp: time.Now(),
	})
}

// WriteBadRequest writes a 400 envelope for malformed input.
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusBadRequest, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    "BAD_REQUEST",
			Message: message,
		},
		Timestamp: time.Now(),
	})
}

func httpStatus(code types.ErrorCode) int {
	switch code {
	case types.ErrTaskNotFound, types.ErrThreadNotFound,
		types.ErrCheckpointNotFound, types.ErrApprovalNotFound:
		return http.StatusNotFound
	case types.ErrDuplicateTask, types.ErrInvalidTransition, types.ErrApprovalResolved:
		return http.StatusConflict
	case types.ErrDependencyCycle:
		return http.StatusUnprocessableEntity
	case types.ErrExecutionRejected:
		return http.StatusForbidden
	case types.ErrStoreClosed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
