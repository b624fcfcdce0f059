package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ameen-91/exray/internal/platform/auth"
	"github.com/ameen-91/exray/internal/platform/httpserver"
	"github.com/ameen-91/exray/internal/runs"
	"github.com/ameen-91/exray/internal/state"
	"github.com/ameen-91/exray/internal/workflow"
)

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string, err error) {
	requestID, _ := httpserver.RequestIDFromContext(r.Context())
	body := errorBody{Error: code, RequestID: requestID}
	if err != nil {
		body.Message = err.Error()
	}
	writeJSON(w, status, body)
}

// writeDomainError maps service-layer errors onto HTTP statuses. Anything
// unmapped is a 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var engErr *workflow.EngineError
	switch {
	case errors.Is(err, runs.ErrInvalidRequest):
		writeError(w, r, http.StatusBadRequest, "invalid_request", err)
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, "unauthenticated", err)
	case errors.Is(err, runs.ErrRunNotFound):
		writeError(w, r, http.StatusNotFound, "run_not_found", err)
	case errors.Is(err, runs.ErrNoEngineName):
		writeError(w, r, http.StatusNotFound, "no_engine_workflow", err)
	case errors.Is(err, runs.ErrResultUnavailable):
		writeError(w, r, http.StatusNotFound, "result_unavailable", err)
	case errors.Is(err, workflow.ErrWorkflowNotFound):
		writeError(w, r, http.StatusNotFound, "workflow_not_found", err)
	case errors.Is(err, workflow.ErrTemplateNotFound):
		writeError(w, r, http.StatusBadRequest, "unknown_workflow_kind", err)
	case errors.Is(err, runs.ErrRunNotComplete):
		writeError(w, r, http.StatusConflict, "run_not_complete", err)
	case errors.Is(err, state.ErrDuplicateRun):
		writeError(w, r, http.StatusConflict, "duplicate_run", err)
	case errors.As(err, &engErr):
		writeError(w, r, http.StatusBadGateway, "engine_error", err)
	default:
		writeError(w, r, http.StatusInternalServerError, "internal_error", err)
	}
}
