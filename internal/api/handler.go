// Package api is the HTTP surface of the run bridge. Handlers stay thin:
// they decode requests, call the runs service, and map domain errors onto
// statuses. All run semantics live in internal/runs.
package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/ameen-91/exray/internal/cluster"
	"github.com/ameen-91/exray/internal/runs"
	"github.com/ameen-91/exray/internal/state"
	"github.com/ameen-91/exray/internal/workflow"
)

// maxUploadBytes caps an input file at 512 MiB before it is spooled to disk.
const maxUploadBytes = 512 << 20

const defaultLogTailLines = 1000

// RunService is the subset of the runs service the handlers call.
type RunService interface {
	Submit(ctx context.Context, req runs.SubmitRequest) (state.RunRecord, error)
	Get(ctx context.Context, runID string, refresh bool) (state.RunRecord, error)
	List(ctx context.Context, refresh bool) ([]state.RunRecord, error)
	Result(ctx context.Context, runID string) (string, error)
	Logs(ctx context.Context, runID string, tailLines int) (string, error)
}

// ClusterInfoSource reports node capacity, nil-safe when no cluster API is
// configured.
type ClusterInfoSource interface {
	Info(ctx context.Context) (*cluster.Info, error)
}

type HealthChecker interface {
	Healthy(ctx context.Context) error
}

type Handler struct {
	logger  *slog.Logger
	runs    RunService
	cluster ClusterInfoSource
	health  HealthChecker
}

func NewHandler(logger *slog.Logger, svc RunService, clusterInfo ClusterInfoSource, health HealthChecker) *Handler {
	return &Handler{logger: logger, runs: svc, cluster: clusterInfo, health: health}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /runs/{kind}", h.submitRun)
	mux.HandleFunc("GET /runs", h.listRuns)
	mux.HandleFunc("GET /runs/{run_id}", h.getRun)
	mux.HandleFunc("GET /runs/{run_id}/result", h.runResult)
	mux.HandleFunc("GET /runs/{run_id}/logs", h.runLogs)
	mux.HandleFunc("GET /cluster/info", h.clusterInfo)
	mux.HandleFunc("GET /health", h.healthz)
}

// reservedFormFields are multipart fields consumed by the handler itself and
// never forwarded as workflow parameters.
var reservedFormFields = map[string]bool{
	"cpu_limit":    true,
	"memory_limit": true,
}

func (h *Handler) submitRun(w http.ResponseWriter, r *http.Request) {
	kind := state.WorkflowKind(strings.ToLower(r.PathValue("kind")))
	if !kind.Valid() {
		writeError(w, r, http.StatusBadRequest, "unknown_workflow_kind",
			fmt.Errorf("unknown workflow kind %q", r.PathValue("kind")))
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_multipart", err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	input, cleanupInput, err := spoolFormFile(r, "file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "missing_input_file", err)
		return
	}
	defer cleanupInput()

	req := runs.SubmitRequest{
		Kind:       kind,
		Parameters: formParameters(r),
		InputFile:  input,
		Limits: workflow.ResourceLimits{
			CPU:    r.FormValue("cpu_limit"),
			Memory: r.FormValue("memory_limit"),
		},
	}

	if kind == state.KindCustom {
		script, cleanupScript, err := spoolFormFile(r, "python_file")
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "missing_python_file", err)
			return
		}
		defer cleanupScript()
		req.PythonFile = &script
	}

	record, err := h.runs.Submit(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	records, err := h.runs.List(r.Context(), boolQuery(r, "refresh"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": records})
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	record, err := h.runs.Get(r.Context(), r.PathValue("run_id"), boolQuery(r, "refresh"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) runResult(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	url, err := h.runs.Result(r.Context(), runID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": runID,
		"url":    url,
	})
}

func (h *Handler) runLogs(w http.ResponseWriter, r *http.Request) {
	tail := defaultLogTailLines
	if raw := r.URL.Query().Get("tail"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "invalid_tail",
				fmt.Errorf("tail must be a non-negative integer, got %q", raw))
			return
		}
		tail = n
	}

	text, err := h.runs.Logs(r.Context(), r.PathValue("run_id"), tail)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, text)
}

func (h *Handler) clusterInfo(w http.ResponseWriter, r *http.Request) {
	if h.cluster == nil {
		writeError(w, r, http.StatusNotFound, "cluster_api_unconfigured", nil)
		return
	}
	info, err := h.cluster.Info(r.Context())
	if err != nil {
		writeError(w, r, http.StatusBadGateway, "cluster_api_error", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// healthz reports dependency connectivity. Cluster info is best effort and
// degrades to null; an unhealthy hard dependency is a 503.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok", "cluster": nil}

	if h.cluster != nil {
		if info, err := h.cluster.Info(r.Context()); err == nil && info != nil {
			body["cluster"] = info
		}
	}

	if h.health != nil {
		if err := h.health.Healthy(r.Context()); err != nil {
			body["status"] = "unhealthy"
			body["error"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func formParameters(r *http.Request) map[string]string {
	params := map[string]string{}
	if r.MultipartForm == nil {
		return params
	}
	for key, values := range r.MultipartForm.Value {
		if reservedFormFields[key] || len(values) == 0 {
			continue
		}
		params[key] = values[0]
	}
	return params
}

func boolQuery(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}

// spoolFormFile copies a multipart file part to a temp file so the artifact
// store can upload it by path. The returned cleanup removes the temp file.
func spoolFormFile(r *http.Request, field string) (runs.UploadedFile, func(), error) {
	part, header, err := r.FormFile(field)
	if err != nil {
		return runs.UploadedFile{}, nil, fmt.Errorf("form field %q: %w", field, err)
	}
	defer part.Close()

	tmp, err := os.CreateTemp("", "exray-upload-*")
	if err != nil {
		return runs.UploadedFile{}, nil, fmt.Errorf("spool %q: %w", field, err)
	}
	if _, err := io.Copy(tmp, part); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return runs.UploadedFile{}, nil, fmt.Errorf("spool %q: %w", field, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return runs.UploadedFile{}, nil, fmt.Errorf("spool %q: %w", field, err)
	}

	cleanup := func() { _ = os.Remove(tmp.Name()) }
	return runs.UploadedFile{
		Path:         tmp.Name(),
		OriginalName: formFileName(header),
	}, cleanup, nil
}

func formFileName(header *multipart.FileHeader) string {
	if header == nil {
		return ""
	}
	return header.Filename
}
