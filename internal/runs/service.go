// Package runs orchestrates run submission and tracking: it composes the
// template catalogue, workflow engine, artifact store, and run registry
// into the submit / refresh / result / logs operations exposed over HTTP.
package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/ameen-91/exray/internal/artifact"
	"github.com/ameen-91/exray/internal/observability"
	"github.com/ameen-91/exray/internal/state"
	"github.com/ameen-91/exray/internal/workflow"
	"github.com/google/uuid"
)

type Engine interface {
	Submit(ctx context.Context, spec *workflow.Spec) (workflow.Submission, error)
	Get(ctx context.Context, name string) (*workflow.Document, error)
	Logs(ctx context.Context, name string, opts workflow.LogOptions) (string, error)
}

type ArtifactStore interface {
	Upload(ctx context.Context, key, path string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type Templater interface {
	Fill(name string, params map[string]string, limits workflow.ResourceLimits) (*workflow.Spec, error)
}

type Service struct {
	logger    *slog.Logger
	store     state.Store
	engine    Engine
	artifacts ArtifactStore
	templates Templater
	metrics   *observability.Metrics

	presignTTL time.Duration
	newRunID   func() string
}

func New(logger *slog.Logger, store state.Store, engine Engine, artifacts ArtifactStore, templates Templater, metrics *observability.Metrics) *Service {
	if logger == nil || store == nil || engine == nil || artifacts == nil || templates == nil || metrics == nil {
		return nil
	}
	return &Service{
		logger:     logger,
		store:      store,
		engine:     engine,
		artifacts:  artifacts,
		templates:  templates,
		metrics:    metrics,
		presignTTL: artifact.DefaultPresignTTL,
		newRunID:   uuid.NewString,
	}
}

// UploadedFile is a staged upload handed over by the HTTP layer.
type UploadedFile struct {
	Path         string
	OriginalName string
}

type SubmitRequest struct {
	Kind       state.WorkflowKind
	Parameters map[string]string
	InputFile  UploadedFile

	// PythonFile is required for the custom kind and ignored otherwise.
	PythonFile *UploadedFile

	Limits workflow.ResourceLimits
}

// Submit templates, uploads, and submits a new run, then records it. A
// record is created only after the engine accepted the workflow; on engine
// failure any already-uploaded input is left in place as orphaned data.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (state.RunRecord, error) {
	if !req.Kind.Valid() {
		return state.RunRecord{}, fmt.Errorf("unknown workflow kind %q: %w", req.Kind, ErrInvalidRequest)
	}
	if req.InputFile.Path == "" {
		return state.RunRecord{}, fmt.Errorf("missing input file: %w", ErrInvalidRequest)
	}
	if req.Kind == state.KindCustom && req.PythonFile == nil {
		return state.RunRecord{}, fmt.Errorf("custom workflow requires a python file: %w", ErrInvalidRequest)
	}

	runID := s.newRunID()
	originalName := req.InputFile.OriginalName
	if strings.TrimSpace(originalName) == "" {
		originalName = "dataset.csv"
	}
	inputFileName := runID + "_" + sanitizeFilename(originalName)

	params := make(map[string]string, len(req.Parameters)+2)
	for k, v := range req.Parameters {
		params[k] = v
	}
	params["input_file_name"] = inputFileName

	var pythonFileName, originalPythonName string
	if req.Kind == state.KindCustom {
		originalPythonName = req.PythonFile.OriginalName
		if strings.TrimSpace(originalPythonName) == "" {
			originalPythonName = "script.py"
		}
		pythonFileName = runID + "_" + sanitizeFilename(originalPythonName)
		params["python_file_name"] = pythonFileName
	}

	spec, err := s.templates.Fill(string(req.Kind), params, req.Limits)
	if err != nil {
		s.metrics.SubmitFailures.WithLabelValues(string(req.Kind)).Inc()
		return state.RunRecord{}, fmt.Errorf("fill %s template: %w", req.Kind, err)
	}

	inputObject := "input/" + inputFileName
	if err := s.artifacts.Upload(ctx, inputObject, req.InputFile.Path); err != nil {
		s.metrics.SubmitFailures.WithLabelValues(string(req.Kind)).Inc()
		return state.RunRecord{}, fmt.Errorf("upload input: %w", err)
	}
	if req.Kind == state.KindCustom {
		if err := s.artifacts.Upload(ctx, "python/"+pythonFileName, req.PythonFile.Path); err != nil {
			s.metrics.SubmitFailures.WithLabelValues(string(req.Kind)).Inc()
			return state.RunRecord{}, fmt.Errorf("upload script: %w", err)
		}
	}

	submission, err := s.engine.Submit(ctx, spec)
	if err != nil {
		s.metrics.EngineErrors.WithLabelValues("submit").Inc()
		s.metrics.SubmitFailures.WithLabelValues(string(req.Kind)).Inc()
		return state.RunRecord{}, fmt.Errorf("submit %s workflow: %w", req.Kind, err)
	}

	record := state.RunRecord{
		RunID:                  runID,
		WorkflowKind:           req.Kind,
		Parameters:             req.Parameters,
		EngineName:             submission.EngineName,
		Namespace:              submission.Namespace,
		SubmittedAt:            submission.SubmittedAt,
		Status:                 s.initialStatus(ctx, submission.EngineName),
		InputObject:            inputObject,
		ResultObject:           "output/" + inputFileName,
		InputFileName:          inputFileName,
		OriginalFilename:       originalName,
		PythonFileName:         pythonFileName,
		OriginalPythonFilename: originalPythonName,
	}

	created, err := s.store.Create(ctx, record)
	if err != nil {
		return state.RunRecord{}, fmt.Errorf("record run %s: %w", runID, err)
	}

	s.metrics.RunsSubmitted.WithLabelValues(string(req.Kind)).Inc()
	s.logger.Info("run submitted",
		"run_id", runID,
		"kind", req.Kind,
		"engine_name", submission.EngineName,
		"namespace", submission.Namespace,
	)
	return created, nil
}

// initialStatus probes the engine right after submission. No engine name
// means the run is still Pending; a failed probe downgrades to Submitted
// rather than failing the whole submission.
func (s *Service) initialStatus(ctx context.Context, engineName string) state.StatusRecord {
	if engineName == "" {
		return state.StatusRecord{Phase: state.PhasePending}
	}
	doc, err := s.engine.Get(ctx, engineName)
	if err != nil || doc == nil {
		return state.StatusRecord{Phase: state.PhaseSubmitted}
	}
	return workflow.NormalizeStatus(doc)
}

// Get returns one run, optionally refreshed against the engine.
func (s *Service) Get(ctx context.Context, runID string, refresh bool) (state.RunRecord, error) {
	record, ok, err := s.store.Get(ctx, runID)
	if err != nil {
		return state.RunRecord{}, err
	}
	if !ok {
		return state.RunRecord{}, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	if refresh {
		record = s.refreshRecord(ctx, record)
	}
	return record, nil
}

// List returns all runs. With refresh, every non-terminal run is re-queried;
// a failure for one run degrades to its stale record and never aborts the
// rest.
func (s *Service) List(ctx context.Context, refresh bool) ([]state.RunRecord, error) {
	records, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if !refresh {
		return records, nil
	}
	for i := range records {
		records[i] = s.refreshRecord(ctx, records[i])
	}
	return records, nil
}

// refreshRecord re-queries the engine for a run's status. Terminal runs are
// frozen: they are returned unchanged without a network call. Any failure
// returns the stale record.
func (s *Service) refreshRecord(ctx context.Context, record state.RunRecord) state.RunRecord {
	if record.EngineName == "" || record.Status.Terminal() {
		return record
	}

	s.metrics.StatusRefreshes.Inc()
	doc, err := s.engine.Get(ctx, record.EngineName)
	if err != nil {
		s.metrics.EngineErrors.WithLabelValues("get").Inc()
		s.logger.Warn("status refresh failed", "run_id", record.RunID, "error", err)
		return record
	}
	if doc == nil {
		return record
	}

	status := workflow.NormalizeStatus(doc)
	updated, ok, err := s.store.Update(ctx, record.RunID, state.Patch{Status: &status})
	if err != nil || !ok {
		if err != nil {
			s.logger.Warn("status persist failed", "run_id", record.RunID, "error", err)
		}
		return record
	}
	return updated
}

// Result resolves the run's result object and returns a presigned download
// URL. The recorded key may be stale (template drift); on ObjectNotFound
// the key is re-resolved from the latest workflow document and retried
// exactly once.
func (s *Service) Result(ctx context.Context, runID string) (string, error) {
	record, ok, err := s.store.Get(ctx, runID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}

	record = s.refreshRecord(ctx, record)
	switch strings.ToLower(record.Status.Phase) {
	case "succeeded", "skipped":
	default:
		return "", fmt.Errorf("run %s phase %q: %w", runID, record.Status.Phase, ErrRunNotComplete)
	}

	key := record.ResultObject
	if key == "" && record.EngineName != "" {
		doc, err := s.engine.Get(ctx, record.EngineName)
		if err != nil {
			s.metrics.EngineErrors.WithLabelValues("get").Inc()
			return "", fmt.Errorf("resolve result for run %s: %w", runID, err)
		}
		if key = resultKeyFromDocument(doc); key != "" {
			s.persistResultKey(ctx, runID, key)
		}
	}
	if key == "" {
		return "", fmt.Errorf("run %s: result location unknown: %w", runID, ErrResultUnavailable)
	}

	url, err := s.artifacts.PresignGet(ctx, key, s.presignTTL)
	if err == nil {
		return url, nil
	}
	if !errors.Is(err, artifact.ErrObjectNotFound) {
		return "", fmt.Errorf("presign result for run %s: %w", runID, err)
	}

	return s.resultFallback(ctx, record, key, err)
}

// resultFallback retries the presign once with a key re-resolved from the
// latest workflow document. A second failure, or no better key, surfaces as
// ErrResultUnavailable.
func (s *Service) resultFallback(ctx context.Context, record state.RunRecord, staleKey string, cause error) (string, error) {
	s.metrics.ResultFallbacks.Inc()
	if record.EngineName == "" {
		return "", fmt.Errorf("run %s: %w: %v", record.RunID, ErrResultUnavailable, cause)
	}

	doc, err := s.engine.Get(ctx, record.EngineName)
	if err != nil {
		s.metrics.EngineErrors.WithLabelValues("get").Inc()
		return "", fmt.Errorf("run %s: %w: %v", record.RunID, ErrResultUnavailable, err)
	}
	fallbackKey := resultKeyFromDocument(doc)
	if fallbackKey == "" || fallbackKey == staleKey {
		return "", fmt.Errorf("run %s: %w: %v", record.RunID, ErrResultUnavailable, cause)
	}

	s.persistResultKey(ctx, record.RunID, fallbackKey)
	s.logger.Info("result key fallback", "run_id", record.RunID, "stale_key", staleKey, "key", fallbackKey)

	url, err := s.artifacts.PresignGet(ctx, fallbackKey, s.presignTTL)
	if err != nil {
		return "", fmt.Errorf("run %s: %w: %v", record.RunID, ErrResultUnavailable, err)
	}
	return url, nil
}

func (s *Service) persistResultKey(ctx context.Context, runID, key string) {
	if _, _, err := s.store.Update(ctx, runID, state.Patch{ResultObject: &key}); err != nil {
		s.logger.Warn("result key persist failed", "run_id", runID, "error", err)
	}
}

// resultKeyFromDocument scans the document's recorded output artifacts for
// the first object-store-backed entry carrying a key.
func resultKeyFromDocument(doc *workflow.Document) string {
	if doc == nil || doc.Status.Outputs == nil {
		return ""
	}
	for _, art := range doc.Status.Outputs.Artifacts {
		if art.S3 != nil && art.S3.Key != "" {
			return art.S3.Key
		}
	}
	return ""
}

// Logs returns the aggregated per-step log text for a run.
func (s *Service) Logs(ctx context.Context, runID string, tailLines int) (string, error) {
	record, ok, err := s.store.Get(ctx, runID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	if record.EngineName == "" {
		return "", fmt.Errorf("run %s: %w", runID, ErrNoEngineName)
	}

	text, err := workflow.AggregateLogs(ctx, s.engine, record.EngineName, tailLines)
	if err != nil {
		s.metrics.EngineErrors.WithLabelValues("logs").Inc()
		return "", err
	}
	return text, nil
}

func sanitizeFilename(name string) string {
	safe := path.Base(strings.TrimSpace(name))
	safe = strings.ReplaceAll(safe, " ", "_")
	if safe == "" || safe == "." || safe == "/" {
		return "dataset.csv"
	}
	return safe
}
