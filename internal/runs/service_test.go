package runs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ameen-91/exray/internal/artifact"
	"github.com/ameen-91/exray/internal/observability"
	"github.com/ameen-91/exray/internal/state"
	"github.com/ameen-91/exray/internal/workflow"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeStore struct {
	records map[string]state.RunRecord
	order   []string

	createErr error
	updateErr error
	updates   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string]state.RunRecord{}}
}

func (s *fakeStore) Create(_ context.Context, record state.RunRecord) (state.RunRecord, error) {
	if s.createErr != nil {
		return state.RunRecord{}, s.createErr
	}
	if _, ok := s.records[record.RunID]; ok {
		return state.RunRecord{}, state.ErrDuplicateRun
	}
	record.CreatedAt = time.Now().UTC()
	record.UpdatedAt = record.CreatedAt
	s.records[record.RunID] = record
	s.order = append(s.order, record.RunID)
	return record, nil
}

func (s *fakeStore) Get(_ context.Context, runID string) (state.RunRecord, bool, error) {
	rec, ok := s.records[runID]
	return rec, ok, nil
}

func (s *fakeStore) List(_ context.Context) ([]state.RunRecord, error) {
	out := make([]state.RunRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out, nil
}

func (s *fakeStore) Update(_ context.Context, runID string, patch state.Patch) (state.RunRecord, bool, error) {
	if s.updateErr != nil {
		return state.RunRecord{}, false, s.updateErr
	}
	rec, ok := s.records[runID]
	if !ok {
		return state.RunRecord{}, false, nil
	}
	s.updates++
	if patch.Status != nil {
		rec.Status = *patch.Status
	}
	if patch.ResultObject != nil {
		rec.ResultObject = *patch.ResultObject
	}
	rec.UpdatedAt = time.Now().UTC()
	s.records[runID] = rec
	return rec, true, nil
}

type fakeEngine struct {
	submission workflow.Submission
	submitErr  error
	submitted  []*workflow.Spec

	doc     *workflow.Document
	getErr  error
	getCnt  int
	logText string
	logErr  error
}

func (e *fakeEngine) Submit(_ context.Context, spec *workflow.Spec) (workflow.Submission, error) {
	e.submitted = append(e.submitted, spec)
	if e.submitErr != nil {
		return workflow.Submission{}, e.submitErr
	}
	return e.submission, nil
}

func (e *fakeEngine) Get(_ context.Context, name string) (*workflow.Document, error) {
	e.getCnt++
	if e.getErr != nil {
		return nil, e.getErr
	}
	return e.doc, nil
}

func (e *fakeEngine) Logs(_ context.Context, name string, opts workflow.LogOptions) (string, error) {
	if e.logErr != nil {
		return "", e.logErr
	}
	return e.logText, nil
}

type fakeArtifacts struct {
	uploads map[string]string

	uploadErr error
	urls      map[string]string
	signErr   map[string]error
	signCalls []string
}

func newFakeArtifacts() *fakeArtifacts {
	return &fakeArtifacts{
		uploads: map[string]string{},
		urls:    map[string]string{},
		signErr: map[string]error{},
	}
}

func (a *fakeArtifacts) Upload(_ context.Context, key, path string) error {
	if a.uploadErr != nil {
		return a.uploadErr
	}
	a.uploads[key] = path
	return nil
}

func (a *fakeArtifacts) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	a.signCalls = append(a.signCalls, key)
	if err, ok := a.signErr[key]; ok {
		return "", err
	}
	if url, ok := a.urls[key]; ok {
		return url, nil
	}
	return "", artifact.ErrObjectNotFound
}

type fakeTemplater struct {
	params map[string]string
	err    error
}

func (t *fakeTemplater) Fill(name string, params map[string]string, limits workflow.ResourceLimits) (*workflow.Spec, error) {
	if t.err != nil {
		return nil, t.err
	}
	t.params = params
	return &workflow.Spec{Metadata: workflow.Metadata{GenerateName: "exray-" + name + "-"}}, nil
}

func testService(store state.Store, engine Engine, artifacts ArtifactStore, templates Templater) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(logger, store, engine, artifacts, templates, observability.NewMetrics(prometheus.NewRegistry()))
	svc.newRunID = func() string { return "run-1" }
	return svc
}

func TestSubmitCreatesRecord(t *testing.T) {
	store := newFakeStore()
	engine := &fakeEngine{
		submission: workflow.Submission{EngineName: "exray-ctgan-abcde", Namespace: "argo", SubmittedAt: "2026-08-30T10:00:00Z"},
		doc:        &workflow.Document{Status: workflow.DocumentStatus{Phase: "Running"}},
	}
	artifacts := newFakeArtifacts()
	svc := testService(store, engine, artifacts, &fakeTemplater{})

	rec, err := svc.Submit(context.Background(), SubmitRequest{
		Kind:       state.KindCTGAN,
		Parameters: map[string]string{"no_of_epochs": "5"},
		InputFile:  UploadedFile{Path: "/tmp/up-1", OriginalName: "my data.csv"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if rec.RunID != "run-1" {
		t.Errorf("run id = %q, want run-1", rec.RunID)
	}
	if rec.InputFileName != "run-1_my_data.csv" {
		t.Errorf("input file name = %q", rec.InputFileName)
	}
	if rec.InputObject != "input/run-1_my_data.csv" {
		t.Errorf("input object = %q", rec.InputObject)
	}
	if rec.ResultObject != "output/run-1_my_data.csv" {
		t.Errorf("result object = %q", rec.ResultObject)
	}
	if rec.EngineName != "exray-ctgan-abcde" {
		t.Errorf("engine name = %q", rec.EngineName)
	}
	if rec.Status.Phase != "Running" {
		t.Errorf("phase = %q, want Running", rec.Status.Phase)
	}
	if _, ok := artifacts.uploads["input/run-1_my_data.csv"]; !ok {
		t.Error("input was not uploaded")
	}
	if len(engine.submitted) != 1 {
		t.Fatalf("engine submissions = %d, want 1", len(engine.submitted))
	}
}

func TestSubmitInjectsInputFileNameParameter(t *testing.T) {
	store := newFakeStore()
	engine := &fakeEngine{submission: workflow.Submission{EngineName: "wf-1"}}
	tmpl := &fakeTemplater{}
	svc := testService(store, engine, newFakeArtifacts(), tmpl)

	if _, err := svc.Submit(context.Background(), SubmitRequest{
		Kind:      state.KindLLM,
		InputFile: UploadedFile{Path: "/tmp/up-1", OriginalName: "prompts.csv"},
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := tmpl.params["input_file_name"]; got != "run-1_prompts.csv" {
		t.Errorf("template input_file_name = %q", got)
	}
}

func TestSubmitCustomUploadsScript(t *testing.T) {
	store := newFakeStore()
	engine := &fakeEngine{submission: workflow.Submission{EngineName: "wf-1"}}
	artifacts := newFakeArtifacts()
	tmpl := &fakeTemplater{}
	svc := testService(store, engine, artifacts, tmpl)

	rec, err := svc.Submit(context.Background(), SubmitRequest{
		Kind:       state.KindCustom,
		InputFile:  UploadedFile{Path: "/tmp/up-1", OriginalName: "data.csv"},
		PythonFile: &UploadedFile{Path: "/tmp/up-2", OriginalName: "job.py"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.PythonFileName != "run-1_job.py" {
		t.Errorf("python file name = %q", rec.PythonFileName)
	}
	if _, ok := artifacts.uploads["python/run-1_job.py"]; !ok {
		t.Error("script was not uploaded")
	}
	if got := tmpl.params["python_file_name"]; got != "run-1_job.py" {
		t.Errorf("template python_file_name = %q", got)
	}
}

func TestSubmitCustomRequiresScript(t *testing.T) {
	svc := testService(newFakeStore(), &fakeEngine{}, newFakeArtifacts(), &fakeTemplater{})

	_, err := svc.Submit(context.Background(), SubmitRequest{
		Kind:      state.KindCustom,
		InputFile: UploadedFile{Path: "/tmp/up-1", OriginalName: "data.csv"},
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
}

func TestSubmitUnknownKind(t *testing.T) {
	svc := testService(newFakeStore(), &fakeEngine{}, newFakeArtifacts(), &fakeTemplater{})

	_, err := svc.Submit(context.Background(), SubmitRequest{
		Kind:      state.WorkflowKind("vae"),
		InputFile: UploadedFile{Path: "/tmp/up-1"},
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
}

func TestSubmitEngineFailureCreatesNoRecord(t *testing.T) {
	store := newFakeStore()
	engine := &fakeEngine{submitErr: &workflow.EngineError{Op: "submit", StatusCode: 503}}
	svc := testService(store, engine, newFakeArtifacts(), &fakeTemplater{})

	_, err := svc.Submit(context.Background(), SubmitRequest{
		Kind:      state.KindCTGAN,
		InputFile: UploadedFile{Path: "/tmp/up-1", OriginalName: "data.csv"},
	})
	if err == nil {
		t.Fatal("Submit succeeded, want error")
	}
	var engErr *workflow.EngineError
	if !errors.As(err, &engErr) {
		t.Fatalf("err = %v, want EngineError", err)
	}
	if len(store.records) != 0 {
		t.Errorf("records = %d, want none after failed submission", len(store.records))
	}
}

func TestSubmitStatusProbeFailureDowngrades(t *testing.T) {
	store := newFakeStore()
	engine := &fakeEngine{
		submission: workflow.Submission{EngineName: "wf-1"},
		getErr:     errors.New("connection refused"),
	}
	svc := testService(store, engine, newFakeArtifacts(), &fakeTemplater{})

	rec, err := svc.Submit(context.Background(), SubmitRequest{
		Kind:      state.KindCTGAN,
		InputFile: UploadedFile{Path: "/tmp/up-1", OriginalName: "data.csv"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.Status.Phase != state.PhaseSubmitted {
		t.Errorf("phase = %q, want Submitted", rec.Status.Phase)
	}
}

func TestGetRefreshUpdatesStatus(t *testing.T) {
	store := newFakeStore()
	store.records["run-1"] = state.RunRecord{
		RunID:      "run-1",
		EngineName: "wf-1",
		Status:     state.StatusRecord{Phase: "Running"},
	}
	engine := &fakeEngine{doc: &workflow.Document{Status: workflow.DocumentStatus{
		Phase:      "Succeeded",
		FinishedAt: "2026-08-30T11:00:00Z",
	}}}
	svc := testService(store, engine, newFakeArtifacts(), &fakeTemplater{})

	rec, err := svc.Get(context.Background(), "run-1", true)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status.Phase != "Succeeded" {
		t.Errorf("phase = %q, want Succeeded", rec.Status.Phase)
	}
	if store.records["run-1"].Status.FinishedAt != "2026-08-30T11:00:00Z" {
		t.Error("refreshed status was not persisted")
	}
}

func TestRefreshSkipsTerminalRuns(t *testing.T) {
	store := newFakeStore()
	store.records["run-1"] = state.RunRecord{
		RunID:      "run-1",
		EngineName: "wf-1",
		Status:     state.StatusRecord{Phase: "Failed", Message: "oom"},
	}
	engine := &fakeEngine{doc: &workflow.Document{Status: workflow.DocumentStatus{Phase: "Running"}}}
	svc := testService(store, engine, newFakeArtifacts(), &fakeTemplater{})

	rec, err := svc.Get(context.Background(), "run-1", true)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status.Phase != "Failed" || rec.Status.Message != "oom" {
		t.Errorf("terminal status changed: %+v", rec.Status)
	}
	if engine.getCnt != 0 {
		t.Errorf("engine queried %d times for a terminal run", engine.getCnt)
	}
}

func TestRefreshFailureReturnsStaleRecord(t *testing.T) {
	store := newFakeStore()
	store.records["run-1"] = state.RunRecord{
		RunID:      "run-1",
		EngineName: "wf-1",
		Status:     state.StatusRecord{Phase: "Running", Progress: "1/2"},
	}
	engine := &fakeEngine{getErr: errors.New("engine down")}
	svc := testService(store, engine, newFakeArtifacts(), &fakeTemplater{})

	rec, err := svc.Get(context.Background(), "run-1", true)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status.Phase != "Running" || rec.Status.Progress != "1/2" {
		t.Errorf("stale record mutated: %+v", rec.Status)
	}
}

func TestListRefreshDegradesPerRun(t *testing.T) {
	store := newFakeStore()
	_, _ = store.Create(context.Background(), state.RunRecord{
		RunID: "run-a", EngineName: "wf-a", Status: state.StatusRecord{Phase: "Running"},
	})
	_, _ = store.Create(context.Background(), state.RunRecord{
		RunID: "run-b", EngineName: "", Status: state.StatusRecord{Phase: "Pending"},
	})
	engine := &fakeEngine{doc: &workflow.Document{Status: workflow.DocumentStatus{Phase: "Succeeded"}}}
	svc := testService(store, engine, newFakeArtifacts(), &fakeTemplater{})

	records, err := svc.List(context.Background(), true)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].Status.Phase != "Succeeded" {
		t.Errorf("run-a phase = %q, want Succeeded", records[0].Status.Phase)
	}
	if records[1].Status.Phase != "Pending" {
		t.Errorf("run-b phase = %q, want Pending (no engine name)", records[1].Status.Phase)
	}
	if engine.getCnt != 1 {
		t.Errorf("engine queried %d times, want 1", engine.getCnt)
	}
}

func TestResultReturnsPresignedURL(t *testing.T) {
	store := newFakeStore()
	store.records["run-1"] = state.RunRecord{
		RunID:        "run-1",
		EngineName:   "wf-1",
		ResultObject: "output/run-1_data.csv",
		Status:       state.StatusRecord{Phase: "Succeeded"},
	}
	artifacts := newFakeArtifacts()
	artifacts.urls["output/run-1_data.csv"] = "https://minio/signed"
	engine := &fakeEngine{}
	svc := testService(store, engine, artifacts, &fakeTemplater{})

	url, err := svc.Result(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if url != "https://minio/signed" {
		t.Errorf("url = %q", url)
	}
	if engine.getCnt != 0 {
		t.Errorf("engine queried %d times for a terminal run with a recorded key", engine.getCnt)
	}
}

func TestResultNotComplete(t *testing.T) {
	store := newFakeStore()
	store.records["run-1"] = state.RunRecord{
		RunID:      "run-1",
		EngineName: "wf-1",
		Status:     state.StatusRecord{Phase: "Failed"},
	}
	svc := testService(store, &fakeEngine{}, newFakeArtifacts(), &fakeTemplater{})

	_, err := svc.Result(context.Background(), "run-1")
	if !errors.Is(err, ErrRunNotComplete) {
		t.Fatalf("err = %v, want ErrRunNotComplete", err)
	}
}

func TestResultStaleKeyFallback(t *testing.T) {
	store := newFakeStore()
	store.records["run-1"] = state.RunRecord{
		RunID:        "run-1",
		EngineName:   "wf-1",
		ResultObject: "output/stale.csv",
		Status:       state.StatusRecord{Phase: "Succeeded"},
	}
	artifacts := newFakeArtifacts()
	artifacts.signErr["output/stale.csv"] = artifact.ErrObjectNotFound
	artifacts.urls["output/actual.csv"] = "https://minio/actual"
	engine := &fakeEngine{doc: &workflow.Document{Status: workflow.DocumentStatus{
		Phase: "Succeeded",
		Outputs: &workflow.Outputs{Artifacts: []workflow.Artifact{
			{Name: "output-data", S3: &workflow.S3Location{Key: "output/actual.csv"}},
		}},
	}}}
	svc := testService(store, engine, artifacts, &fakeTemplater{})

	url, err := svc.Result(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if url != "https://minio/actual" {
		t.Errorf("url = %q", url)
	}
	if store.records["run-1"].ResultObject != "output/actual.csv" {
		t.Errorf("fallback key not persisted: %q", store.records["run-1"].ResultObject)
	}
}

func TestResultFallbackSameKeyFails(t *testing.T) {
	store := newFakeStore()
	store.records["run-1"] = state.RunRecord{
		RunID:        "run-1",
		EngineName:   "wf-1",
		ResultObject: "output/gone.csv",
		Status:       state.StatusRecord{Phase: "Succeeded"},
	}
	artifacts := newFakeArtifacts()
	artifacts.signErr["output/gone.csv"] = artifact.ErrObjectNotFound
	engine := &fakeEngine{doc: &workflow.Document{Status: workflow.DocumentStatus{
		Phase: "Succeeded",
		Outputs: &workflow.Outputs{Artifacts: []workflow.Artifact{
			{Name: "output-data", S3: &workflow.S3Location{Key: "output/gone.csv"}},
		}},
	}}}
	svc := testService(store, engine, artifacts, &fakeTemplater{})

	_, err := svc.Result(context.Background(), "run-1")
	if !errors.Is(err, ErrResultUnavailable) {
		t.Fatalf("err = %v, want ErrResultUnavailable", err)
	}
	if len(artifacts.signCalls) != 1 {
		t.Errorf("presign calls = %d, want 1 (no retry with the same key)", len(artifacts.signCalls))
	}
}

func TestResultUnknownRun(t *testing.T) {
	svc := testService(newFakeStore(), &fakeEngine{}, newFakeArtifacts(), &fakeTemplater{})

	_, err := svc.Result(context.Background(), "missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("err = %v, want ErrRunNotFound", err)
	}
}

func TestLogsRequiresEngineName(t *testing.T) {
	store := newFakeStore()
	store.records["run-1"] = state.RunRecord{RunID: "run-1"}
	svc := testService(store, &fakeEngine{}, newFakeArtifacts(), &fakeTemplater{})

	_, err := svc.Logs(context.Background(), "run-1", 0)
	if !errors.Is(err, ErrNoEngineName) {
		t.Fatalf("err = %v, want ErrNoEngineName", err)
	}
}

func TestLogsAggregates(t *testing.T) {
	store := newFakeStore()
	store.records["run-1"] = state.RunRecord{RunID: "run-1", EngineName: "wf-1"}
	engine := &fakeEngine{
		doc: &workflow.Document{
			Metadata: workflow.Metadata{Name: "wf-1"},
			Status: workflow.DocumentStatus{
				Phase: "Succeeded",
				Nodes: map[string]workflow.Node{
					"wf-1": {Name: "wf-1", DisplayName: "train", PodName: "wf-1", Phase: "Succeeded"},
				},
			},
		},
		logText: "epoch 1 done",
	}
	svc := testService(store, engine, newFakeArtifacts(), &fakeTemplater{})

	text, err := svc.Logs(context.Background(), "run-1", 100)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if !strings.Contains(text, "epoch 1 done") {
		t.Errorf("log text missing pod output:\n%s", text)
	}
}

func TestRunLifecycle(t *testing.T) {
	store := newFakeStore()
	engine := &fakeEngine{
		submission: workflow.Submission{EngineName: "wf-123", Namespace: "argo"},
		doc:        &workflow.Document{Status: workflow.DocumentStatus{Phase: "Pending"}},
	}
	artifacts := newFakeArtifacts()
	svc := testService(store, engine, artifacts, &fakeTemplater{})

	rec, err := svc.Submit(context.Background(), SubmitRequest{
		Kind:       state.KindCTGAN,
		Parameters: map[string]string{"no_of_epochs": "5"},
		InputFile:  UploadedFile{Path: "/tmp/up-1", OriginalName: "a.csv"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	engine.doc = &workflow.Document{Status: workflow.DocumentStatus{Phase: "Running", Progress: "0/1"}}
	rec, err = svc.Get(context.Background(), rec.RunID, true)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status.Phase != "Running" {
		t.Fatalf("phase = %q, want Running", rec.Status.Phase)
	}

	engine.doc = &workflow.Document{Status: workflow.DocumentStatus{
		Phase:      "Succeeded",
		FinishedAt: "2026-08-30T12:00:00Z",
	}}
	rec, err = svc.Get(context.Background(), rec.RunID, true)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status.Phase != "Succeeded" || rec.Status.FinishedAt == "" {
		t.Fatalf("status = %+v", rec.Status)
	}

	artifacts.urls[rec.ResultObject] = "https://minio/result"
	queries := engine.getCnt
	url, err := svc.Result(context.Background(), rec.RunID)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if url != "https://minio/result" {
		t.Errorf("url = %q", url)
	}
	if engine.getCnt != queries {
		t.Errorf("result fetch issued %d extra engine queries", engine.getCnt-queries)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"data.csv", "data.csv"},
		{"my data set.csv", "my_data_set.csv"},
		{"../../etc/passwd", "passwd"},
		{"  padded.csv ", "padded.csv"},
		{"", "dataset.csv"},
		{"/", "dataset.csv"},
	}
	for _, tc := range tests {
		if got := sanitizeFilename(tc.in); got != tc.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
