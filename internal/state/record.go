// Package state is the persisted run registry. A run record is created once
// at submission time and mutated in place by status refreshes and result
// backfills; records are never deleted here.
package state

import (
	"strings"
	"time"
)

// WorkflowKind selects the execution template family for a run.
type WorkflowKind string

const (
	KindCTGAN  WorkflowKind = "ctgan"
	KindLLM    WorkflowKind = "llm"
	KindCustom WorkflowKind = "custom"
)

func (k WorkflowKind) Valid() bool {
	switch k {
	case KindCTGAN, KindLLM, KindCustom:
		return true
	}
	return false
}

const (
	PhasePending   = "Pending"
	PhaseSubmitted = "Submitted"
	PhaseRunning   = "Running"
	PhaseSucceeded = "Succeeded"
	PhaseFailed    = "Failed"
	PhaseError     = "Error"
	PhaseSkipped   = "Skipped"
)

// StatusRecord is the canonical, engine-independent view of execution
// progress. Timestamps stay in the engine's RFC3339 form; a missing field is
// an empty string, never a synthesized default.
type StatusRecord struct {
	Phase      string `json:"phase,omitempty"`
	StartedAt  string `json:"startedAt,omitempty"`
	FinishedAt string `json:"finishedAt,omitempty"`
	Progress   string `json:"progress,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Terminal reports whether no further phase transition is expected.
func (s StatusRecord) Terminal() bool {
	switch strings.ToLower(s.Phase) {
	case "succeeded", "failed", "error", "skipped":
		return true
	}
	return false
}

// RunRecord tracks one submitted workflow execution end to end. The json
// tags are the on-disk schema; new fields must be additive so older
// documents stay loadable.
type RunRecord struct {
	RunID        string            `json:"run_id"`
	WorkflowKind WorkflowKind      `json:"workflow_kind"`
	Parameters   map[string]string `json:"parameters,omitempty"`

	// EngineName is empty when submission failed before the engine
	// assigned a name.
	EngineName  string `json:"engine_name,omitempty"`
	Namespace   string `json:"namespace,omitempty"`
	SubmittedAt string `json:"submitted_at,omitempty"`

	Status StatusRecord `json:"status"`

	InputObject  string `json:"input_object,omitempty"`
	ResultObject string `json:"result_object,omitempty"`

	InputFileName    string `json:"input_file_name,omitempty"`
	OriginalFilename string `json:"original_filename,omitempty"`

	// Set for the custom kind only.
	PythonFileName         string `json:"python_file_name,omitempty"`
	OriginalPythonFilename string `json:"original_python_filename,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
