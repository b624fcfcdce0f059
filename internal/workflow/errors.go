package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTemplateNotFound means no template matches the requested kind.
	ErrTemplateNotFound = errors.New("workflow template not found")

	// ErrWorkflowNotFound means the engine has no workflow by that name.
	ErrWorkflowNotFound = errors.New("workflow not found")
)

// EngineError is a non-2xx response from the workflow engine, kept with
// enough context to diagnose without a retry.
type EngineError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *EngineError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("engine %s failed (status=%d)", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("engine %s failed (status=%d): %s", e.Op, e.StatusCode, body)
}
