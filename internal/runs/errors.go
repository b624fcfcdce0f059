package runs

import "errors"

var (
	// ErrRunNotFound reports that no record exists for the run id.
	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidRequest reports a malformed submission, such as an
	// unknown workflow kind or a missing required file.
	ErrInvalidRequest = errors.New("invalid run request")

	// ErrRunNotComplete reports that the run has not reached a phase
	// whose result can be downloaded.
	ErrRunNotComplete = errors.New("run is not complete yet")

	// ErrNoEngineName reports that the run never reached the workflow
	// engine, so there is nothing to fetch logs or status for.
	ErrNoEngineName = errors.New("no engine workflow recorded for run")

	// ErrResultUnavailable reports that the result object could not be
	// resolved to a downloadable URL, even after the stale-key retry.
	ErrResultUnavailable = errors.New("result not available")
)
