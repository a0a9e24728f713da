package models

import (
	"fmt"
	"strings"
)

// ConfigurationError signals invalid or contradictory resource bounds or a
// root path matching no model. Fatal for the affected model before submission.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Message
}

// NewConfigurationError builds a ConfigurationError with printf formatting.
func NewConfigurationError(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// SubmissionError signals that sbatch was unreachable or rejected the script.
// Fatal for the model; sibling models in a batch continue.
type SubmissionError struct {
	Model string
	Err   error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission failed for %s: %v", e.Model, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// PollError signals repeated status-query failures beyond the retry budget.
type PollError struct {
	JobID    string
	Attempts int
	Err      error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("status polling for job %s failed after %d attempts: %v", e.JobID, e.Attempts, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

// TimeoutError signals that no terminal state was observed within the
// configured budget. The remote job is left running unless cancellation was
// explicitly requested.
type TimeoutError struct {
	JobID  string
	Budget string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s did not reach a terminal state within %s", e.JobID, e.Budget)
}

// FixerError aggregates per-file repair failures. Non-fatal: the model is
// downgraded to succeeded-with-warnings and archival still proceeds.
type FixerError struct {
	Failures map[string]error
}

func (e *FixerError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for f := range e.Failures {
		names = append(names, f)
	}
	return fmt.Sprintf("failed to clear write flag on %d file(s): %s", len(e.Failures), strings.Join(names, ", "))
}

// ArchiveError signals a failed archive move. The source directory is left
// fully intact and the model keeps its outcome with archived=false.
type ArchiveError struct {
	Model string
	Step  string
	Err   error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archive of %s failed at %s: %v", e.Model, e.Step, e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }
