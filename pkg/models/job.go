package models

import (
	"time"
)

// JobStatus represents the lifecycle state of a Slurm submission.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"   // Script built, not yet handed to Slurm
	JobStatusSubmitted JobStatus = "submitted" // sbatch accepted, job queued
	JobStatusRunning   JobStatus = "running"   // Job actively running on the cluster
	JobStatusSucceeded JobStatus = "succeeded" // Terminal: finished and classified as success
	JobStatusFailed    JobStatus = "failed"    // Terminal: finished and classified as failure
	JobStatusCancelled JobStatus = "cancelled" // Terminal: cancelled by user request
)

// Job represents one scheduler submission for a model. The controller owns
// the Job exclusively; the ID is opaque and assigned by Slurm.
type Job struct {
	ID               string            `json:"id"`
	ModelName        string            `json:"model_name"`
	ModelPath        string            `json:"model_path"`
	Status           JobStatus         `json:"status"`
	RawExitCode      int               `json:"raw_exit_code"`
	SubmittedAt      time.Time         `json:"submitted_at"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	Warnings         []string          `json:"warnings,omitempty"`
	Error            string            `json:"error,omitempty"`
	Archived         bool              `json:"archived"`
	ArchivePath      string            `json:"archive_path,omitempty"`
	StateTransitions []StateTransition `json:"state_transitions,omitempty"`
}

// StateTransition tracks a job state change with its timestamp.
type StateTransition struct {
	From      JobStatus `json:"from"`
	To        JobStatus `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// Duration returns the wall-clock time between submission and completion.
// For a job that has not completed it returns the elapsed time so far.
func (j *Job) Duration() time.Duration {
	if j.SubmittedAt.IsZero() {
		return 0
	}
	if j.CompletedAt != nil {
		return j.CompletedAt.Sub(j.SubmittedAt)
	}
	return time.Since(j.SubmittedAt)
}

// Transition moves the job to a new state after validating the edge and
// records it in the transition history.
func (j *Job) Transition(to JobStatus, reason string) error {
	if err := ValidateTransition(j.Status, to); err != nil {
		return err
	}
	now := time.Now()
	j.StateTransitions = append(j.StateTransitions, StateTransition{
		From:      j.Status,
		To:        to,
		Timestamp: now,
		Reason:    reason,
	})
	switch to {
	case JobStatusRunning:
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		if j.CompletedAt == nil {
			j.CompletedAt = &now
		}
	}
	j.Status = to
	return nil
}
