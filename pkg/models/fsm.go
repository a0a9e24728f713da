package models

import (
	"fmt"
)

// validTransitions maps from-state to allowed to-states.
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusPending: {
		JobStatusSubmitted: true, // Pending → Submitted (sbatch accepted)
		JobStatusFailed:    true, // Pending → Failed (submission rejected)
		JobStatusCancelled: true, // Pending → Cancelled (user cancels before submit)
	},
	JobStatusSubmitted: {
		JobStatusRunning:   true, // Submitted → Running (first active poll)
		JobStatusSucceeded: true, // Submitted → Succeeded (short jobs can finish between polls)
		JobStatusFailed:    true, // Submitted → Failed (rejected after queueing, poll escalation)
		JobStatusCancelled: true, // Submitted → Cancelled (user cancels while queued)
	},
	JobStatusRunning: {
		JobStatusSucceeded: true, // Running → Succeeded
		JobStatusFailed:    true, // Running → Failed (includes timeout and poll escalation)
		JobStatusCancelled: true, // Running → Cancelled (user cancels)
	},
	// Terminal states have no outgoing edges.
	JobStatusSucceeded: {},
	JobStatusFailed:    {},
	JobStatusCancelled: {},
}

// ValidateTransition checks whether a job state transition is allowed.
func ValidateTransition(from, to JobStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminalState returns true if no further transitions can occur.
func IsTerminalState(state JobStatus) bool {
	return state == JobStatusSucceeded || state == JobStatusFailed || state == JobStatusCancelled
}

// IsActiveState returns true while the job occupies scheduler resources.
func IsActiveState(state JobStatus) bool {
	return state == JobStatusSubmitted || state == JobStatusRunning
}
