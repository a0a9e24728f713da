// Package slurm wraps the cluster batch scheduler behind a small
// submit/query/cancel contract. The scheduler is an opaque external service:
// it hands out a job identifier on submit and a raw state on query.
package slurm

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// State is the normalized scheduler-side job state.
type State string

const (
	StateUnknown   State = "unknown"
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the scheduler will make no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// JobInfo is one status-poll result.
type JobInfo struct {
	State       State
	RawExitCode int
}

// Scheduler is the batch-scheduler contract consumed by the controller.
type Scheduler interface {
	// Submit hands the materialized script to the scheduler from inside the
	// model directory and returns the assigned job identifier.
	Submit(ctx context.Context, dir, script string) (string, error)
	// Query returns the current state of a job.
	Query(ctx context.Context, jobID string) (JobInfo, error)
	// Cancel asks the scheduler to terminate a job.
	Cancel(ctx context.Context, jobID string) error
}

// runCommand executes a scheduler binary and returns its combined output.
// Swappable in tests.
type runCommand func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

func execCommand(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// Client talks to Slurm through its command line tools.
type Client struct {
	run runCommand
}

// NewClient creates a Slurm client backed by sbatch/squeue/sacct/scancel.
func NewClient() *Client {
	return &Client{run: execCommand}
}

// Submit runs sbatch --parsable and returns the job identifier.
func (c *Client) Submit(ctx context.Context, dir, script string) (string, error) {
	out, err := c.run(ctx, dir, "sbatch", "--parsable", script)
	if err != nil {
		return "", fmt.Errorf("sbatch failed: %v: %s", err, strings.TrimSpace(string(out)))
	}

	// --parsable prints "<jobid>" or "<jobid>;<cluster>".
	line := strings.TrimSpace(string(out))
	jobID := strings.SplitN(line, ";", 2)[0]
	if _, convErr := strconv.Atoi(jobID); convErr != nil {
		return "", fmt.Errorf("unexpected sbatch output %q", line)
	}
	return jobID, nil
}

// Query asks squeue first; once the job has left the queue it falls back to
// sacct, which also reports the raw exit code.
func (c *Client) Query(ctx context.Context, jobID string) (JobInfo, error) {
	out, err := c.run(ctx, "", "squeue", "-j", jobID, "-h", "-o", "%T")
	if err == nil {
		state := strings.TrimSpace(string(out))
		if state != "" {
			return JobInfo{State: mapState(state)}, nil
		}
		// Empty squeue output: job already left the queue.
	} else if !strings.Contains(string(out), "Invalid job id specified") {
		return JobInfo{State: StateUnknown}, fmt.Errorf("squeue failed: %v: %s", err, strings.TrimSpace(string(out)))
	}

	return c.accounting(ctx, jobID)
}

func (c *Client) accounting(ctx context.Context, jobID string) (JobInfo, error) {
	out, err := c.run(ctx, "", "sacct", "-j", jobID, "-o", "State,ExitCode", "-n", "-P", "-X")
	if err != nil {
		return JobInfo{State: StateUnknown}, fmt.Errorf("sacct failed: %v: %s", err, strings.TrimSpace(string(out)))
	}

	line := strings.TrimSpace(string(out))
	if line == "" {
		// Known to neither squeue nor sacct yet; accounting can lag briefly
		// right after submission.
		return JobInfo{State: StateUnknown}, nil
	}
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}

	fields := strings.SplitN(line, "|", 2)
	info := JobInfo{State: mapState(fields[0])}
	if len(fields) == 2 {
		// ExitCode is "<code>:<signal>".
		codePart := strings.SplitN(fields[1], ":", 2)[0]
		if code, convErr := strconv.Atoi(codePart); convErr == nil {
			info.RawExitCode = code
		}
	}
	return info, nil
}

// Cancel runs scancel for the job.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	out, err := c.run(ctx, "", "scancel", jobID)
	if err != nil {
		return fmt.Errorf("scancel %s failed: %v: %s", jobID, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// mapState normalizes Slurm state strings. CANCELLED can carry a suffix
// ("CANCELLED by 1001"), so prefixes are matched.
func mapState(raw string) State {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	switch {
	case raw == "PENDING" || raw == "CONFIGURING" || raw == "REQUEUED" || raw == "SUSPENDED":
		return StatePending
	case raw == "RUNNING" || raw == "COMPLETING":
		return StateRunning
	case raw == "COMPLETED":
		return StateCompleted
	case strings.HasPrefix(raw, "CANCELLED"):
		return StateCancelled
	case raw == "FAILED" || raw == "TIMEOUT" || raw == "NODE_FAIL" ||
		raw == "OUT_OF_MEMORY" || raw == "BOOT_FAIL" || raw == "DEADLINE" ||
		raw == "PREEMPTED":
		return StateFailed
	default:
		return StateUnknown
	}
}
