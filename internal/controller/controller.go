// Package controller owns the job lifecycle: submission, status polling,
// optional RAM sampling, and terminal classification.
package controller

import (
	"context"
	"path/filepath"
	"time"

	"github.com/pxpalacios/ladruno/internal/metrics"
	"github.com/pxpalacios/ladruno/internal/slurm"
	"github.com/pxpalacios/ladruno/pkg/logging"
	"github.com/pxpalacios/ladruno/pkg/models"
)

// Options configures one submission's monitoring behavior.
type Options struct {
	PollInterval    time.Duration
	MaxPollFailures int           // transient query failures tolerated before escalation
	Timeout         time.Duration // wall-clock budget, 0 = unbounded
	MonitorRAM      bool
	MonitorInterval time.Duration
	MonitorLogFile  string
	Executable      string // names the processes the sampler reports
	CancelRemote    bool   // scancel the job on local cancellation or timeout
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 15 * time.Second
	}
	if o.MaxPollFailures <= 0 {
		o.MaxPollFailures = 5
	}
	if o.MonitorLogFile == "" {
		o.MonitorLogFile = "memtrack_node.txt"
	}
}

// Controller drives one model's job through the scheduler.
type Controller struct {
	scheduler slurm.Scheduler
	log       *logging.Logger

	// Metrics is optional; when set, poll counts are recorded.
	Metrics *metrics.Metrics
}

// New creates a controller backed by the given scheduler.
func New(scheduler slurm.Scheduler, log *logging.Logger) *Controller {
	return &Controller{scheduler: scheduler, log: log}
}

func (c *Controller) countPoll(failed bool) {
	if c.Metrics == nil {
		return
	}
	c.Metrics.PollsTotal.Inc()
	if failed {
		c.Metrics.PollFailures.Inc()
	}
}

// Submit hands the materialized script to the scheduler and returns a Job in
// the submitted state. A scheduler rejection is a SubmissionError, fatal for
// this model only.
func (c *Controller) Submit(ctx context.Context, modelDir, scriptPath string) (*models.Job, error) {
	job := &models.Job{
		ModelName: filepath.Base(modelDir),
		ModelPath: modelDir,
		Status:    models.JobStatusPending,
	}

	jobID, err := c.scheduler.Submit(ctx, modelDir, filepath.Base(scriptPath))
	if err != nil {
		job.Transition(models.JobStatusFailed, "submission rejected")
		job.Error = err.Error()
		return job, &models.SubmissionError{Model: job.ModelName, Err: err}
	}

	job.ID = jobID
	job.SubmittedAt = time.Now()
	job.Transition(models.JobStatusSubmitted, "sbatch accepted")
	c.log.Info("job submitted", map[string]interface{}{"job_id": jobID, "model": job.ModelName})
	return job, nil
}

// Wait polls the scheduler until the job reaches a terminal state, the
// wall-clock budget elapses, or ctx is cancelled. The RAM sampler, when
// enabled, is stopped on every exit path.
func (c *Controller) Wait(ctx context.Context, job *models.Job, opts Options) error {
	opts.applyDefaults()
	log := c.log.WithField("job_id", job.ID)

	if opts.MonitorRAM {
		grepTerm := filepath.Base(opts.Executable)
		sampler := StartSampler(job.ModelPath, opts.MonitorLogFile, grepTerm, opts.MonitorInterval)
		defer sampler.Stop()
	}

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	failures := 0
	var lastErr error

	for {
		select {
		case <-ctx.Done():
			return c.cancelled(ctx, job, opts, log)

		case <-deadline:
			return c.timedOut(job, opts, log)

		case <-ticker.C:
			info, err := c.scheduler.Query(ctx, job.ID)
			c.countPoll(err != nil)
			if err != nil {
				failures++
				lastErr = err
				log.Warn("status query failed", map[string]interface{}{
					"attempt": failures, "max": opts.MaxPollFailures, "error": err.Error(),
				})
				if failures >= opts.MaxPollFailures {
					pollErr := &models.PollError{JobID: job.ID, Attempts: failures, Err: lastErr}
					job.Transition(models.JobStatusFailed, "poll retries exhausted")
					job.Error = pollErr.Error()
					return pollErr
				}
				continue
			}
			failures = 0

			switch {
			case info.State == slurm.StateRunning && job.Status == models.JobStatusSubmitted:
				job.Transition(models.JobStatusRunning, "first active poll")
				log.Info("job running")

			case info.State.Terminal():
				c.finish(job, info, log)
				return nil
			}
		}
	}
}

// finish classifies the terminal job from the execution log. The log marker
// overrides the scheduler's raw exit code in both directions.
func (c *Controller) finish(job *models.Job, info slurm.JobInfo, log *logging.Logger) {
	job.RawExitCode = info.RawExitCode

	if info.State == slurm.StateCancelled {
		job.Transition(models.JobStatusCancelled, "cancelled by scheduler")
		log.Info("job cancelled by scheduler")
		return
	}

	if ClassifyModelDir(job.ModelPath, info.RawExitCode) {
		job.Transition(models.JobStatusSucceeded, "success marker in log")
		log.Info("job succeeded", map[string]interface{}{"raw_exit_code": info.RawExitCode})
		return
	}

	job.Transition(models.JobStatusFailed, "no success marker in log")
	job.Error = "execution log has no success marker"
	log.Warn("job failed", map[string]interface{}{"raw_exit_code": info.RawExitCode})
}

func (c *Controller) cancelled(ctx context.Context, job *models.Job, opts Options, log *logging.Logger) error {
	if opts.CancelRemote {
		// Best effort with a fresh context; the caller's is already done.
		cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.scheduler.Cancel(cancelCtx, job.ID); err != nil {
			log.Warn("remote cancel failed", map[string]interface{}{"error": err.Error()})
		}
	}
	job.Transition(models.JobStatusCancelled, "cancelled by user")
	log.Info("polling cancelled", map[string]interface{}{"remote_cancel": opts.CancelRemote})
	return ctx.Err()
}

func (c *Controller) timedOut(job *models.Job, opts Options, log *logging.Logger) error {
	timeoutErr := &models.TimeoutError{JobID: job.ID, Budget: opts.Timeout.String()}
	if opts.CancelRemote {
		cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.scheduler.Cancel(cancelCtx, job.ID); err != nil {
			log.Warn("remote cancel failed", map[string]interface{}{"error": err.Error()})
		}
	}
	job.Transition(models.JobStatusFailed, "wall-clock budget exhausted")
	job.Error = timeoutErr.Error()
	log.Warn("job timed out", map[string]interface{}{
		"budget": opts.Timeout.String(), "remote_cancel": opts.CancelRemote,
	})
	return timeoutErr
}
