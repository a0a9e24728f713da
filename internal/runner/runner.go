// Package runner fans the submission pipeline out over resolved models:
// inspect partitions, allocate resources, materialize the script, submit and
// poll, repair outputs, archive. Models are independent; a failure in one
// never aborts its siblings.
package runner

import (
	"context"
	"errors"
	"path/filepath"
	"sync"

	"github.com/pxpalacios/ladruno/internal/alloc"
	"github.com/pxpalacios/ladruno/internal/archive"
	"github.com/pxpalacios/ladruno/internal/config"
	"github.com/pxpalacios/ladruno/internal/controller"
	"github.com/pxpalacios/ladruno/internal/metrics"
	"github.com/pxpalacios/ladruno/internal/partition"
	"github.com/pxpalacios/ladruno/internal/repair"
	"github.com/pxpalacios/ladruno/internal/resolver"
	"github.com/pxpalacios/ladruno/internal/script"
	"github.com/pxpalacios/ladruno/internal/slurm"
	"github.com/pxpalacios/ladruno/pkg/logging"
	"github.com/pxpalacios/ladruno/pkg/models"
)

// Options configures one submission run.
type Options struct {
	Cluster   *config.ClusterConfig
	Overrides alloc.Overrides
	JobName   string // defaults to the model directory name

	Rebuild         bool // regenerate run.sh even if present
	Detach          bool // submit only, do not wait for completion
	Fix             bool // clear write flags on outputs after the run
	FailOnFixer     bool // skip archival when output repair fails
	Archive         bool // relocate succeeded models to archive storage
	ArchiveInScript bool // emit the in-script move block instead
	MonitorRAM      bool
	CancelRemote    bool
	Parallel        int // worker pool size, <=1 means sequential
}

// Result is the structured outcome for one model.
type Result struct {
	Model   *models.Model
	Request models.ResourceRequest
	Job     *models.Job
	Err     error
}

// Runner executes submission runs against a scheduler.
type Runner struct {
	scheduler slurm.Scheduler
	log       *logging.Logger
	metrics   *metrics.Metrics

	// fixerRun overrides the repair tool's command execution in tests.
	fixerRun repair.RunCommand

	mu   sync.Mutex
	jobs []*models.Job
}

// New creates a runner.
func New(scheduler slurm.Scheduler, log *logging.Logger, m *metrics.Metrics) *Runner {
	if m == nil {
		m = metrics.New()
	}
	return &Runner{scheduler: scheduler, log: log, metrics: m}
}

// Metrics returns the pipeline collectors.
func (r *Runner) Metrics() *metrics.Metrics {
	return r.metrics
}

// Jobs returns a snapshot of all jobs started in this run.
func (r *Runner) Jobs() []*models.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Job, len(r.jobs))
	copy(out, r.jobs)
	return out
}

func (r *Runner) track(job *models.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
}

// Run processes every resolved model. Per-model errors land in the results;
// the returned error is reserved for run-level misconfiguration.
func (r *Runner) Run(ctx context.Context, res *resolver.Resolution, opts Options) ([]Result, error) {
	if opts.Cluster == nil {
		opts.Cluster = config.Default()
	}
	if err := opts.Cluster.Validate(); err != nil {
		return nil, models.NewConfigurationError("%v", err)
	}

	var archiver *archive.Archiver
	if opts.Archive {
		if opts.Cluster.ArchiveDestination == "" {
			return nil, models.NewConfigurationError("archive requested but no archive_destination configured")
		}
		ledgerPath := opts.Cluster.LedgerPath
		if ledgerPath == "" {
			ledgerPath = filepath.Join(opts.Cluster.ArchiveDestination, archive.DefaultLedgerName)
		}
		archiver = archive.New(opts.Cluster.ArchiveDestination, archive.NewLedger(ledgerPath), r.log)
	}

	modelList := res.Models()
	results := make([]Result, len(modelList))

	workers := opts.Parallel
	if workers < 1 {
		workers = 1
	}
	if workers > len(modelList) {
		workers = len(modelList)
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, m := range modelList {
		wg.Add(1)
		go func(i int, m *models.Model) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = r.runOne(ctx, m, opts, archiver)
		}(i, m)
	}
	wg.Wait()

	return results, nil
}

func (r *Runner) runOne(ctx context.Context, m *models.Model, opts Options, archiver *archive.Archiver) Result {
	log := r.log.WithField("model", m.Name())
	result := Result{Model: m}

	// Partition count is detected once and stays immutable for this
	// submission.
	m.Partitions = partition.Count(m.Path)
	log.Info("partitions detected", map[string]interface{}{"count": m.Partitions})

	bounds := alloc.Bounds{
		MinNodes:        opts.Cluster.NumberOfNodes,
		MaxNodes:        opts.Cluster.MaxNodes,
		MaxTasksPerNode: opts.Cluster.MaxTasksPerNode,
	}
	req, err := alloc.Compute(m.Partitions, bounds, opts.Overrides)
	if err != nil {
		result.Err = err
		log.Error("resource allocation failed", map[string]interface{}{"error": err.Error()})
		return result
	}
	result.Request = req

	jobName := opts.JobName
	if jobName == "" {
		jobName = m.Name()
	}
	monitorInterval, _ := opts.Cluster.MonitorIntervalDuration()
	params := script.Params{
		JobName:         jobName,
		Request:         req,
		TasksPerNodeSet: opts.Overrides.TasksPerNode > 0,
		Exclude:         opts.Cluster.ExcludeNodes,
		Executable:      opts.Cluster.Executable,
		InputFile:       opts.Cluster.InputFile,
		LibraryPath:     opts.Cluster.LibraryPath,
		MonitorRAM:      opts.MonitorRAM,
		MonitorInterval: int(monitorInterval.Seconds()),
		MonitorLogFile:  opts.Cluster.MonitorLogFile,
		ArchiveInScript: opts.ArchiveInScript,
	}
	if opts.ArchiveInScript {
		params.ArchiveSourceRoot = filepath.Dir(m.Path)
		params.ArchiveDestination = opts.Cluster.ArchiveDestination
	}

	scriptPath, err := script.Materialize(m.Path, params, opts.Rebuild)
	if err != nil {
		result.Err = err
		return result
	}

	ctrl := controller.New(r.scheduler, r.log)
	ctrl.Metrics = r.metrics
	job, err := ctrl.Submit(ctx, m.Path, scriptPath)
	result.Job = job
	r.track(job)
	if err != nil {
		result.Err = err
		r.metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
		return result
	}
	r.metrics.ActiveJobs.Inc()
	defer r.metrics.ActiveJobs.Dec()

	if opts.Detach {
		r.metrics.SubmissionsTotal.WithLabelValues("detached").Inc()
		return result
	}

	pollInterval, _ := opts.Cluster.PollIntervalDuration()
	timeout, _ := opts.Cluster.TimeoutDuration()
	waitErr := ctrl.Wait(ctx, job, controller.Options{
		PollInterval:    pollInterval,
		MaxPollFailures: opts.Cluster.PollMaxFailures,
		Timeout:         timeout,
		MonitorRAM:      opts.MonitorRAM,
		MonitorInterval: monitorInterval,
		MonitorLogFile:  opts.Cluster.MonitorLogFile,
		Executable:      opts.Cluster.Executable,
		CancelRemote:    opts.CancelRemote,
	})
	if waitErr != nil {
		result.Err = waitErr
	}

	r.metrics.SubmissionsTotal.WithLabelValues(string(job.Status)).Inc()
	r.metrics.JobDuration.Observe(job.Duration().Seconds())

	if models.IsTerminalState(job.Status) && job.Status != models.JobStatusCancelled {
		r.postRun(ctx, m, job, opts, archiver, log)
	}
	return result
}

// postRun repairs outputs and archives the model. The fixer is tolerant of
// partial failure: warnings are recorded and archival still proceeds, unless
// FailOnFixer demands the model stay in place for inspection. Archival runs
// only for succeeded jobs, so a timed-out or failed run is never moved.
func (r *Runner) postRun(ctx context.Context, m *models.Model, job *models.Job, opts Options, archiver *archive.Archiver, log *logging.Logger) {
	fixerFailed := false
	if opts.Fix {
		tool := repair.New(m.Path, repair.DefaultPattern, r.log)
		if r.fixerRun != nil {
			tool = repair.NewWithRunner(m.Path, repair.DefaultPattern, r.log, r.fixerRun)
		}
		if err := tool.Run(ctx); err != nil {
			fixerFailed = true
			var fixErr *models.FixerError
			if errors.As(err, &fixErr) {
				job.Warnings = append(job.Warnings, fixErr.Error())
				r.metrics.FixerFailures.Add(float64(len(fixErr.Failures)))
				log.Warn("output repair incomplete", map[string]interface{}{
					"failed_files": len(fixErr.Failures),
				})
			} else {
				job.Warnings = append(job.Warnings, err.Error())
				log.Warn("output repair failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}

	if fixerFailed && opts.FailOnFixer {
		if archiver != nil {
			r.metrics.ArchivesTotal.WithLabelValues("skipped").Inc()
			log.Warn("archive skipped: repair failed and fail_on_fixer is set")
		}
		return
	}

	if archiver != nil && job.Status == models.JobStatusSucceeded {
		if _, err := archiver.Archive(job); err != nil {
			job.Warnings = append(job.Warnings, err.Error())
			r.metrics.ArchivesTotal.WithLabelValues("failed").Inc()
			log.Error("archive failed, source preserved", map[string]interface{}{"error": err.Error()})
		} else {
			r.metrics.ArchivesTotal.WithLabelValues("succeeded").Inc()
		}
	}
}

// Summary aggregates a run for reporting.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Cancelled int
	Archived  int
	Errors    []error
}

// Summarize folds results into a run summary.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, res := range results {
		if res.Err != nil {
			s.Errors = append(s.Errors, res.Err)
		}
		if res.Job == nil {
			continue
		}
		switch res.Job.Status {
		case models.JobStatusSucceeded:
			s.Succeeded++
		case models.JobStatusFailed:
			s.Failed++
		case models.JobStatusCancelled:
			s.Cancelled++
		}
		if res.Job.Archived {
			s.Archived++
		}
	}
	return s
}
