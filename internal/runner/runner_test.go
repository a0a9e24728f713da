package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pxpalacios/ladruno/internal/alloc"
	"github.com/pxpalacios/ladruno/internal/config"
	"github.com/pxpalacios/ladruno/internal/resolver"
	"github.com/pxpalacios/ladruno/internal/slurm"
	"github.com/pxpalacios/ladruno/pkg/logging"
	"github.com/pxpalacios/ladruno/pkg/models"
)

// fakeScheduler accepts every submission unless the model name is listed in
// rejects, writes the execution log the compute node would have produced, and
// reports every job completed on the first poll.
type fakeScheduler struct {
	mu        sync.Mutex
	nextID    int
	rejects   map[string]bool
	success   map[string]bool // model name -> log.log carries the marker
	queries   int
	cancels   []string
	submitted []string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{rejects: map[string]bool{}, success: map[string]bool{}}
}

func (f *fakeScheduler) Submit(ctx context.Context, dir, script string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := filepath.Base(dir)
	f.submitted = append(f.submitted, name)
	if f.rejects[name] {
		return "", errors.New("sbatch: error: Batch job submission failed")
	}

	logText := "analysis step 100 complete\n"
	if f.success[name] {
		logText += "SUCCESS\n"
	}
	if err := os.WriteFile(filepath.Join(dir, "log.log"), []byte(logText), 0644); err != nil {
		return "", err
	}

	f.nextID++
	return fmt.Sprintf("%d", 1000+f.nextID), nil
}

func (f *fakeScheduler) Query(ctx context.Context, jobID string) (slurm.JobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	return slurm.JobInfo{State: slurm.StateCompleted, RawExitCode: 0}, nil
}

func (f *fakeScheduler) Cancel(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, jobID)
	return nil
}

func testCluster(archiveDest string) *config.ClusterConfig {
	cfg := config.Default()
	cfg.PollInterval = "1ms"
	cfg.ArchiveDestination = archiveDest
	cfg.ApplyDefaults()
	return cfg
}

func writeModel(t *testing.T, root, name string, partitions int) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "main.tcl"), []byte("puts ok\n"), 0644); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < partitions; i++ {
		name := fmt.Sprintf("model.part-%d.mpco.cdata", i)
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func quietLogger(t *testing.T) *logging.Logger {
	t.Helper()
	log := logging.New(logging.ERROR, false)
	log.SetOutput(io.Discard)
	return log
}

func TestRunGroupPipeline(t *testing.T) {
	root := t.TempDir()
	dest := t.TempDir()
	writeModel(t, root, "alpha", 2)
	writeModel(t, root, "bravo", 0)

	sched := newFakeScheduler()
	sched.success["alpha"] = true

	res, err := resolver.Resolve(root, "main.tcl")
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != resolver.ModelGroup {
		t.Fatalf("expected group resolution, got %s", res.Kind)
	}

	r := New(sched, quietLogger(t), nil)
	results, err := r.Run(context.Background(), res, Options{
		Cluster:  testCluster(dest),
		Archive:  true,
		Parallel: 2,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	byName := map[string]Result{}
	for _, res := range results {
		byName[res.Model.Name()] = res
	}

	alpha := byName["alpha"]
	if alpha.Err != nil {
		t.Fatalf("alpha: unexpected error %v", alpha.Err)
	}
	if alpha.Job.Status != models.JobStatusSucceeded {
		t.Errorf("alpha: status = %s, want succeeded", alpha.Job.Status)
	}
	if !alpha.Job.Archived {
		t.Error("alpha: expected archived")
	}
	if _, err := os.Stat(filepath.Join(alpha.Job.ArchivePath, "main.tcl")); err != nil {
		t.Errorf("archived tree missing main.tcl: %v", err)
	}
	entries, err := os.ReadDir(alpha.Model.Path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "status.txt" {
		t.Errorf("cleaned source should keep only status.txt, got %d entries", len(entries))
	}

	// The marker is absent from bravo's log, so the job fails and stays in
	// place: Wait reports no error, the status does.
	bravo := byName["bravo"]
	if bravo.Err != nil {
		t.Fatalf("bravo: unexpected error %v", bravo.Err)
	}
	if bravo.Job.Status != models.JobStatusFailed {
		t.Errorf("bravo: status = %s, want failed", bravo.Job.Status)
	}
	if bravo.Job.Archived {
		t.Error("bravo: failed job must not be archived")
	}
	if _, err := os.Stat(filepath.Join(bravo.Model.Path, "main.tcl")); err != nil {
		t.Errorf("failed model must stay in place: %v", err)
	}

	if alpha.Model.Partitions != 2 {
		t.Errorf("alpha partitions = %d, want 2", alpha.Model.Partitions)
	}
	if got := alpha.Request.Nodes; got != 1 {
		t.Errorf("alpha nodes = %d, want 1", got)
	}

	sum := Summarize(results)
	if sum.Total != 2 || sum.Succeeded != 1 || sum.Failed != 1 || sum.Archived != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if len(sum.Errors) != 0 {
		t.Errorf("summary errors = %v", sum.Errors)
	}

	if got := len(r.Jobs()); got != 2 {
		t.Errorf("Jobs() = %d entries, want 2", got)
	}
}

func TestRunSubmissionRejectionIsIsolated(t *testing.T) {
	root := t.TempDir()
	writeModel(t, root, "good", 1)
	writeModel(t, root, "rejected", 1)

	sched := newFakeScheduler()
	sched.success["good"] = true
	sched.rejects["rejected"] = true

	res, err := resolver.Resolve(root, "main.tcl")
	if err != nil {
		t.Fatal(err)
	}

	r := New(sched, quietLogger(t), nil)
	results, err := r.Run(context.Background(), res, Options{Cluster: testCluster("")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	byName := map[string]Result{}
	for _, res := range results {
		byName[res.Model.Name()] = res
	}

	var subErr *models.SubmissionError
	if !errors.As(byName["rejected"].Err, &subErr) {
		t.Fatalf("rejected: err = %v, want SubmissionError", byName["rejected"].Err)
	}
	if byName["good"].Err != nil {
		t.Errorf("good: sibling must be unaffected, got %v", byName["good"].Err)
	}
	if byName["good"].Job.Status != models.JobStatusSucceeded {
		t.Errorf("good: status = %s", byName["good"].Job.Status)
	}

	sum := Summarize(results)
	if len(sum.Errors) != 1 {
		t.Errorf("summary errors = %v, want exactly one", sum.Errors)
	}
}

func TestRunDetachSubmitsWithoutPolling(t *testing.T) {
	root := t.TempDir()
	writeModel(t, root, "detached", 1)

	sched := newFakeScheduler()
	res, err := resolver.Resolve(filepath.Join(root, "detached"), "main.tcl")
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != resolver.SingleModel {
		t.Fatalf("expected single resolution, got %s", res.Kind)
	}

	r := New(sched, quietLogger(t), nil)
	results, err := r.Run(context.Background(), res, Options{
		Cluster: testCluster(""),
		Detach:  true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0].Job.Status != models.JobStatusSubmitted {
		t.Errorf("status = %s, want submitted", results[0].Job.Status)
	}
	if sched.queries != 0 {
		t.Errorf("detached run polled %d times", sched.queries)
	}
}

func TestRunArchiveRequiresDestination(t *testing.T) {
	root := t.TempDir()
	writeModel(t, root, "m", 0)

	res, err := resolver.Resolve(filepath.Join(root, "m"), "main.tcl")
	if err != nil {
		t.Fatal(err)
	}

	r := New(newFakeScheduler(), quietLogger(t), nil)
	_, err = r.Run(context.Background(), res, Options{
		Cluster: testCluster(""),
		Archive: true,
	})
	var cfgErr *models.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}
}

func TestRunAllocationOverrideError(t *testing.T) {
	root := t.TempDir()
	writeModel(t, root, "big", 40)

	res, err := resolver.Resolve(filepath.Join(root, "big"), "main.tcl")
	if err != nil {
		t.Fatal(err)
	}

	r := New(newFakeScheduler(), quietLogger(t), nil)
	results, err := r.Run(context.Background(), res, Options{
		Cluster:   testCluster(""),
		Overrides: alloc.Overrides{Nodes: 1, TasksPerNode: 1}, // capacity 1 < 40 partitions
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var cfgErr *models.ConfigurationError
	if !errors.As(results[0].Err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigurationError", results[0].Err)
	}
	if results[0].Job != nil {
		t.Error("no job should exist when allocation fails")
	}
}

// writeFlaggedOutput drops an HDF5 output whose superblock carries the
// open-for-write mark, so the repair pass has something to clear.
func writeFlaggedOutput(t *testing.T, dir string) {
	t.Helper()
	header := []byte{0x89, 'H', 'D', 'F', '\r', '\n', 0x1a, '\n', 3, 8, 8, 0x1}
	if err := os.WriteFile(filepath.Join(dir, "results.part-0.mpco"), header, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestRunFailOnFixerSkipsArchive(t *testing.T) {
	root := t.TempDir()
	dest := t.TempDir()
	dir := writeModel(t, root, "mod", 1)
	writeFlaggedOutput(t, dir)

	sched := newFakeScheduler()
	sched.success["mod"] = true

	res, err := resolver.Resolve(dir, "main.tcl")
	if err != nil {
		t.Fatal(err)
	}

	brokenClear := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("h5clear: unable to open file"), fmt.Errorf("exit status 1")
	}

	r := New(sched, quietLogger(t), nil)
	r.fixerRun = brokenClear
	results, err := r.Run(context.Background(), res, Options{
		Cluster:     testCluster(dest),
		Archive:     true,
		Fix:         true,
		FailOnFixer: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	job := results[0].Job
	if job.Status != models.JobStatusSucceeded {
		t.Fatalf("status = %s, want succeeded", job.Status)
	}
	if len(job.Warnings) == 0 {
		t.Error("repair failure must be recorded as a warning")
	}
	if job.Archived {
		t.Error("fail_on_fixer must skip archival after a repair failure")
	}
	if _, err := os.Stat(filepath.Join(dir, "main.tcl")); err != nil {
		t.Errorf("model must stay in place for inspection: %v", err)
	}

	// Without the switch the same failure only downgrades to a warning and
	// the model is still moved.
	r2 := New(sched, quietLogger(t), nil)
	r2.fixerRun = brokenClear
	results, err = r2.Run(context.Background(), res, Options{
		Cluster: testCluster(dest),
		Archive: true,
		Fix:     true,
	})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	job = results[0].Job
	if !job.Archived {
		t.Error("without fail_on_fixer a repair failure must not block archival")
	}
	if len(job.Warnings) == 0 {
		t.Error("repair failure must still be recorded as a warning")
	}
}

func TestSummarizeCancelled(t *testing.T) {
	job := &models.Job{Status: models.JobStatusCancelled}
	sum := Summarize([]Result{{Job: job, Err: context.Canceled}})
	if sum.Cancelled != 1 || len(sum.Errors) != 1 {
		t.Errorf("summary = %+v", sum)
	}
}
