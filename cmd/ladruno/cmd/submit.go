package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/pxpalacios/ladruno/internal/alloc"
	"github.com/pxpalacios/ladruno/internal/api"
	"github.com/pxpalacios/ladruno/internal/metrics"
	"github.com/pxpalacios/ladruno/internal/resolver"
	"github.com/pxpalacios/ladruno/internal/runner"
	"github.com/pxpalacios/ladruno/internal/slurm"
)

var (
	// Allocation overrides
	nodesOverride  int
	ntasksOverride int
	ntasksPerNode  int
	jobName        string
	excludeNodes   []string

	// Run behavior
	rebuildScript   bool
	detachAfter     bool
	parallelWorkers int
	timeoutOverride string
	cancelOnStop    bool

	// Post-run
	doArchive       bool
	archiveInScript bool
	doFix           bool
	failOnFixer     bool
	monitorRAM      bool

	// Status server
	httpAddr string
)

// submitCmd represents the submit command
var submitCmd = &cobra.Command{
	Use:   "submit <path>",
	Short: "Submit one model or a group of models",
	Long: `Submit the model at <path> to Slurm and monitor it to completion.
A path whose directory holds the input file directly is a single model;
otherwise every directory below it holding one is submitted as a group.`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().IntVar(&nodesOverride, "nodes", 0, "override node count (default: computed from partitions)")
	submitCmd.Flags().IntVar(&ntasksOverride, "ntasks", 0, "override total task count")
	submitCmd.Flags().IntVar(&ntasksPerNode, "ntasks-per-node", 0, "override tasks per node (emits --ntasks-per-node)")
	submitCmd.Flags().StringVar(&jobName, "job-name", "", "Slurm job name (default: model directory name)")
	submitCmd.Flags().StringSliceVar(&excludeNodes, "exclude", nil, "nodes to exclude from scheduling")

	submitCmd.Flags().BoolVar(&rebuildScript, "rebuild-script", false, "regenerate run.sh even if one exists")
	submitCmd.Flags().BoolVar(&detachAfter, "detach", false, "submit and exit without polling")
	submitCmd.Flags().IntVar(&parallelWorkers, "parallel", 1, "models processed concurrently in group mode")
	submitCmd.Flags().StringVar(&timeoutOverride, "timeout", "", "wall-clock budget per model (e.g. 6h, 0 = none)")
	submitCmd.Flags().BoolVar(&cancelOnStop, "cancel-remote", false, "scancel the job on Ctrl-C or timeout")

	submitCmd.Flags().BoolVar(&doArchive, "archive", false, "archive succeeded models to the configured destination")
	submitCmd.Flags().BoolVar(&archiveInScript, "archive-in-script", false, "emit the in-script move block instead of archiving locally")
	submitCmd.Flags().BoolVar(&doFix, "fix", false, "clear HDF5 write flags on outputs after the run")
	submitCmd.Flags().BoolVar(&failOnFixer, "fail-on-fixer", false, "leave the model in place when output repair fails")
	submitCmd.Flags().BoolVar(&monitorRAM, "monitor-ram", false, "sample memory usage during the run")

	submitCmd.Flags().StringVar(&httpAddr, "http", "", "serve job status and metrics on this address (e.g. :9618)")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg, err := clusterConfig()
	if err != nil {
		return err
	}
	if timeoutOverride != "" {
		cfg.Timeout = timeoutOverride
		if _, err := cfg.TimeoutDuration(); err != nil {
			return fmt.Errorf("invalid --timeout: %w", err)
		}
	}
	if len(excludeNodes) > 0 {
		cfg.ExcludeNodes = excludeNodes
	}

	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Close()

	res, err := resolver.Resolve(args[0], cfg.InputFile)
	if err != nil {
		return err
	}
	log.Info("models resolved", map[string]interface{}{
		"kind": res.Kind.String(), "count": len(res.Models()),
	})

	r := runner.New(slurm.NewClient(), log, metrics.New())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if httpAddr != "" {
		srv := api.NewServer(r, r.Metrics(), log)
		srv.Start(httpAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	results, err := r.Run(ctx, res, runner.Options{
		Cluster: cfg,
		Overrides: alloc.Overrides{
			Nodes:        nodesOverride,
			Ntasks:       ntasksOverride,
			TasksPerNode: ntasksPerNode,
		},
		JobName:         jobName,
		Rebuild:         rebuildScript,
		Detach:          detachAfter,
		Fix:             doFix,
		FailOnFixer:     failOnFixer || cfg.FailOnFixer,
		Archive:         doArchive,
		ArchiveInScript: archiveInScript,
		MonitorRAM:      monitorRAM || cfg.MonitorRAM,
		CancelRemote:    cancelOnStop,
		Parallel:        parallelWorkers,
	})
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
	} else {
		printResultsTable(results)
	}

	sum := runner.Summarize(results)
	if len(sum.Errors) > 0 {
		return fmt.Errorf("%d of %d models did not complete cleanly", len(sum.Errors), sum.Total)
	}
	return nil
}

func printResultsTable(results []runner.Result) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Model", "Job ID", "Partitions", "Nodes", "Ntasks", "Status", "Duration", "Archived", "Error")

	for _, res := range results {
		jobID, status, duration, archived := "-", "-", "-", "no"
		errText := ""
		if res.Job != nil {
			jobID = res.Job.ID
			status = string(res.Job.Status)
			if d := res.Job.Duration(); d > 0 {
				duration = d.Round(time.Second).String()
			}
			if res.Job.Archived {
				archived = "yes"
			}
		}
		if res.Err != nil {
			errText = res.Err.Error()
		}
		table.Append(
			res.Model.Name(),
			jobID,
			fmt.Sprintf("%d", res.Model.Partitions),
			fmt.Sprintf("%d", res.Request.Nodes),
			fmt.Sprintf("%d", res.Request.Ntasks),
			status,
			duration,
			archived,
			errText,
		)
	}
	table.Render()

	sum := runner.Summarize(results)
	fmt.Printf("\n%d submitted, %d succeeded, %d failed, %d cancelled, %d archived\n",
		sum.Total, sum.Succeeded, sum.Failed, sum.Cancelled, sum.Archived)
}
