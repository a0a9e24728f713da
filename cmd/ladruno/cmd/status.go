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

	"github.com/pxpalacios/ladruno/internal/slurm"
)

var followStatus bool

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status <job-id>...",
	Short: "Query scheduler state for submitted jobs",
	Long:  `Query Slurm for the current state of one or more jobs by ID, falling back to accounting records once a job leaves the queue.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&followStatus, "follow", false, "poll every 15 seconds until all jobs are terminal")
}

type statusRow struct {
	JobID       string `json:"job_id"`
	State       string `json:"state"`
	RawExitCode int    `json:"raw_exit_code"`
	Error       string `json:"error,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := slurm.NewClient()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		rows := make([]statusRow, 0, len(args))
		allTerminal := true
		for _, jobID := range args {
			row := statusRow{JobID: jobID}
			info, err := client.Query(ctx, jobID)
			if err != nil {
				row.State = string(slurm.StateUnknown)
				row.Error = err.Error()
				allTerminal = false
			} else {
				row.State = string(info.State)
				row.RawExitCode = info.RawExitCode
				if !info.State.Terminal() {
					allTerminal = false
				}
			}
			rows = append(rows, row)
		}

		if IsJSONOutput() {
			output, err := json.MarshalIndent(rows, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal JSON: %w", err)
			}
			fmt.Println(string(output))
		} else {
			table := tablewriter.NewWriter(os.Stdout)
			table.Header("Job ID", "State", "Exit Code", "Error")
			for _, row := range rows {
				table.Append(row.JobID, row.State, fmt.Sprintf("%d", row.RawExitCode), row.Error)
			}
			table.Render()
		}

		if !followStatus || allTerminal {
			return nil
		}
		if !sleepCtx(ctx, 15*time.Second) {
			return nil
		}
	}
}

// sleepCtx waits out d, or returns false early when ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
