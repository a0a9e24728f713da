package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/pxpalacios/ladruno/internal/repair"
	"github.com/pxpalacios/ladruno/pkg/models"
)

var (
	fixPattern string
	fixDryRun  bool
)

// fixCmd represents the fix command
var fixCmd = &cobra.Command{
	Use:   "fix <dir>",
	Short: "Clear HDF5 write flags on simulation outputs",
	Long: `Scan <dir> for partition output files left flagged open-for-write by
an interrupted run and clear the flag with h5clear. Already-clear files are
untouched, so re-running is always safe.`,
	Args: cobra.ExactArgs(1),
	RunE: runFix,
}

func init() {
	rootCmd.AddCommand(fixCmd)

	fixCmd.Flags().StringVar(&fixPattern, "pattern", repair.DefaultPattern, "glob for output files")
	fixCmd.Flags().BoolVar(&fixDryRun, "dry-run", false, "scan and report only, fix nothing")
}

func runFix(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Close()

	tool := repair.New(args[0], fixPattern, log)
	if err := tool.Scan(); err != nil {
		return err
	}

	var fixErr error
	if !fixDryRun {
		fixErr = tool.FixFlagged(context.Background())
	}

	status := tool.Status()
	counts := tool.Counts()

	if IsJSONOutput() {
		payload := map[string]interface{}{
			"files":   status,
			"ok":      counts[repair.StatusOK],
			"flagged": counts[repair.StatusFlagged],
			"error":   counts[repair.StatusError],
		}
		output, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
	} else {
		files := make([]string, 0, len(status))
		for f := range status {
			files = append(files, f)
		}
		sort.Strings(files)

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("File", "Status")
		for _, f := range files {
			table.Append(filepath.Base(f), string(status[f]))
		}
		table.Render()
		fmt.Printf("\n%d OK, %d flagged, %d unreadable\n",
			counts[repair.StatusOK], counts[repair.StatusFlagged], counts[repair.StatusError])
	}

	var aggregate *models.FixerError
	if errors.As(fixErr, &aggregate) {
		return fmt.Errorf("%d file(s) could not be cleared", len(aggregate.Failures))
	}
	return fixErr
}
