package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pxpalacios/ladruno/internal/alloc"
	"github.com/pxpalacios/ladruno/internal/partition"
	"github.com/pxpalacios/ladruno/internal/resolver"
	"github.com/pxpalacios/ladruno/internal/script"
)

// scriptCmd represents the script command
var scriptCmd = &cobra.Command{
	Use:   "script <path>",
	Short: "Generate run.sh without submitting",
	Long: `Materialize the batch script for the model at <path> (or every model
below it) using the same allocation logic as submit, without calling sbatch.`,
	Args: cobra.ExactArgs(1),
	RunE: runScript,
}

func init() {
	rootCmd.AddCommand(scriptCmd)

	scriptCmd.Flags().IntVar(&nodesOverride, "nodes", 0, "override node count")
	scriptCmd.Flags().IntVar(&ntasksOverride, "ntasks", 0, "override total task count")
	scriptCmd.Flags().IntVar(&ntasksPerNode, "ntasks-per-node", 0, "override tasks per node")
	scriptCmd.Flags().StringVar(&jobName, "job-name", "", "Slurm job name (default: model directory name)")
	scriptCmd.Flags().StringSliceVar(&excludeNodes, "exclude", nil, "nodes to exclude from scheduling")
	scriptCmd.Flags().BoolVar(&rebuildScript, "rebuild-script", false, "regenerate run.sh even if one exists")
	scriptCmd.Flags().BoolVar(&archiveInScript, "archive-in-script", false, "append the in-script move block")
	scriptCmd.Flags().BoolVar(&monitorRAM, "monitor-ram", false, "include the RAM monitor block")
}

func runScript(cmd *cobra.Command, args []string) error {
	cfg, err := clusterConfig()
	if err != nil {
		return err
	}
	if len(excludeNodes) > 0 {
		cfg.ExcludeNodes = excludeNodes
	}
	if archiveInScript && cfg.ArchiveDestination == "" {
		return fmt.Errorf("--archive-in-script requires a configured archive_destination")
	}

	res, err := resolver.Resolve(args[0], cfg.InputFile)
	if err != nil {
		return err
	}

	bounds := alloc.Bounds{
		MinNodes:        cfg.NumberOfNodes,
		MaxNodes:        cfg.MaxNodes,
		MaxTasksPerNode: cfg.MaxTasksPerNode,
	}
	ov := alloc.Overrides{
		Nodes:        nodesOverride,
		TasksPerNode: ntasksPerNode,
		Ntasks:       ntasksOverride,
	}
	monitorInterval, _ := cfg.MonitorIntervalDuration()

	for _, m := range res.Models() {
		m.Partitions = partition.Count(m.Path)
		req, err := alloc.Compute(m.Partitions, bounds, ov)
		if err != nil {
			return err
		}

		name := jobName
		if name == "" {
			name = m.Name()
		}
		params := script.Params{
			JobName:         name,
			Request:         req,
			TasksPerNodeSet: ntasksPerNode > 0,
			Exclude:         cfg.ExcludeNodes,
			Executable:      cfg.Executable,
			InputFile:       cfg.InputFile,
			LibraryPath:     cfg.LibraryPath,
			MonitorRAM:      monitorRAM || cfg.MonitorRAM,
			MonitorInterval: int(monitorInterval.Seconds()),
			MonitorLogFile:  cfg.MonitorLogFile,
			ArchiveInScript: archiveInScript,
		}
		if archiveInScript {
			params.ArchiveSourceRoot = filepath.Dir(m.Path)
			params.ArchiveDestination = cfg.ArchiveDestination
		}

		path, err := script.Materialize(m.Path, params, rebuildScript)
		if err != nil {
			return err
		}
		fmt.Printf("%s (partitions=%d nodes=%d ntasks=%d)\n", path, m.Partitions, req.Nodes, req.Ntasks)
	}
	return nil
}
