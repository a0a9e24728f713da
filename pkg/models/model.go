package models

import (
	"path/filepath"
	"time"
)

// Model is one simulation directory: it holds a main.tcl input and, after a
// run, the execution log and partition output files.
type Model struct {
	Path       string `json:"path"`
	Partitions int    `json:"partitions"`
}

// Name returns the last path component, used as the default job name.
func (m *Model) Name() string {
	return filepath.Base(m.Path)
}

// ResourceRequest is the derived, immutable Slurm resource triple.
// Invariants: 1 <= Nodes <= MaxNodes, 1 <= TasksPerNode <= MaxTasksPerNode,
// Ntasks >= partition count, Ntasks <= Nodes*TasksPerNode.
type ResourceRequest struct {
	Nodes        int `json:"nodes"`
	TasksPerNode int `json:"tasks_per_node"`
	Ntasks       int `json:"ntasks"`
}

// TotalCapacity is the upper bound of ranks the allocation can host.
func (r ResourceRequest) TotalCapacity() int {
	return r.Nodes * r.TasksPerNode
}

// StatusFile is the per-model record written at completion. It is placed in
// the source directory before the archive move so it survives relocation,
// and it is the only file retained at the original location afterwards.
type StatusFile struct {
	JobID       string        `json:"job_id"`
	ExecutedBy  string        `json:"executed_by"`
	ExecutedAt  time.Time     `json:"executed_at"`
	Duration    time.Duration `json:"duration"`
	Outcome     string        `json:"outcome"`
	SourcePath  string        `json:"source_path"`
	ArchivePath string        `json:"archive_path"`
}

// ArchiveRecord is one row of the shared append-only archive ledger.
type ArchiveRecord struct {
	Model       string    `json:"model"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Timestamp   time.Time `json:"timestamp"`
	Outcome     string    `json:"outcome"`
}
