// Package alloc converts a partition count and cluster bounds into a Slurm
// resource request. Compute is pure: identical inputs always yield an
// identical ResourceRequest.
package alloc

import (
	"github.com/pxpalacios/ladruno/pkg/models"
)

// Bounds are the cluster limits a request must respect.
type Bounds struct {
	MinNodes        int // number_of_nodes floor, >= 1
	MaxNodes        int
	MaxTasksPerNode int
}

// Overrides carries explicit user-requested values. Zero means unset.
type Overrides struct {
	Nodes        int
	TasksPerNode int
	Ntasks       int
}

func (o Overrides) any() bool {
	return o.Nodes > 0 || o.TasksPerNode > 0 || o.Ntasks > 0
}

// Compute derives the resource request for a model with the given partition
// count. Explicit overrides are honored verbatim but clamped to bounds; if
// the clamp would under-provision the partitions, a ConfigurationError is
// returned rather than silently shrinking the job.
func Compute(partitions int, bounds Bounds, ov Overrides) (models.ResourceRequest, error) {
	if bounds.MinNodes < 1 {
		bounds.MinNodes = 1
	}
	if bounds.MaxNodes < bounds.MinNodes {
		return models.ResourceRequest{}, models.NewConfigurationError(
			"max_nodes (%d) below number_of_nodes (%d)", bounds.MaxNodes, bounds.MinNodes)
	}
	if bounds.MaxTasksPerNode < 1 {
		return models.ResourceRequest{}, models.NewConfigurationError(
			"max_tasks_per_node must be >= 1, got %d", bounds.MaxTasksPerNode)
	}

	if ov.any() {
		return computeExplicit(partitions, bounds, ov)
	}
	return computeAuto(partitions, bounds)
}

func computeAuto(partitions int, bounds Bounds) (models.ResourceRequest, error) {
	// Cold start: no partitions exist yet, fall back to the configured
	// minimum so the first run never requests zero resources.
	if partitions == 0 {
		return models.ResourceRequest{
			Nodes:        bounds.MinNodes,
			TasksPerNode: 1,
			Ntasks:       bounds.MinNodes,
		}, nil
	}

	tasksPerNode := partitions
	if tasksPerNode > bounds.MaxTasksPerNode {
		tasksPerNode = bounds.MaxTasksPerNode
	}

	nodes := ceilDiv(partitions, tasksPerNode)
	if nodes < bounds.MinNodes {
		nodes = bounds.MinNodes
	}
	if nodes > bounds.MaxNodes {
		nodes = bounds.MaxNodes
	}

	if nodes*tasksPerNode < partitions {
		return models.ResourceRequest{}, models.NewConfigurationError(
			"cannot fit %d tasks in %d node(s) x %d tasks/node", partitions, nodes, tasksPerNode)
	}

	ntasks := partitions
	if ntasks < bounds.MinNodes {
		ntasks = bounds.MinNodes
	}

	return models.ResourceRequest{
		Nodes:        nodes,
		TasksPerNode: tasksPerNode,
		Ntasks:       ntasks,
	}, nil
}

func computeExplicit(partitions int, bounds Bounds, ov Overrides) (models.ResourceRequest, error) {
	auto, err := computeAuto(partitions, bounds)
	if err != nil {
		return models.ResourceRequest{}, err
	}

	nodes := auto.Nodes
	if ov.Nodes > 0 {
		nodes = clamp(ov.Nodes, bounds.MinNodes, bounds.MaxNodes)
	}
	tasksPerNode := auto.TasksPerNode
	if ov.TasksPerNode > 0 {
		tasksPerNode = clamp(ov.TasksPerNode, 1, bounds.MaxTasksPerNode)
	}

	ntasks := auto.Ntasks
	if ov.Ntasks > 0 {
		ntasks = ov.Ntasks
	}
	if capacity := nodes * tasksPerNode; ntasks > capacity {
		ntasks = capacity
	}

	if partitions > 0 && ntasks < partitions {
		return models.ResourceRequest{}, models.NewConfigurationError(
			"explicit request of %d task(s) on %d node(s) x %d tasks/node under-provisions %d partition(s)",
			ntasks, nodes, tasksPerNode, partitions)
	}

	return models.ResourceRequest{
		Nodes:        nodes,
		TasksPerNode: tasksPerNode,
		Ntasks:       ntasks,
	}, nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
