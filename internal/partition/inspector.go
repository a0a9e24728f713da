// Package partition estimates the parallel degree of a model directory by
// counting the per-partition metadata files left behind by prior runs.
package partition

import (
	"io/fs"
	"path/filepath"
	"regexp"
	"strconv"
)

// partRx matches the per-partition metadata files written by the simulation,
// e.g. results.part-7.mpco.cdata. The captured group is the rank index.
var partRx = regexp.MustCompile(`\.part-(\d+)\.mpco\.cdata$`)

// Count walks the model directory and returns the number of independent
// output partitions associated with it. A fresh directory with no partition
// files yields 0; absence is never an error.
//
// When the numbering has holes, the larger of (max index + 1) and the number
// of distinct indices wins so the allocation never comes up short.
func Count(modelDir string) int {
	indices := make(map[int]struct{})

	filepath.WalkDir(modelDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtrees are simply skipped
		}
		if d.IsDir() {
			return nil
		}
		if m := partRx.FindStringSubmatch(d.Name()); m != nil {
			idx, convErr := strconv.Atoi(m[1])
			if convErr == nil {
				indices[idx] = struct{}{}
			}
		}
		return nil
	})

	if len(indices) == 0 {
		return 0
	}

	maxIdx := 0
	for idx := range indices {
		if idx > maxIdx {
			maxIdx = idx
		}
	}

	if maxIdx+1 > len(indices) {
		return maxIdx + 1
	}
	return len(indices)
}
