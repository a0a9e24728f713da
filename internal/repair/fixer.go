// Package repair clears the HDF5 "open for write" flag left on partition
// output files when the simulation exits without closing them. The actual
// clearing is delegated to the external h5clear tool, which is idempotent.
package repair

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pxpalacios/ladruno/pkg/logging"
	"github.com/pxpalacios/ladruno/pkg/models"
)

// FileStatus is the scan result for one output file.
type FileStatus string

const (
	StatusOK      FileStatus = "OK"      // closed cleanly, nothing to do
	StatusFlagged FileStatus = "FLAGGED" // open-for-write mark set
	StatusError   FileStatus = "ERROR"   // unreadable or not an HDF5 file
)

// DefaultPattern matches the partition output files of a model directory.
const DefaultPattern = "*.mpco"

// RunCommand executes the repair binary. Callers can substitute it to stub
// out the external tool.
type RunCommand func(ctx context.Context, name string, args ...string) ([]byte, error)

func execCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Tool scans a directory for flagged output files and repairs them.
type Tool struct {
	dir     string
	pattern string
	log     *logging.Logger
	run     RunCommand

	status map[string]FileStatus
}

// New creates a repair tool over dir. An empty pattern selects *.mpco.
func New(dir, pattern string, log *logging.Logger) *Tool {
	return NewWithRunner(dir, pattern, log, execCommand)
}

// NewWithRunner creates a repair tool that executes commands through run
// instead of the h5clear binary on PATH.
func NewWithRunner(dir, pattern string, log *logging.Logger, run RunCommand) *Tool {
	if pattern == "" {
		pattern = DefaultPattern
	}
	return &Tool{
		dir:     dir,
		pattern: pattern,
		log:     log,
		run:     run,
		status:  make(map[string]FileStatus),
	}
}

// Scan probes every matching file and records its status. Absence of
// matches is a valid empty result, never an error.
func (t *Tool) Scan() error {
	t.status = make(map[string]FileStatus)

	matches, err := filepath.Glob(filepath.Join(t.dir, t.pattern))
	if err != nil {
		return fmt.Errorf("bad repair pattern %q: %w", t.pattern, err)
	}
	sort.Strings(matches)

	for _, f := range matches {
		t.status[f] = probe(f)
		t.log.Debug("scanned output file", map[string]interface{}{
			"file": filepath.Base(f), "status": string(t.status[f]),
		})
	}
	return nil
}

// Status returns the statuses recorded by the last Scan.
func (t *Tool) Status() map[string]FileStatus {
	out := make(map[string]FileStatus, len(t.status))
	for k, v := range t.status {
		out[k] = v
	}
	return out
}

// Counts summarizes the last Scan per status.
func (t *Tool) Counts() map[FileStatus]int {
	counts := map[FileStatus]int{StatusOK: 0, StatusFlagged: 0, StatusError: 0}
	for _, s := range t.status {
		counts[s]++
	}
	return counts
}

// FixFlagged invokes h5clear on every flagged file. Already-clear files are
// untouched. A failure on one file is recorded and fixing continues; the
// aggregated failures come back as a FixerError.
func (t *Tool) FixFlagged(ctx context.Context) error {
	failures := make(map[string]error)

	files := make([]string, 0, len(t.status))
	for f, s := range t.status {
		if s == StatusFlagged {
			files = append(files, f)
		}
	}
	sort.Strings(files)

	for _, f := range files {
		out, err := t.run(ctx, "h5clear", "-s", "-i", f)
		if err != nil {
			failures[filepath.Base(f)] = fmt.Errorf("%v: %s", err, strings.TrimSpace(string(out)))
			t.log.Warn("failed to clear write flag", map[string]interface{}{
				"file": filepath.Base(f), "error": err.Error(),
			})
			continue
		}
		t.status[f] = StatusOK
		t.log.Info("cleared write flag", map[string]interface{}{"file": filepath.Base(f)})
	}

	if len(failures) > 0 {
		return &models.FixerError{Failures: failures}
	}
	return nil
}

// Run scans and fixes in one pass.
func (t *Tool) Run(ctx context.Context) error {
	if err := t.Scan(); err != nil {
		return err
	}
	return t.FixFlagged(ctx)
}

// hdf5Signature is the 8-byte magic at the start of every HDF5 file.
var hdf5Signature = []byte{0x89, 'H', 'D', 'F', '\r', '\n', 0x1a, '\n'}

// probe inspects the superblock without opening the file through the HDF5
// library. Version 2+ superblocks keep a consistency-flags byte right after
// the offset/length sizes; bit 0 is the open-for-write mark that h5clear -s
// clears. Version 0/1 superblocks have no such mark and always probe OK.
func probe(path string) FileStatus {
	f, err := os.Open(path)
	if err != nil {
		return StatusError
	}
	defer f.Close()

	header := make([]byte, 12)
	if _, err := io.ReadFull(f, header); err != nil {
		// Shorter than a superblock: truncated or not HDF5 at all.
		return StatusError
	}
	for i, b := range hdf5Signature {
		if header[i] != b {
			return StatusError
		}
	}

	version := header[8]
	if version < 2 {
		return StatusOK
	}
	if header[11]&0x1 != 0 {
		return StatusFlagged
	}
	return StatusOK
}
