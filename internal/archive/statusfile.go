package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pxpalacios/ladruno/pkg/models"
)

// StatusFileName is the per-model completion record. It is written into the
// source directory before the move so it travels with the archive, and it is
// the one file left behind at the original location afterwards.
const StatusFileName = "status.txt"

// WriteStatusFile renders the completion record into dir.
func WriteStatusFile(dir string, st models.StatusFile) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Execution Date: %s\n", st.ExecutedAt.Format("Mon Jan 2 15:04:05 MST 2006"))
	fmt.Fprintf(&b, "Executed By: %s\n", st.ExecutedBy)
	fmt.Fprintf(&b, "Job ID: %s\n", st.JobID)
	fmt.Fprintf(&b, "Duration: %d seconds\n", int(st.Duration.Seconds()))
	fmt.Fprintf(&b, "Outcome: %s\n", st.Outcome)
	fmt.Fprintf(&b, "Original Path: %s\n", st.SourcePath)
	fmt.Fprintf(&b, "Destination Path: %s\n", st.ArchivePath)

	path := filepath.Join(dir, StatusFileName)
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
