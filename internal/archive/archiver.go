// Package archive relocates completed model directories to archive storage.
// The ordering is the correctness property: source cleanup never happens
// before a confirmed copy, so a failed move leaves the source fully intact.
package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/pxpalacios/ladruno/pkg/logging"
	"github.com/pxpalacios/ladruno/pkg/models"
)

// Archiver moves completed model directories under a destination root and
// records each move in the shared ledger.
type Archiver struct {
	destination string
	ledger      *Ledger
	log         *logging.Logger

	// copyTree is swappable so tests can force a mid-move failure.
	copyTree func(src, dst string) error
	now      func() time.Time
}

// New creates an archiver rooted at destination.
func New(destination string, ledger *Ledger, log *logging.Logger) *Archiver {
	return &Archiver{
		destination: destination,
		ledger:      ledger,
		log:         log,
		copyTree:    copyTree,
		now:         time.Now,
	}
}

// Archive relocates the model directory of a terminal job. On success the
// source keeps only status.txt as a breadcrumb and the ledger gains one row.
// On failure the source is untouched and the job stays archived=false.
func (a *Archiver) Archive(job *models.Job) (string, error) {
	if !models.IsTerminalState(job.Status) {
		return "", &models.ArchiveError{
			Model: job.ModelName, Step: "precondition",
			Err: fmt.Errorf("job is in non-terminal state %s", job.Status),
		}
	}

	dest, err := a.resolveDestination(job.ModelName)
	if err != nil {
		return "", &models.ArchiveError{Model: job.ModelName, Step: "resolve destination", Err: err}
	}

	st := models.StatusFile{
		JobID:       job.ID,
		ExecutedBy:  currentUser(),
		ExecutedAt:  a.now(),
		Duration:    job.Duration(),
		Outcome:     string(job.Status),
		SourcePath:  job.ModelPath,
		ArchivePath: dest,
	}
	if err := WriteStatusFile(job.ModelPath, st); err != nil {
		os.Remove(dest) // release the reserved, still-empty directory
		return "", &models.ArchiveError{Model: job.ModelName, Step: "write status file", Err: err}
	}

	if err := a.copyTree(job.ModelPath, dest); err != nil {
		// Abort before any deletion; remove the partial destination so a
		// retry gets a clean slate.
		os.RemoveAll(dest)
		return "", &models.ArchiveError{Model: job.ModelName, Step: "copy", Err: err}
	}

	if err := cleanSource(job.ModelPath); err != nil {
		// The archive copy is complete; report the leftover source but keep
		// the move as succeeded.
		a.log.Warn("source cleanup incomplete", map[string]interface{}{
			"model": job.ModelName, "error": err.Error(),
		})
	}

	rec := models.ArchiveRecord{
		Model:       job.ModelName,
		Source:      job.ModelPath,
		Destination: dest,
		Timestamp:   a.now(),
		Outcome:     string(job.Status),
	}
	if err := a.ledger.Append(rec); err != nil {
		a.log.Warn("ledger append failed", map[string]interface{}{
			"model": job.ModelName, "error": err.Error(),
		})
	}

	job.Archived = true
	job.ArchivePath = dest
	a.log.Info("model archived", map[string]interface{}{
		"model": job.ModelName, "destination": dest,
	})
	return dest, nil
}

// resolveDestination never reuses an existing directory: an occupied name
// gets a timestamp suffix, then a numeric one. Each candidate is claimed
// with os.Mkdir, so concurrent archives of same-named models (a group with
// caseA/run and caseB/run) can never resolve to the same directory. Silent
// overwrite of another archived model is not an option.
func (a *Archiver) resolveDestination(modelName string) (string, error) {
	if err := os.MkdirAll(a.destination, 0755); err != nil {
		return "", fmt.Errorf("archive destination unavailable: %w", err)
	}

	dest := filepath.Join(a.destination, modelName)
	if ok, err := claim(dest); err != nil {
		return "", err
	} else if ok {
		return dest, nil
	}

	stamped := fmt.Sprintf("%s-%s", dest, a.now().Format("20060102-150405"))
	if ok, err := claim(stamped); err != nil {
		return "", err
	} else if ok {
		return stamped, nil
	}
	for i := 2; i < 1000; i++ {
		candidate := fmt.Sprintf("%s-%d", stamped, i)
		if ok, err := claim(candidate); err != nil {
			return "", err
		} else if ok {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free destination name for %s", modelName)
}

// claim atomically reserves path by creating it; an existing directory means
// the name is taken by an earlier archive or a concurrent one.
func claim(path string) (bool, error) {
	err := os.Mkdir(path, 0755)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	return false, fmt.Errorf("cannot reserve archive destination: %w", err)
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}

// copyTree copies the directory tree rooted at src into dst, preserving
// file modes.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		if !info.Mode().IsRegular() {
			return nil // sockets, pipes and symlinks are not archived
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// cleanSource removes everything from the source directory except the
// status file breadcrumb.
func cleanSource(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name() == StatusFileName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
