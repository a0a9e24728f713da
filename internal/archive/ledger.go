package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pxpalacios/ladruno/pkg/models"
)

// DefaultLedgerName is the ledger file kept at the archive destination root.
const DefaultLedgerName = "archive_ledger.log"

// Ledger is the run-wide append-only record of completed archive moves.
// It is the only mutable state shared across models, so appends are
// serialized by a mutex: N concurrent completions produce exactly N rows.
type Ledger struct {
	path string
	mu   sync.Mutex
}

// NewLedger creates a ledger writing to path.
func NewLedger(path string) *Ledger {
	return &Ledger{path: path}
}

// Path returns the ledger file location.
func (l *Ledger) Path() string {
	return l.path
}

// Append writes one record as a single human-readable row.
func (l *Ledger) Append(rec models.ArchiveRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err = fmt.Fprintf(f, "%s | %s | %s | %s | %s\n",
		ts.Format(time.RFC3339), rec.Model, rec.Outcome, rec.Source, rec.Destination)
	if err != nil {
		return fmt.Errorf("failed to append ledger row: %w", err)
	}
	return nil
}
