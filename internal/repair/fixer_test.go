package repair

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pxpalacios/ladruno/pkg/logging"
	"github.com/pxpalacios/ladruno/pkg/models"
)

func quietLogger() *logging.Logger {
	l := logging.New(logging.ERROR, false)
	l.SetOutput(io.Discard)
	return l
}

// writeHDF5 writes a minimal version-3 superblock; flagged toggles the
// open-for-write bit.
func writeHDF5(t *testing.T, path string, flagged bool) {
	t.Helper()
	header := []byte{0x89, 'H', 'D', 'F', '\r', '\n', 0x1a, '\n', 3, 8, 8, 0}
	if flagged {
		header[11] = 0x1
	}
	if err := os.WriteFile(path, header, 0644); err != nil {
		t.Fatal(err)
	}
}

// fakeClear simulates h5clear by rewriting the flag byte.
func fakeClear(t *testing.T) RunCommand {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if name != "h5clear" {
			t.Errorf("unexpected command %q", name)
		}
		path := args[len(args)-1]
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		data[11] &^= 0x1
		return nil, os.WriteFile(path, data, 0644)
	}
}

func TestScanAndFix(t *testing.T) {
	dir := t.TempDir()
	writeHDF5(t, filepath.Join(dir, "results.part-0.mpco"), false)
	writeHDF5(t, filepath.Join(dir, "results.part-1.mpco"), true)
	writeHDF5(t, filepath.Join(dir, "results.part-2.mpco"), true)
	if err := os.WriteFile(filepath.Join(dir, "results.part-3.mpco"), []byte("not hdf5"), 0644); err != nil {
		t.Fatal(err)
	}
	// Non-matching files are ignored entirely.
	if err := os.WriteFile(filepath.Join(dir, "log.log"), []byte("SUCCESS"), 0644); err != nil {
		t.Fatal(err)
	}

	tool := New(dir, "", quietLogger())
	tool.run = fakeClear(t)

	if err := tool.Scan(); err != nil {
		t.Fatal(err)
	}
	counts := tool.Counts()
	if counts[StatusOK] != 1 || counts[StatusFlagged] != 2 || counts[StatusError] != 1 {
		t.Fatalf("counts = %v, want 1 OK / 2 FLAGGED / 1 ERROR", counts)
	}

	if err := tool.FixFlagged(context.Background()); err != nil {
		t.Fatal(err)
	}
	counts = tool.Counts()
	if counts[StatusFlagged] != 0 || counts[StatusOK] != 3 {
		t.Errorf("after fix: counts = %v, want 0 FLAGGED / 3 OK", counts)
	}
}

func TestFixIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeHDF5(t, filepath.Join(dir, "results.part-0.mpco"), true)

	calls := 0
	tool := New(dir, "", quietLogger())
	inner := fakeClear(t)
	tool.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls++
		return inner(ctx, name, args...)
	}

	if err := tool.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("first pass: %d h5clear calls, want 1", calls)
	}

	// Second full pass: the file is clear, nothing may be invoked or changed.
	if err := tool.Run(context.Background()); err != nil {
		t.Fatalf("second pass on fixed file must not error: %v", err)
	}
	if calls != 1 {
		t.Errorf("second pass invoked h5clear %d more time(s), want 0", calls-1)
	}
}

func TestFixPartialFailure(t *testing.T) {
	dir := t.TempDir()
	writeHDF5(t, filepath.Join(dir, "results.part-0.mpco"), true)
	writeHDF5(t, filepath.Join(dir, "results.part-1.mpco"), true)

	inner := fakeClear(t)
	tool := New(dir, "", quietLogger())
	tool.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if filepath.Base(args[len(args)-1]) == "results.part-0.mpco" {
			return []byte("h5clear: unable to open file"), fmt.Errorf("exit status 1")
		}
		return inner(ctx, name, args...)
	}

	err := tool.Run(context.Background())
	if err == nil {
		t.Fatal("expected FixerError")
	}
	var fixErr *models.FixerError
	if !errors.As(err, &fixErr) {
		t.Fatalf("error type = %T, want FixerError", err)
	}
	if len(fixErr.Failures) != 1 {
		t.Errorf("failures = %d, want 1", len(fixErr.Failures))
	}
	// The other file must still have been fixed.
	if tool.Status()[filepath.Join(dir, "results.part-1.mpco")] != StatusOK {
		t.Error("failure on one file must not abort fixing the rest")
	}
}

func TestScanTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	// A valid signature cut off before the superblock is complete must not
	// probe against whatever the read buffer happened to hold.
	truncated := []byte{0x89, 'H', 'D', 'F', '\r', '\n'}
	if err := os.WriteFile(filepath.Join(dir, "results.part-0.mpco"), truncated, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "results.part-1.mpco"), nil, 0644); err != nil {
		t.Fatal(err)
	}

	tool := New(dir, "", quietLogger())
	if err := tool.Scan(); err != nil {
		t.Fatal(err)
	}
	counts := tool.Counts()
	if counts[StatusError] != 2 || counts[StatusFlagged] != 0 {
		t.Errorf("counts = %v, want 2 ERROR / 0 FLAGGED", counts)
	}
}

func TestScanEmptyDirectory(t *testing.T) {
	tool := New(t.TempDir(), "", quietLogger())
	if err := tool.Run(context.Background()); err != nil {
		t.Fatalf("empty directory must be a valid zero result: %v", err)
	}
	if len(tool.Status()) != 0 {
		t.Errorf("status map should be empty, got %v", tool.Status())
	}
}
