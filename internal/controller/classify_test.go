package controller

import (
	"os"
	"path/filepath"
	"testing"
)

func TestClassifyOutcome(t *testing.T) {
	tests := []struct {
		name        string
		logText     string
		rawExitCode int
		want        bool
	}{
		{"marker with zero code", "steps done\nSUCCESS\n", 0, true},
		{"marker overrides code 1", "SUCCESS\n", 1, true},
		{"marker overrides code 137", "oom killed\nSUCCESS\n", 137, true},
		{"no marker with zero code", "analysis finished\n", 0, false},
		{"no marker with nonzero code", "error in element 4\n", 2, false},
		{"empty log", "", 0, false},
		{"marker embedded mid-line", "ANALYSIS SUCCESS: all steps converged", 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyOutcome(tt.logText, tt.rawExitCode); got != tt.want {
				t.Errorf("ClassifyOutcome(%q, %d) = %v, want %v", tt.logText, tt.rawExitCode, got, tt.want)
			}
		})
	}
}

func TestClassifyModelDir(t *testing.T) {
	dir := t.TempDir()

	if ClassifyModelDir(dir, 0) {
		t.Error("missing log must classify as failure")
	}

	if err := os.WriteFile(filepath.Join(dir, LogFileName), []byte("SUCCESS\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if !ClassifyModelDir(dir, 137) {
		t.Error("marker in log must classify as success")
	}
}
