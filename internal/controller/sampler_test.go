package controller

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSamplerWritesAndStops(t *testing.T) {
	dir := t.TempDir()

	s := StartSampler(dir, "memtrack_node.txt", "openseesmp", 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	s.Stop()
	s.Stop() // second stop must be a no-op

	data, err := os.ReadFile(filepath.Join(dir, "memtrack_node.txt"))
	if err != nil {
		t.Fatalf("sampler wrote no log: %v", err)
	}
	if !strings.Contains(string(data), "======================") {
		t.Error("sample separator missing")
	}

	// No writes after Stop.
	before := len(data)
	time.Sleep(20 * time.Millisecond)
	after, err := os.ReadFile(filepath.Join(dir, "memtrack_node.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != before {
		t.Error("sampler kept writing after Stop")
	}
}
