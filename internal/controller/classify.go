package controller

import (
	"os"
	"path/filepath"
	"strings"
)

// SuccessMarker is the literal string the simulation prints on a clean
// finish. The marker is authoritative: the wrapped executable is known to
// return non-zero on benign conditions, and a zero exit code without the
// marker has been observed on truncated runs.
const SuccessMarker = "SUCCESS"

// LogFileName is the fixed execution log written by the batch script.
const LogFileName = "log.log"

// ClassifyOutcome decides final success from the execution log and the
// scheduler's raw exit code. Marker present forces success even for raw
// codes like 1 or 137; marker absent is a failure even when the raw code
// is zero.
func ClassifyOutcome(logText string, rawExitCode int) bool {
	_ = rawExitCode // recorded for the status file, never trusted
	return strings.Contains(logText, SuccessMarker)
}

// ClassifyModelDir reads the model's execution log and classifies it.
// A missing or unreadable log is a failure.
func ClassifyModelDir(modelDir string, rawExitCode int) bool {
	data, err := os.ReadFile(filepath.Join(modelDir, LogFileName))
	if err != nil {
		return false
	}
	return ClassifyOutcome(string(data), rawExitCode)
}
