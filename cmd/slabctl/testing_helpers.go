package main

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

// captureOutput captures stdout while running a function
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w

	// Drain concurrently so large outputs cannot fill the pipe.
	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r)
		done <- buf.String()
	}()

	fnErr := fn()

	w.Close()
	os.Stdout = origStdout
	return <-done, fnErr
}

// resetFlags restores the global flags to their defaults.
func resetFlags(t *testing.T) {
	t.Helper()
	t.Setenv("SLABKIT_CONFIG", "")
	verbose, quiet, jsonOut, logJSON = false, false, false, false
	configStr = ""
	stressWorkers, stressOps, stressMin, stressMax, stressHold = 4, 2_000, 1, 512, 32
	stressSeed, stressShared = 1, false
}

// assertJSON checks that output is valid JSON and decodes it into v
func assertJSON(t *testing.T, output string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(output), v); err != nil {
		t.Fatalf("invalid JSON output: %v\nOutput: %s", err, output)
	}
}

// assertContains checks that output contains all expected strings
func assertContains(t *testing.T, output string, expected []string) {
	t.Helper()
	for _, want := range expected {
		if !strings.Contains(output, want) {
			t.Errorf("output missing expected string %q\nGot: %s", want, output)
		}
	}
}
