package logging

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"
)

func TestPrintfWritesTimestampedLinesAndMirror(t *testing.T) {
	dir := t.TempDir()
	stamp := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var mirror bytes.Buffer
	logger, err := New(dir, WithMirror(&mirror), WithClock(func() time.Time { return stamp }))
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Printf("orchestrator: %s finished\n", "styles")
	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(logger.Path())
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	want := "[2024-05-01T12:00:00Z] orchestrator: styles finished\n"
	if string(data) != want {
		t.Fatalf("log file = %q, want %q", data, want)
	}
	if mirror.String() != want {
		t.Fatalf("mirror = %q, want %q", mirror.String(), want)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Printf("ignored")
	if err := logger.Close(); err != nil {
		t.Fatalf("close nil logger: %v", err)
	}
	if logger.Path() != "" {
		t.Fatalf("nil logger should have no path")
	}
}

func TestNewAppendsToExistingFile(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		logger, err := New(dir)
		if err != nil {
			t.Fatalf("new logger: %v", err)
		}
		logger.Printf("line %d", i)
		logger.Close()
	}
	data, err := os.ReadFile(dir + string(os.PathSeparator) + FileName)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if strings.Count(string(data), "\n") != 2 {
		t.Fatalf("expected two lines, got %q", data)
	}
}
