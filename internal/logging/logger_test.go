package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_ConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	logPath := filepath.Join(t.TempDir(), "logs", "app.log")

	logger, closer, err := New(Options{
		Level:   "info",
		File:    logPath,
		Console: &console,
	})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("processed replay", "job", "J0001")
	logger.Debug("hidden")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(console.String(), "processed replay") {
		t.Errorf("console output = %q, want message", console.String())
	}
	if strings.Contains(console.String(), "time=") {
		t.Errorf("non-terminal console output should not carry timestamps: %q", console.String())
	}
	if strings.Contains(console.String(), "hidden") {
		t.Error("debug message should be filtered at info level")
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "job=J0001") {
		t.Errorf("log file = %q, want job attr", data)
	}
}

func TestNew_JSONFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "app.log")
	logger, closer, err := New(Options{Format: "json", File: logPath, DisableConsole: true})
	if err != nil {
		t.Fatal(err)
	}
	logger.Warn("converter failed", "exit_code", 1)
	closer.Close()

	data, _ := os.ReadFile(logPath)
	if !strings.Contains(string(data), `"exit_code":1`) {
		t.Errorf("log file = %q, want JSON attrs", data)
	}
}

func TestNew_UnsupportedFormat(t *testing.T) {
	_, _, err := New(Options{Format: "xml", File: filepath.Join(t.TempDir(), "a.log"), DisableConsole: true})
	if err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestNewFileWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "app.log")
	w, err := newFileWriter(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if w.MaxSize != defaultMaxSizeMB {
		t.Errorf("MaxSize = %d, want %d", w.MaxSize, defaultMaxSizeMB)
	}
	if w.MaxBackups != maxBackups {
		t.Errorf("MaxBackups = %d, want %d", w.MaxBackups, maxBackups)
	}
	if _, err := w.Write([]byte("hello\n")); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello\n" {
		t.Errorf("content = %q", data)
	}
}

func TestNewFileWriter_UnusableDirectory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := newFileWriter(filepath.Join(blocker, "app.log"), 5); err == nil {
		t.Error("expected error when the log directory is a file")
	}
}

func TestDiscard(t *testing.T) {
	Discard().Info("nothing")
}
