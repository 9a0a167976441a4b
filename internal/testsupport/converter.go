// Package testsupport holds helpers shared by package tests.
package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// FakeConverter is a shell script standing in for the replay converter. It
// accepts "-i <input> -o <output-dir>", writes <stem>.json into the output
// directory and records every invocation.
type FakeConverter struct {
	Path    string
	logPath string
}

// ConverterOptions tweaks the fake converter's behaviour per input name
type ConverterOptions struct {
	// Failing maps an input file name to the stderr text printed before
	// exiting with status 1.
	Failing map[string]string
	// Delay is a sleep(1) argument applied to every conversion, e.g. "0.2".
	Delay string
}

// NewFakeConverter writes the script into a temp dir. Tests using it are
// skipped on Windows.
func NewFakeConverter(t *testing.T, opts ConverterOptions) *FakeConverter {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake converter is a POSIX shell script")
	}

	dir := t.TempDir()
	logPath := filepath.Join(dir, "invocations.log")

	var failCases strings.Builder
	for name, msg := range opts.Failing {
		fmt.Fprintf(&failCases, "  %q) echo %q >&2; exit 1;;\n", name, msg)
	}
	delay := ""
	if opts.Delay != "" {
		delay = "sleep " + opts.Delay
	}

	script := fmt.Sprintf(`#!/bin/sh
in=""
out=""
while [ $# -gt 0 ]; do
  case "$1" in
    -i) in="$2"; shift 2;;
    -o) out="$2"; shift 2;;
    *) shift;;
  esac
done
name=$(basename "$in")
stem="${name%%.*}"
echo "$name" >> %q
%s
case "$name" in
%s  *) ;;
esac
printf '{"replay":"%%s"}\n' "$stem" > "$out/$stem.json"
echo "parsed $name"
`, logPath, delay, failCases.String())

	path := filepath.Join(dir, "fake-converter.sh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return &FakeConverter{Path: path, logPath: logPath}
}

// Invocations returns the input file names the converter was called with
func (f *FakeConverter) Invocations(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(f.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatal(err)
	}
	return strings.Fields(string(data))
}

// WriteReplay creates a sparse replay file of the given size
func WriteReplay(t *testing.T, dir, name string, size int64) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		t.Fatal(err)
	}
	return path
}
