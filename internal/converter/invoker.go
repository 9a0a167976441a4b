// Package converter runs the external replay-to-JSON converter for one file
// and captures how it went.
package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/hochfrequenz/replay-orchestrator/internal/domain"
)

// waitDelay bounds how long Wait keeps reading output after the converter
// was killed, in case a grandchild still holds the pipes.
const waitDelay = 2 * time.Second

// OutputCallback is called for each line the converter writes
type OutputCallback func(stream, line string)

// Config configures the invoker
type Config struct {
	Path    string        // converter binary
	Timeout time.Duration // 0 means no limit
	Logger  *slog.Logger
}

// Invoker launches the converter process
type Invoker struct {
	config Config
	logger *slog.Logger
}

// New creates an invoker for the converter at cfg.Path
func New(cfg Config) *Invoker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Invoker{config: cfg, logger: logger.With("component", "converter")}
}

// Path returns the converter binary path
func (i *Invoker) Path() string {
	return i.config.Path
}

// Args returns the converter arguments for one input/output pair
func Args(inputPath, outputDir string) []string {
	return []string{"-i", inputPath, "-o", outputDir}
}

// Run converts inputPath into outputDir and blocks until the converter
// exits. Launch failures and non-zero exits are reported in the result,
// never as an error.
func (i *Invoker) Run(ctx context.Context, inputPath, outputDir string, onOutput OutputCallback) domain.ConversionResult {
	start := time.Now()
	result := domain.ConversionResult{StartedAt: start}

	if i.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.config.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, i.config.Path, Args(inputPath, outputDir)...)
	// The child gets its own streams: stdin is the null device and both
	// outputs are pipes owned by us.
	cmd.Stdin = nil
	cmd.WaitDelay = waitDelay
	hideWindow(cmd)

	fail := func(err error) domain.ConversionResult {
		result.ExitCode = domain.LaunchFailedExitCode
		result.Err = err.Error()
		result.FinishedAt = time.Now()
		result.Duration = result.FinishedAt.Sub(start)
		return result
	}

	var stdoutBuf, stderrBuf strings.Builder
	stdoutW := &lineWriter{stream: "stdout", out: &stdoutBuf, callback: onOutput}
	stderrW := &lineWriter{stream: "stderr", out: &stderrBuf, callback: onOutput}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	i.logger.Debug("starting converter", "input", inputPath, "output_dir", outputDir)
	if err := cmd.Start(); err != nil {
		i.logger.Debug("converter did not start", "input", inputPath, "error", err)
		return fail(fmt.Errorf("starting converter: %w", err))
	}

	err := cmd.Wait()
	stdoutW.flush()
	stderrW.flush()
	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(start)
	result.Stdout = stdoutBuf.String()
	result.Stderr = stderrBuf.String()

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = domain.LaunchFailedExitCode
			result.Err = err.Error()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) && i.config.Timeout > 0 {
				result.Err = fmt.Sprintf("converter timed out after %s", i.config.Timeout)
			} else {
				result.Err = ctxErr.Error()
			}
		}
	}

	i.logger.Debug("converter finished",
		"input", inputPath,
		"exit_code", result.ExitCode,
		"duration", result.Duration.Round(time.Millisecond))
	return result
}

// lineWriter captures one output stream and reports it line by line.
// Stdout and stderr are copied on separate goroutines, so callbacks must be
// safe for concurrent use.
type lineWriter struct {
	stream   string
	out      *strings.Builder
	callback OutputCallback
	partial  []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.out.Write(p)
	if w.callback == nil {
		return len(p), nil
	}
	w.partial = append(w.partial, p...)
	for {
		idx := bytes.IndexByte(w.partial, '\n')
		if idx < 0 {
			break
		}
		w.callback(w.stream, string(w.partial[:idx+1]))
		w.partial = w.partial[idx+1:]
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	if w.callback != nil && len(w.partial) > 0 {
		w.callback(w.stream, string(w.partial))
		w.partial = nil
	}
}
