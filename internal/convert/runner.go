// Package convert runs the external Markdown-to-Logseq converter after an
// export finishes.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"threadex/internal/logging"
)

// ErrConverterNotFound is returned when no converter script can be located.
var ErrConverterNotFound = errors.New("conversation converter not found")

// Runner spawns the converter script as a subprocess.
type Runner struct {
	Python        string
	ConverterPath string
	Timeout       time.Duration

	// Stdout and Stderr receive the converter's live output.
	Stdout io.Writer
	Stderr io.Writer
}

// Result describes one converter run.
type Result struct {
	OutputDir string
	ExitCode  int
	Stdout    string
	Stderr    string
	Duration  time.Duration
}

// Run converts every Markdown file in inputDir into outputDir, creating
// outputDir first. A non-zero exit is an error carrying the captured stderr.
func (r *Runner) Run(ctx context.Context, inputDir, outputDir string) (*Result, error) {
	log := logging.Get(logging.CategoryConvert)

	if r.ConverterPath == "" {
		return nil, ErrConverterNotFound
	}
	if _, err := os.Stat(r.ConverterPath); err != nil {
		return nil, fmt.Errorf("%w at %s: %v", ErrConverterNotFound, r.ConverterPath, err)
	}
	if outputDir == "" {
		outputDir = filepath.Join(inputDir, "logseq-notes")
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create converter output directory: %w", err)
	}

	python := r.Python
	if python == "" {
		python = "python3"
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{r.ConverterPath, "--input-dir", inputDir, "--output-dir", outputDir, "--quiet"}
	cmd := exec.CommandContext(execCtx, python, args...)
	cmd.WaitDelay = 5 * time.Second

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = teeTo(&stdoutBuf, r.Stdout)
	cmd.Stderr = teeTo(&stderrBuf, r.Stderr)

	log.Info("running post-export conversion to Logseq format")
	log.Debug("starting process: %s %s", python, strings.Join(args, " "))

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		OutputDir: outputDir,
		ExitCode:  0,
		Stdout:    stdoutBuf.String(),
		Stderr:    stderrBuf.String(),
		Duration:  time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case execCtx.Err() != nil:
			result.ExitCode = -1
			return result, fmt.Errorf("conversion aborted: %w", execCtx.Err())
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitCode()
			log.Error("conversion failed with exit code %d", result.ExitCode)
			return result, fmt.Errorf("conversion process exited with code %d: %s",
				result.ExitCode, strings.TrimSpace(result.Stderr))
		default:
			result.ExitCode = -1
			return result, fmt.Errorf("failed to start conversion process: %w", err)
		}
	}

	log.Info("conversion complete, Logseq notes saved to %s", outputDir)
	return result, nil
}

func teeTo(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}

// DefaultCandidates lists where the converter is commonly installed.
func DefaultCandidates() []string {
	return []string{
		"../conversation-to-logseq/conversation_converter.py",
		"../../conversation-to-logseq/conversation_converter.py",
		"/usr/local/lib/node_modules/perplexport/conversation_converter.py",
		"~/Development/Github/conversation-to-logseq/conversation_converter.py",
	}
}

// FindConverter returns the first existing candidate, with "~" expanded.
func FindConverter(candidates []string) (string, error) {
	for _, c := range candidates {
		p := ExpandUser(c)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", ErrConverterNotFound
}

// ExpandUser replaces a leading "~" with the home directory.
func ExpandUser(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if p == "~" {
		return home
	}
	return filepath.Join(home, p[2:])
}
