package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/alessio/shellescape"
	"github.com/hashicorp/go-hclog"

	"coursearchiver/internal/metrics"
)

// ErrNotFound is returned when the ffmpeg binary is not on PATH.
var ErrNotFound = errors.New("ffmpeg binary not found")

const stderrTail = 2048

// MuxError describes a failed ffmpeg invocation.
type MuxError struct {
	Command  string // shell-quoted command line
	ExitCode int    // -1 when the process did not run to completion
	Stderr   string // last part of stderr
	Err      error
}

func (e *MuxError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("ffmpeg failed (exit %d): %v: %s; command: %s", e.ExitCode, e.Err, e.Stderr, e.Command)
	}
	return fmt.Sprintf("ffmpeg failed (exit %d): %v; command: %s", e.ExitCode, e.Err, e.Command)
}

func (e *MuxError) Unwrap() error { return e.Err }

// Muxer combines separately downloaded video and audio streams with ffmpeg,
// copying both without re-encoding.
type Muxer struct {
	binaryPath string
	timeout    time.Duration
	logger     hclog.Logger
	metrics    *metrics.Metrics
}

// NewMuxer creates a Muxer. binaryPath may be a bare name resolved via PATH.
func NewMuxer(binaryPath string, timeout time.Duration, logger hclog.Logger, m *metrics.Metrics) *Muxer {
	if binaryPath == "" {
		binaryPath = "ffmpeg"
	}
	return &Muxer{binaryPath: binaryPath, timeout: timeout, logger: logger.Named("ffmpeg"), metrics: m}
}

// Available checks that the binary can be found.
func (m *Muxer) Available() error {
	if _, err := exec.LookPath(m.binaryPath); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotFound, m.binaryPath, err)
	}
	return nil
}

// BuildArgs returns the ffmpeg arguments that mux videoPath and audioPath
// into outputPath.
func BuildArgs(videoPath, audioPath, outputPath string) []string {
	return []string{
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-c", "copy",
		"-bsf:a", "aac_adtstoasc",
		outputPath,
	}
}

// Mux writes both streams next to outputPath, runs ffmpeg into a hidden
// partial file and renames it to outputPath only when ffmpeg succeeds. The
// temporary inputs and any partial output are removed whatever the outcome.
func (m *Muxer) Mux(ctx context.Context, video, audio []byte, outputPath string) error {
	ext := filepath.Ext(outputPath)
	stem := strings.TrimSuffix(outputPath, ext)
	videoPath := stem + ".video"
	audioPath := stem + ".audio"
	// the extension stays last so ffmpeg still infers the container
	partPath := filepath.Join(filepath.Dir(outputPath), "."+filepath.Base(stem)+".part"+ext)
	args := BuildArgs(videoPath, audioPath, partPath)
	command := shellescape.QuoteCommand(append([]string{m.binaryPath}, args...))

	bin, err := exec.LookPath(m.binaryPath)
	if err != nil {
		return &MuxError{Command: command, ExitCode: -1, Err: fmt.Errorf("%w: %v", ErrNotFound, err)}
	}

	defer func() {
		for _, p := range []string{videoPath, audioPath, partPath} {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				m.logger.Warn("failed to remove temporary stream", "path", p, "err", err)
			}
		}
	}()

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return &MuxError{Command: command, ExitCode: -1, Err: fmt.Errorf("failed to create output directory: %w", err)}
	}
	if err := os.WriteFile(videoPath, video, 0644); err != nil {
		return &MuxError{Command: command, ExitCode: -1, Err: fmt.Errorf("failed to write video stream: %w", err)}
	}
	if err := os.WriteFile(audioPath, audio, 0644); err != nil {
		return &MuxError{Command: command, ExitCode: -1, Err: fmt.Errorf("failed to write audio stream: %w", err)}
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	m.logger.Debug("running", "command", command)
	start := time.Now()
	err = cmd.Run()
	m.metrics.ObserveMux(time.Since(start))

	if err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return &MuxError{Command: command, ExitCode: code, Stderr: tail(stderr.String(), stderrTail), Err: err}
	}
	m.logger.Trace("ffmpeg output", "stderr", tail(stderr.String(), stderrTail))
	if err := os.Rename(partPath, outputPath); err != nil {
		return &MuxError{Command: command, ExitCode: 0, Err: fmt.Errorf("failed to move output into place: %w", err)}
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
