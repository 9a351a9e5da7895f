// Package whispercli is the on-device engine: it shells out to a whisper
// CLI binary (whisper-cpp or faster-whisper) for transcription.
package whispercli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/mfukui/asrbench/internal/asr"
)

// Config configures the whisper CLI engine.
type Config struct {
	BinaryPath     string // path to the whisper CLI binary
	ModelPath      string // path to the .bin/.gguf model file
	Model          string // model name reported in metadata (e.g. "small")
	ModelVersion   string // optional
	Language       string // "" = auto-detect
	Threads        int    // CPU threads (0 = auto)
	TimeoutSeconds int    // default 300
}

// Engine shells out to a whisper CLI binary. Single-flight: callers must not
// issue a second TranscribeFile before the first returns.
type Engine struct {
	cfg Config
}

// NewEngine creates a whisper CLI engine with the given config.
func NewEngine(cfg Config) *Engine {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 300
	}
	return &Engine{cfg: cfg}
}

// Name returns the engine identifier.
func (e *Engine) Name() string {
	return "whisper_cpp"
}

// Metadata describes this engine instance for result reporting. The CLI has
// no stable --version contract, so Version stays empty.
func (e *Engine) Metadata() asr.Metadata {
	return asr.Metadata{
		Name:         e.Name(),
		Model:        e.cfg.Model,
		ModelVersion: e.cfg.ModelVersion,
	}
}

// TranscribeFile invokes the whisper CLI subprocess and returns the
// transcript text printed on stdout.
func (e *Engine) TranscribeFile(ctx context.Context, filePath string) (string, error) {
	if _, err := os.Stat(e.cfg.BinaryPath); err != nil {
		return "", fmt.Errorf("whispercli: binary not found at %q: %w", e.cfg.BinaryPath, err)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	args := e.buildArgs(filePath)
	cmd := exec.CommandContext(ctx, e.cfg.BinaryPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("whispercli: transcription timed out after %d seconds", e.cfg.TimeoutSeconds)
		}
		return "", fmt.Errorf("whispercli: subprocess failed: %w (stderr: %s)", err, firstLine(stderr.String()))
	}

	return strings.TrimSpace(stdout.String()), nil
}

// buildArgs constructs the CLI arguments for the whisper binary. The binary
// prints the transcript on stdout with timestamps suppressed.
func (e *Engine) buildArgs(filePath string) []string {
	var args []string

	if e.cfg.ModelPath != "" {
		args = append(args, "--model", e.cfg.ModelPath)
	}

	args = append(args, "--no-timestamps")

	if e.cfg.Language != "" {
		args = append(args, "--language", e.cfg.Language)
	}

	if e.cfg.Threads > 0 {
		args = append(args, "--threads", strconv.Itoa(e.cfg.Threads))
	}

	args = append(args, "--file", filePath)
	return args
}

// firstLine returns the first non-empty line of s, for compact error text.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
