// Package asr defines the transcription engine capability and the adapter
// the orchestrator speaks to.
package asr

import (
	"context"
	"errors"
	"fmt"
)

// Metadata describes the concrete engine behind the adapter. The reporter
// builds its payload from this, so the orchestrator never branches on
// engine identity.
type Metadata struct {
	Name         string // e.g. "whisper_cpp", "speech_api"
	Version      string // optional, "" when the engine cannot report one
	Model        string // model name or locale, e.g. "small", "ja-JP"
	ModelVersion string // optional
}

// Engine is the contract a concrete transcription engine must implement.
// Engines are single-flight: a second TranscribeFile before the first
// returns is unsupported.
type Engine interface {
	Name() string
	Metadata() Metadata
	TranscribeFile(ctx context.Context, path string) (string, error)
}

// ErrEngineNotReady is returned when no concrete engine is configured.
var ErrEngineNotReady = errors.New("asr: no engine configured")

// TranscribeError wraps a failed engine call.
type TranscribeError struct {
	Engine string
	Err    error
}

func (e *TranscribeError) Error() string {
	return fmt.Sprintf("asr: transcription failed (engine=%s): %v", e.Engine, e.Err)
}

func (e *TranscribeError) Unwrap() error { return e.Err }
