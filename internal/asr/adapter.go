package asr

import (
	"context"
	"sync"
	"time"
)

// Adapter wraps whichever concrete engine is active and presents a uniform
// transcribe contract to the orchestrator. Elapsed time is measured here,
// wall-clock, around the underlying call; engines do not report timing.
type Adapter struct {
	mu     sync.RWMutex
	engine Engine
}

// NewAdapter creates an adapter. engine may be nil; Transcribe then fails
// with ErrEngineNotReady until SetEngine is called.
func NewAdapter(engine Engine) *Adapter {
	return &Adapter{engine: engine}
}

// SetEngine replaces the active engine. The two concrete engines are
// mutually exclusive; exactly one is active at a time.
func (a *Adapter) SetEngine(engine Engine) {
	a.mu.Lock()
	a.engine = engine
	a.mu.Unlock()
}

// Metadata returns the active engine's metadata, or the zero value when no
// engine is configured.
func (a *Adapter) Metadata() Metadata {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.engine == nil {
		return Metadata{}
	}
	return a.engine.Metadata()
}

// Ready reports whether a concrete engine is configured.
func (a *Adapter) Ready() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.engine != nil
}

// Transcribe runs the active engine against the local file and returns the
// produced text together with the measured wall-clock duration. No retries,
// no parallelism.
func (a *Adapter) Transcribe(ctx context.Context, path string) (string, time.Duration, error) {
	a.mu.RLock()
	engine := a.engine
	a.mu.RUnlock()

	if engine == nil {
		return "", 0, ErrEngineNotReady
	}

	start := time.Now()
	text, err := engine.TranscribeFile(ctx, path)
	elapsed := time.Since(start)
	if err != nil {
		return "", elapsed, &TranscribeError{Engine: engine.Name(), Err: err}
	}
	return text, elapsed, nil
}
