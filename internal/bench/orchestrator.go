package bench

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mfukui/asrbench/internal/asr"
	"github.com/mfukui/asrbench/internal/catalog"
	"github.com/mfukui/asrbench/internal/diaglog"
	"github.com/mfukui/asrbench/internal/metrics"
	"github.com/mfukui/asrbench/internal/report"
	"github.com/mfukui/asrbench/internal/stager"
	"github.com/mfukui/asrbench/internal/telemetry"
)

// ErrRunActive is returned when starting or resetting while a run is active.
var ErrRunActive = errors.New("bench: run already active")

// ErrRunCancelled is returned by Run when cancellation was observed. The run
// state goes back to idle; cancellation is not an error state.
var ErrRunCancelled = errors.New("bench: run cancelled")

// CatalogSource fetches the list of items to benchmark.
type CatalogSource interface {
	Fetch(ctx context.Context, setID, category string) ([]catalog.Item, error)
}

// FileStager stages remote items into scratch storage and releases them.
type FileStager interface {
	Stage(ctx context.Context, item catalog.Item) (stager.StagedFile, error)
	ReleaseAll()
}

// Transcriber is the engine adapter the orchestrator speaks to.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, time.Duration, error)
	Metadata() asr.Metadata
}

// ResultSink uploads one transcribed item and returns computed metrics.
type ResultSink interface {
	Send(ctx context.Context, up report.Upload) (report.Outcome, error)
}

// TelemetrySource samples device telemetry for observability.
type TelemetrySource interface {
	Sample() telemetry.Snapshot
}

// RunConfig is the per-run configuration supplied by the caller.
type RunConfig struct {
	AudioSetID  string
	Category    string
	DeviceName  string
	DeviceModel string // optional hardware identifier
	Memo        string // optional free-form note attached to uploads
}

// Orchestrator sequences catalog fetch, staging, transcription, and result
// upload for every item, strictly one item at a time. It is the single
// writer of all run state; observers read snapshots.
type Orchestrator struct {
	catalog     CatalogSource
	stager      FileStager
	transcriber Transcriber
	reporter    ResultSink
	telemetry   TelemetrySource
	metrics     *metrics.Metrics
	logger      *diaglog.Logger
	cfg         RunConfig

	mu      sync.RWMutex
	state   State
	current int
	total   int
	phase   Phase
	message string
	results []*ItemResult
	summary *Summary

	running   atomic.Bool
	cancelled atomic.Bool
	runSeq    atomic.Int64
}

// Options carries the optional collaborators.
type Options struct {
	Telemetry TelemetrySource
	Metrics   *metrics.Metrics
	Logger    *diaglog.Logger
}

// New creates an orchestrator in idle state.
func New(cat CatalogSource, st FileStager, tr Transcriber, rep ResultSink, cfg RunConfig, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = diaglog.NewNoOp()
	}
	return &Orchestrator{
		catalog:     cat,
		stager:      st,
		transcriber: tr,
		reporter:    rep,
		telemetry:   opts.Telemetry,
		metrics:     opts.Metrics,
		logger:      logger,
		cfg:         cfg,
		state:       StateIdle,
	}
}

// Run executes one benchmark run to completion, error, or cancellation.
// Items are processed strictly sequentially. Staged files are released on
// every exit path. A second Run while one is active fails with ErrRunActive.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	if !o.running.CompareAndSwap(false, true) {
		return Summary{}, ErrRunActive
	}
	defer o.running.Store(false)
	defer o.stager.ReleaseAll()

	o.cancelled.Store(false)
	runID := strconv.FormatInt(o.runSeq.Add(1), 10)

	o.metrics.RecordRunStarted()
	o.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentOrchestrator,
		Event:     diaglog.EventRunStart,
		RunID:     runID,
		Payload:   map[string]interface{}{"audio_set_id": o.cfg.AudioSetID, "category": o.cfg.Category},
	})

	o.setFetching()
	items, err := o.catalog.Fetch(ctx, o.cfg.AudioSetID, o.cfg.Category)
	if err != nil {
		return Summary{}, o.failRun(runID, "fetch", err)
	}

	if o.cancelRequested(ctx) {
		return Summary{}, o.cancelRun(runID)
	}

	o.initResults(items)
	o.metrics.RecordCatalog(len(items))

	for i, item := range items {
		if o.cancelRequested(ctx) {
			return Summary{}, o.cancelRun(runID)
		}
		if err := o.processItem(ctx, runID, i, len(items), item); err != nil {
			if errors.Is(err, ErrRunCancelled) {
				return Summary{}, o.cancelRun(runID)
			}
			return Summary{}, err
		}
	}

	summary := o.complete(runID)
	return summary, nil
}

// processItem advances one catalog item through its three phases. A
// cancellation observed at a step boundary returns ErrRunCancelled; any
// step failure marks the item and fails the run.
func (o *Orchestrator) processItem(ctx context.Context, runID string, index, total int, item catalog.Item) error {
	current := index + 1
	o.metrics.RecordCurrentItem(current)

	// Phase 1: stage the file.
	o.setProcessing(current, total, PhaseDownloading)
	o.setItemStatus(index, FileStatusDownloading, "")
	staged, err := o.stager.Stage(ctx, item)
	if err != nil {
		o.setItemStatus(index, FileStatusError, err.Error())
		o.logItemError(runID, item.ID, "download", err)
		return o.failRun(runID, "download", err)
	}

	// Phase 2: transcribe.
	if o.cancelRequested(ctx) {
		return ErrRunCancelled
	}
	o.setProcessing(current, total, PhaseTranscribing)
	o.setItemStatus(index, FileStatusTranscribing, "")
	text, elapsed, err := o.transcriber.Transcribe(ctx, staged.LocalPath)
	if err != nil {
		o.setItemStatus(index, FileStatusError, err.Error())
		o.logItemError(runID, item.ID, "transcribe", err)
		return o.failRun(runID, "transcribe", err)
	}
	o.recordTranscript(index, text, elapsed)
	o.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentOrchestrator,
		Event:     diaglog.EventItemTranscribed,
		RunID:     runID,
		ItemID:    item.ID,
		Payload:   map[string]interface{}{"elapsed_sec": elapsed.Seconds(), "chars": len(text)},
	})

	// Phase 3: upload. Cancellation observed here skips the upload entirely.
	if o.cancelRequested(ctx) {
		return ErrRunCancelled
	}
	o.setProcessing(current, total, PhaseUploading)
	o.setItemStatus(index, FileStatusUploading, "")
	outcome, err := o.reporter.Send(ctx, o.buildUpload(item.ID, text, elapsed))
	if err != nil {
		o.setItemStatus(index, FileStatusError, err.Error())
		o.logItemError(runID, item.ID, "upload", err)
		return o.failRun(runID, "upload", err)
	}

	o.recordOutcome(index, outcome)
	o.setItemStatus(index, FileStatusCompleted, "")
	o.metrics.RecordItemCompleted(elapsed.Seconds(), outcome.CER)
	o.sampleTelemetry(runID, item.ID)
	return nil
}

// buildUpload assembles the reporter payload from adapter metadata and the
// latest telemetry sample. The orchestrator never branches on engine
// identity; everything engine-specific comes from Metadata.
func (o *Orchestrator) buildUpload(fileID, text string, elapsed time.Duration) report.Upload {
	env := map[string]string{}
	if o.telemetry != nil {
		snap := o.telemetry.Sample()
		env["os"] = snap.OSVersion
		env["thermal_state"] = string(snap.Thermal)
	}
	if o.cfg.DeviceModel != "" {
		env["model"] = o.cfg.DeviceModel
	}

	return report.Upload{
		FileID:         fileID,
		Text:           text,
		ProcessingTime: elapsed,
		Engine:         o.transcriber.Metadata(),
		DeviceName:     o.cfg.DeviceName,
		Environment:    env,
		Memo:           o.cfg.Memo,
	}
}

// Cancel requests cooperative cancellation. It is observed at the next step
// boundary; an in-flight network or transcription call runs to completion
// first.
func (o *Orchestrator) Cancel() {
	o.cancelled.Store(true)
}

// Reset acknowledges a terminal state back to idle and forces cleanup of any
// still-staged files. Calling Reset on an idle orchestrator is a no-op with
// respect to results and staged files. Resetting an active run is rejected.
func (o *Orchestrator) Reset() error {
	if o.running.Load() {
		return ErrRunActive
	}
	o.stager.ReleaseAll()

	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = StateIdle
	o.current, o.total = 0, 0
	o.phase = ""
	o.message = ""
	o.results = nil
	o.summary = nil
	return nil
}

// Snapshot returns a read-only copy of the run state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()

	snap := Snapshot{
		State:   o.state,
		Message: o.message,
	}
	if o.state == StateProcessing {
		snap.Current = o.current
		snap.Total = o.total
		snap.Phase = o.phase
	}
	if len(o.results) > 0 {
		snap.Results = make([]ItemResult, len(o.results))
		for i, r := range o.results {
			snap.Results[i] = *r
		}
	}
	if o.summary != nil {
		s := *o.summary
		snap.Summary = &s
	}
	return snap
}

// Running reports whether a run is active.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// State transitions below are only called from the run goroutine; the mutex
// exists for observers reading snapshots.

func (o *Orchestrator) setFetching() {
	o.mu.Lock()
	o.state = StateFetchingCatalog
	o.message = ""
	o.results = nil
	o.summary = nil
	o.mu.Unlock()
	o.logState(StateFetchingCatalog, "")
}

func (o *Orchestrator) initResults(items []catalog.Item) {
	results := make([]*ItemResult, len(items))
	for i, item := range items {
		results[i] = &ItemResult{
			ID:       item.ID,
			FileName: path.Base(item.URL),
			Status:   FileStatusPending,
		}
	}
	o.mu.Lock()
	o.results = results
	o.total = len(items)
	o.mu.Unlock()
}

func (o *Orchestrator) setProcessing(current, total int, phase Phase) {
	o.mu.Lock()
	o.state = StateProcessing
	o.current = current
	o.total = total
	o.phase = phase
	o.mu.Unlock()
	o.logState(StateProcessing, fmt.Sprintf("%d/%d %s", current, total, phase))
}

func (o *Orchestrator) setItemStatus(index int, status FileStatus, message string) {
	o.mu.Lock()
	o.results[index].Status = status
	o.results[index].ErrorMessage = message
	o.mu.Unlock()
}

func (o *Orchestrator) recordTranscript(index int, text string, elapsed time.Duration) {
	o.mu.Lock()
	o.results[index].Transcript = text
	o.results[index].ProcessingTime = elapsed
	o.mu.Unlock()
}

func (o *Orchestrator) recordOutcome(index int, outcome report.Outcome) {
	o.mu.Lock()
	o.results[index].CER = outcome.CER
	o.mu.Unlock()
}

// complete computes the summary once and transitions to completed.
func (o *Orchestrator) complete(runID string) Summary {
	o.mu.Lock()
	o.summary = summarize(o.results)
	o.state = StateCompleted
	summary := *o.summary
	o.mu.Unlock()

	o.metrics.RecordRunCompleted()
	o.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentOrchestrator,
		Event:     diaglog.EventRunCompleted,
		RunID:     runID,
		Payload: map[string]interface{}{
			"items":                summary.Items,
			"completed":            summary.Completed,
			"total_processing_sec": summary.TotalProcessingTime.Seconds(),
			"average_cer":          summary.AverageCER,
		},
	})
	return summary
}

// failRun transitions to the error state with a phase-distinguishing
// message. Cleanup happens in Run's deferred ReleaseAll.
func (o *Orchestrator) failRun(runID, phase string, err error) error {
	o.mu.Lock()
	o.state = StateError
	o.message = err.Error()
	o.mu.Unlock()

	o.metrics.RecordFailure(phase)
	o.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentOrchestrator,
		Event:     diaglog.EventRunFailed,
		RunID:     runID,
		Payload:   map[string]interface{}{"phase": phase, "error": err.Error()},
	})
	return err
}

// cancelRun returns the orchestrator to idle. Staged files are released
// immediately rather than waiting for Run's defer so the guarantee holds
// before Run returns control.
func (o *Orchestrator) cancelRun(runID string) error {
	o.stager.ReleaseAll()

	o.mu.Lock()
	o.state = StateIdle
	o.current, o.total = 0, 0
	o.phase = ""
	o.message = ""
	o.mu.Unlock()

	o.metrics.RecordRunCancelled()
	o.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentOrchestrator,
		Event:     diaglog.EventRunCancelled,
		RunID:     runID,
	})
	return ErrRunCancelled
}

// cancelRequested reports whether Cancel was called or ctx expired.
func (o *Orchestrator) cancelRequested(ctx context.Context) bool {
	return o.cancelled.Load() || ctx.Err() != nil
}

// sampleTelemetry takes an opportunistic thermal sample after an item
// completes; purely observational.
func (o *Orchestrator) sampleTelemetry(runID, itemID string) {
	if o.telemetry == nil {
		return
	}
	snap := o.telemetry.Sample()
	o.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentOrchestrator,
		Event:     diaglog.EventThermalSample,
		RunID:     runID,
		ItemID:    itemID,
		Payload: map[string]interface{}{
			"thermal_state":     string(snap.Thermal),
			"mem_available_kib": snap.MemAvailableKiB,
		},
	})
}

func (o *Orchestrator) logItemError(runID, itemID, phase string, err error) {
	o.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentOrchestrator,
		Event:     diaglog.EventItemError,
		RunID:     runID,
		ItemID:    itemID,
		Payload:   map[string]interface{}{"phase": phase, "error": err.Error()},
	})
}

func (o *Orchestrator) logState(state State, detail string) {
	entry := diaglog.LogEntry{
		Component: diaglog.ComponentOrchestrator,
		Event:     diaglog.EventRunStateChange,
		Payload:   map[string]interface{}{"state": string(state)},
	}
	if detail != "" {
		entry.Payload = map[string]interface{}{"state": string(state), "detail": detail}
	}
	o.logger.Log(entry)
}
