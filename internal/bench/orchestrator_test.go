package bench

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mfukui/asrbench/internal/asr"
	"github.com/mfukui/asrbench/internal/catalog"
	"github.com/mfukui/asrbench/internal/report"
	"github.com/mfukui/asrbench/internal/stager"
	"github.com/mfukui/asrbench/internal/telemetry"
)

// ── fakes ────────────────────────────────────────────────────────────────────

type fakeCatalog struct {
	items []catalog.Item
	err   error
}

func (f *fakeCatalog) Fetch(ctx context.Context, setID, category string) ([]catalog.Item, error) {
	return f.items, f.err
}

type fakeStager struct {
	mu       sync.Mutex
	staged   map[string]string
	releases int
	failFor  map[string]error // item id → error
}

func newFakeStager() *fakeStager {
	return &fakeStager{staged: make(map[string]string), failFor: make(map[string]error)}
}

func (f *fakeStager) Stage(ctx context.Context, item catalog.Item) (stager.StagedFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[item.ID]; err != nil {
		return stager.StagedFile{}, err
	}
	path := "/scratch/" + item.ID + ".wav"
	f.staged[item.ID] = path
	return stager.StagedFile{ItemID: item.ID, LocalPath: path}, nil
}

func (f *fakeStager) ReleaseAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staged = make(map[string]string)
	f.releases++
}

func (f *fakeStager) stagedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.staged)
}

type fakeTranscriber struct {
	text    string
	err     error
	elapsed time.Duration
	block   chan struct{} // when set, TranscribeFile waits for it
	started chan struct{} // closed once, on first call
	once    sync.Once
}

func (f *fakeTranscriber) Metadata() asr.Metadata {
	return asr.Metadata{Name: "fake_engine", Model: "small"}
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, path string) (string, time.Duration, error) {
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.block != nil {
		<-f.block
	}
	elapsed := f.elapsed
	if elapsed == 0 {
		elapsed = 100 * time.Millisecond
	}
	return f.text, elapsed, f.err
}

type fakeReporter struct {
	mu      sync.Mutex
	uploads []report.Upload
	cers    map[string]float64 // file id → cer to return
	errFor  map[string]error
}

func newFakeReporter() *fakeReporter {
	return &fakeReporter{cers: make(map[string]float64), errFor: make(map[string]error)}
}

func (f *fakeReporter) Send(ctx context.Context, up report.Upload) (report.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errFor[up.FileID]; err != nil {
		return report.Outcome{}, err
	}
	f.uploads = append(f.uploads, up)
	out := report.Outcome{Status: "scored"}
	if cer, ok := f.cers[up.FileID]; ok {
		v := cer
		out.CER = &v
	}
	return out, nil
}

func (f *fakeReporter) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

type fakeTelemetry struct{}

func (fakeTelemetry) Sample() telemetry.Snapshot {
	return telemetry.Snapshot{Thermal: telemetry.ThermalNominal, OSVersion: "linux-test"}
}

func twoItems() []catalog.Item {
	return []catalog.Item{
		{ID: "a", URL: "/f/a.wav"},
		{ID: "b", URL: "/f/b.wav"},
	}
}

func newOrchestrator(cat CatalogSource, st FileStager, tr Transcriber, rep ResultSink) *Orchestrator {
	return New(cat, st, tr, rep, RunConfig{
		AudioSetID: "set-1",
		Category:   "news",
		DeviceName: "test host",
	}, Options{Telemetry: fakeTelemetry{}})
}

// ── scenarios ────────────────────────────────────────────────────────────────

func TestRun_HappyPath(t *testing.T) {
	st := newFakeStager()
	rep := newFakeReporter()
	rep.cers["a"] = 0.02
	rep.cers["b"] = 0.08

	o := newOrchestrator(&fakeCatalog{items: twoItems()}, st, &fakeTranscriber{text: "hello"}, rep)
	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := o.Snapshot()
	if snap.State != StateCompleted {
		t.Errorf("expected completed state, got %s", snap.State)
	}
	if len(snap.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(snap.Results))
	}
	for _, r := range snap.Results {
		if r.Status != FileStatusCompleted {
			t.Errorf("item %s: expected completed, got %s", r.ID, r.Status)
		}
		if r.Transcript != "hello" {
			t.Errorf("item %s: expected transcript recorded, got %q", r.ID, r.Transcript)
		}
	}

	if summary.AverageCER == nil {
		t.Fatal("expected average CER to be set")
	}
	if diff := *summary.AverageCER - 0.05; diff < -1e-9 || diff > 1e-9 {
		t.Errorf("expected average CER 0.05, got %v", *summary.AverageCER)
	}
	if summary.Completed != 2 {
		t.Errorf("expected 2 completed, got %d", summary.Completed)
	}
	if rep.uploadCount() != 2 {
		t.Errorf("expected 2 uploads, got %d", rep.uploadCount())
	}
	if st.stagedCount() != 0 {
		t.Errorf("expected staged files released, %d remain", st.stagedCount())
	}
}

func TestRun_MidRunDownloadFailure(t *testing.T) {
	st := newFakeStager()
	st.failFor["b"] = fmt.Errorf("stager: download item %q: HTTP 500: disk offline", "b")
	rep := newFakeReporter()
	rep.cers["a"] = 0.02

	o := newOrchestrator(&fakeCatalog{items: twoItems()}, st, &fakeTranscriber{text: "hi"}, rep)
	_, err := o.Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "HTTP 500") {
		t.Errorf("expected HTTP 500 in error, got %q", err.Error())
	}

	snap := o.Snapshot()
	if snap.State != StateError {
		t.Errorf("expected error state, got %s", snap.State)
	}
	if !strings.Contains(snap.Message, "HTTP 500") {
		t.Errorf("expected HTTP 500 in state message, got %q", snap.Message)
	}
	if snap.Results[0].Status != FileStatusCompleted {
		t.Errorf("item a must stay completed, got %s", snap.Results[0].Status)
	}
	if snap.Results[1].Status != FileStatusError {
		t.Errorf("item b: expected error status, got %s", snap.Results[1].Status)
	}
	if rep.uploadCount() != 1 {
		t.Errorf("expected only item a uploaded, got %d uploads", rep.uploadCount())
	}
	if st.stagedCount() != 0 {
		t.Errorf("expected staged files released on error path, %d remain", st.stagedCount())
	}
}

func TestRun_CancelDuringTranscription(t *testing.T) {
	st := newFakeStager()
	rep := newFakeReporter()
	tr := &fakeTranscriber{
		text:    "partial",
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}

	items := []catalog.Item{
		{ID: "a", URL: "/f/a.wav"},
		{ID: "b", URL: "/f/b.wav"},
		{ID: "c", URL: "/f/c.wav"},
	}
	o := newOrchestrator(&fakeCatalog{items: items}, st, tr, rep)

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background())
		done <- err
	}()

	<-tr.started // item 1 is in-flight in the engine
	o.Cancel()
	close(tr.block) // let the in-flight call return

	err := <-done
	if !errors.Is(err, ErrRunCancelled) {
		t.Fatalf("expected ErrRunCancelled, got %v", err)
	}

	snap := o.Snapshot()
	if snap.State != StateIdle {
		t.Errorf("expected idle after cancellation, got %s", snap.State)
	}
	if rep.uploadCount() != 0 {
		t.Errorf("expected no partial upload, got %d", rep.uploadCount())
	}
	if st.stagedCount() != 0 {
		t.Errorf("expected staged files released on cancel, %d remain", st.stagedCount())
	}
}

func TestRun_EmptyCatalog(t *testing.T) {
	st := newFakeStager()
	o := newOrchestrator(&fakeCatalog{items: nil}, st, &fakeTranscriber{}, newFakeReporter())

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Snapshot().State != StateCompleted {
		t.Errorf("expected completed, got %s", o.Snapshot().State)
	}
	if summary.AverageCER != nil {
		t.Errorf("expected unset average CER, got %v", *summary.AverageCER)
	}
	if summary.TotalProcessingTime != 0 {
		t.Errorf("expected zero total processing time, got %v", summary.TotalProcessingTime)
	}
}

func TestRun_FetchFailure(t *testing.T) {
	st := newFakeStager()
	o := newOrchestrator(&fakeCatalog{err: errors.New("catalog: fetch audio set \"set-1\": HTTP 503: down")}, st, &fakeTranscriber{}, newFakeReporter())

	_, err := o.Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if o.Snapshot().State != StateError {
		t.Errorf("expected error state, got %s", o.Snapshot().State)
	}
	if st.releases == 0 {
		t.Error("expected ReleaseAll on fetch-failure path")
	}
}

func TestRun_UploadFailureAborts(t *testing.T) {
	st := newFakeStager()
	rep := newFakeReporter()
	rep.errFor["a"] = errors.New("report: upload result for \"a\": HTTP 503: maintenance")

	o := newOrchestrator(&fakeCatalog{items: twoItems()}, st, &fakeTranscriber{text: "x"}, rep)
	_, err := o.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "HTTP 503") {
		t.Fatalf("expected upload error, got %v", err)
	}

	snap := o.Snapshot()
	if snap.Results[0].Status != FileStatusError {
		t.Errorf("expected item a in error status, got %s", snap.Results[0].Status)
	}
	if snap.Results[1].Status != FileStatusPending {
		t.Errorf("expected item b untouched, got %s", snap.Results[1].Status)
	}
}

func TestRun_EngineNotReady(t *testing.T) {
	st := newFakeStager()
	o := newOrchestrator(&fakeCatalog{items: twoItems()}, st, &fakeTranscriber{err: asr.ErrEngineNotReady}, newFakeReporter())

	_, err := o.Run(context.Background())
	if !errors.Is(err, asr.ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if o.Snapshot().State != StateError {
		t.Errorf("expected error state, got %s", o.Snapshot().State)
	}
}

func TestRun_RejectsSecondActiveRun(t *testing.T) {
	st := newFakeStager()
	tr := &fakeTranscriber{
		text:    "x",
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	o := newOrchestrator(&fakeCatalog{items: twoItems()}, st, tr, newFakeReporter())

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background())
		done <- err
	}()
	<-tr.started

	if _, err := o.Run(context.Background()); !errors.Is(err, ErrRunActive) {
		t.Errorf("expected ErrRunActive for concurrent run, got %v", err)
	}

	close(tr.block)
	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
}

func TestRun_ContextCancellation(t *testing.T) {
	st := newFakeStager()
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already cancelled: observed at the first check point

	o := newOrchestrator(&fakeCatalog{items: twoItems()}, st, &fakeTranscriber{text: "x"}, newFakeReporter())
	_, err := o.Run(ctx)
	if !errors.Is(err, ErrRunCancelled) {
		t.Fatalf("expected ErrRunCancelled, got %v", err)
	}
	if o.Snapshot().State != StateIdle {
		t.Errorf("expected idle, got %s", o.Snapshot().State)
	}
}

// ── reset & aggregation ──────────────────────────────────────────────────────

func TestReset_AfterCompletion(t *testing.T) {
	st := newFakeStager()
	o := newOrchestrator(&fakeCatalog{items: twoItems()}, st, &fakeTranscriber{text: "x"}, newFakeReporter())
	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if err := o.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	snap := o.Snapshot()
	if snap.State != StateIdle {
		t.Errorf("expected idle after reset, got %s", snap.State)
	}
	if len(snap.Results) != 0 {
		t.Errorf("expected results cleared, got %d", len(snap.Results))
	}
	if snap.Summary != nil {
		t.Error("expected summary cleared")
	}
}

func TestReset_IdleIsNoOp(t *testing.T) {
	st := newFakeStager()
	o := newOrchestrator(&fakeCatalog{}, st, &fakeTranscriber{}, newFakeReporter())

	if err := o.Reset(); err != nil {
		t.Fatalf("reset on idle: %v", err)
	}
	if err := o.Reset(); err != nil {
		t.Fatalf("second reset on idle: %v", err)
	}
	if o.Snapshot().State != StateIdle {
		t.Errorf("expected idle, got %s", o.Snapshot().State)
	}
}

func TestSummarize_TotalsAndMean(t *testing.T) {
	cer1, cer2 := 0.1, 0.3
	results := []*ItemResult{
		{Status: FileStatusCompleted, ProcessingTime: 2 * time.Second, CER: &cer1},
		{Status: FileStatusCompleted, ProcessingTime: 3 * time.Second, CER: &cer2},
		{Status: FileStatusCompleted, ProcessingTime: time.Second}, // no CER: excluded, not zero
	}

	s := summarize(results)
	if s.TotalProcessingTime != 6*time.Second {
		t.Errorf("expected total 6s, got %v", s.TotalProcessingTime)
	}
	if s.AverageCER == nil {
		t.Fatal("expected mean CER set")
	}
	if diff := *s.AverageCER - 0.2; diff < -1e-9 || diff > 1e-9 {
		t.Errorf("expected mean 0.2 over present values only, got %v", *s.AverageCER)
	}
	if s.Completed != 3 {
		t.Errorf("expected 3 completed, got %d", s.Completed)
	}
}

func TestSummarize_NoCERsLeavesMeanUnset(t *testing.T) {
	s := summarize([]*ItemResult{{Status: FileStatusCompleted, ProcessingTime: time.Second}})
	if s.AverageCER != nil {
		t.Errorf("expected nil mean CER, got %v", *s.AverageCER)
	}
}

func TestUploadPayload_BuiltFromAdapterMetadata(t *testing.T) {
	st := newFakeStager()
	rep := newFakeReporter()
	o := New(&fakeCatalog{items: twoItems()[:1]}, st, &fakeTranscriber{text: "x"}, rep, RunConfig{
		AudioSetID:  "set-1",
		DeviceName:  "bench box",
		DeviceModel: "NUC13",
		Memo:        "nightly",
	}, Options{Telemetry: fakeTelemetry{}})

	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	up := rep.uploads[0]
	if up.Engine.Name != "fake_engine" {
		t.Errorf("expected engine metadata from adapter, got %q", up.Engine.Name)
	}
	if up.DeviceName != "bench box" {
		t.Errorf("expected device name passed through, got %q", up.DeviceName)
	}
	if up.Environment["thermal_state"] != "nominal" {
		t.Errorf("expected thermal state in environment, got %v", up.Environment)
	}
	if up.Environment["model"] != "NUC13" {
		t.Errorf("expected device model in environment, got %v", up.Environment)
	}
	if up.Memo != "nightly" {
		t.Errorf("expected memo passed through, got %q", up.Memo)
	}
}
