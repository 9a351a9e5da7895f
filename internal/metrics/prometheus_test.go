package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mfukui/asrbench/testutil"
)

func TestRecordersUpdateCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordRunStarted()
	m.RecordCatalog(4)
	m.RecordCurrentItem(2)
	cer := 0.05
	m.RecordItemCompleted(1.5, &cer)
	m.RecordItemCompleted(2.0, nil)
	m.RecordRunCompleted()

	testutil.AssertEqual(t, 1.0, promtestutil.ToFloat64(m.RunsStarted), "runs started")
	testutil.AssertEqual(t, 1.0, promtestutil.ToFloat64(m.RunsCompleted), "runs completed")
	testutil.AssertEqual(t, 2.0, promtestutil.ToFloat64(m.ItemsCompleted), "items completed")
	testutil.AssertEqual(t, 4.0, promtestutil.ToFloat64(m.CatalogSize), "catalog size")
	testutil.AssertEqual(t, 2.0, promtestutil.ToFloat64(m.CurrentItem), "current item")
}

func TestRecordFailure_PerPhase(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordFailure("fetch")
	m.RecordFailure("download")
	m.RecordFailure("transcribe")
	m.RecordFailure("upload")
	m.RecordFailure("unknown-phase")

	testutil.AssertEqual(t, 5.0, promtestutil.ToFloat64(m.RunsFailed), "runs failed")
	testutil.AssertEqual(t, 1.0, promtestutil.ToFloat64(m.FetchFailures), "fetch failures")
	testutil.AssertEqual(t, 1.0, promtestutil.ToFloat64(m.DownloadFailures), "download failures")
	testutil.AssertEqual(t, 1.0, promtestutil.ToFloat64(m.TranscriptionFailures), "transcription failures")
	testutil.AssertEqual(t, 1.0, promtestutil.ToFloat64(m.UploadFailures), "upload failures")
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordRunStarted()
	m.RecordCatalog(1)
	m.RecordCurrentItem(1)
	m.RecordItemCompleted(1.0, nil)
	m.RecordRunCompleted()
	m.RecordRunCancelled()
	m.RecordFailure("fetch")
}
