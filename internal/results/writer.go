// Package results writes the benchmark run report to disk. Files are
// written atomically (temp file + rename) to avoid partial reports.
package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mfukui/asrbench/internal/bench"
)

// Report is the persisted view of one finished run.
type Report struct {
	AudioSetID string             `json:"audio_set_id"`
	Category   string             `json:"category,omitempty"`
	EngineName string             `json:"engine_name"`
	FinishedAt time.Time          `json:"finished_at"`
	Items      []bench.ItemResult `json:"items"`
	Summary    bench.Summary      `json:"summary"`
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(path string, r *Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return atomicWrite(path, append(data, '\n'))
}

// WriteMarkdown writes a human-readable report: one table row per item plus
// the aggregate summary.
func WriteMarkdown(path string, r *Report) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Benchmark run — %s\n\n", r.AudioSetID)
	fmt.Fprintf(&b, "- Engine: %s\n", r.EngineName)
	if r.Category != "" {
		fmt.Fprintf(&b, "- Category: %s\n", r.Category)
	}
	fmt.Fprintf(&b, "- Finished: %s\n", r.FinishedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Items: %d (%d completed)\n", r.Summary.Items, r.Summary.Completed)
	fmt.Fprintf(&b, "- Total processing time: %s\n", r.Summary.TotalProcessingTime)
	if r.Summary.AverageCER != nil {
		fmt.Fprintf(&b, "- Average CER: %.4f\n", *r.Summary.AverageCER)
	} else {
		b.WriteString("- Average CER: n/a\n")
	}

	b.WriteString("\n| File | Status | Duration | CER |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, item := range r.Items {
		cer := "—"
		if item.CER != nil {
			cer = fmt.Sprintf("%.4f", *item.CER)
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", item.FileName, item.Status, item.ProcessingTime, cer)
	}

	return atomicWrite(path, []byte(b.String()))
}

// WriteAll writes the report in every requested format. basePath is the
// file path without extension. Supported formats: "json", "md". If formats
// is nil or empty, defaults to ["json"]. Returns a combined error listing
// all failures.
func WriteAll(basePath string, r *Report, formats []string) error {
	if len(formats) == 0 {
		formats = []string{"json"}
	}
	var errs []string
	for _, f := range formats {
		var err error
		switch f {
		case "json":
			err = WriteJSON(basePath+".json", r)
		case "md":
			err = WriteMarkdown(basePath+".md", r)
		default:
			errs = append(errs, fmt.Sprintf("unknown format %q", f))
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", f, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("report write errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// atomicWrite writes data to path atomically using a temp file + rename.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, "report-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Ensure cleanup on error.
	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("syncing report: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing report: %w", err)
	}
	tmpFile = nil // prevent defer cleanup

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming report: %w", err)
	}
	return nil
}
