// Package report uploads transcription results to the benchmark service and
// parses the error metrics it computes in return.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mfukui/asrbench/internal/asr"
	"github.com/mfukui/asrbench/internal/diaglog"
)

// UploadError reports a failed result upload.
type UploadError struct {
	FileID string
	Status int // 0 on transport/decode errors
	Body   string
	Err    error
}

func (e *UploadError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("report: upload result for %q: HTTP %d: %s", e.FileID, e.Status, e.Body)
	}
	return fmt.Sprintf("report: upload result for %q: %v", e.FileID, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Upload is one transcribed item to report.
type Upload struct {
	FileID         string
	Text           string
	ProcessingTime time.Duration
	Engine         asr.Metadata
	DeviceName     string
	Environment    map[string]string // os, thermal_state, model
	Memo           string
}

// Outcome carries the error metrics the service computed for an upload.
// All fields are optional; a nil CER means the service produced none.
type Outcome struct {
	ID              string
	Status          string
	CER             *float64
	ReferenceLength *int
	HypothesisLen   *int
	Hits            *int
	Substitutions   *int
	Deletions       *int
	Insertions      *int
}

// Config configures the reporter.
type Config struct {
	BaseURL        string
	TimeoutSeconds int // default 30
}

// Reporter posts transcription results. One request per item, no retries.
type Reporter struct {
	cfg    Config
	client *http.Client
	logger *diaglog.Logger
}

// NewReporter creates a reporter.
func NewReporter(cfg Config) *Reporter {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 30
	}
	return &Reporter{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		logger: diaglog.NewNoOp(),
	}
}

// SetLogger injects a diaglog.Logger for debug logging.
func (r *Reporter) SetLogger(l *diaglog.Logger) {
	if l != nil {
		r.logger = l
	}
}

// uploadRequest mirrors the JSON body the service accepts.
type uploadRequest struct {
	FileID          string            `json:"file_id"`
	EngineName      string            `json:"engine_name"`
	EngineVersion   string            `json:"engine_version,omitempty"`
	ASRModel        string            `json:"asr_model,omitempty"`
	ASRModelVersion string            `json:"asr_model_version,omitempty"`
	ProcessingTime  *float64          `json:"processing_time,omitempty"`
	EnvironmentName string            `json:"environment_name,omitempty"`
	EnvironmentInfo map[string]string `json:"environment_info,omitempty"`
	TranscribedText string            `json:"transcribed_text,omitempty"`
	Memo            string            `json:"memo,omitempty"`
}

// uploadResponse mirrors the JSON body the service returns.
type uploadResponse struct {
	ID              string   `json:"id"`
	Status          string   `json:"status"`
	FileID          string   `json:"file_id"`
	CER             *float64 `json:"cer"`
	ReferenceLength *int     `json:"reference_length"`
	HypothesisLen   *int     `json:"hypothesis_length"`
	Hits            *int     `json:"hits"`
	Substitutions   *int     `json:"substitutions"`
	Deletions       *int     `json:"deletions"`
	Insertions      *int     `json:"insertions"`
	CreatedAt       string   `json:"created_at"`
}

// Send uploads one result. 200 and 201 are the acceptable status codes;
// everything else fails with the response body surfaced in the error.
func (r *Reporter) Send(ctx context.Context, up Upload) (Outcome, error) {
	seconds := up.ProcessingTime.Seconds()
	payload := uploadRequest{
		FileID:          up.FileID,
		EngineName:      up.Engine.Name,
		EngineVersion:   up.Engine.Version,
		ASRModel:        up.Engine.Model,
		ASRModelVersion: up.Engine.ModelVersion,
		ProcessingTime:  &seconds,
		EnvironmentName: EnvironmentName(up.DeviceName, up.Engine.Name, up.Engine.Model),
		EnvironmentInfo: up.Environment,
		TranscribedText: up.Text,
		Memo:            up.Memo,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Outcome{}, &UploadError{FileID: up.FileID, Err: fmt.Errorf("encode request: %w", err)}
	}

	endpoint := strings.TrimRight(r.cfg.BaseURL, "/") + "/api/v1/transcription_results"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Outcome{}, &UploadError{FileID: up.FileID, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return Outcome{}, &UploadError{FileID: up.FileID, Err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{}, &UploadError{FileID: up.FileID, Err: fmt.Errorf("read response body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Outcome{}, &UploadError{FileID: up.FileID, Status: resp.StatusCode, Body: truncate(respBody, 200)}
	}

	var parsed uploadResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Outcome{}, &UploadError{FileID: up.FileID, Err: fmt.Errorf("decode response: %w", err)}
	}

	r.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentReporter,
		Event:     diaglog.EventItemUploaded,
		ItemID:    up.FileID,
		Payload: map[string]interface{}{
			"status": parsed.Status,
			"cer":    parsed.CER,
		},
	})

	return Outcome{
		ID:              parsed.ID,
		Status:          parsed.Status,
		CER:             parsed.CER,
		ReferenceLength: parsed.ReferenceLength,
		HypothesisLen:   parsed.HypothesisLen,
		Hits:            parsed.Hits,
		Substitutions:   parsed.Substitutions,
		Deletions:       parsed.Deletions,
		Insertions:      parsed.Insertions,
	}, nil
}

// EnvironmentName builds the engine-instance fingerprint: device name with
// all whitespace stripped, joined with engine name and model/locale.
func EnvironmentName(device, engine, model string) string {
	device = strings.Join(strings.Fields(device), "")
	parts := make([]string, 0, 3)
	for _, p := range []string{device, engine, model} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "-")
}

// truncate returns the first n bytes of body as a string.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
