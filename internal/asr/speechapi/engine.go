// Package speechapi is the hosted engine: it sends audio to a remote speech
// recognition HTTP API. Unlike a production client it performs no retries —
// a retried call would fold network variance into the measured run.
package speechapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mfukui/asrbench/internal/asr"
)

// Config configures the remote speech API engine.
type Config struct {
	BaseURL        string
	Token          string // optional auth token, sent as Bearer
	Model          string // default "small"
	ModelVersion   string // optional
	Language       string // "" = auto-detect
	TimeoutSeconds int    // default 120
}

// Engine is an asr.Engine that calls a remote speech HTTP API.
type Engine struct {
	cfg    Config
	client *http.Client
}

// NewEngine creates a remote speech API engine.
func NewEngine(cfg Config) *Engine {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 120
	}
	if cfg.Model == "" {
		cfg.Model = "small"
	}
	return &Engine{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// Name returns the engine identifier.
func (e *Engine) Name() string {
	return "speech_api"
}

// Metadata describes this engine instance for result reporting.
func (e *Engine) Metadata() asr.Metadata {
	return asr.Metadata{
		Name:         e.Name(),
		Model:        e.cfg.Model,
		ModelVersion: e.cfg.ModelVersion,
	}
}

// transcribeResponse mirrors the JSON shape returned by the remote API.
type transcribeResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Model    string `json:"model"`
}

// TranscribeFile sends the audio file to the remote API and returns the
// recognised text. A single request; failures propagate to the caller.
func (e *Engine) TranscribeFile(ctx context.Context, filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("speechapi: open audio file: %w", err)
	}
	defer f.Close()

	// Stream the multipart body through a pipe so large files are not
	// buffered in memory.
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	errCh := make(chan error, 1)
	go func() {
		defer pw.Close()

		part, err := writer.CreateFormFile("file", filepath.Base(filePath))
		if err != nil {
			errCh <- fmt.Errorf("create form file: %w", err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			errCh <- fmt.Errorf("copy audio data: %w", err)
			return
		}
		_ = writer.WriteField("model", e.cfg.Model)
		_ = writer.WriteField("language", e.cfg.Language)

		errCh <- writer.Close()
	}()

	url := e.cfg.BaseURL + "/v1/transcribe"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		return "", fmt.Errorf("speechapi: create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if e.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.Token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("speechapi: http request: %w", err)
	}
	defer resp.Body.Close()

	if writeErr := <-errCh; writeErr != nil {
		return "", fmt.Errorf("speechapi: multipart write: %w", writeErr)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("speechapi: read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("speechapi: http %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var parsed transcribeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("speechapi: decode response: %w", err)
	}

	return parsed.Text, nil
}

// truncate returns the first n bytes of body as a string.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
