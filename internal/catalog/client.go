// Package catalog fetches the list of audio items to benchmark from the
// benchmark service.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mfukui/asrbench/internal/diaglog"
)

// Item identifies one benchmark sample. Immutable once fetched.
type Item struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// FetchError reports a failed catalog fetch: transport error, non-2xx
// status, or an undecodable response body.
type FetchError struct {
	SetID  string
	Status int // 0 on transport/decode errors
	Body   string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("catalog: fetch audio set %q: HTTP %d: %s", e.SetID, e.Status, e.Body)
	}
	return fmt.Sprintf("catalog: fetch audio set %q: %v", e.SetID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Config configures the catalog client.
type Config struct {
	BaseURL        string
	TimeoutSeconds int // default 30
}

// Client fetches audio-set file listings over HTTP. One round trip per run,
// no retries.
type Client struct {
	cfg    Config
	client *http.Client
	logger *diaglog.Logger
}

// NewClient creates a catalog client.
func NewClient(cfg Config) *Client {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 30
	}
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		logger: diaglog.NewNoOp(),
	}
}

// SetLogger injects a diaglog.Logger for debug logging.
func (c *Client) SetLogger(l *diaglog.Logger) {
	if l != nil {
		c.logger = l
	}
}

// listResponse mirrors the JSON shape returned by the audio-set endpoint.
type listResponse struct {
	AudioSetID string `json:"audio_set_id"`
	Category   string `json:"category"`
	Files      []Item `json:"files"`
}

// Fetch retrieves the catalog for one audio set and category.
func (c *Client) Fetch(ctx context.Context, setID, category string) ([]Item, error) {
	endpoint := fmt.Sprintf("%s/api/v1/audio_sets/%s/files", strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(setID))
	if category != "" {
		endpoint += "?category=" + url.QueryEscape(category)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FetchError{SetID: setID, Err: fmt.Errorf("create request: %w", err)}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &FetchError{SetID: setID, Err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{SetID: setID, Err: fmt.Errorf("read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{SetID: setID, Status: resp.StatusCode, Body: truncate(body, 200)}
	}

	var parsed listResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &FetchError{SetID: setID, Err: fmt.Errorf("decode response: %w", err)}
	}

	c.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentCatalog,
		Event:     diaglog.EventCatalogFetched,
		Payload: map[string]interface{}{
			"audio_set_id": parsed.AudioSetID,
			"category":     parsed.Category,
			"files":        len(parsed.Files),
		},
	})

	return parsed.Files, nil
}

// truncate returns the first n bytes of body as a string.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
