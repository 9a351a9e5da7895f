// Package stager downloads remote audio items into process-scoped scratch
// storage and guarantees their removal afterward.
package stager

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mfukui/asrbench/internal/catalog"
	"github.com/mfukui/asrbench/internal/diaglog"
)

// StagedFile is one downloaded item tracked for cleanup.
type StagedFile struct {
	ItemID    string
	LocalPath string
}

// DownloadError reports a failed item download.
type DownloadError struct {
	ItemID string
	Status int // 0 on transport errors
	Body   string
	Err    error
}

func (e *DownloadError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("stager: download item %q: HTTP %d: %s", e.ItemID, e.Status, e.Body)
	}
	return fmt.Sprintf("stager: download item %q: %v", e.ItemID, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Config configures the stager.
type Config struct {
	BaseURL        string
	ScratchDir     string // defaults to a fresh os.MkdirTemp directory
	TimeoutSeconds int    // per-download, default 120
}

// Stager downloads catalog items and tracks every staged file until
// ReleaseAll is called. Once a file is staged it is owned by the Stager
// until released.
type Stager struct {
	cfg    Config
	client *http.Client
	logger *diaglog.Logger

	mu     sync.Mutex
	staged map[string]string // item id → local path
}

// New creates a stager. When cfg.ScratchDir is empty a process-scoped
// temporary directory is created.
func New(cfg Config) (*Stager, error) {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 120
	}
	if cfg.ScratchDir == "" {
		dir, err := os.MkdirTemp("", "asrbench-*")
		if err != nil {
			return nil, fmt.Errorf("stager: create scratch directory: %w", err)
		}
		cfg.ScratchDir = dir
	} else if err := os.MkdirAll(cfg.ScratchDir, 0755); err != nil {
		return nil, fmt.Errorf("stager: create scratch directory %s: %w", cfg.ScratchDir, err)
	}

	return &Stager{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		logger: diaglog.NewNoOp(),
		staged: make(map[string]string),
	}, nil
}

// SetLogger injects a diaglog.Logger for debug logging.
func (s *Stager) SetLogger(l *diaglog.Logger) {
	if l != nil {
		s.logger = l
	}
}

// ScratchDir returns the directory staged files are written to.
func (s *Stager) ScratchDir() string {
	return s.cfg.ScratchDir
}

// Stage downloads one item into scratch storage under a freshly generated
// unique name, preserving the original file extension.
func (s *Stager) Stage(ctx context.Context, item catalog.Item) (StagedFile, error) {
	endpoint := strings.TrimRight(s.cfg.BaseURL, "/") + item.URL

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return StagedFile{}, &DownloadError{ItemID: item.ID, Err: fmt.Errorf("create request: %w", err)}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return StagedFile{}, &DownloadError{ItemID: item.ID, Err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return StagedFile{}, &DownloadError{ItemID: item.ID, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	localPath := filepath.Join(s.cfg.ScratchDir, randomName()+extensionOf(item.URL))
	f, err := os.Create(localPath)
	if err != nil {
		return StagedFile{}, &DownloadError{ItemID: item.ID, Err: fmt.Errorf("create scratch file: %w", err)}
	}

	written, err := io.Copy(f, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(localPath)
		return StagedFile{}, &DownloadError{ItemID: item.ID, Err: fmt.Errorf("write scratch file: %w", err)}
	}

	s.mu.Lock()
	s.staged[item.ID] = localPath
	s.mu.Unlock()

	s.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentStager,
		Event:     diaglog.EventItemStaged,
		ItemID:    item.ID,
		Payload:   map[string]interface{}{"local_path": localPath, "bytes": written},
	})

	return StagedFile{ItemID: item.ID, LocalPath: localPath}, nil
}

// StagedCount reports how many files are currently tracked.
func (s *Stager) StagedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.staged)
}

// ReleaseAll deletes every staged file currently tracked and clears
// tracking. Deletion errors are swallowed: cleanup must never raise an
// error that masks the run's real outcome.
func (s *Stager) ReleaseAll() {
	s.mu.Lock()
	staged := s.staged
	s.staged = make(map[string]string)
	s.mu.Unlock()

	for id, p := range staged {
		_ = os.Remove(p)
		s.logger.Log(diaglog.LogEntry{
			Component: diaglog.ComponentStager,
			Event:     diaglog.EventScratchReleased,
			ItemID:    id,
			Payload:   map[string]interface{}{"local_path": p},
		})
	}
}

// randomName returns a fresh unique file basename.
func randomName() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// Fall back to a timestamp; collisions are checked by os.Create
		// failing only on permissions, so uniqueness is best-effort here.
		return fmt.Sprintf("item-%d", time.Now().UnixNano())
	}
	return "item-" + hex.EncodeToString(b[:])
}

// extensionOf extracts the file extension from the URL's path suffix.
func extensionOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return path.Ext(rawURL)
	}
	return path.Ext(u.Path)
}
