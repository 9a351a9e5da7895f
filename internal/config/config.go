// Package config loads the benchmark configuration from a YAML file with
// ASRBENCH_* environment variable overrides.
package config

import (
	"fmt"
	"os"
)

const (
	// DefaultTimeoutSeconds applies to catalog, download, and upload requests.
	DefaultTimeoutSeconds = 30
	DefaultEngine         = "whisper_cpp"
	DefaultReportPath     = "asrbench-report"
)

// EngineNames lists the transcription engines the benchmark can drive.
var EngineNames = []string{"whisper_cpp", "speech_api"}

// Config is the full benchmark configuration.
type Config struct {
	// BaseURL is the benchmark service root, e.g. "https://bench.example.com".
	BaseURL string `yaml:"base_url"`
	// AudioSetID selects the audio set to benchmark.
	AudioSetID string `yaml:"audio_set_id"`
	// Category optionally filters the catalog server-side.
	Category string `yaml:"category"`

	Engine      string `yaml:"engine"`
	DeviceName  string `yaml:"device_name"`
	DeviceModel string `yaml:"device_model"`
	Memo        string `yaml:"memo"`

	// ScratchDir holds staged audio during a run. Empty means a fresh
	// temporary directory per run.
	ScratchDir string `yaml:"scratch_dir"`
	// ListenAddr enables the status server when non-empty, e.g. ":9090".
	ListenAddr string `yaml:"listen_addr"`

	TimeoutSeconds int `yaml:"timeout_seconds"`

	Report    ReportConfig    `yaml:"report"`
	Whisper   WhisperConfig   `yaml:"whisper"`
	SpeechAPI SpeechAPIConfig `yaml:"speech_api"`
}

// ReportConfig controls the local run report.
type ReportConfig struct {
	// Path is the report file path without extension.
	Path string `yaml:"path"`
	// Formats lists report formats to write: "json", "md".
	Formats []string `yaml:"formats"`
}

// WhisperConfig configures the whisper.cpp CLI engine.
type WhisperConfig struct {
	BinaryPath     string `yaml:"binary_path"`
	ModelPath      string `yaml:"model_path"`
	Model          string `yaml:"model"`
	ModelVersion   string `yaml:"model_version"`
	Language       string `yaml:"language"`
	Threads        int    `yaml:"threads"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// SpeechAPIConfig configures the remote speech API engine.
type SpeechAPIConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIToken       string `yaml:"api_token"`
	Model          string `yaml:"model"`
	ModelVersion   string `yaml:"model_version"`
	Language       string `yaml:"language"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Validate applies defaults and rejects configurations the benchmark cannot
// run with.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("config: base_url is required")
	}
	if c.AudioSetID == "" {
		return fmt.Errorf("config: audio_set_id is required")
	}
	if c.Engine == "" {
		c.Engine = DefaultEngine
	}
	if !validEngine(c.Engine) {
		return fmt.Errorf("config: unknown engine %q (supported: %v)", c.Engine, EngineNames)
	}
	if c.DeviceName == "" {
		host, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("config: device_name is empty and hostname lookup failed: %w", err)
		}
		c.DeviceName = host
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.Report.Path == "" {
		c.Report.Path = DefaultReportPath
	}

	switch c.Engine {
	case "whisper_cpp":
		if c.Whisper.BinaryPath == "" {
			return fmt.Errorf("config: whisper.binary_path is required for engine whisper_cpp")
		}
		if c.Whisper.ModelPath == "" {
			return fmt.Errorf("config: whisper.model_path is required for engine whisper_cpp")
		}
	case "speech_api":
		if c.SpeechAPI.BaseURL == "" {
			return fmt.Errorf("config: speech_api.base_url is required for engine speech_api")
		}
	}
	return nil
}

func validEngine(name string) bool {
	for _, n := range EngineNames {
		if n == name {
			return true
		}
	}
	return false
}
