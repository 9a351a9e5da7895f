package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader reads the YAML config file and applies environment overrides.
// Tests can override Lookup and ReadFile to inject deterministic inputs.
type Loader struct {
	Lookup   func(string) (string, bool)
	ReadFile func(string) ([]byte, error)
}

// Load reads path (optional; empty skips the file), applies ASRBENCH_*
// overrides, and validates the result.
func (l Loader) Load(path string) (Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}
	if l.ReadFile == nil {
		l.ReadFile = os.ReadFile
	}

	var cfg Config
	if path != "" {
		data, err := l.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	overrideString(l.Lookup, "ASRBENCH_BASE_URL", &cfg.BaseURL)
	overrideString(l.Lookup, "ASRBENCH_AUDIO_SET_ID", &cfg.AudioSetID)
	overrideString(l.Lookup, "ASRBENCH_CATEGORY", &cfg.Category)
	overrideString(l.Lookup, "ASRBENCH_ENGINE", &cfg.Engine)
	overrideString(l.Lookup, "ASRBENCH_DEVICE_NAME", &cfg.DeviceName)
	overrideString(l.Lookup, "ASRBENCH_DEVICE_MODEL", &cfg.DeviceModel)
	overrideString(l.Lookup, "ASRBENCH_MEMO", &cfg.Memo)
	overrideString(l.Lookup, "ASRBENCH_SCRATCH_DIR", &cfg.ScratchDir)
	overrideString(l.Lookup, "ASRBENCH_LISTEN_ADDR", &cfg.ListenAddr)
	overrideInt(l.Lookup, "ASRBENCH_TIMEOUT_SECONDS", &cfg.TimeoutSeconds)
	overrideString(l.Lookup, "ASRBENCH_REPORT_PATH", &cfg.Report.Path)
	overrideString(l.Lookup, "ASRBENCH_SPEECH_API_TOKEN", &cfg.SpeechAPI.APIToken)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideInt(lookup func(string) (string, bool), key string, target *int) {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return
	}
	*target = n
}
