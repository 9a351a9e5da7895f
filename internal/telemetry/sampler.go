// Package telemetry samples device signals (thermal state, memory) that are
// attached to benchmark results for context. Sampling is opportunistic and
// read-only: a missing source degrades to "unknown", never to an error.
package telemetry

import (
	"os"
	"runtime"
	"strconv"
	"strings"
)

// ThermalState is a coarse label derived from the device thermal zone.
type ThermalState string

const (
	ThermalNominal  ThermalState = "nominal"
	ThermalFair     ThermalState = "fair"
	ThermalSerious  ThermalState = "serious"
	ThermalCritical ThermalState = "critical"
	ThermalUnknown  ThermalState = "unknown"
)

// Temperature thresholds in millidegrees Celsius.
const (
	fairMilli     = 60_000
	seriousMilli  = 75_000
	criticalMilli = 90_000
)

// Snapshot is one opportunistic sample of device telemetry.
type Snapshot struct {
	Thermal         ThermalState
	MemAvailableKiB uint64 // 0 when unavailable
	OSVersion       string
}

// Sampler reads device telemetry from procfs/sysfs. The read functions are
// injectable for tests.
type Sampler struct {
	readFile    func(string) ([]byte, error)
	thermalPath string
	meminfoPath string
	releasePath string
}

// NewSampler creates a sampler bound to the standard Linux paths.
func NewSampler() *Sampler {
	return &Sampler{
		readFile:    os.ReadFile,
		thermalPath: "/sys/class/thermal/thermal_zone0/temp",
		meminfoPath: "/proc/meminfo",
		releasePath: "/proc/sys/kernel/osrelease",
	}
}

// Sample takes one snapshot. Every field degrades independently.
func (s *Sampler) Sample() Snapshot {
	return Snapshot{
		Thermal:         s.thermal(),
		MemAvailableKiB: s.memAvailable(),
		OSVersion:       s.osVersion(),
	}
}

// thermal maps the zone temperature onto a coarse state label.
func (s *Sampler) thermal() ThermalState {
	data, err := s.readFile(s.thermalPath)
	if err != nil {
		return ThermalUnknown
	}
	milli, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return ThermalUnknown
	}
	switch {
	case milli >= criticalMilli:
		return ThermalCritical
	case milli >= seriousMilli:
		return ThermalSerious
	case milli >= fairMilli:
		return ThermalFair
	default:
		return ThermalNominal
	}
}

// memAvailable parses MemAvailable from /proc/meminfo, in KiB.
func (s *Sampler) memAvailable() uint64 {
	data, err := s.readFile(s.meminfoPath)
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kib, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kib
	}
	return 0
}

// osVersion combines GOOS with the kernel release when readable.
func (s *Sampler) osVersion() string {
	data, err := s.readFile(s.releasePath)
	if err != nil {
		return runtime.GOOS
	}
	release := strings.TrimSpace(string(data))
	if release == "" {
		return runtime.GOOS
	}
	return runtime.GOOS + "-" + release
}
