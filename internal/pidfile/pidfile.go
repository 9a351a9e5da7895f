// Package pidfile guards against concurrent benchmark runs on the same
// machine. Two benchmarks sharing a device would skew each other's timing
// and thermal readings, so the CLI takes a PID file lock before running.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Lock is a held PID file.
type Lock struct {
	path string
	pid  int
}

// Acquire writes the current PID to path. It fails if the file names a
// live process; a stale file (dead process) is replaced.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("pidfile: create directory: %w", err)
	}

	if data, err := os.ReadFile(path); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
			if processAlive(pid) {
				return nil, fmt.Errorf("pidfile: another benchmark is already running (PID %d)", pid)
			}
			if err := os.Remove(path); err != nil {
				return nil, fmt.Errorf("pidfile: remove stale file: %w", err)
			}
		}
	}

	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", pid)), 0644); err != nil {
		return nil, fmt.Errorf("pidfile: write: %w", err)
	}
	return &Lock{path: path, pid: pid}, nil
}

// Release removes the PID file if it still holds our PID. Releasing a
// nil or already-taken-over lock is a no-op.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil
	}
	if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && pid == l.pid {
		return os.Remove(l.path)
	}
	return nil
}

// DefaultPath returns the conventional PID file location for the benchmark.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".cache", "asrbench", "asrbench.pid")
}

// processAlive reports whether a process with the given PID exists. Signal 0
// probes without delivering anything.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to another user.
	return err == syscall.EPERM
}
