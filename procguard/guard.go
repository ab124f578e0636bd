// Package procguard enforces single-instance execution through an advisory
// pid file. A leftover file from a crashed run does not block a restart: the
// guard only refuses to start while the recorded pid is still alive.
package procguard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrAlreadyRunning reports that another live worker holds the pid file.
var ErrAlreadyRunning = errors.New("worker already running")

type Options struct {
	// ProbePID reports whether a pid belongs to a live process. Defaults to a
	// kill(pid, 0) probe.
	ProbePID func(pid int) bool
	// SelfPID overrides os.Getpid, for tests.
	SelfPID int
}

type Guard struct {
	pidPath  string
	cleanups []string
}

// Acquire checks the pid file and claims it. extraCleanup paths (such as the
// heartbeat snapshot) are removed together with the pid file on Release.
func Acquire(pidPath string, opts Options, extraCleanup ...string) (*Guard, error) {
	probe := opts.ProbePID
	if probe == nil {
		probe = pidAlive
	}
	self := opts.SelfPID
	if self == 0 {
		self = os.Getpid()
	}

	if data, err := os.ReadFile(pidPath); err == nil {
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(data))); perr == nil && pid > 0 && pid != self && probe(pid) {
			return nil, fmt.Errorf("%w: pid %d holds %s", ErrAlreadyRunning, pid, pidPath)
		}
		// Stale file from a dead process; claim it below.
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read pid file %s: %w", pidPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(pidPath), 0o755); err != nil {
		return nil, fmt.Errorf("create runtime dir: %w", err)
	}
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(self)+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("write pid file %s: %w", pidPath, err)
	}
	return &Guard{pidPath: pidPath, cleanups: extraCleanup}, nil
}

// Release removes the pid file and any registered cleanup paths. Safe to call
// more than once.
func (g *Guard) Release() {
	if g == nil {
		return
	}
	_ = os.Remove(g.pidPath)
	for _, path := range g.cleanups {
		if strings.TrimSpace(path) == "" {
			continue
		}
		_ = os.Remove(path)
	}
}
