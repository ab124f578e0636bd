//go:build windows

package procguard

import "os"

func pidAlive(pid int) bool {
	// FindProcess succeeds for any pid on Windows; the missing-process case
	// surfaces when signaling. Treat a found handle as alive.
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = proc.Release()
	return true
}
