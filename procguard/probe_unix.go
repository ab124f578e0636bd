//go:build unix

package procguard

import (
	"errors"

	"golang.org/x/sys/unix"
)

// pidAlive sends signal 0. EPERM means the process exists but belongs to
// another user, which still counts as alive.
func pidAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, unix.EPERM)
}
