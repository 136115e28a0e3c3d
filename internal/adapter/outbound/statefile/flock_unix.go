//go:build !windows

package statefile

import "golang.org/x/sys/unix"

// flockLock acquires an exclusive lock, blocking until available.
func flockLock(fd uintptr) error {
	return unix.Flock(int(fd), unix.LOCK_EX)
}

// flockUnlock releases the lock.
func flockUnlock(fd uintptr) error {
	return unix.Flock(int(fd), unix.LOCK_UN)
}
