//go:build !windows

package state

import "syscall"

// lockExclusive takes the writer lock on fd.
func lockExclusive(fd uintptr) error {
	return syscall.Flock(int(fd), syscall.LOCK_EX)
}

// lockShared takes a reader lock on fd.
func lockShared(fd uintptr) error {
	return syscall.Flock(int(fd), syscall.LOCK_SH)
}

func unlock(fd uintptr) error {
	return syscall.Flock(int(fd), syscall.LOCK_UN)
}
