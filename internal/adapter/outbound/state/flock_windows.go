//go:build windows

package state

import "golang.org/x/sys/windows"

// lockExclusive takes the writer lock on fd. Blocks like flock(LOCK_EX).
func lockExclusive(fd uintptr) error {
	var ol windows.Overlapped
	return windows.LockFileEx(windows.Handle(fd), windows.LOCKFILE_EXCLUSIVE_LOCK, 0, 1, 0, &ol)
}

// lockShared takes a reader lock on fd.
func lockShared(fd uintptr) error {
	var ol windows.Overlapped
	return windows.LockFileEx(windows.Handle(fd), 0, 0, 1, 0, &ol)
}

func unlock(fd uintptr) error {
	var ol windows.Overlapped
	return windows.UnlockFileEx(windows.Handle(fd), 0, 1, 0, &ol)
}
