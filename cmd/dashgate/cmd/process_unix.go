//go:build !windows

package cmd

import (
	"errors"
	"os"
	"syscall"
)

// gracefulSignals are the signals that start a graceful shutdown or end a
// watch: SIGINT from Ctrl+C and SIGTERM from dashgate stop.
func gracefulSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// processIsAlive probes proc with signal 0. EPERM means the process exists
// but belongs to another user.
func processIsAlive(proc *os.Process) bool {
	err := proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// sendGracefulStop sends SIGTERM; the server drains requests and flushes
// audit records before exiting.
func sendGracefulStop(proc *os.Process) error {
	return proc.Signal(syscall.SIGTERM)
}
