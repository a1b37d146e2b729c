package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// stopPollInterval is how often stop checks whether the server exited.
const stopPollInterval = 200 * time.Millisecond

var (
	stopTimeout time.Duration
	stopForce   bool
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running dashgate server",
	Long: `Stop the dashgate server started with 'dashgate start'.

The server's PID is read from ~/.dashgate/server.pid. The server is asked
to shut down gracefully, which lets in-flight dashboard requests finish
and flushes pending audit records. A PID file left by a crashed server is
removed.

Optional flags:
  --timeout   How long to wait for a graceful exit (default 10s)
  --force     Kill the server when it does not exit in time

Examples:
  # Stop the running server
  dashgate stop

  # Wait up to 30s, then kill
  dashgate stop --timeout 30s --force`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 10*time.Second, "how long to wait for a graceful exit")
	stopCmd.Flags().BoolVar(&stopForce, "force", false, "kill the server when it does not exit in time")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	pidPath := pidFilePath()
	errOut := cmd.ErrOrStderr()

	proc, err := runningServer(pidPath)
	if err != nil {
		return err
	}

	fmt.Fprintf(errOut, "Stopping dashgate server (PID %d)...\n", proc.Pid)
	if err := sendGracefulStop(proc); err != nil {
		return fmt.Errorf("signal dashgate server %d: %w", proc.Pid, err)
	}

	alive := func() bool { return processIsAlive(proc) }
	if waitForExit(alive, stopTimeout, stopPollInterval) {
		_ = os.Remove(pidPath)
		fmt.Fprintln(errOut, "Server stopped.")
		return nil
	}

	if !stopForce {
		return fmt.Errorf("dashgate server %d still running after %s; rerun with --force to kill it", proc.Pid, stopTimeout)
	}
	fmt.Fprintf(errOut, "Server still running after %s, killing it...\n", stopTimeout)
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill dashgate server %d: %w", proc.Pid, err)
	}
	_ = os.Remove(pidPath)
	fmt.Fprintln(errOut, "Server killed. Pending audit records may be lost.")
	return nil
}

// runningServer returns the live process recorded in the PID file at path.
// A stale PID file is removed.
func runningServer(path string) (*os.Process, error) {
	pid := readPIDFile(path)
	if pid == 0 {
		return nil, fmt.Errorf("no dashgate PID file at %s: is the server running? Start it with 'dashgate start'", path)
	}
	proc, err := os.FindProcess(pid)
	if err == nil && processIsAlive(proc) {
		return proc, nil
	}
	_ = os.Remove(path)
	return nil, fmt.Errorf("dashgate server %d is not running; removed stale PID file %s", pid, path)
}

// waitForExit polls alive until it reports false or timeout passes. It
// returns true when the process exited.
func waitForExit(alive func() bool, timeout, poll time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if !alive() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(min(poll, time.Until(deadline)))
	}
}
