//go:build !windows

package cmd

import (
	"os"
	"syscall"
)

// gracefulSignals lists the signals that drain verdictd cleanly:
// SIGINT from an operator's Ctrl+C, SIGTERM from `verdictd stop` or a
// process supervisor.
func gracefulSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// processIsAlive probes the PID-file process with the null signal.
func processIsAlive(proc *os.Process) bool {
	return proc.Signal(syscall.Signal(0)) == nil
}

// sendGracefulStop asks the daemon to shut down; the serve command's
// signal handler turns SIGTERM into a graceful drain.
func sendGracefulStop(proc *os.Process) error {
	return proc.Signal(syscall.SIGTERM)
}
