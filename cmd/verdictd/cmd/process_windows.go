//go:build windows

package cmd

import (
	"os"

	"golang.org/x/sys/windows"
)

// gracefulSignals lists the signals that drain verdictd cleanly. Windows
// has no SIGTERM; os.Interrupt (Ctrl+C / CTRL_C_EVENT) is the only
// reliably delivered stop signal.
func gracefulSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// processIsAlive probes the PID-file process by opening a limited-query
// handle and reading its exit code.
func processIsAlive(proc *os.Process) bool {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(proc.Pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)

	var exitCode uint32
	if err := windows.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false
	}
	// STILL_ACTIVE (259) means the process has not exited yet.
	return exitCode == 259
}

// sendGracefulStop stops the daemon. With no SIGTERM on Windows, Kill
// (TerminateProcess) is the stop command's only lever, so the daemon
// exits without the drain it gets on unix.
func sendGracefulStop(proc *os.Process) error {
	return proc.Kill()
}
