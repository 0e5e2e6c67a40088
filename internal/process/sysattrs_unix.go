//go:build !windows

package process

import (
	"os"
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the child in its own process group so signals
// aimed at the service (e.g. Ctrl-C) do not reach running jobs.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// exitCode mirrors the subprocess convention: the exit status for a normal
// exit, or the negated signal number when the process was killed.
func exitCode(st *os.ProcessState) int {
	if ws, ok := st.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return st.ExitCode()
}
