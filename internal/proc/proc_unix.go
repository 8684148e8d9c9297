//go:build !windows

package proc

import (
	"errors"
	"os/exec"
	"syscall"
	"time"
)

func configureGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// killTree sends SIGTERM to the whole process group and escalates to SIGKILL
// if the group leader has not been reaped after the grace period.
func killTree(h *Handle) error {
	pgid := h.pid()
	err := syscall.Kill(-pgid, syscall.SIGTERM)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	time.AfterFunc(killGrace, func() {
		select {
		case <-h.done:
		default:
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		}
	})
	return err
}
