//go:build windows

package proc

import (
	"os/exec"
	"strconv"
	"syscall"
)

// createNoWindow keeps console children from flashing a window.
const createNoWindow = 0x08000000

func configureGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.CreationFlags |= syscall.CREATE_NEW_PROCESS_GROUP | createNoWindow
	cmd.SysProcAttr.HideWindow = true
}

// killTree uses taskkill because Windows has no process-group signal that
// reaches grandchildren.
func killTree(h *Handle) error {
	kill := exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(h.pid()))
	kill.SysProcAttr = &syscall.SysProcAttr{HideWindow: true, CreationFlags: createNoWindow}
	return kill.Run()
}
