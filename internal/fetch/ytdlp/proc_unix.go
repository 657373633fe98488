//go:build !windows

package ytdlp

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

var errProcessGone = unix.ESRCH

// configureProcess puts yt-dlp in its own process group so ffmpeg and other
// children die with it.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}

	err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return errProcessGone
	}

	return err
}
