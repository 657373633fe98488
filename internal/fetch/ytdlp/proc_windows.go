//go:build windows

package ytdlp

import (
	"errors"
	"os"
	"os/exec"
)

var errProcessGone = os.ErrProcessDone

func configureProcess(*exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}

	err := cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return errProcessGone
	}

	return err
}
