package notifier

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

const appName = "auto_ytdlp"

// ErrUnsupportedPlatform is returned when no desktop notification tool is
// known for the operating system.
var ErrUnsupportedPlatform = errors.New("desktop notifications are not supported on this platform")

var appleScriptEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// DesktopNotifier shows notifications with notify-send on Linux and
// osascript on macOS.
type DesktopNotifier struct {
	goos string
}

func NewDesktopNotifier() *DesktopNotifier {
	return &DesktopNotifier{goos: runtime.GOOS}
}

// Available reports whether the notification tool is installed.
func (d *DesktopNotifier) Available() bool {
	name, _, err := d.command(Message{})
	if err != nil {
		return false
	}

	_, err = exec.LookPath(name)

	return err == nil
}

func (d *DesktopNotifier) Notify(ctx context.Context, msg Message) error {
	name, args, err := d.command(msg)
	if err != nil {
		return err
	}

	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(string(out)))
	}

	return nil
}

func (d *DesktopNotifier) command(msg Message) (string, []string, error) {
	switch d.goos {
	case "linux", "freebsd", "openbsd", "netbsd":
		return "notify-send", []string{"--app-name=" + appName, msg.Title, msg.Body}, nil
	case "darwin":
		script := fmt.Sprintf(`display notification "%s" with title "%s"`,
			appleScriptEscaper.Replace(msg.Body), appleScriptEscaper.Replace(msg.Title))

		return "osascript", []string{"-e", script}, nil
	default:
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, d.goos)
	}
}
