package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// DesktopNotifier pops up a system notification when a batch ends
type DesktopNotifier struct {
	enabled bool
	goos    string
	run     func(name string, args ...string) error
}

// NewDesktopNotifier creates a new desktop notifier
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{
		enabled: enabled,
		goos:    runtime.GOOS,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// Send shows the notification. Platforms without a known tool are ignored.
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}
	name, args, ok := desktopCommand(d.goos, n)
	if !ok {
		return nil
	}
	return d.run(name, args...)
}

// desktopCommand returns the notifier invocation for goos
func desktopCommand(goos string, n Notification) (string, []string, bool) {
	body := desktopBody(n)
	switch goos {
	case "darwin":
		script := fmt.Sprintf(`display notification "%s" with title "%s"`, escapeAppleScript(body), escapeAppleScript(n.Title))
		if n.BatchID != "" {
			script += fmt.Sprintf(` subtitle "Batch %s"`, escapeAppleScript(n.BatchID))
		}
		if n.Type == NotifyError || n.Type == NotifyWarning {
			script += ` sound name "Basso"`
		}
		return "osascript", []string{"-e", script}, true
	case "linux":
		return "notify-send", []string{
			"--app-name", "replay-orch",
			"--urgency", urgency(n),
			"--icon", IconForType(n.Type),
			n.Title, body,
		}, true
	default:
		return "", nil, false
	}
}

// desktopBody keeps the summary first; the output path is only shown when
// there is something to open.
func desktopBody(n Notification) string {
	if n.Counts == nil || n.Counts.Converted == 0 || n.OutputDir == "" {
		return n.Message
	}
	return n.Message + "\n" + n.OutputDir
}

// urgency maps the batch outcome to a freedesktop urgency level. A batch
// where nothing converted stays on screen until dismissed.
func urgency(n Notification) string {
	if n.Counts == nil {
		if n.Type == NotifyError {
			return "critical"
		}
		return "normal"
	}
	switch {
	case n.Counts.AllFailed():
		return "critical"
	case n.Counts.Failed > 0:
		return "normal"
	default:
		return "low"
	}
}

// IconForType returns an icon name for the notification type
func IconForType(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "dialog-positive"
	case NotifyWarning:
		return "dialog-warning"
	case NotifyError:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}

func escapeAppleScript(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", " ").Replace(s)
}
