package alert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/nugget/routerwatch/internal/logwatch"
)

// ErrNoNotifier is returned when no desktop notification program is
// available on this platform.
var ErrNoNotifier = errors.New("no desktop notification program available")

// Runner executes a program to completion.
type Runner func(ctx context.Context, name string, args ...string) error

// Desktop shows alerts as desktop notifications using notify-send on
// Linux and osascript on macOS.
type Desktop struct {
	// Command overrides the platform program. It is run with the title
	// and body as its two arguments.
	Command string

	goos   string
	run    Runner
	lookup func(string) (string, error)
	getenv func(string) string
}

// NewDesktop returns a desktop sink for the running platform.
func NewDesktop(command string) *Desktop {
	return &Desktop{
		Command: command,
		goos:    runtime.GOOS,
		run:     runCommand,
		lookup:  exec.LookPath,
		getenv:  os.Getenv,
	}
}

// Emit shows a notification for a.
func (d *Desktop) Emit(ctx context.Context, a Alert) error {
	name, args, err := d.command(a)
	if err != nil {
		return err
	}
	if _, err := d.lookup(name); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNoNotifier, name, err)
	}
	if err := d.run(ctx, name, args...); err != nil {
		return fmt.Errorf("desktop notification: %w", err)
	}
	return nil
}

func (d *Desktop) command(a Alert) (string, []string, error) {
	title := "routerwatch: " + a.Title
	body := a.Body

	if d.Command != "" {
		return d.Command, []string{title, body}, nil
	}

	switch d.goos {
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s",
			appleScriptString(body), appleScriptString(title))
		return "osascript", []string{"-e", script}, nil
	case "linux", "freebsd", "openbsd", "netbsd":
		if d.getenv("DISPLAY") == "" && d.getenv("WAYLAND_DISPLAY") == "" {
			return "", nil, fmt.Errorf("%w: no graphical session", ErrNoNotifier)
		}
		urgency := "normal"
		if a.Severity >= logwatch.SeverityError {
			urgency = "critical"
		}
		return "notify-send", []string{"-a", "routerwatch", "-u", urgency, title, body}, nil
	default:
		return "", nil, fmt.Errorf("%w on %s", ErrNoNotifier, d.goos)
	}
}

// appleScriptString quotes s as an AppleScript string literal.
func appleScriptString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		out := strings.TrimSpace(stderr.String())
		if len(out) > 500 {
			out = out[:500]
		}
		if out == "" {
			return err
		}
		return fmt.Errorf("%w: %s", err, out)
	}
	return nil
}
