// Package device holds the side-effecting device operations the agent
// performs after a transfer settles.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
)

// CommandRebooter restarts the device by running a configured command,
// typically /sbin/reboot.
type CommandRebooter struct {
	Command []string
	Logger  *slog.Logger
}

func (r CommandRebooter) Reboot(ctx context.Context) error {
	if len(r.Command) == 0 {
		return fmt.Errorf("reboot command not configured")
	}
	r.Logger.Info("rebooting device", slog.String("command", r.Command[0]))
	cmd := exec.CommandContext(ctx, r.Command[0], r.Command[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("reboot command: %w (output %q)", err, string(out))
	}
	return nil
}

// NopRebooter logs instead of rebooting. Used in dry-run deployments and
// tests.
type NopRebooter struct {
	Logger *slog.Logger
}

func (r NopRebooter) Reboot(ctx context.Context) error {
	r.Logger.Info("reboot suppressed (dry run)")
	return nil
}
