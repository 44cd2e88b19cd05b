package ports

import "context"

// Rebooter restarts the device so the staged image is picked up at next boot.
// The transfer controller never reboots; acting on a successful outcome is
// the caller's job.
type Rebooter interface {
	Reboot(ctx context.Context) error
}
