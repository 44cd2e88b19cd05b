//go:build !linux && !darwin

package partition

import "errors"

// diskFreeBytes is a stub for other platforms; target devices run Linux where
// the real implementation (disk_free_unix.go) is used.
func diskFreeBytes(path string) (int64, error) {
	return 0, errors.New("disk space check not supported on this platform")
}
