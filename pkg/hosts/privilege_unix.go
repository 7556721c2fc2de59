//go:build !windows

package hosts

import "golang.org/x/sys/unix"

// isElevated reports whether the process runs as root
func isElevated() bool {
	return unix.Geteuid() == 0
}
