//go:build !windows

package diskspace

import (
	"golang.org/x/sys/unix"
)

// availableBytes reports the space available to unprivileged users on the filesystem
// holding dir.
func availableBytes(dir string) (int64, bool) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, false
	}

	// Bavail = blocks available to non-root users, Bsize = block size in bytes
	return int64(stat.Bavail) * int64(stat.Bsize), true
}
