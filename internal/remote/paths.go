package remote

import (
	"os"
	"path"
	"strings"
)

// Root is the remote filesystem root.
const Root = "/"

// CleanPath normalizes a remote path to an absolute POSIX path. Backslashes are treated as
// separators and relative paths are anchored at the root.
func CleanPath(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// JoinPath joins a remote directory and a child name with "/".
func JoinPath(dir, name string) string {
	if dir == Root {
		return Root + name
	}
	return strings.TrimSuffix(dir, "/") + "/" + name
}

// ParentPath returns the parent of a clean absolute remote path. The parent of "/" is "/".
func ParentPath(p string) string {
	return path.Dir(CleanPath(p))
}

// FormatPermissions renders the permission bits as rwx triplets, e.g. "rwxr-xr-x".
func FormatPermissions(mode os.FileMode) string {
	return mode.Perm().String()[1:]
}
