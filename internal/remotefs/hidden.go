// Package remotefs lists and manages the remote filesystem of a connection.
// Every protocol operation goes through the connection manager, so listings share the
// sub-channels with running transfers without ever using one concurrently.
package remotefs

import (
	"path"
	"strings"
)

// IsHidden returns true if the remote file or directory at the given path is hidden.
func IsHidden(p string) bool {
	return IsHiddenName(path.Base(p))
}

// IsHiddenName returns true if the given filename (not path) represents a hidden file.
// Special entries "." and ".." are not considered hidden.
func IsHiddenName(name string) bool {
	if name == "." || name == ".." {
		return false
	}
	return strings.HasPrefix(name, ".")
}
