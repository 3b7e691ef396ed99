// Package validation checks names that arrive from a remote server before they touch the
// local filesystem.
package validation

import (
	"fmt"
	"path"
	"strings"

	"github.com/rescale/rescale-sftp/internal/remote"
)

// ValidateFilename validates a single file name (not a path) received from the server
// before it is joined onto a local directory.
//
// Returns an error if the name:
//   - Is empty
//   - Contains path separators (/ or \)
//   - Is ".."
//   - Contains null bytes
func ValidateFilename(filename string) error {
	if filename == "" {
		return fmt.Errorf("filename cannot be empty")
	}

	if strings.ContainsRune(filename, 0) {
		return fmt.Errorf("filename contains null byte: %q", filename)
	}

	// Both styles: a backslash is a separator once the name lands on Windows
	if strings.ContainsRune(filename, '/') || strings.ContainsRune(filename, '\\') {
		return fmt.Errorf("filename cannot contain path separators: %s", filename)
	}

	// "foo..bar" is fine; only the literal parent reference escapes
	if filename == ".." || filename == "." {
		return fmt.Errorf("filename cannot be %q", filename)
	}

	return nil
}

// LocalName returns the name a download of remotePath gets in a local directory.
func LocalName(remotePath string) (string, error) {
	clean := remote.CleanPath(remotePath)
	if clean == remote.Root {
		return "", fmt.Errorf("%s is not a file", clean)
	}
	name := path.Base(clean)
	if err := ValidateFilename(name); err != nil {
		return "", fmt.Errorf("cannot download %s: %w", clean, err)
	}
	return name, nil
}
