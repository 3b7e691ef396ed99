// Package paths provides utilities for choosing transfer destination paths.
package paths

import (
	"fmt"
	"path/filepath"
	"strconv"
)

// Destination is one file of a batch transfer and the path it will be written to.
// Both CLI directions use it, so Target may be a local or a remote path.
type Destination struct {
	Source string // where the file is read from
	Target string // full destination path
	Tag    string // short disambiguator, e.g. the source's parent directory name
}

// ResolveCollisions makes every Target unique. When several files share a Target, each
// gets its Tag inserted before the extension. Files whose tags also collide, or that have
// no tag, get their position in the group instead.
//
// Example: /a/output.zip and /b/output.zip into one directory become:
//   - output_a.zip
//   - output_b.zip
//
// Concurrent transfers to one path would corrupt each other.
//
// Returns the modified list (same slice, modified in place) and the number of files that
// were renamed.
func ResolveCollisions(dests []Destination) ([]Destination, int) {
	if len(dests) < 2 {
		return dests, 0
	}

	renamed := make(map[int]bool)
	for _, indices := range groupByTarget(dests) {
		if len(indices) <= 1 {
			continue
		}
		for n, idx := range indices {
			d := &dests[idx]
			tag := d.Tag
			if tag == "" {
				tag = strconv.Itoa(n + 1)
			}
			d.Target = withSuffix(d.Target, tag)
			renamed[idx] = true
		}
	}

	// Equal tags leave equal targets; number them
	for _, indices := range groupByTarget(dests) {
		if len(indices) <= 1 {
			continue
		}
		for n, idx := range indices {
			dests[idx].Target = withSuffix(dests[idx].Target, strconv.Itoa(n+1))
			renamed[idx] = true
		}
	}

	return dests, len(renamed)
}

// groupByTarget returns the indices of dests per Target, in input order.
func groupByTarget(dests []Destination) [][]int {
	seen := make(map[string]int)
	var groups [][]int
	for i, d := range dests {
		g, ok := seen[d.Target]
		if !ok {
			g = len(groups)
			seen[d.Target] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	return groups
}

// withSuffix inserts "_suffix" before the extension: "file.zip" -> "file_suffix.zip".
func withSuffix(p, suffix string) string {
	ext := filepath.Ext(p)
	base := p[:len(p)-len(ext)]
	return fmt.Sprintf("%s_%s%s", base, suffix, ext)
}
