//go:build !windows

package transfer

import (
	"path/filepath"

	"github.com/google/renameio/v2"
)

// atomicSink writes into a temporary file next to the destination and renames it over the
// destination on Commit. The destination path never holds a partial download.
type atomicSink struct {
	*renameio.PendingFile
}

func newAtomicSink(path string) (sink, error) {
	pf, err := renameio.NewPendingFile(path,
		renameio.WithTempDir(filepath.Dir(path)),
		renameio.WithPermissions(0644),
		renameio.WithExistingPermissions())
	if err != nil {
		return nil, err
	}
	return atomicSink{pf}, nil
}

func (s atomicSink) Commit() error { return s.CloseAtomicallyReplace() }

func (s atomicSink) Abort() error { return s.Cleanup() }
