package remotefs

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"

	"github.com/rescale/rescale-sftp/internal/errs"
	"github.com/rescale/rescale-sftp/internal/logging"
	"github.com/rescale/rescale-sftp/internal/metrics"
	"github.com/rescale/rescale-sftp/internal/remote"
)

// ParentName is the name of the synthetic entry that points at the parent directory.
const ParentName = ".."

// FileEntry represents a file or directory on the remote filesystem.
type FileEntry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`        // Absolute remote path
	Size        uint64 `json:"size"`        // Size in bytes
	IsDir       bool   `json:"is_dir"`      // True if this is a directory
	Modified    int64  `json:"modified"`    // Unix seconds, 0 if unknown
	Permissions string `json:"permissions"` // e.g. "rwxr-xr-x"
}

// Sessions gives serialized access to the channels of a connection.
// *connection.Manager implements it.
type Sessions interface {
	WithSession(ctx context.Context, connectionID string, op func(remote.Channel) error) error
}

// Lister reads and changes the remote filesystem of registered connections.
type Lister struct {
	sessions Sessions
	opts     ListOptions
	logger   *logging.Logger
}

// NewLister creates a lister. logger may be nil.
func NewLister(sessions Sessions, opts ListOptions, logger *logging.Logger) *Lister {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Lister{sessions: sessions, opts: opts, logger: logger.Component("remotefs")}
}

// List returns the entries of a remote directory in protocol order. Unless the directory is
// the root, the first entry is ".." pointing at the parent.
func (l *Lister) List(ctx context.Context, connectionID, dir string) ([]FileEntry, error) {
	return l.ListWith(ctx, connectionID, dir, l.opts)
}

// ListWith is List with per-call options.
func (l *Lister) ListWith(ctx context.Context, connectionID, dir string, opts ListOptions) ([]FileEntry, error) {
	dir = remote.CleanPath(dir)

	var infos []os.FileInfo
	err := l.run(ctx, "list", connectionID, dir, func(ch remote.Channel) error {
		var err error
		infos, err = ch.ReadDir(ctx, dir)
		return err
	})
	if err != nil {
		metrics.RecordListing(string(errs.KindOf(err)))
		l.logger.Debug().Err(err).Str("connection", connectionID).Str("path", dir).Msg("List failed")
		return nil, err
	}
	metrics.RecordListing("ok")

	entries := make([]FileEntry, 0, len(infos)+1)
	if dir != remote.Root {
		entries = append(entries, FileEntry{
			Name:  ParentName,
			Path:  remote.ParentPath(dir),
			IsDir: true,
		})
	}
	for _, fi := range infos {
		if opts.HideDotfiles && IsHiddenName(fi.Name()) {
			continue
		}
		entries = append(entries, entryFromInfo(dir, fi))
	}

	if opts.DirsFirst {
		rest := entries
		if dir != remote.Root {
			rest = entries[1:]
		}
		sort.SliceStable(rest, func(i, j int) bool {
			if rest[i].IsDir != rest[j].IsDir {
				return rest[i].IsDir
			}
			a, b := strings.ToLower(rest[i].Name), strings.ToLower(rest[j].Name)
			if a != b {
				return a < b
			}
			return rest[i].Name < rest[j].Name
		})
	}

	return entries, nil
}

func entryFromInfo(dir string, fi os.FileInfo) FileEntry {
	e := FileEntry{
		Name:        fi.Name(),
		Path:        remote.JoinPath(dir, fi.Name()),
		IsDir:       fi.IsDir(),
		Permissions: remote.FormatPermissions(fi.Mode()),
	}
	if fi.Size() > 0 {
		e.Size = uint64(fi.Size())
	}
	if mt := fi.ModTime(); !mt.IsZero() && mt.Unix() > 0 {
		e.Modified = mt.Unix()
	}
	return e
}

// run executes op on the connection and classifies what comes back. An unknown connection id
// is reported as ConnectionLost: from the caller's side it is simply not connected.
func (l *Lister) run(ctx context.Context, op, connectionID, p string, fn func(remote.Channel) error) error {
	var opErr error
	err := l.sessions.WithSession(ctx, connectionID, func(ch remote.Channel) error {
		opErr = fn(ch)
		return opErr
	})
	if err == nil {
		return nil
	}
	if opErr != nil {
		return remote.Classify(op, p, opErr)
	}
	if errs.Is(err, errs.NotFound) {
		return errs.WithPath(errs.ConnectionLost, op, connectionID, errors.New("not connected"))
	}
	return errs.Classify(op, p, err, errs.ConnectionLost)
}
