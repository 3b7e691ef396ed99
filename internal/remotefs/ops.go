package remotefs

import (
	"context"
	"os"

	"github.com/rescale/rescale-sftp/internal/errs"
	"github.com/rescale/rescale-sftp/internal/remote"
)

// Stat returns the entry for a single remote path.
func (l *Lister) Stat(ctx context.Context, connectionID, p string) (FileEntry, error) {
	p = remote.CleanPath(p)

	var fi os.FileInfo
	err := l.run(ctx, "stat", connectionID, p, func(ch remote.Channel) error {
		var err error
		fi, err = ch.Stat(p)
		return err
	})
	if err != nil {
		return FileEntry{}, err
	}

	e := entryFromInfo(remote.ParentPath(p), fi)
	e.Path = p
	if p == remote.Root {
		e.Name = remote.Root
	}
	return e, nil
}

// Mkdir creates a remote directory. The parent must exist.
func (l *Lister) Mkdir(ctx context.Context, connectionID, p string) error {
	p = remote.CleanPath(p)
	if p == remote.Root {
		return errs.Errorf(errs.InvalidArgument, "mkdir", "cannot create %s", p)
	}

	err := l.run(ctx, "mkdir", connectionID, p, func(ch remote.Channel) error {
		return ch.Mkdir(p)
	})
	if err == nil {
		l.logger.Info().Str("connection", connectionID).Str("path", p).Msg("Created directory")
	}
	return err
}

// Remove deletes a remote file, or an empty remote directory when isDir is set.
func (l *Lister) Remove(ctx context.Context, connectionID, p string, isDir bool) error {
	p = remote.CleanPath(p)
	if p == remote.Root {
		return errs.Errorf(errs.InvalidArgument, "delete", "refusing to delete %s", p)
	}

	err := l.run(ctx, "delete", connectionID, p, func(ch remote.Channel) error {
		if isDir {
			return ch.RemoveDirectory(p)
		}
		return ch.Remove(p)
	})
	if err == nil {
		l.logger.Info().Str("connection", connectionID).Str("path", p).Bool("dir", isDir).Msg("Deleted")
	}
	return err
}

// Rename moves a remote file or directory. The destination must not exist.
func (l *Lister) Rename(ctx context.Context, connectionID, oldPath, newPath string) error {
	oldPath = remote.CleanPath(oldPath)
	newPath = remote.CleanPath(newPath)
	if oldPath == remote.Root || newPath == remote.Root {
		return errs.Errorf(errs.InvalidArgument, "rename", "cannot rename %s to %s", oldPath, newPath)
	}
	if oldPath == newPath {
		return nil
	}

	err := l.run(ctx, "rename", connectionID, oldPath, func(ch remote.Channel) error {
		return ch.Rename(oldPath, newPath)
	})
	if err == nil {
		l.logger.Info().Str("connection", connectionID).Str("from", oldPath).Str("to", newPath).Msg("Renamed")
	}
	return err
}
