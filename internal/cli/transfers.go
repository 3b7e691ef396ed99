package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rescale/rescale-sftp/internal/constants"
	"github.com/rescale/rescale-sftp/internal/progress"
	"github.com/rescale/rescale-sftp/internal/remote"
	"github.com/rescale/rescale-sftp/internal/util/paths"
	"github.com/rescale/rescale-sftp/internal/validation"
)

// transferJob is one file to move.
type transferJob struct {
	local  string
	remote string
}

// newGetCmd creates the 'get' command.
func newGetCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "get <remote> [remote...] [local]",
		Short: "Download remote files",
		Long: `Download one or more remote files.

With a single remote file the local target may be a file name or an existing
directory (default: the current directory). With several remote files the last
argument must be an existing local directory.

Examples:
  rescale-sftp get --host user@example.com /data/results.tar.gz
  rescale-sftp get --host user@example.com /data/a.dat /data/b.dat ./inputs`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := downloadJobs(args)
			if err != nil {
				return err
			}

			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			return runTransfers(cmd, s, "download", jobs, quiet)
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not show progress bars")

	return cmd
}

// newPutCmd creates the 'put' command.
func newPutCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "put <local> [local...] <remote>",
		Short: "Upload local files",
		Long: `Upload one or more local files.

The remote target may be a file path or an existing directory. With several
local files it must be an existing directory.

Examples:
  rescale-sftp put --host user@example.com mesh.geo /data/mesh.geo
  rescale-sftp put --host user@example.com *.dat /data/inputs`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			locals, dest := args[:len(args)-1], args[len(args)-1]

			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			destIsDir := false
			if entry, err := s.engine.Stat(GetContext(), s.connID, dest); err == nil {
				destIsDir = entry.IsDir
			}
			jobs, err := uploadJobs(locals, dest, destIsDir)
			if err != nil {
				return err
			}

			return runTransfers(cmd, s, "upload", jobs, quiet)
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not show progress bars")

	return cmd
}

// downloadJobs resolves get's arguments into remote → local pairs.
func downloadJobs(args []string) ([]transferJob, error) {
	if len(args) == 1 {
		name, err := validation.LocalName(args[0])
		if err != nil {
			return nil, err
		}
		return []transferJob{{remote: args[0], local: name}}, nil
	}

	remotes, dest := args[:len(args)-1], args[len(args)-1]
	info, err := os.Stat(dest)
	destIsDir := err == nil && info.IsDir()

	if len(remotes) > 1 && !destIsDir {
		return nil, fmt.Errorf("%s is not a directory", dest)
	}

	dests := make([]paths.Destination, 0, len(remotes))
	for _, r := range remotes {
		local := dest
		if destIsDir {
			name, err := validation.LocalName(r)
			if err != nil {
				return nil, err
			}
			local = filepath.Join(dest, name)
		}
		parent := remote.ParentPath(r)
		tag := ""
		if parent != remote.Root {
			tag = path.Base(parent)
		}
		dests = append(dests, paths.Destination{Source: r, Target: local, Tag: tag})
	}
	return resolveJobs(dests, false), nil
}

// uploadJobs resolves put's arguments into local → remote pairs.
func uploadJobs(locals []string, dest string, destIsDir bool) ([]transferJob, error) {
	if len(locals) > 1 && !destIsDir {
		return nil, fmt.Errorf("%s is not a remote directory", dest)
	}

	dests := make([]paths.Destination, 0, len(locals))
	for _, l := range locals {
		r := dest
		if destIsDir {
			r = remote.JoinPath(remote.CleanPath(dest), filepath.Base(l))
		}
		tag := filepath.Base(filepath.Dir(l))
		if tag == "." || tag == string(filepath.Separator) {
			tag = ""
		}
		dests = append(dests, paths.Destination{Source: l, Target: r, Tag: tag})
	}
	return resolveJobs(dests, true), nil
}

// resolveJobs renames targets shared by several sources and converts to jobs.
func resolveJobs(dests []paths.Destination, upload bool) []transferJob {
	dests, renamed := paths.ResolveCollisions(dests)
	if renamed > 0 {
		GetLogger().Warn().Int("files", renamed).Msg("Several files share a destination name; renamed them apart")
	}

	jobs := make([]transferJob, 0, len(dests))
	for _, d := range dests {
		if upload {
			jobs = append(jobs, transferJob{local: d.Source, remote: d.Target})
		} else {
			jobs = append(jobs, transferJob{remote: d.Source, local: d.Target})
		}
	}
	return jobs
}

// runTransfers starts every job, renders progress until all finish, and reports failures.
// On Ctrl+C the transfers are cancelled and given a grace period to clean up.
func runTransfers(cmd *cobra.Command, s *session, kind string, jobs []transferJob, quiet bool) error {
	var display progress.Display
	if quiet {
		display = progress.NewNoOpDisplay(cmd.ErrOrStderr())
	} else {
		display = progress.NewDisplay(cmd.ErrOrStderr(), len(jobs))
	}

	// Subscribe before the first transfer starts
	watcher := progress.NewWatcher(s.engine.Events(), display)
	defer watcher.Close()

	ids := make([]string, 0, len(jobs))
	var startErr error
	for _, j := range jobs {
		var id string
		var err error
		if kind == "upload" {
			id, err = s.engine.UploadFile(s.connID, j.local, j.remote)
		} else {
			id, err = s.engine.DownloadFile(s.connID, j.remote, j.local)
		}
		if err != nil {
			startErr = fmt.Errorf("failed to start %s: %w", kind, err)
			break
		}
		GetLogger().Debug().Str("transfer", id).Str("local", j.local).Str("remote", j.remote).Msg("Transfer started")
		ids = append(ids, id)
	}

	if startErr != nil {
		for _, id := range ids {
			_ = s.engine.CancelTransfer(id)
		}
	}

	results, err := watcher.Wait(GetContext(), ids...)
	if err != nil {
		s.engine.CancelAllTransfers()
		graceCtx, cancel := context.WithTimeout(context.Background(), constants.DisconnectGracePeriod)
		defer cancel()
		_, _ = watcher.Wait(graceCtx, ids...)
		return fmt.Errorf("transfers interrupted: %w", err)
	}
	if startErr != nil {
		return startErr
	}

	var failures []error
	for _, r := range results {
		if r.State == "completed" {
			continue
		}
		reason := r.Error
		if reason == nil {
			reason = errors.New(r.State)
		}
		failures = append(failures, fmt.Errorf("%s: %w", r.RemotePath, reason))
	}

	switch {
	case len(failures) == 0:
		return nil
	case len(results) == 1:
		return fmt.Errorf("%s failed: %w", kind, failures[0])
	default:
		return fmt.Errorf("%d of %d transfers failed: %w", len(failures), len(results), errors.Join(failures...))
	}
}
