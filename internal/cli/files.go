package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescale/rescale-sftp/internal/remote"
	"github.com/rescale/rescale-sftp/internal/remotefs"
)

// newLsCmd creates the 'ls' command.
func newLsCmd() *cobra.Command {
	var all, long, dirsFirst bool

	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a remote directory",
		Long: `List the entries of a remote directory (default "/").

Entries are shown in the order the server returns them. Dotfiles and the
".." entry are hidden unless --all is given.

Examples:
  rescale-sftp ls --host user@example.com /data
  rescale-sftp ls -l --dirs-first --host example.com --user alice`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := remote.Root
			if len(args) == 1 {
				dir = args[0]
			}

			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			opts := remotefs.ListOptions{HideDotfiles: !all, DirsFirst: dirsFirst}
			entries, err := s.engine.ListDirectoryWith(GetContext(), s.connID, dir, opts)
			if err != nil {
				return fmt.Errorf("failed to list %s: %w", dir, err)
			}

			out := cmd.OutOrStdout()
			for _, e := range entries {
				if e.Name == remotefs.ParentName && !all {
					continue
				}
				if long {
					printLongEntry(out, e)
				} else if e.IsDir {
					fmt.Fprintf(out, "%s/\n", e.Name)
				} else {
					fmt.Fprintln(out, e.Name)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "Show dotfiles and the parent entry")
	cmd.Flags().BoolVarP(&long, "long", "l", false, "Long format: permissions, size, modification time")
	cmd.Flags().BoolVar(&dirsFirst, "dirs-first", false, "List directories before files")

	return cmd
}

// printLongEntry prints one entry in ls -l style.
func printLongEntry(out io.Writer, e remotefs.FileEntry) {
	kind := "-"
	if e.IsDir {
		kind = "d"
	}
	perms := e.Permissions
	if perms == "" {
		perms = "---------"
	}
	modified := "-"
	if e.Modified > 0 {
		modified = time.Unix(e.Modified, 0).Format("2006-01-02 15:04")
	}
	fmt.Fprintf(out, "%s%s %12d %-16s %s\n", kind, perms, e.Size, modified, e.Name)
}

// newMkdirCmd creates the 'mkdir' command.
func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path> [path...]",
		Short: "Create remote directories",
		Long:  `Create one or more remote directories. Parents must already exist.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			for _, p := range args {
				if err := s.engine.CreateDirectory(GetContext(), s.connID, p); err != nil {
					return fmt.Errorf("failed to create %s: %w", p, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", remote.CleanPath(p))
			}
			return nil
		},
	}
}

// newRmCmd creates the 'rm' command.
func newRmCmd() *cobra.Command {
	var dirs bool

	cmd := &cobra.Command{
		Use:   "rm <path> [path...]",
		Short: "Delete remote files or empty directories",
		Long: `Delete remote files. Directories are only removed with --dir, and must be empty.

Examples:
  rescale-sftp rm --host user@example.com /tmp/old.log
  rescale-sftp rm --dir --host user@example.com /tmp/empty`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := GetContext()
			for _, p := range args {
				entry, err := s.engine.Stat(ctx, s.connID, p)
				if err != nil {
					return fmt.Errorf("failed to delete %s: %w", p, err)
				}
				if entry.IsDir && !dirs {
					return fmt.Errorf("%s is a directory (use --dir)", entry.Path)
				}
				if err := s.engine.Delete(ctx, s.connID, entry.Path, entry.IsDir); err != nil {
					return fmt.Errorf("failed to delete %s: %w", entry.Path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", entry.Path)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&dirs, "dir", "d", false, "Allow removing empty directories")

	return cmd
}

// newMvCmd creates the 'mv' command.
func newMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <old> <new>",
		Short: "Rename or move a remote path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.engine.Rename(GetContext(), s.connID, args[0], args[1]); err != nil {
				return fmt.Errorf("failed to rename %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s → %s\n", remote.CleanPath(args[0]), remote.CleanPath(args[1]))
			return nil
		},
	}
}
