package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescale/rescale-sftp/internal/config"
	"github.com/rescale/rescale-sftp/internal/remote"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage rescale-sftp configuration",
		Long: `Configuration management commands for rescale-sftp.

Commands:
  init  - Interactive configuration setup
  show  - Display current configuration
  test  - Test connecting with the current configuration and flags
  path  - Show configuration file path`,
	}

	// Add config subcommands
	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigTestCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force, defaults bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for rescale-sftp.

The configuration will be saved to ~/.config/rescale/sftp.conf
(%APPDATA%\Rescale\SFTP\sftp.conf on Windows) unless --config is given.

Use --force to overwrite existing configuration, --defaults to skip the prompts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			path, err := configPath()
			if err != nil {
				return fmt.Errorf("failed to resolve config path: %w", err)
			}

			// Check if config already exists
			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(out, "Configuration already exists at: %s\n", path)
					fmt.Fprintln(out, "Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			cfg := config.NewConfig()
			if !defaults {
				reader := bufio.NewReader(cmd.InOrStdin())

				fmt.Fprintln(out, "rescale-sftp Configuration Setup")
				fmt.Fprintln(out, "================================")
				fmt.Fprintln(out)

				fmt.Fprintln(out, "Connection Settings (press Enter for defaults)")
				fmt.Fprintln(out, "----------------------------------------------")
				c := &cfg.Connection
				c.KnownHosts = promptString(reader, out, "known_hosts file", c.KnownHosts)
				c.InsecureIgnoreHostKey = promptBool(reader, out, "Skip host key verification (not recommended)", c.InsecureIgnoreHostKey)
				c.ConnectTimeoutSeconds = promptInt(reader, out, "Connect timeout (seconds)", c.ConnectTimeoutSeconds)
				c.Channels = promptInt(reader, out, "SFTP channels per connection", c.Channels)
				c.ProxyURL = promptString(reader, out, "Proxy URL (e.g. socks5://host:1080, empty for none)", c.ProxyURL)

				fmt.Fprintln(out)
				fmt.Fprintln(out, "Transfer Settings")
				fmt.Fprintln(out, "-----------------")
				x := &cfg.Transfer
				x.ChunkSizeKiB = promptInt(reader, out, "Chunk size (KiB)", x.ChunkSizeKiB)
				x.AtomicDownloads = promptBool(reader, out, "Atomic downloads (write to a temp file, rename when complete)", x.AtomicDownloads)
				x.CheckDiskSpace = promptBool(reader, out, "Check free disk space before downloads", x.CheckDiskSpace)
				x.BandwidthLimitKiB = promptInt(reader, out, "Bandwidth limit per transfer (KiB/s, 0 = unlimited)", x.BandwidthLimitKiB)

				fmt.Fprintln(out)
				cfg.Logging.Level = promptString(reader, out, "Log level (debug, info, warn, error)", cfg.Logging.Level)
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := config.Save(cfg, path); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			GetLogger().Debug().Str("path", path).Msg("Configuration saved")

			fmt.Fprintln(out)
			fmt.Fprintf(out, "✓ Configuration saved to: %s\n", path)
			fmt.Fprintln(out, "Test your configuration with: rescale-sftp config test --host user@host")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")
	cmd.Flags().BoolVar(&defaults, "defaults", false, "Write the default configuration without prompting")

	return cmd
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the current configuration settings.

This command shows the configuration file merged with the --known-hosts and
--insecure flags.

Priority: flags > config file > defaults`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			path, err := configPath()
			if err != nil {
				return fmt.Errorf("failed to resolve config path: %w", err)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			fmt.Fprintln(out, "Current Configuration")
			fmt.Fprintln(out, "=====================")
			fmt.Fprintln(out)

			c := cfg.Connection
			fmt.Fprintln(out, "[connection]")
			fmt.Fprintf(out, "  connect_timeout_seconds  = %d\n", c.ConnectTimeoutSeconds)
			fmt.Fprintf(out, "  channels                 = %d\n", c.Channels)
			fmt.Fprintf(out, "  known_hosts              = %s\n", c.KnownHosts)
			fmt.Fprintf(out, "  insecure_ignore_host_key = %t\n", c.InsecureIgnoreHostKey)
			fmt.Fprintf(out, "  proxy_url                = %s\n", displayOrNone(c.ProxyURL))
			fmt.Fprintf(out, "  keepalive_seconds        = %d\n", c.KeepAliveSeconds)
			fmt.Fprintln(out)

			x := cfg.Transfer
			fmt.Fprintln(out, "[transfer]")
			fmt.Fprintf(out, "  chunk_size_kib           = %d\n", x.ChunkSizeKiB)
			fmt.Fprintf(out, "  progress_interval_ms     = %d\n", x.ProgressIntervalMs)
			fmt.Fprintf(out, "  stall_timeout_seconds    = %d\n", x.StallTimeoutSeconds)
			fmt.Fprintf(out, "  atomic_downloads         = %t\n", x.AtomicDownloads)
			fmt.Fprintf(out, "  check_disk_space         = %t\n", x.CheckDiskSpace)
			fmt.Fprintf(out, "  bandwidth_limit_kib      = %d\n", x.BandwidthLimitKiB)
			fmt.Fprintln(out)

			fmt.Fprintln(out, "[logging]")
			fmt.Fprintf(out, "  level                    = %s\n", cfg.Logging.Level)
			fmt.Fprintln(out)

			fmt.Fprintf(out, "Configuration file: %s\n", path)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				fmt.Fprintln(out, "  (file does not exist - using defaults)")
			}
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(out, "  ✗ invalid: %v\n", err)
			}

			return nil
		},
	}

	return cmd
}

// newConfigTestCmd creates the 'config test' command.
func newConfigTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Test connecting with the current configuration",
		Long: `Connect with the current configuration and connection flags, list "/",
and disconnect.

Use this to verify host keys, credentials and network connectivity.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			fmt.Fprintln(out, "Testing SFTP Connection")
			fmt.Fprintln(out, "=======================")
			fmt.Fprintln(out)

			start := time.Now()
			s, err := openSession(cmd)
			if err != nil {
				GetLogger().Error().Err(err).Msg("Connection test failed")
				fmt.Fprintln(out, "✗ Connection FAILED")
				fmt.Fprintf(out, "  Error: %v\n", err)
				return fmt.Errorf("connection test failed")
			}
			defer s.Close()

			entries, err := s.engine.ListDirectory(GetContext(), s.connID, remote.Root)
			if err != nil {
				fmt.Fprintln(out, "✗ Listing FAILED")
				fmt.Fprintf(out, "  Error: %v\n", err)
				return fmt.Errorf("connection test failed")
			}

			fmt.Fprintln(out, "✓ Connection SUCCESSFUL")
			fmt.Fprintf(out, "  Connected and listed %s (%d entries) in %s\n",
				remote.Root, len(entries), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	return cmd
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Long:  `Display the path to the configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			path, err := configPath()
			if err != nil {
				return fmt.Errorf("failed to resolve config path: %w", err)
			}
			if cfgFile == "" {
				fmt.Fprintln(out, "Default configuration path:")
			} else {
				fmt.Fprintln(out, "Configuration path (from --config flag):")
			}
			fmt.Fprintf(out, "  %s\n", path)
			fmt.Fprintln(out)

			if info, err := os.Stat(path); err == nil {
				fmt.Fprintln(out, "Status: ✓ File exists")
				fmt.Fprintf(out, "Size:   %d bytes\n", info.Size())
				fmt.Fprintf(out, "Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
			} else {
				fmt.Fprintln(out, "Status: File does not exist")
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Create a configuration file with: rescale-sftp config init")
			}

			return nil
		},
	}

	return cmd
}

func displayOrNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "<none>"
	}
	return s
}
