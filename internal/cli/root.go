// Package cli provides the command-line interface for rescale-sftp.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rescale/rescale-sftp/internal/config"
	"github.com/rescale/rescale-sftp/internal/core"
	"github.com/rescale/rescale-sftp/internal/logging"
	"github.com/rescale/rescale-sftp/internal/version"
)

// Environment variables read when the matching flag is not given
const (
	passwordEnv   = "RESCALE_SFTP_PASSWORD"
	passphraseEnv = "RESCALE_SFTP_PASSPHRASE"
)

var (
	// Global flags
	cfgFile string
	verbose bool
	debug   bool

	// Connection flags
	host       string
	port       int
	user       string
	identity   string
	askPass    bool
	knownHosts string
	insecure   bool

	// Global logger
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// engineFactory builds the engine behind every command; tests swap in an in-memory server.
var engineFactory = core.NewEngine

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rescale-sftp",
		Short: "Rescale SFTP - browse and transfer files over SFTP",
		Long: `Rescale SFTP ` + version.Version + ` - Built: ` + version.BuildTime + `
Browse remote directories and move files over SSH/SFTP.

One-shot commands (ls, get, put, mkdir, rm, mv) open a connection from the
--host/--user flags, run, and disconnect. The serve command keeps an engine
running and speaks newline-delimited JSON on stdin/stdout for a front end.

Authentication:
  --identity selects a private key; otherwise a password is used.
  Secrets come from ` + passwordEnv + ` / ` + passphraseEnv + `,
  or are prompted for (always with --ask-pass).`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize logger
			logger = logging.NewDefaultCLILogger()
			if verbose || debug {
				logging.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug output (same as --verbose)")

	// Connection flags
	rootCmd.PersistentFlags().StringVarP(&host, "host", "H", "", "Remote host, optionally as user@host:port")
	rootCmd.PersistentFlags().IntVarP(&port, "port", "p", 0, "Remote port (default 22)")
	rootCmd.PersistentFlags().StringVarP(&user, "user", "u", "", "Remote username")
	rootCmd.PersistentFlags().StringVarP(&identity, "identity", "i", "", "Private key file (takes precedence over a password)")
	rootCmd.PersistentFlags().BoolVar(&askPass, "ask-pass", false, "Prompt for the password or key passphrase")
	rootCmd.PersistentFlags().StringVar(&knownHosts, "known-hosts", "", "known_hosts file (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&insecure, "insecure", false, "Skip host key verification")

	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"

	rootCmd.AddCommand(newCompletionCmd(rootCmd))

	// Disable default completion command (we're adding our own above)
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	return rootCmd
}

func newCompletionCmd(rootCmd *cobra.Command) *cobra.Command {
	completionCmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Enable tab-completion for rescale-sftp commands",
		Long: `Generate shell completion scripts to enable tab-completion for rescale-sftp.

QUICK START:

  zsh:
    mkdir -p ~/.zsh/completions
    rescale-sftp completion zsh > ~/.zsh/completions/_rescale-sftp
    # Then add to ~/.zshrc: fpath=(~/.zsh/completions $fpath)

  bash (Linux):
    rescale-sftp completion bash | sudo tee /etc/bash_completion.d/rescale-sftp

  fish:
    rescale-sftp completion fish > ~/.config/fish/completions/rescale-sftp.fish

  PowerShell:
    rescale-sftp completion powershell >> $PROFILE`,
	}

	completionCmd.AddCommand(&cobra.Command{
		Use:   "bash",
		Short: "Generate bash completion script",
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootCmd.GenBashCompletion(cmd.OutOrStdout())
		},
	})
	completionCmd.AddCommand(&cobra.Command{
		Use:   "zsh",
		Short: "Generate zsh completion script",
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootCmd.GenZshCompletion(cmd.OutOrStdout())
		},
	})
	completionCmd.AddCommand(&cobra.Command{
		Use:   "fish",
		Short: "Generate fish completion script",
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootCmd.GenFishCompletion(cmd.OutOrStdout(), true)
		},
	})
	completionCmd.AddCommand(&cobra.Command{
		Use:   "powershell",
		Short: "Generate PowerShell completion script",
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootCmd.GenPowerShellCompletion(cmd.OutOrStdout())
		},
	})

	return completionCmd
}

// Execute runs the CLI.
func Execute() error {
	// Create a context that can be cancelled by signals
	rootContext, cancelFunc = context.WithCancel(context.Background())
	defer cancelFunc()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Loop so repeated Ctrl+C does not kill the process mid-cleanup
	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\n\nReceived signal %v, cancelling operations...\n", sig)
				fmt.Fprintf(os.Stderr, "   Please wait for cleanup to complete.\n\n")
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	// Clean up signal handler
	signal.Stop(sigChan)
	close(sigChan)

	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newLsCmd())
	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newPutCmd())
	rootCmd.AddCommand(newMkdirCmd())
	rootCmd.AddCommand(newRmCmd())
	rootCmd.AddCommand(newMvCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newConfigCmd())
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}

// GetContext returns the global CLI context with signal handling.
// This context will be cancelled when the user presses Ctrl+C.
func GetContext() context.Context {
	if rootContext == nil {
		// Fallback to background context if called before Execute()
		return context.Background()
	}
	return rootContext
}

// configPath returns --config or the default location.
func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if knownHosts != "" {
		cfg.Connection.KnownHosts = knownHosts
	}
	if insecure {
		cfg.Connection.InsecureIgnoreHostKey = true
	}
	if !verbose && !debug {
		logging.SetGlobalLevel(logging.ParseLevel(cfg.Logging.Level))
	}
	return cfg, nil
}
