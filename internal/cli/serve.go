package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescale/rescale-sftp/internal/bridge"
	"github.com/rescale/rescale-sftp/internal/constants"
	"github.com/rescale/rescale-sftp/internal/logging"
	"github.com/rescale/rescale-sftp/internal/metrics"
)

// newServeCmd creates the 'serve' command.
func newServeCmd() *cobra.Command {
	var metricsAddr string
	var progressInterval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Drive the engine with JSON commands on stdin/stdout",
		Long: `Run the SFTP engine behind a newline-delimited JSON stream.

Each input line is a request {"id", "command", "params"}; each is answered by one
{"type":"response"} line echoing the id. Transfer and connection events are
pushed as {"type":"event"} lines. Logs go to stderr so stdout stays clean.

Commands: connect, disconnect, list_directory, upload_file, download_file,
cancel_transfer, create_directory, delete, rename, list_transfers,
list_connections.

The process exits when stdin is closed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the JSON stream
			serveLogger := logging.NewLogger("serve")
			logger = serveLogger

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			engine, err := engineFactory(cfg, serveLogger)
			if err != nil {
				return fmt.Errorf("failed to create engine: %w", err)
			}
			defer engine.Close()
			engine.StartMonitoring(constants.EventBusMonitorInterval)

			if metricsAddr != "" {
				_, stop, err := startMetricsServer(metricsAddr, serveLogger)
				if err != nil {
					return err
				}
				defer stop()
			}

			server := bridge.NewServer(engine, cmd.OutOrStdout(), serveLogger)
			server.SetProgressInterval(progressInterval)

			serveLogger.Info().Msg("Serving JSON commands on stdin")
			return server.Serve(GetContext(), cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address (e.g. 127.0.0.1:9464)")
	cmd.Flags().DurationVar(&progressInterval, "progress-interval", 0, "Minimum gap between progress events of one transfer (0 = every event)")

	return cmd
}

// startMetricsServer serves /metrics on addr and returns the bound address. The returned
// func shuts the server down.
func startMetricsServer(addr string, log *logging.Logger) (net.Addr, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("Metrics available at /metrics")

	return ln.Addr(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
