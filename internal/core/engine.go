// Package core wires the connection manager, directory lister and transfer coordinator into
// one engine driven by the command surface (CLI and bridge).
package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rescale/rescale-sftp/internal/config"
	"github.com/rescale/rescale-sftp/internal/connection"
	"github.com/rescale/rescale-sftp/internal/constants"
	"github.com/rescale/rescale-sftp/internal/errs"
	"github.com/rescale/rescale-sftp/internal/events"
	"github.com/rescale/rescale-sftp/internal/logging"
	"github.com/rescale/rescale-sftp/internal/metrics"
	"github.com/rescale/rescale-sftp/internal/remote"
	"github.com/rescale/rescale-sftp/internal/remotefs"
	"github.com/rescale/rescale-sftp/internal/transfer"
)

// ConnectRequest carries the inputs of the connect command. Exactly one authentication
// method is used: the private key when PrivateKeyPath is set, otherwise the password.
type ConnectRequest struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	Username       string `json:"username"`
	Password       string `json:"password,omitempty"`
	Passphrase     string `json:"passphrase,omitempty"`
	PrivateKeyPath string `json:"private_key_path,omitempty"`
}

// Endpoint returns the remote endpoint of the request.
func (r ConnectRequest) Endpoint() remote.Endpoint {
	return remote.Endpoint{Host: r.Host, Port: r.Port, Username: r.Username}
}

// Engine is the session-and-transfer engine.
type Engine struct {
	config      *config.Config
	eventBus    *events.EventBus
	connections *connection.Manager
	transfers   *transfer.Coordinator
	files       *remotefs.Lister
	logger      *logging.Logger

	// Dropped-event monitoring
	monitorTicker *time.Ticker
	monitorStop   chan struct{}
	monitorWg     sync.WaitGroup

	closeOnce sync.Once
}

// NewEngine creates an engine that dials real SSH servers. A nil cfg selects the defaults.
func NewEngine(cfg *config.Config, logger *logging.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	dialer, err := remote.NewSFTPDialer(DialerOptions(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create dialer: %w", err)
	}
	return NewEngineWithDialer(cfg, dialer, logger), nil
}

// NewEngineWithDialer creates an engine on top of an arbitrary secure channel factory.
func NewEngineWithDialer(cfg *config.Config, dialer remote.Dialer, logger *logging.Logger) *Engine {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	bus := events.NewEventBus(constants.EventBusDefaultBuffer)
	connections := connection.NewManager(dialer, ConnectionOptions(cfg), bus, logger)
	transfers := transfer.NewCoordinator(connections, TransferOptions(cfg), bus, logger)
	connections.AddListener(transfers)

	return &Engine{
		config:      cfg,
		eventBus:    bus,
		connections: connections,
		transfers:   transfers,
		files:       remotefs.NewLister(connections, remotefs.ListOptions{}, logger),
		logger:      logger.Component("engine"),
		monitorStop: make(chan struct{}),
	}
}

// DialerOptions maps the [connection] section onto the SFTP dialer.
func DialerOptions(cfg *config.Config) remote.DialerOptions {
	return remote.DialerOptions{
		Timeout:               cfg.Connection.ConnectTimeout(),
		Channels:              cfg.Connection.Channels,
		KnownHostsFile:        cfg.Connection.KnownHostsPath(),
		InsecureIgnoreHostKey: cfg.Connection.InsecureIgnoreHostKey,
		ProxyURL:              cfg.Connection.ProxyURL,
		KeepAlive:             cfg.Connection.KeepAlive(),
	}
}

// ConnectionOptions maps the [connection] section onto the connection manager.
func ConnectionOptions(cfg *config.Config) connection.Options {
	return connection.Options{ConnectTimeout: cfg.Connection.ConnectTimeout()}
}

// TransferOptions maps the [transfer] section onto the transfer coordinator.
func TransferOptions(cfg *config.Config) transfer.Options {
	return transfer.Options{
		ChunkSize:        cfg.Transfer.ChunkSize(),
		ProgressInterval: cfg.Transfer.ProgressInterval(),
		StallTimeout:     cfg.Transfer.StallTimeout(),
		AtomicDownloads:  cfg.Transfer.AtomicDownloads,
		CheckDiskSpace:   cfg.Transfer.CheckDiskSpace,
		BandwidthLimit:   cfg.Transfer.BandwidthLimit(),
	}
}

// GetConfig returns the configuration the engine was built with.
func (e *Engine) GetConfig() *config.Config { return e.config }

// Events returns the event bus carrying transfer and connection events.
func (e *Engine) Events() *events.EventBus { return e.eventBus }

// Connections returns the connection manager.
func (e *Engine) Connections() *connection.Manager { return e.connections }

// Transfers returns the transfer coordinator.
func (e *Engine) Transfers() *transfer.Coordinator { return e.transfers }

// Files returns the directory lister.
func (e *Engine) Files() *remotefs.Lister { return e.files }

// Connect authenticates and registers a connection, returning its id.
func (e *Engine) Connect(ctx context.Context, req ConnectRequest) (string, error) {
	creds, err := remote.NewCredentials(req.Password, req.PrivateKeyPath, req.Passphrase)
	if err != nil {
		return "", errs.New(errs.InvalidArgument, "connect", err)
	}
	return e.connections.Connect(ctx, req.Endpoint(), creds)
}

// Disconnect closes a connection, failing its active transfers first.
func (e *Engine) Disconnect(connectionID string) error {
	return e.connections.Disconnect(connectionID)
}

// ListConnections returns every known connection, live ones first.
func (e *Engine) ListConnections() []connection.Info {
	return e.connections.List()
}

// ListDirectory lists a remote directory.
func (e *Engine) ListDirectory(ctx context.Context, connectionID, path string) ([]remotefs.FileEntry, error) {
	return e.files.List(ctx, connectionID, path)
}

// ListDirectoryWith lists a remote directory with explicit listing options.
func (e *Engine) ListDirectoryWith(ctx context.Context, connectionID, path string, opts remotefs.ListOptions) ([]remotefs.FileEntry, error) {
	return e.files.ListWith(ctx, connectionID, path, opts)
}

// UploadFile starts an upload and returns the transfer id.
func (e *Engine) UploadFile(connectionID, localPath, remotePath string) (string, error) {
	return e.transfers.StartUpload(connectionID, localPath, remotePath)
}

// DownloadFile starts a download and returns the transfer id.
func (e *Engine) DownloadFile(connectionID, remotePath, localPath string) (string, error) {
	return e.transfers.StartDownload(connectionID, remotePath, localPath)
}

// CancelTransfer asks a transfer to stop at its next chunk boundary.
func (e *Engine) CancelTransfer(transferID string) error {
	return e.transfers.Cancel(transferID)
}

// CancelAllTransfers asks every unfinished transfer to stop at its next chunk boundary.
func (e *Engine) CancelAllTransfers() {
	e.transfers.CancelAll()
}

// GetTransfer returns a snapshot of a live or recently finished transfer.
func (e *Engine) GetTransfer(transferID string) (transfer.Info, bool) {
	return e.transfers.Get(transferID)
}

// WaitTransfer blocks until the transfer has finished.
func (e *Engine) WaitTransfer(ctx context.Context, transferID string) (transfer.Info, error) {
	return e.transfers.Wait(ctx, transferID)
}

// ListTransfers returns the live transfers followed by the recently finished ones.
func (e *Engine) ListTransfers() []transfer.Info {
	return append(e.transfers.List(), e.transfers.History()...)
}

// TransferStats returns transfer counts by state.
func (e *Engine) TransferStats() transfer.Stats {
	return e.transfers.Stats()
}

// CreateDirectory creates a remote directory.
func (e *Engine) CreateDirectory(ctx context.Context, connectionID, path string) error {
	return e.files.Mkdir(ctx, connectionID, path)
}

// Delete removes a remote file, or an empty directory when isDir is set.
func (e *Engine) Delete(ctx context.Context, connectionID, path string, isDir bool) error {
	return e.files.Remove(ctx, connectionID, path, isDir)
}

// Rename moves a remote file or directory.
func (e *Engine) Rename(ctx context.Context, connectionID, oldPath, newPath string) error {
	return e.files.Rename(ctx, connectionID, oldPath, newPath)
}

// Stat describes a single remote path.
func (e *Engine) Stat(ctx context.Context, connectionID, path string) (remotefs.FileEntry, error) {
	return e.files.Stat(ctx, connectionID, path)
}

// StartMonitoring periodically moves the bus's dropped-event count into the metrics.
func (e *Engine) StartMonitoring(interval time.Duration) {
	if interval <= 0 || e.monitorTicker != nil {
		return
	}
	e.monitorTicker = time.NewTicker(interval)
	e.monitorWg.Add(1)
	go func() {
		defer e.monitorWg.Done()
		for {
			select {
			case <-e.monitorTicker.C:
				e.collectDropped()
			case <-e.monitorStop:
				return
			}
		}
	}()
}

func (e *Engine) collectDropped() int64 {
	dropped := e.eventBus.ResetDroppedEventCount()
	if dropped > 0 {
		metrics.AddDroppedEvents(dropped)
		e.logger.Debug().Int64("dropped", dropped).Msg("Progress events dropped by slow subscribers")
	}
	return dropped
}

// Close stops every transfer, closes every connection and shuts the event bus down.
// It is safe to call more than once.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.monitorStop)
		e.monitorWg.Wait()
		if e.monitorTicker != nil {
			e.monitorTicker.Stop()
		}
		e.collectDropped()

		e.transfers.Close()
		e.connections.CloseAll()
		e.eventBus.Close()
		e.logger.Debug().Msg("Engine closed")
	})
}
