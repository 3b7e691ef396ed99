package constants

import (
	"time"
)

// Transfer chunking
const (
	// DefaultChunkSize - bytes moved per protocol turn (32 KB)
	// Matches the SFTP maximum packet payload most servers accept, so one chunk is
	// one read or write request. Cancellation is checked between chunks.
	DefaultChunkSize = 32 * 1024

	// MinChunkSize - smallest chunk accepted from configuration (4 KB)
	MinChunkSize = 4 * 1024

	// MaxChunkSize - largest chunk accepted from configuration (1 MB)
	// pkg/sftp splits larger buffers into several packets; beyond this the
	// cancellation window grows without a throughput gain.
	MaxChunkSize = 1024 * 1024
)

// Progress reporting
const (
	// ProgressUpdateInterval - minimum time between progress events for one transfer (100ms)
	// The first and the final progress events are always emitted.
	ProgressUpdateInterval = 100 * time.Millisecond

	// SpeedSmoothingFactor - EMA weight of the newest speed sample
	SpeedSmoothingFactor = 0.3
)

// Timeouts
const (
	// DefaultConnectTimeout - TCP dial + SSH handshake + SFTP subsystem (15 seconds)
	DefaultConnectTimeout = 15 * time.Second

	// DefaultStallTimeout - a protocol turn making no progress for this long fails
	// the transfer with StalledTransfer (30 seconds)
	DefaultStallTimeout = 30 * time.Second

	// DefaultKeepAliveInterval - SSH keepalive request interval (30 seconds)
	DefaultKeepAliveInterval = 30 * time.Second

	// DisconnectGracePeriod - how long Disconnect waits for transfers on the connection
	// to reach a terminal state before closing the session anyway (5 seconds)
	DisconnectGracePeriod = 5 * time.Second
)

// Disk space safety margin
const (
	// DiskSpaceBufferPercent - additional space to require beyond file size (15%)
	DiskSpaceBufferPercent = 0.15
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for event channels (1000)
	// 1000 events is generous for typical event throughput
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (5000)
	EventBusMaxBuffer = 5000

	// EventBusMonitorInterval - how often serve mode moves the dropped-event count into metrics
	EventBusMonitorInterval = 10 * time.Second
)

// Registries
const (
	// FinishedTransferHistory - finished transfers kept for Get/Wait after they leave
	// the live registry
	FinishedTransferHistory = 256

	// ClosedConnectionHistory - closed or failed connections kept so Disconnect stays
	// idempotent and State keeps answering
	ClosedConnectionHistory = 256
)

// Multi-channel sessions
const (
	// DefaultChannels - SFTP sub-channels opened per connection
	DefaultChannels = 1

	// MaxChannels - upper bound on sub-channels per connection
	// OpenSSH's default MaxSessions is 10.
	MaxChannels = 10
)
