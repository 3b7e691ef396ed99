package transfer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rescale/rescale-sftp/internal/constants"
	"github.com/rescale/rescale-sftp/internal/errs"
	"github.com/rescale/rescale-sftp/internal/events"
	"github.com/rescale/rescale-sftp/internal/logging"
	"github.com/rescale/rescale-sftp/internal/ratelimit"
	"github.com/rescale/rescale-sftp/internal/remote"
	"github.com/rescale/rescale-sftp/internal/util/buffers"
)

var (
	errCancelRequested  = errors.New("cancelled by request")
	errCoordinatorClose = errors.New("transfer coordinator closed")
)

// Sessions gives pinned, serialized access to the channels of a connection.
// *connection.Manager implements it.
type Sessions interface {
	IsConnected(connectionID string) bool
	Pin(connectionID string) (int, error)
	Unpin(connectionID string, slot int)
	WithChannel(ctx context.Context, connectionID string, slot int, op func(remote.Channel) error) error
	// Abandon retires a slot whose operation stopped making progress.
	Abandon(connectionID string, slot int, cause error)
}

// Options configures a Coordinator. Zero values select the defaults.
type Options struct {
	ChunkSize        int           // bytes per protocol turn
	ProgressInterval time.Duration // minimum gap between progress events of one transfer
	StallTimeout     time.Duration // longest a single turn may take
	AtomicDownloads  bool          // write downloads to a temp file and rename on completion
	CheckDiskSpace   bool          // refuse downloads that do not fit the local disk
	BandwidthLimit   int64         // bytes/sec across all transfers, 0 for unlimited
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		ChunkSize:        constants.DefaultChunkSize,
		ProgressInterval: constants.ProgressUpdateInterval,
		StallTimeout:     constants.DefaultStallTimeout,
		CheckDiskSpace:   true,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	switch {
	case o.ChunkSize <= 0:
		o.ChunkSize = d.ChunkSize
	case o.ChunkSize < constants.MinChunkSize:
		o.ChunkSize = constants.MinChunkSize
	case o.ChunkSize > constants.MaxChunkSize:
		o.ChunkSize = constants.MaxChunkSize
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = d.ProgressInterval
	}
	if o.StallTimeout <= 0 {
		o.StallTimeout = d.StallTimeout
	}
	return o
}

// Stats holds transfer counts by state. Finished transfers are counted while they are
// still kept in the history.
type Stats struct {
	Queued    int `json:"queued"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Total returns total number of transfers counted.
func (s Stats) Total() int {
	return s.Queued + s.Active + s.Completed + s.Failed + s.Cancelled
}

// Coordinator starts transfers, tracks them until they finish and publishes their events.
//
// Live transfers are kept in a registry until their finished event has been published;
// they then move to a bounded history so that late Get and Wait calls still resolve.
type Coordinator struct {
	sessions Sessions
	opts     Options
	bus      *events.EventBus
	logger   *logging.Logger
	buffers  *buffers.Pool
	limiter  *ratelimit.RateLimiter

	mu      sync.RWMutex
	live    map[string]*Transfer
	order   []string // live ids, creation order
	history []*Transfer
	closed  bool

	wg sync.WaitGroup
}

// NewCoordinator creates a coordinator. bus and logger may be nil.
func NewCoordinator(sessions Sessions, opts Options, bus *events.EventBus, logger *logging.Logger) *Coordinator {
	opts = opts.withDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Coordinator{
		sessions: sessions,
		opts:     opts,
		bus:      bus,
		logger:   logger.Component("transfer"),
		buffers:  buffers.NewPool(opts.ChunkSize),
		limiter:  ratelimit.NewBandwidthLimiter(opts.BandwidthLimit),
		live:     make(map[string]*Transfer),
	}
}

// Options returns the effective options.
func (c *Coordinator) Options() Options { return c.opts }

// StartUpload queues an upload of localPath to remotePath and returns its id immediately.
func (c *Coordinator) StartUpload(connectionID, localPath, remotePath string) (string, error) {
	return c.start(KindUpload, connectionID, localPath, remotePath)
}

// StartDownload queues a download of remotePath to localPath and returns its id immediately.
func (c *Coordinator) StartDownload(connectionID, remotePath, localPath string) (string, error) {
	return c.start(KindDownload, connectionID, localPath, remotePath)
}

func (c *Coordinator) start(kind Kind, connectionID, localPath, remotePath string) (string, error) {
	op := string(kind)
	if localPath == "" {
		return "", errs.Errorf(errs.InvalidArgument, op, "local path is required")
	}
	if remotePath == "" {
		return "", errs.Errorf(errs.InvalidArgument, op, "remote path is required")
	}
	if !c.sessions.IsConnected(connectionID) {
		return "", errs.WithPath(errs.ConnectionLost, op, connectionID, errors.New("not connected"))
	}

	t := newTransfer(uuid.NewString(), connectionID, kind, localPath, remote.CleanPath(remotePath))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", errs.New(errs.Cancelled, op, errCoordinatorClose)
	}
	c.live[t.ID] = t
	c.order = append(c.order, t.ID)
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Info().
		Str("transfer", t.ID).
		Str("connection", connectionID).
		Str("kind", op).
		Str("local", localPath).
		Str("remote", t.RemotePath).
		Msg("Transfer queued")
	c.publishState(events.EventTransferQueued, t)

	go c.run(t)
	return t.ID, nil
}

// Cancel asks a transfer to stop at its next chunk boundary. The chunk in flight completes,
// so the destination never holds a torn chunk. Cancelling a finished transfer is a no-op.
func (c *Coordinator) Cancel(id string) error {
	t, ok := c.lookup(id)
	if !ok {
		return errs.WithPath(errs.NotFound, "cancel", id, errors.New("unknown transfer id"))
	}
	if t.State().IsTerminal() {
		return nil
	}
	c.logger.Info().Str("transfer", id).Msg("Cancel requested")
	t.softCancel(errs.New(errs.Cancelled, "cancel", errCancelRequested))
	return nil
}

// CancelAll cancels every transfer that has not finished.
func (c *Coordinator) CancelAll() {
	for _, t := range c.liveTransfers() {
		_ = c.Cancel(t.ID)
	}
}

// ConnectionClosing fails every unfinished transfer on the connection with cause and waits,
// up to a grace period, for their finished events. It implements connection.Listener.
func (c *Coordinator) ConnectionClosing(connectionID string, cause error) {
	if !errs.Is(cause, errs.ConnectionLost) {
		cause = errs.New(errs.ConnectionLost, "connection", cause)
	}

	var affected []*Transfer
	for _, t := range c.liveTransfers() {
		if t.ConnectionID == connectionID {
			t.hardCancel(cause)
			affected = append(affected, t)
		}
	}
	if len(affected) == 0 {
		return
	}

	c.logger.Warn().
		Err(cause).
		Str("connection", connectionID).
		Int("transfers", len(affected)).
		Msg("Failing transfers on closing connection")

	grace := time.NewTimer(constants.DisconnectGracePeriod)
	defer grace.Stop()
	for _, t := range affected {
		select {
		case <-t.done:
		case <-grace.C:
			c.logger.Warn().Str("connection", connectionID).Msg("Transfers did not finish within grace period")
			return
		}
	}
}

// Get returns a snapshot of a live or recently finished transfer.
func (c *Coordinator) Get(id string) (Info, bool) {
	t, ok := c.lookup(id)
	if !ok {
		return Info{}, false
	}
	return t.Info(), true
}

// List returns snapshots of the live transfers in creation order.
func (c *Coordinator) List() []Info {
	transfers := c.liveTransfers()
	out := make([]Info, len(transfers))
	for i, t := range transfers {
		out[i] = t.Info()
	}
	return out
}

// History returns snapshots of recently finished transfers, oldest first.
func (c *Coordinator) History() []Info {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Info, len(c.history))
	for i, t := range c.history {
		out[i] = t.Info()
	}
	return out
}

// Stats returns counts of live and remembered transfers by state.
func (c *Coordinator) Stats() Stats {
	c.mu.RLock()
	all := make([]*Transfer, 0, len(c.live)+len(c.history))
	for _, t := range c.live {
		all = append(all, t)
	}
	all = append(all, c.history...)
	c.mu.RUnlock()

	var s Stats
	for _, t := range all {
		switch t.State() {
		case StateQueued:
			s.Queued++
		case StateActive:
			s.Active++
		case StateCompleted:
			s.Completed++
		case StateFailed:
			s.Failed++
		case StateCancelled:
			s.Cancelled++
		}
	}
	return s
}

// Wait blocks until the transfer has finished and its finished event has been published.
func (c *Coordinator) Wait(ctx context.Context, id string) (Info, error) {
	t, ok := c.lookup(id)
	if !ok {
		return Info{}, errs.WithPath(errs.NotFound, "wait", id, errors.New("unknown transfer id"))
	}
	select {
	case <-t.done:
		return t.Info(), nil
	case <-ctx.Done():
		return t.Info(), errs.Classify("wait", id, ctx.Err(), errs.Cancelled)
	}
}

// Close stops accepting transfers, cancels the running ones and waits for their workers.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	for _, t := range c.liveTransfers() {
		t.hardCancel(errs.New(errs.Cancelled, "close", errCoordinatorClose))
	}
	c.wg.Wait()
}

func (c *Coordinator) lookup(id string) (*Transfer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if t, ok := c.live[id]; ok {
		return t, true
	}
	for _, t := range c.history {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

func (c *Coordinator) liveTransfers() []*Transfer {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Transfer, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.live[id])
	}
	return out
}

// retire moves a finished transfer from the live registry to the history.
func (c *Coordinator) retire(t *Transfer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.live, t.ID)
	for i, id := range c.order {
		if id == t.ID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.history = append(c.history, t)
	if over := len(c.history) - constants.FinishedTransferHistory; over > 0 {
		c.history = c.history[over:]
	}
}

func (c *Coordinator) publishState(eventType events.EventType, t *Transfer) {
	if c.bus == nil {
		return
	}
	info := t.Info()
	c.bus.Publish(&events.TransferEvent{
		BaseEvent:    events.NewBase(eventType),
		TransferID:   info.ID,
		ConnectionID: info.ConnectionID,
		Kind:         string(info.Kind),
		LocalPath:    info.LocalPath,
		RemotePath:   info.RemotePath,
		Total:        info.Total,
	})
}

func (c *Coordinator) publishProgress(t *Transfer) {
	if c.bus == nil {
		return
	}
	transferred, total, speed := t.progress()
	c.bus.Publish(&events.TransferProgressEvent{
		BaseEvent:    events.NewBase(events.EventTransferProgress),
		TransferID:   t.ID,
		ConnectionID: t.ConnectionID,
		Kind:         string(t.Kind),
		RemotePath:   t.RemotePath,
		Transferred:  transferred,
		Total:        total,
		Speed:        speed,
	})
}

func (c *Coordinator) publishFinished(t *Transfer) {
	if c.bus == nil {
		return
	}
	t.mu.RLock()
	ev := &events.TransferFinishedEvent{
		BaseEvent:    events.NewBase(events.EventTransferFinished),
		TransferID:   t.ID,
		ConnectionID: t.ConnectionID,
		Kind:         string(t.Kind),
		RemotePath:   t.RemotePath,
		State:        string(t.state),
		Transferred:  t.transferred,
		Total:        t.total,
		Error:        t.err,
		ErrorKind:    string(errs.KindOf(t.err)),
	}
	t.mu.RUnlock()
	c.bus.PublishReliable(ev)
}
