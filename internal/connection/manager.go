// Package connection owns the live SFTP sessions and serializes every protocol
// operation issued against them.
package connection

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rescale/rescale-sftp/internal/constants"
	"github.com/rescale/rescale-sftp/internal/errs"
	"github.com/rescale/rescale-sftp/internal/events"
	"github.com/rescale/rescale-sftp/internal/logging"
	"github.com/rescale/rescale-sftp/internal/metrics"
	"github.com/rescale/rescale-sftp/internal/remote"
)

// State is the lifecycle state of a connection.
type State string

const (
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateFailed     State = "failed"
	StateClosed     State = "closed"
)

var (
	errConnectionClosed = errors.New("connection closed")
	errChannelRetired   = errors.New("channel abandoned after a stalled operation")
)

// Listener is told when a connection is about to stop serving operations. The manager
// calls it before the session is closed, so implementations can fail in-flight work
// with the given cause while the connection still looks alive to them.
type Listener interface {
	ConnectionClosing(connectionID string, cause error)
}

// Info is a snapshot of a connection.
type Info struct {
	ID          string          `json:"id"`
	Endpoint    remote.Endpoint `json:"endpoint"`
	State       State           `json:"state"`
	Method      string          `json:"auth_method"`
	Channels    int             `json:"channels"`
	ConnectedAt time.Time       `json:"connected_at"`
	Error       string          `json:"error,omitempty"`
}

// Connection is one registered session. All fields past the header are guarded by mu.
type Connection struct {
	id       string
	endpoint remote.Endpoint
	method   string

	mu          sync.RWMutex
	state       State
	err         error
	session     remote.Session
	arena       *arena
	connectedAt time.Time
	closed      chan struct{} // closed once the connection stops serving operations
}

func (c *Connection) info() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info := Info{
		ID:          c.id,
		Endpoint:    c.endpoint,
		State:       c.state,
		Method:      c.method,
		ConnectedAt: c.connectedAt,
	}
	if c.arena != nil {
		info.Channels = c.arena.size()
	}
	if c.err != nil {
		info.Error = c.err.Error()
	}
	return info
}

func (c *Connection) currentState() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Options configures a Manager.
type Options struct {
	// ConnectTimeout bounds each Connect; 0 means constants.DefaultConnectTimeout.
	ConnectTimeout time.Duration
}

// Manager registers connections and mediates all access to their sessions.
type Manager struct {
	dialer remote.Dialer
	opts   Options
	bus    *events.EventBus
	logger *logging.Logger

	mu        sync.RWMutex
	conns     map[string]*Connection
	ended     []string // ids of closed/failed connections, oldest first
	listeners []Listener
}

// NewManager creates a manager. bus may be nil.
func NewManager(dialer remote.Dialer, opts Options, bus *events.EventBus, logger *logging.Logger) *Manager {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = constants.DefaultConnectTimeout
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		dialer: dialer,
		opts:   opts,
		bus:    bus,
		logger: logger.Component("connection"),
		conns:  make(map[string]*Connection),
	}
}

// AddListener registers a listener for connection shutdowns.
func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Connect authenticates with exactly one method, opens the session and registers it.
// On failure nothing stays registered and the error carries the failure kind.
func (m *Manager) Connect(ctx context.Context, ep remote.Endpoint, creds remote.Credentials) (string, error) {
	if err := ep.Validate(); err != nil {
		return "", errs.New(errs.InvalidArgument, "connect", err)
	}
	if creds == nil {
		return "", errs.New(errs.InvalidArgument, "connect", remote.ErrNoAuthMethod)
	}

	conn := &Connection{
		id:       uuid.NewString(),
		endpoint: ep,
		method:   creds.Method(),
		state:    StateConnecting,
		closed:   make(chan struct{}),
	}

	m.mu.Lock()
	m.conns[conn.id] = conn
	m.mu.Unlock()
	m.publish(conn, nil)

	dialCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	start := time.Now()
	sess, err := m.dialer.Dial(dialCtx, ep, creds)
	if err != nil {
		err = errs.Classify("connect", ep.Address(), err, errs.HostUnreachable)
		if errs.Is(err, errs.Cancelled) && errors.Is(dialCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = errs.New(errs.ConnectionTimeout, "connect", err)
		}

		m.mu.Lock()
		delete(m.conns, conn.id)
		m.mu.Unlock()

		conn.mu.Lock()
		conn.state = StateFailed
		conn.err = err
		conn.mu.Unlock()

		metrics.RecordConnect(string(errs.KindOf(err)), 0)
		m.logger.Warn().Err(err).Str("endpoint", ep.String()).Msg("Connect failed")
		m.publish(conn, err)
		return "", err
	}

	conn.mu.Lock()
	if conn.state != StateConnecting {
		// Disconnected while the dial was in flight.
		conn.mu.Unlock()
		_ = sess.Close()
		metrics.RecordConnect(string(errs.Cancelled), 0)
		return "", errs.WithPath(errs.Cancelled, "connect", ep.Address(), errConnectionClosed)
	}
	conn.session = sess
	conn.arena = newArena(sess.Channels())
	conn.connectedAt = time.Now()
	conn.state = StateConnected
	conn.mu.Unlock()

	metrics.RecordConnect("ok", time.Since(start))
	m.logger.Info().
		Str("connection", conn.id).
		Str("endpoint", ep.String()).
		Int("channels", len(sess.Channels())).
		Msg("Connected")
	m.publish(conn, nil)

	go m.watch(conn, sess)
	return conn.id, nil
}

// watch fails the connection when its session ends on its own.
func (m *Manager) watch(conn *Connection, sess remote.Session) {
	select {
	case <-sess.Done():
		cause := sess.Err()
		if cause == nil {
			cause = errConnectionClosed
		}
		m.markLost(conn, errs.New(errs.ConnectionLost, "session", cause))
	case <-conn.closed:
	}
}

// Disconnect closes a connection. Active work on it is failed with ConnectionLost before
// the session goes away. Disconnecting a connection that already ended is a no-op.
func (m *Manager) Disconnect(id string) error {
	conn, err := m.lookup(id)
	if err != nil {
		return err
	}

	conn.mu.Lock()
	prev := conn.state
	if prev == StateClosed || prev == StateFailed {
		conn.state = StateClosed
		conn.mu.Unlock()
		return nil
	}
	conn.state = StateClosed
	conn.mu.Unlock()

	m.logger.Info().Str("connection", id).Msg("Disconnecting")
	m.shutdown(conn, errs.New(errs.ConnectionLost, "disconnect", errConnectionClosed))
	if prev == StateConnected {
		metrics.RecordDisconnect(false)
	}
	m.publish(conn, nil)
	return nil
}

// CloseAll disconnects every live connection.
func (m *Manager) CloseAll() {
	for _, info := range m.List() {
		if info.State == StateConnected {
			_ = m.Disconnect(info.ID)
		}
	}
}

// markLost moves a connected connection to Failed and tears it down in the background.
// It is safe to call from inside an operation running on the connection.
func (m *Manager) markLost(conn *Connection, cause error) {
	conn.mu.Lock()
	if conn.state != StateConnected {
		conn.mu.Unlock()
		return
	}
	conn.state = StateFailed
	conn.err = cause
	conn.mu.Unlock()

	m.logger.Warn().Err(cause).Str("connection", conn.id).Msg("Connection lost")
	metrics.RecordDisconnect(true)

	go func() {
		m.shutdown(conn, cause)
		m.publish(conn, cause)
	}()
}

// shutdown notifies listeners, stops admitting operations and closes the session.
func (m *Manager) shutdown(conn *Connection, cause error) {
	m.mu.RLock()
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()

	for _, l := range listeners {
		l.ConnectionClosing(conn.id, cause)
	}

	close(conn.closed)

	conn.mu.RLock()
	sess := conn.session
	conn.mu.RUnlock()
	if sess != nil {
		if err := sess.Close(); err != nil {
			m.logger.Debug().Err(err).Str("connection", conn.id).Msg("Session close error")
		}
	}

	m.retire(conn.id)
}

// retire remembers an ended connection, evicting the oldest ones past the history cap.
func (m *Manager) retire(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ended = append(m.ended, id)
	for len(m.ended) > constants.ClosedConnectionHistory {
		delete(m.conns, m.ended[0])
		m.ended = m.ended[1:]
	}
}

func (m *Manager) lookup(id string) (*Connection, error) {
	m.mu.RLock()
	conn, ok := m.conns[id]
	m.mu.RUnlock()
	if !ok {
		return nil, errs.WithPath(errs.NotFound, "connection", id, errors.New("unknown connection id"))
	}
	return conn, nil
}

// live returns the connection if it is Connected, or ConnectionLost otherwise.
func (m *Manager) live(op, id string) (*Connection, error) {
	conn, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	if state := conn.currentState(); state != StateConnected {
		return nil, errs.WithPath(errs.ConnectionLost, op, id, errors.New("connection is "+string(state)))
	}
	return conn, nil
}

// Get returns a snapshot of the connection.
func (m *Manager) Get(id string) (Info, bool) {
	conn, err := m.lookup(id)
	if err != nil {
		return Info{}, false
	}
	return conn.info(), true
}

// State returns the current state of the connection.
func (m *Manager) State(id string) (State, error) {
	conn, err := m.lookup(id)
	if err != nil {
		return "", err
	}
	return conn.currentState(), nil
}

// IsConnected reports whether id names a Connected connection.
func (m *Manager) IsConnected(id string) bool {
	state, err := m.State(id)
	return err == nil && state == StateConnected
}

// List returns snapshots of every registered connection, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Pin reserves sub-channel affinity for a multi-turn operation and returns the slot.
// Every Pin must be paired with Unpin.
func (m *Manager) Pin(id string) (int, error) {
	conn, err := m.live("pin", id)
	if err != nil {
		return 0, err
	}
	slot := conn.arena.pin()
	if slot < 0 {
		return 0, errs.WithPath(errs.ConnectionLost, "pin", id, errChannelRetired)
	}
	return slot, nil
}

// Abandon retires a slot whose operation stopped making progress. The operation still holds
// the channel, so nothing else may use it. Once no slot is left the connection is marked
// lost, which closes the session and unblocks the abandoned operation.
func (m *Manager) Abandon(id string, slot int, cause error) {
	conn, err := m.lookup(id)
	if err != nil || conn.arena == nil || slot < 0 || slot >= conn.arena.size() {
		return
	}
	live := conn.arena.retire(slot)
	m.logger.Warn().Err(cause).Str("connection", id).Int("slot", slot).Int("live_slots", live).
		Msg("Channel abandoned")
	if live == 0 {
		m.markLost(conn, errs.New(errs.ConnectionLost, "session", cause))
	}
}

// Unpin releases affinity taken by Pin. Unknown ids are ignored.
func (m *Manager) Unpin(id string, slot int) {
	conn, err := m.lookup(id)
	if err != nil || conn.arena == nil {
		return
	}
	conn.arena.unpin(slot)
}

// WithChannel runs op with exclusive use of the sub-channel in slot. No other operation
// touches that channel until op returns. A connection-level failure reported by op marks
// the connection Failed.
func (m *Manager) WithChannel(ctx context.Context, id string, slot int, op func(remote.Channel) error) error {
	conn, err := m.live("session", id)
	if err != nil {
		return err
	}
	if slot < 0 || slot >= conn.arena.size() {
		return errs.Errorf(errs.InvalidArgument, "session", "slot %d out of range", slot)
	}

	ch, err := conn.arena.acquire(ctx, slot, conn.closed)
	if err != nil {
		switch {
		case errors.Is(err, errConnectionClosed):
			return errs.WithPath(errs.ConnectionLost, "session", id, err)
		case errors.Is(err, errChannelRetired):
			return errs.WithPath(errs.StalledTransfer, "session", id, err)
		}
		return errs.Classify("session", id, err, errs.Cancelled)
	}
	defer conn.arena.release(slot)

	// The connection may have ended while we waited for the slot.
	if state := conn.currentState(); state != StateConnected {
		return errs.WithPath(errs.ConnectionLost, "session", id, errors.New("connection is "+string(state)))
	}

	err = op(ch)
	if err != nil && errs.IsConnectionLevel(errs.KindOf(remote.Classify("", "", err))) {
		m.markLost(conn, errs.New(errs.ConnectionLost, "session", err))
	}
	return err
}

// WithSession runs op on the least busy sub-channel of the connection.
func (m *Manager) WithSession(ctx context.Context, id string, op func(remote.Channel) error) error {
	slot, err := m.Pin(id)
	if err != nil {
		return err
	}
	defer m.Unpin(id, slot)
	return m.WithChannel(ctx, id, slot, op)
}

func (m *Manager) publish(conn *Connection, err error) {
	if m.bus == nil {
		return
	}
	info := conn.info()
	m.bus.Publish(&events.ConnectionEvent{
		BaseEvent:    events.NewBase(events.EventConnectionState),
		ConnectionID: info.ID,
		Endpoint:     info.Endpoint.String(),
		State:        string(info.State),
		Error:        err,
	})
}
