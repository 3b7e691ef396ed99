// Package transfer runs uploads and downloads over registered connections.
//
// Each transfer is executed by its own goroutine, which moves fixed-size chunks one protocol
// turn at a time through the connection manager and reports progress on the event bus.
package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/rescale/rescale-sftp/internal/constants"
	"github.com/rescale/rescale-sftp/internal/errs"
	"github.com/rescale/rescale-sftp/internal/events"
)

// Kind indicates whether a transfer is an upload or download.
type Kind string

const (
	KindUpload   Kind = "upload"
	KindDownload Kind = "download"
)

// State represents the current state of a transfer.
type State string

const (
	StateQueued    State = "queued"    // Registered, worker not yet running
	StateActive    State = "active"    // Moving bytes
	StateCompleted State = "completed" // Every byte written and the destination closed
	StateFailed    State = "failed"    // Failed with error
	StateCancelled State = "cancelled" // Cancelled by the caller
)

// IsTerminal reports whether no further transition is possible from s.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// UnknownSize is the total of a transfer whose source has not been stat'ed yet.
const UnknownSize = events.UnknownTotal

// Info is a snapshot of a transfer, safe to hand to callers.
type Info struct {
	ID           string    `json:"id"`
	ConnectionID string    `json:"connection_id"`
	Kind         Kind      `json:"kind"`
	LocalPath    string    `json:"local_path"`
	RemotePath   string    `json:"remote_path"`
	State        State     `json:"state"`
	Transferred  uint64    `json:"bytes_transferred"`
	Total        uint64    `json:"total_bytes"`
	Speed        float64   `json:"speed"` // bytes/sec, smoothed
	Error        string    `json:"error,omitempty"`
	ErrorKind    errs.Kind `json:"error_kind,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
}

// TotalKnown reports whether Total holds a real size.
func (i Info) TotalKnown() bool { return i.Total != UnknownSize }

// Transfer is a single upload or download. Progress fields are only written by the transfer's
// worker; the state is also written by cancellation. All fields past the header are guarded by mu.
type Transfer struct {
	ID           string
	ConnectionID string
	Kind         Kind
	LocalPath    string
	RemotePath   string

	mu          sync.RWMutex
	state       State
	transferred uint64
	total       uint64
	speed       float64
	err         error

	// EMA speed internals
	lastBytes  uint64
	lastSample time.Time

	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time

	// soft ends at the next chunk boundary; hard abandons the current turn. soft derives
	// from hard, so a hard abort also ends the chunk loop.
	soft       context.Context
	softCancel context.CancelCauseFunc
	hard       context.Context
	hardCancel context.CancelCauseFunc

	done chan struct{} // closed after the finished event has been published
}

func newTransfer(id, connectionID string, kind Kind, localPath, remotePath string) *Transfer {
	hard, hardCancel := context.WithCancelCause(context.Background())
	soft, softCancel := context.WithCancelCause(hard)
	return &Transfer{
		ID:           id,
		ConnectionID: connectionID,
		Kind:         kind,
		LocalPath:    localPath,
		RemotePath:   remotePath,
		state:        StateQueued,
		total:        UnknownSize,
		createdAt:    time.Now(),
		soft:         soft,
		softCancel:   softCancel,
		hard:         hard,
		hardCancel:   hardCancel,
		done:         make(chan struct{}),
	}
}

// Info returns a snapshot of the transfer.
func (t *Transfer) Info() Info {
	t.mu.RLock()
	defer t.mu.RUnlock()

	info := Info{
		ID:           t.ID,
		ConnectionID: t.ConnectionID,
		Kind:         t.Kind,
		LocalPath:    t.LocalPath,
		RemotePath:   t.RemotePath,
		State:        t.state,
		Transferred:  t.transferred,
		Total:        t.total,
		Speed:        t.speed,
		CreatedAt:    t.createdAt,
		StartedAt:    t.startedAt,
		FinishedAt:   t.finishedAt,
	}
	if t.err != nil {
		info.Error = t.err.Error()
		info.ErrorKind = errs.KindOf(t.err)
	}
	return info
}

// State returns the current state.
func (t *Transfer) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Done is closed once the transfer is terminal and its finished event has been published.
func (t *Transfer) Done() <-chan struct{} { return t.done }

// activate moves a queued transfer to Active with the given total.
func (t *Transfer) activate(total uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateQueued {
		return false
	}
	now := time.Now()
	t.state = StateActive
	t.total = total
	t.startedAt = now
	t.lastSample = now
	return true
}

// advance records n more bytes and returns the new count and smoothed speed.
func (t *Transfer) advance(n int) (uint64, float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.transferred += uint64(n)

	now := time.Now()
	elapsed := now.Sub(t.lastSample).Seconds()
	if elapsed >= constants.ProgressUpdateInterval.Seconds() && t.transferred > t.lastBytes {
		instant := float64(t.transferred-t.lastBytes) / elapsed
		if t.speed > 0 {
			t.speed = constants.SpeedSmoothingFactor*instant + (1-constants.SpeedSmoothingFactor)*t.speed
		} else {
			t.speed = instant
		}
		t.lastBytes = t.transferred
		t.lastSample = now
	}
	return t.transferred, t.speed
}

func (t *Transfer) progress() (transferred, total uint64, speed float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.transferred, t.total, t.speed
}

// finish records the terminal state. A completed transfer pins total to what was moved.
func (t *Transfer) finish(state State, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.IsTerminal() {
		return
	}
	t.state = state
	t.err = err
	t.finishedAt = time.Now()
	if state == StateCompleted {
		t.total = t.transferred
	} else if t.total != UnknownSize && t.transferred > t.total {
		t.total = t.transferred
	}
}

func (t *Transfer) duration() (time.Duration, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.startedAt.IsZero() {
		return 0, false
	}
	return t.finishedAt.Sub(t.startedAt), true
}
