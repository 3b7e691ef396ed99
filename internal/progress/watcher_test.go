package progress

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale/rescale-sftp/internal/events"
)

type recordingDisplay struct {
	mu     sync.Mutex
	calls  []string
	closed bool
}

func (d *recordingDisplay) record(s string) {
	d.mu.Lock()
	d.calls = append(d.calls, s)
	d.mu.Unlock()
}

func (d *recordingDisplay) Started(ev *events.TransferEvent)          { d.record("started " + ev.TransferID) }
func (d *recordingDisplay) Progress(ev *events.TransferProgressEvent) { d.record("progress " + ev.TransferID) }
func (d *recordingDisplay) Finished(ev *events.TransferFinishedEvent) { d.record("finished " + ev.TransferID) }
func (d *recordingDisplay) Writer() io.Writer                         { return io.Discard }
func (d *recordingDisplay) Close()                                    { d.closed = true }

func TestWatcherWaitsForTransfers(t *testing.T) {
	bus := events.NewEventBus(16)
	defer bus.Close()

	display := &recordingDisplay{}
	w := NewWatcher(bus, display)

	queued := started("t1", "download", "/tmp/a", "/a", 10)
	queued.BaseEvent = events.NewBase(events.EventTransferQueued)
	bus.Publish(queued)
	bus.Publish(started("t1", "download", "/tmp/a", "/a", 10))
	bus.Publish(progressed("t1", "download", "/a", 5, 10))
	bus.PublishReliable(finished("t1", "download", "/a", "completed", 10, nil))

	go func() {
		time.Sleep(20 * time.Millisecond)
		bus.PublishReliable(finished("t2", "upload", "/b", "failed", 0, nil))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	results, err := w.Wait(ctx, "t2", "t1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "t2", results[0].TransferID)
	assert.Equal(t, "failed", results[0].State)
	assert.Equal(t, "t1", results[1].TransferID)
	assert.Equal(t, "completed", results[1].State)

	w.Close()
	w.Close()

	assert.True(t, display.closed)
	assert.Equal(t, []string{"started t1", "progress t1", "finished t1", "finished t2"}, display.calls)
}

func TestWatcherWaitHonorsContext(t *testing.T) {
	bus := events.NewEventBus(16)
	defer bus.Close()

	w := NewWatcher(bus, NewNoOpDisplay(io.Discard))
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := w.Wait(ctx, "never")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
