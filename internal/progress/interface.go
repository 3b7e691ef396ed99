package progress

import (
	"io"

	"github.com/rescale/rescale-sftp/internal/events"
)

// Display renders transfer events. Both the single-bar and the multi-bar displays implement
// it; all methods are called from one goroutine.
type Display interface {
	// Started announces a transfer whose worker is running
	Started(ev *events.TransferEvent)

	// Progress reports bytes moved. It may arrive without a preceding Started, since
	// announcements are best-effort.
	Progress(ev *events.TransferProgressEvent)

	// Finished reports the terminal state and prints a summary line
	Finished(ev *events.TransferFinishedEvent)

	// Writer returns an io.Writer that safely outputs above the progress bars
	Writer() io.Writer

	// Close aborts bars that never finished and waits for rendering to stop
	Close()
}

// NewDisplay picks a display for count concurrent transfers: one plain bar for a single
// transfer, stacked bars for more.
func NewDisplay(out io.Writer, count int) Display {
	if count <= 1 {
		return NewBarDisplay(out)
	}
	return NewTransferUI(out, count)
}

// NoOpDisplay renders nothing (for --quiet and scripted use).
type NoOpDisplay struct {
	out io.Writer
}

// NewNoOpDisplay creates a display that only passes Writer through.
func NewNoOpDisplay(out io.Writer) *NoOpDisplay {
	return &NoOpDisplay{out: out}
}

func (d *NoOpDisplay) Started(ev *events.TransferEvent)          {}
func (d *NoOpDisplay) Progress(ev *events.TransferProgressEvent) {}
func (d *NoOpDisplay) Finished(ev *events.TransferFinishedEvent) {}
func (d *NoOpDisplay) Writer() io.Writer                         { return d.out }
func (d *NoOpDisplay) Close()                                    {}
