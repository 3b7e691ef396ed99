// Package progress renders transfer events from the event bus as terminal progress bars:
// a plain progressbar line for one transfer, stacked mpb bars for several.
package progress

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/rescale/rescale-sftp/internal/events"
)

// transferState is what a display remembers about one transfer between events.
type transferState struct {
	index      int
	kind       string
	localPath  string
	remotePath string
	total      uint64
	start      time.Time
}

func newTransferState(kind, remotePath string, total uint64) *transferState {
	return &transferState{kind: kind, remotePath: remotePath, total: total, start: time.Now()}
}

// route formats "source → destination" in the direction of the transfer.
func (s *transferState) route() string {
	if s.localPath == "" {
		return s.remotePath
	}
	local := truncatePath(s.localPath, 2)
	if s.kind == "upload" {
		return fmt.Sprintf("%s → %s", local, s.remotePath)
	}
	return fmt.Sprintf("%s → %s", s.remotePath, local)
}

// summary formats the line printed when a transfer finishes.
func (s *transferState) summary(ev *events.TransferFinishedEvent) string {
	switch ev.State {
	case "completed":
		elapsed := time.Since(s.start)
		speed := 0.0
		if elapsed > 0 {
			speed = float64(ev.Transferred) / elapsed.Seconds() / (1024 * 1024)
		}
		return fmt.Sprintf("✓ %s (%.1f MiB, %s, %.1f MiB/s)\n",
			s.route(), mib(ev.Transferred), elapsed.Round(time.Second), speed)
	case "cancelled":
		return fmt.Sprintf("✗ %s: cancelled\n", s.route())
	default:
		reason := "failed"
		if ev.Error != nil {
			reason = ev.Error.Error()
		}
		return fmt.Sprintf("✗ %s: %s\n", s.route(), reason)
	}
}

// BarDisplay renders transfers with progressbar lines. It suits one transfer at a time.
type BarDisplay struct {
	out    io.Writer
	states map[string]*transferState
	bars   map[string]*progressbar.ProgressBar
}

// NewBarDisplay creates a single-line display writing to out.
func NewBarDisplay(out io.Writer) *BarDisplay {
	return &BarDisplay{
		out:    out,
		states: make(map[string]*transferState),
		bars:   make(map[string]*progressbar.ProgressBar),
	}
}

func (d *BarDisplay) Started(ev *events.TransferEvent) {
	st := d.state(ev.TransferID, ev.Kind, ev.RemotePath, ev.Total)
	st.localPath = ev.LocalPath
	st.total = ev.Total
	d.bar(ev.TransferID, st)
}

func (d *BarDisplay) Progress(ev *events.TransferProgressEvent) {
	st := d.state(ev.TransferID, ev.Kind, ev.RemotePath, ev.Total)
	bar := d.bar(ev.TransferID, st)
	if bar == nil {
		return
	}
	if ev.Total != events.UnknownTotal && st.total != ev.Total {
		st.total = ev.Total
		bar.ChangeMax64(int64(ev.Total))
	}
	_ = bar.Set64(int64(ev.Transferred))
}

func (d *BarDisplay) Finished(ev *events.TransferFinishedEvent) {
	st := d.state(ev.TransferID, ev.Kind, ev.RemotePath, ev.Total)
	if bar, ok := d.bars[ev.TransferID]; ok {
		if ev.State == "completed" {
			_ = bar.Finish()
		} else if !bar.IsFinished() {
			_ = bar.Exit()
		}
		delete(d.bars, ev.TransferID)
	}
	fmt.Fprint(d.out, st.summary(ev))
	delete(d.states, ev.TransferID)
}

func (d *BarDisplay) Writer() io.Writer {
	return d.out
}

func (d *BarDisplay) Close() {
	for id, bar := range d.bars {
		_ = bar.Exit()
		delete(d.bars, id)
	}
}

func (d *BarDisplay) state(id, kind, remotePath string, total uint64) *transferState {
	st, ok := d.states[id]
	if !ok {
		st = newTransferState(kind, remotePath, total)
		d.states[id] = st
	}
	return st
}

// bar returns the transfer's bar, creating it on first use. Empty files get no bar.
func (d *BarDisplay) bar(id string, st *transferState) *progressbar.ProgressBar {
	if bar, ok := d.bars[id]; ok {
		return bar
	}
	if st.total == 0 {
		return nil
	}

	max := int64(-1)
	if st.total != events.UnknownTotal {
		max = int64(st.total)
	}
	out := d.out
	bar := progressbar.NewOptions64(max,
		progressbar.OptionSetDescription(st.route()),
		progressbar.OptionSetWriter(out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(out, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		// Rendering stays on the caller's goroutine
		progressbar.OptionSetSpinnerChangeInterval(0),
		progressbar.OptionSetRenderBlankState(true),
	)
	d.bars[id] = bar
	return bar
}

func mib(n uint64) float64 {
	return float64(n) / (1024 * 1024)
}

// truncatePath truncates a file path to show only the last N components
// Example: truncatePath("/a/b/c/d/file.txt", 3) → "…/c/d/file.txt"
func truncatePath(path string, maxComponents int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= maxComponents {
		return filepath.Base(path)
	}
	relevant := parts[len(parts)-maxComponents:]
	return "…/" + strings.Join(relevant, "/")
}
