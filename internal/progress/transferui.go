package progress

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/rescale/rescale-sftp/internal/events"
)

// TransferUI manages multiple concurrent transfer progress bars using mpb
type TransferUI struct {
	out        io.Writer
	progress   *mpb.Progress
	bars       map[string]*fileBar
	states     map[string]*transferState
	isTerminal bool
	totalFiles int
	started    int
}

// fileBar represents a single transfer's progress bar
type fileBar struct {
	bar        *mpb.Bar
	lastUpdate time.Time
	lastBytes  int64
}

// NewTransferUI creates a new transfer UI for the given number of files. Bars are drawn only
// when out is a terminal; otherwise one line is printed per start and per finish.
func NewTransferUI(out io.Writer, totalFiles int) *TransferUI {
	isTerminal := isTerminalWriter(out)

	var p *mpb.Progress
	if isTerminal {
		// Enable ANSI escape sequences on Windows for proper progress bar rendering
		if f, ok := out.(*os.File); ok {
			enableANSIOnWindows(f)
		}
		p = mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(300*time.Millisecond), // ~3 times per second
			mpb.WithWidth(100),
		)
	}

	return &TransferUI{
		out:        out,
		progress:   p,
		bars:       make(map[string]*fileBar),
		states:     make(map[string]*transferState),
		isTerminal: isTerminal,
		totalFiles: totalFiles,
	}
}

func (u *TransferUI) Started(ev *events.TransferEvent) {
	st := u.state(ev.TransferID, ev.Kind, ev.RemotePath, ev.Total)
	st.localPath = ev.LocalPath
	if ev.Total != events.UnknownTotal {
		st.total = ev.Total
	}
	u.bar(ev.TransferID, st)
}

// Progress moves the bar, feeding elapsed time to mpb so EWMA speed and ETA stay accurate.
// Updates closer than 300ms are coalesced.
func (u *TransferUI) Progress(ev *events.TransferProgressEvent) {
	st := u.state(ev.TransferID, ev.Kind, ev.RemotePath, ev.Total)
	fb := u.bar(ev.TransferID, st)
	if fb == nil || fb.bar == nil {
		return
	}

	if ev.Total != events.UnknownTotal && st.total != ev.Total {
		st.total = ev.Total
		fb.bar.SetTotal(int64(ev.Total), false)
	}

	const updateInterval = 300 * time.Millisecond
	now := time.Now()
	elapsed := now.Sub(fb.lastUpdate)
	if elapsed < updateInterval {
		return
	}
	current := int64(ev.Transferred)
	fb.bar.EwmaIncrInt64(current-fb.lastBytes, elapsed)
	fb.lastBytes = current
	fb.lastUpdate = now
}

func (u *TransferUI) Finished(ev *events.TransferFinishedEvent) {
	st := u.state(ev.TransferID, ev.Kind, ev.RemotePath, ev.Total)
	fb := u.bar(ev.TransferID, st)

	if fb != nil && fb.bar != nil {
		if ev.State == "completed" {
			// ENSURE exact 100% completion (no rounding errors)
			n := int64(ev.Transferred)
			fb.bar.SetCurrent(n)
			fb.bar.SetTotal(n, true)
		} else {
			fb.bar.Abort(false) // false = don't remove (show failure)
		}
	}

	fmt.Fprint(u.Writer(), st.summary(ev))
	delete(u.bars, ev.TransferID)
	delete(u.states, ev.TransferID)
}

// Writer returns an io.Writer that safely prints above the progress bars
func (u *TransferUI) Writer() io.Writer {
	if u.progress != nil && u.isTerminal {
		return u.progress
	}
	return u.out
}

// IsTerminal returns true if output is to a terminal (progress bars are active).
func (u *TransferUI) IsTerminal() bool {
	return u.isTerminal
}

// Close aborts the bars of transfers that never finished and waits for mpb to stop.
func (u *TransferUI) Close() {
	for id, fb := range u.bars {
		if fb.bar != nil {
			fb.bar.Abort(false)
		}
		delete(u.bars, id)
	}
	if u.progress != nil {
		u.progress.Wait()
	}
}

func (u *TransferUI) state(id, kind, remotePath string, total uint64) *transferState {
	st, ok := u.states[id]
	if !ok {
		st = newTransferState(kind, remotePath, total)
		u.started++
		st.index = u.started
		u.states[id] = st
	}
	return st
}

// bar returns the transfer's bar, creating it on first use.
func (u *TransferUI) bar(id string, st *transferState) *fileBar {
	if fb, ok := u.bars[id]; ok {
		return fb
	}

	fb := &fileBar{lastUpdate: time.Now()}
	u.bars[id] = fb

	total := int64(0) // mpb treats a total <= 0 as not known yet
	if st.total != events.UnknownTotal {
		total = int64(st.total)
	}

	if !u.isTerminal {
		// Non-TTY: print simple start message
		fmt.Fprintf(u.out, "%s [%d/%d]: %s (%.1f MiB)\n",
			verb(st.kind), st.index, u.totalFiles, st.route(), mib(uint64(total)))
		return fb
	}

	label := fmt.Sprintf("[%d/%d] %s", st.index, u.totalFiles, st.route())
	fb.bar = u.progress.New(total,
		// Custom bar style with Unicode block characters
		mpb.BarStyle().
			Lbound("[").
			Filler("█").  // U+2588 - Full block for completed portion
			Tip("█").     // Full block at leading edge
			Padding("░"). // U+2591 - Light shade for remaining portion
			Rbound("]"),
		mpb.PrependDecorators(
			decor.Name(label, decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
			decor.Name("  "),
			decor.Percentage(decor.WCSyncSpace),
			decor.Name("  "),
			decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 30, decor.WCSyncSpace),
			decor.Name("  "),
			decor.Name("ETA ", decor.WCSyncWidth),
			decor.EwmaETA(decor.ET_STYLE_GO, 30),
		),
		mpb.BarRemoveOnComplete(),
	)
	return fb
}

func verb(kind string) string {
	if kind == "upload" {
		return "Uploading"
	}
	return "Downloading"
}

func isTerminalWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// enableANSIOnWindows enables Virtual Terminal processing on Windows for ANSI escape sequences
// This is a no-op on non-Windows platforms
func enableANSIOnWindows(f *os.File) {
	if runtime.GOOS == "windows" {
		enableWindowsANSI(f)
	}
}
