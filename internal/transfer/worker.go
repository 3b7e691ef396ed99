package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rescale/rescale-sftp/internal/constants"
	"github.com/rescale/rescale-sftp/internal/diskspace"
	"github.com/rescale/rescale-sftp/internal/errs"
	"github.com/rescale/rescale-sftp/internal/events"
	"github.com/rescale/rescale-sftp/internal/metrics"
	"github.com/rescale/rescale-sftp/internal/remote"
)

// worker executes one transfer. It owns the transfer's progress fields and its pinned slot.
type worker struct {
	c    *Coordinator
	t    *Transfer
	slot int

	buf       *[]byte
	abandoned bool // a turn was left running; its channel, handle and buffer are off limits

	lastEmit time.Time
}

func (c *Coordinator) run(t *Transfer) {
	defer c.wg.Done()

	w := &worker{c: c, t: t, slot: -1}
	err := w.execute()
	w.release()
	c.finalize(t, err)
}

func (w *worker) execute() error {
	if err := w.checkpoint(); err != nil {
		return err
	}

	slot, err := w.c.sessions.Pin(w.t.ConnectionID)
	if err != nil {
		return err
	}
	w.slot = slot
	w.buf = w.c.buffers.Get()

	if w.t.Kind == KindUpload {
		return w.upload()
	}
	return w.download()
}

func (w *worker) release() {
	if w.slot >= 0 {
		w.c.sessions.Unpin(w.t.ConnectionID, w.slot)
	}
	if w.buf != nil && !w.abandoned {
		w.c.buffers.Put(w.buf)
	}
	w.buf = nil
}

func (w *worker) download() error {
	t := w.t

	var size int64
	err := w.turn(t.soft, "stat", func(ch remote.Channel) error {
		fi, err := ch.Stat(t.RemotePath)
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return errs.WithPath(errs.InvalidArgument, "download", t.RemotePath, errors.New("is a directory"))
		}
		size = fi.Size()
		return nil
	})
	if err != nil {
		return err
	}
	total := uint64(0)
	if size > 0 {
		total = uint64(size)
	}

	if w.c.opts.CheckDiskSpace && total > 0 {
		if err := diskspace.CheckAvailableSpace(t.LocalPath, int64(total), 1+constants.DiskSpaceBufferPercent); err != nil {
			return localError("download", t.LocalPath, err)
		}
	}

	var src remote.File
	err = w.turn(t.soft, "open", func(ch remote.Channel) error {
		var err error
		src, err = ch.Open(t.RemotePath)
		return err
	})
	if err != nil {
		return err
	}

	dst, err := w.openSink()
	if err != nil {
		_ = w.closeRemote(src)
		return localError("download", t.LocalPath, err)
	}

	w.begin(total)

	buf := *w.buf
	for {
		if err := w.checkpoint(); err != nil {
			_ = w.closeRemote(src)
			_ = dst.Abort()
			return err
		}

		var n int
		var eof bool
		err := w.turn(t.soft, "read", func(remote.Channel) error {
			var err error
			n, err = src.Read(buf)
			if errors.Is(err, io.EOF) {
				eof = true
				return nil
			}
			return err
		})
		if err != nil {
			_ = w.closeRemote(src)
			_ = dst.Abort()
			return err
		}

		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				_ = w.closeRemote(src)
				_ = dst.Abort()
				return localError("download", t.LocalPath, err)
			}
			w.progress(n)
		}
		if eof {
			break
		}
	}

	if err := w.closeRemote(src); err != nil {
		_ = dst.Abort()
		return err
	}
	if err := dst.Commit(); err != nil {
		return localError("download", t.LocalPath, err)
	}
	return nil
}

func (w *worker) upload() error {
	t := w.t

	src, err := os.Open(t.LocalPath)
	if err != nil {
		return errs.Classify("upload", t.LocalPath, err, errs.IoError)
	}
	defer src.Close()

	fi, err := src.Stat()
	if err != nil {
		return errs.Classify("upload", t.LocalPath, err, errs.IoError)
	}
	if fi.IsDir() {
		return errs.WithPath(errs.InvalidArgument, "upload", t.LocalPath, errors.New("is a directory"))
	}
	total := uint64(0)
	if fi.Size() > 0 {
		total = uint64(fi.Size())
	}

	var dst remote.File
	err = w.turn(t.soft, "create", func(ch remote.Channel) error {
		var err error
		dst, err = ch.Create(t.RemotePath)
		return err
	})
	if err != nil {
		return err
	}

	w.begin(total)

	buf := *w.buf
	for {
		if err := w.checkpoint(); err != nil {
			_ = w.closeRemote(dst)
			return err
		}

		n, readErr := io.ReadFull(src, buf)
		if readErr != nil && !errors.Is(readErr, io.EOF) && !errors.Is(readErr, io.ErrUnexpectedEOF) {
			_ = w.closeRemote(dst)
			return errs.Classify("upload", t.LocalPath, readErr, errs.IoError)
		}

		if n > 0 {
			chunk := buf[:n]
			err := w.turn(t.soft, "write", func(remote.Channel) error {
				_, err := dst.Write(chunk)
				return err
			})
			if err != nil {
				_ = w.closeRemote(dst)
				return err
			}
			w.progress(n)
		}
		if readErr != nil {
			break
		}
	}

	return w.closeRemote(dst)
}

func (w *worker) openSink() (sink, error) {
	if w.c.opts.AtomicDownloads {
		return newAtomicSink(w.t.LocalPath)
	}
	return newFileSink(w.t.LocalPath)
}

// closeRemote closes a remote handle on the channel that opened it. Cleanup closes run even
// after a cancel request, but not once a turn has been abandoned or the connection is going away.
func (w *worker) closeRemote(f remote.File) error {
	if f == nil || w.abandoned {
		return nil
	}
	return w.turn(w.t.hard, "close", func(remote.Channel) error {
		return f.Close()
	})
}

// begin activates the transfer and emits its first progress event.
func (w *worker) begin(total uint64) {
	if !w.t.activate(total) {
		return
	}
	metrics.RecordTransferStart(string(w.t.Kind))
	w.c.logger.Debug().Str("transfer", w.t.ID).Uint64("total", total).Msg("Transfer started")
	w.c.publishState(events.EventTransferStarted, w.t)
	w.emit(true)
}

// progress accounts for n moved bytes, throttles progress events and applies the bandwidth limit.
func (w *worker) progress(n int) {
	w.t.advance(n)
	metrics.RecordTransferBytes(string(w.t.Kind), n)
	w.emit(false)

	// The limiter only returns early when the transfer is being stopped; checkpoint reports that.
	_ = w.c.limiter.WaitN(w.t.soft, n)
}

func (w *worker) emit(force bool) {
	now := time.Now()
	if !force && now.Sub(w.lastEmit) < w.c.opts.ProgressInterval {
		return
	}
	w.lastEmit = now
	w.c.publishProgress(w.t)
}

// checkpoint reports why the transfer must stop, if it must. It is consulted between chunks.
func (w *worker) checkpoint() error {
	if w.t.soft.Err() == nil {
		return nil
	}
	return stopCause(w.t.soft)
}

// turn runs one protocol operation on the pinned slot. Waiting for the slot gives up when ctx
// ends. A turn that runs past the stall timeout, or outlives a hard abort, is abandoned: the
// worker stops waiting. A stalled slot is also retired, so the operation still holding it
// cannot wedge later work on the connection.
func (w *worker) turn(ctx context.Context, op string, fn func(remote.Channel) error) error {
	if w.abandoned {
		return errs.WithPath(errs.StalledTransfer, op, w.t.RemotePath, errors.New("channel abandoned"))
	}

	done := make(chan error, 1)
	go func() {
		done <- w.c.sessions.WithChannel(ctx, w.t.ConnectionID, w.slot, fn)
	}()

	stall := time.NewTimer(w.c.opts.StallTimeout)
	defer stall.Stop()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return stopCause(ctx)
		}
		return remote.Classify(op, w.t.RemotePath, err)

	case <-stall.C:
		w.abandoned = true
		err := errs.WithPath(errs.StalledTransfer, op, w.t.RemotePath,
			fmt.Errorf("no progress for %s", w.c.opts.StallTimeout))
		w.c.sessions.Abandon(w.t.ConnectionID, w.slot, err)
		return err

	case <-w.t.hard.Done():
		w.abandoned = true
		return stopCause(w.t.hard)
	}
}

// localError classifies a failed local file operation, calling out a full disk.
func localError(op, path string, err error) error {
	if diskspace.IsInsufficientSpaceError(err) || errs.IsDiskFullError(err) {
		return errs.WithPath(errs.IoError, op, path, fmt.Errorf("local disk is full: %w", err))
	}
	return errs.Classify(op, path, err, errs.IoError)
}

// stopCause turns the cause of a cancelled context into a classified error.
func stopCause(ctx context.Context) error {
	cause := context.Cause(ctx)
	var e *errs.Error
	if errors.As(cause, &e) {
		return cause
	}
	return errs.Classify("transfer", "", cause, errs.Cancelled)
}

// finalize records the terminal state, emits the last progress and the finished event, and
// retires the transfer.
func (c *Coordinator) finalize(t *Transfer, err error) {
	switch {
	case err == nil:
		t.finish(StateCompleted, nil)
	case errs.Is(err, errs.Cancelled):
		t.finish(StateCancelled, err)
	default:
		t.finish(StateFailed, err)
	}

	info := t.Info()
	log := c.logger.Info()
	if info.State == StateFailed {
		log = c.logger.Warn().Err(err)
	}
	log.Str("transfer", t.ID).
		Str("state", string(info.State)).
		Uint64("transferred", info.Transferred).
		Msg("Transfer finished")

	dur, started := t.duration()
	metrics.RecordTransferFinish(string(t.Kind), string(info.State), started, dur)

	if started {
		c.publishProgress(t)
	}
	c.publishFinished(t)

	// Stop the contexts so nothing keeps a reference to them.
	t.hardCancel(nil)

	c.retire(t)
	close(t.done)
}
