package progress

import (
	"context"
	"sync"

	"github.com/rescale/rescale-sftp/internal/events"
)

// Watcher feeds transfer events from the bus into a Display and records terminal states.
// Create it before starting the transfers it should observe.
type Watcher struct {
	bus     *events.EventBus
	sub     <-chan events.Event
	display Display

	mu       sync.Mutex
	finished map[string]*events.TransferFinishedEvent
	notify   chan struct{} // closed and replaced whenever a transfer finishes

	stopC     chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewWatcher subscribes to bus and starts rendering into display.
func NewWatcher(bus *events.EventBus, display Display) *Watcher {
	w := &Watcher{
		bus:      bus,
		sub:      bus.SubscribeAll(),
		display:  display,
		finished: make(map[string]*events.TransferFinishedEvent),
		notify:   make(chan struct{}),
		stopC:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.sub:
			if !ok {
				return
			}
			w.handle(event)
		case <-w.stopC:
			return
		}
	}
}

func (w *Watcher) handle(event events.Event) {
	switch e := event.(type) {
	case *events.TransferEvent:
		if e.Type() == events.EventTransferStarted {
			w.display.Started(e)
		}
	case *events.TransferProgressEvent:
		w.display.Progress(e)
	case *events.TransferFinishedEvent:
		w.display.Finished(e)

		w.mu.Lock()
		w.finished[e.TransferID] = e
		close(w.notify)
		w.notify = make(chan struct{})
		w.mu.Unlock()
	}
}

// Wait blocks until every listed transfer has finished and returns their final events in
// the same order. It returns early with ctx's error.
func (w *Watcher) Wait(ctx context.Context, ids ...string) ([]*events.TransferFinishedEvent, error) {
	for {
		w.mu.Lock()
		out := make([]*events.TransferFinishedEvent, 0, len(ids))
		for _, id := range ids {
			if ev, ok := w.finished[id]; ok {
				out = append(out, ev)
			}
		}
		changed := w.notify
		w.mu.Unlock()

		if len(out) == len(ids) {
			return out, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close stops rendering, unsubscribes and closes the display. It is safe to call more than once.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		close(w.stopC)
		w.wg.Wait()
		w.bus.UnsubscribeAll(w.sub)
		w.display.Close()
	})
}
