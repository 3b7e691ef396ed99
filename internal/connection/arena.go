package connection

import (
	"context"
	"sync"

	"github.com/rescale/rescale-sftp/internal/remote"
)

// arena hands out exclusive turns on the SFTP sub-channels of one session.
//
// Each slot wraps one channel and admits a single operation at a time. Multi-turn
// operations pin a slot so that every turn, including the ones using a file handle,
// runs on the channel that opened the handle.
type arena struct {
	slots []*slot

	mu sync.Mutex // guards slot.pins and slot.dead
}

type slot struct {
	ch      remote.Channel
	sem     chan struct{}
	pins    int
	dead    bool
	retired chan struct{}
}

func newArena(channels []remote.Channel) *arena {
	a := &arena{slots: make([]*slot, len(channels))}
	for i, ch := range channels {
		a.slots[i] = &slot{ch: ch, sem: make(chan struct{}, 1), retired: make(chan struct{})}
	}
	return a
}

// pin reserves affinity to the least-pinned live slot. Ties go to the lowest index.
// It returns -1 when every slot has been retired.
func (a *arena) pin() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	best := -1
	for i, s := range a.slots {
		if s.dead {
			continue
		}
		if best < 0 || s.pins < a.slots[best].pins {
			best = i
		}
	}
	if best >= 0 {
		a.slots[best].pins++
	}
	return best
}

// retire takes slot i out of service after an operation on it was abandoned. Waiters on the
// slot give up and later pins skip it. It returns the number of slots still live.
func (a *arena) retire(i int) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if s := a.slots[i]; !s.dead {
		s.dead = true
		close(s.retired)
	}
	live := 0
	for _, s := range a.slots {
		if !s.dead {
			live++
		}
	}
	return live
}

func (a *arena) unpin(i int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.slots[i].pins > 0 {
		a.slots[i].pins--
	}
}

// acquire waits for exclusive use of slot i. It gives up when ctx ends, closed fires or the
// slot is retired.
func (a *arena) acquire(ctx context.Context, i int, closed <-chan struct{}) (remote.Channel, error) {
	s := a.slots[i]
	select {
	case s.sem <- struct{}{}:
		select {
		case <-s.retired:
			<-s.sem
			return nil, errChannelRetired
		default:
		}
		return s.ch, nil
	case <-s.retired:
		return nil, errChannelRetired
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-closed:
		return nil, errConnectionClosed
	}
}

func (a *arena) release(i int) {
	<-a.slots[i].sem
}

func (a *arena) size() int { return len(a.slots) }
