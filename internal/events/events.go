package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescale/rescale-sftp/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventTransferQueued   EventType = "transfer_queued"   // Transfer registered, worker not yet running
	EventTransferStarted  EventType = "transfer_started"  // Worker running, total known
	EventTransferProgress EventType = "transfer_progress" // Bytes moved (throttled, best-effort)
	EventTransferFinished EventType = "transfer_finished" // Terminal state reached (reliable)

	EventConnectionState EventType = "connection_state" // Connection state transition
)

// UnknownTotal is the Total reported while the size of a transfer is not known yet.
const UnknownTotal = ^uint64(0)

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// NewBase stamps an event header with the current time.
func NewBase(t EventType) BaseEvent {
	return BaseEvent{EventType: t, Time: time.Now()}
}

// TransferEvent announces a queued or started transfer.
type TransferEvent struct {
	BaseEvent
	TransferID   string
	ConnectionID string
	Kind         string // "upload" or "download"
	LocalPath    string
	RemotePath   string
	Total        uint64 // UnknownTotal until the source has been stat'ed
}

// TransferProgressEvent reports bytes moved. Within one transfer, Transferred never decreases.
type TransferProgressEvent struct {
	BaseEvent
	TransferID   string
	ConnectionID string
	Kind         string
	RemotePath   string
	Transferred  uint64
	Total        uint64
	Speed        float64 // bytes/sec
}

// TransferFinishedEvent reports the terminal state of a transfer. It is published exactly once
// per transfer and is the last event for that transfer.
type TransferFinishedEvent struct {
	BaseEvent
	TransferID   string
	ConnectionID string
	Kind         string
	RemotePath   string
	State        string // "completed", "failed" or "cancelled"
	Transferred  uint64
	Total        uint64
	Error        error  // nil unless failed or cancelled
	ErrorKind    string // errs.Kind of Error, empty when Error is nil
}

// ConnectionEvent reports a connection state transition.
type ConnectionEvent struct {
	BaseEvent
	ConnectionID string
	Endpoint     string
	State        string // "connecting", "connected", "failed" or "closed"
	Error        error
}

type subscription struct {
	ch   chan Event
	done chan struct{}
}

// EventBus manages event subscriptions and publishing.
//
// Publish is best-effort: a subscriber with a full buffer misses the event.
// PublishReliable blocks until every live subscriber has accepted the event.
type EventBus struct {
	subscribers   map[EventType][]*subscription
	all           []*subscription // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	done          chan struct{}
	inflight      sync.WaitGroup // reliable sends in progress
	droppedEvents atomic.Int64   // Count of dropped events due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]*subscription),
		all:         make([]*subscription, 0),
		bufferSize:  bufferSize,
		done:        make(chan struct{}),
	}
}

func closedChannel() <-chan Event {
	ch := make(chan Event)
	close(ch)
	return ch
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return closedChannel()
	}

	sub := &subscription{ch: make(chan Event, eb.bufferSize), done: make(chan struct{})}
	eb.subscribers[eventType] = append(eb.subscribers[eventType], sub)
	return sub.ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return closedChannel()
	}

	sub := &subscription{ch: make(chan Event, eb.bufferSize), done: make(chan struct{})}
	eb.all = append(eb.all, sub)
	return sub.ch
}

// Publish sends an event to all subscribers without blocking. Events that do not fit a
// subscriber's buffer are dropped and counted.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, sub := range eb.subscribers[event.Type()] {
		select {
		case sub.ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}

	for _, sub := range eb.all {
		select {
		case sub.ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// PublishReliable delivers an event to every subscriber, waiting for buffer space as needed.
// It returns early only for subscribers that unsubscribe meanwhile, or when the bus closes.
func (eb *EventBus) PublishReliable(event Event) {
	eb.mu.RLock()
	if eb.closed {
		eb.mu.RUnlock()
		return
	}
	targets := make([]*subscription, 0, len(eb.subscribers[event.Type()])+len(eb.all))
	targets = append(targets, eb.subscribers[event.Type()]...)
	targets = append(targets, eb.all...)
	eb.inflight.Add(1)
	eb.mu.RUnlock()

	defer eb.inflight.Done()

	for _, sub := range targets {
		select {
		case sub.ch <- event:
		case <-sub.done:
		case <-eb.done:
			return
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	if eb.closed {
		eb.mu.Unlock()
		return
	}
	eb.closed = true
	close(eb.done)
	eb.mu.Unlock()

	// No new reliable sends can start; wait out the ones already running
	// before closing the channels they may be sending on.
	eb.inflight.Wait()

	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, subs := range eb.subscribers {
		for _, sub := range subs {
			close(sub.ch)
		}
	}

	for _, sub := range eb.all {
		close(sub.ch)
	}
}

// Unsubscribe removes a subscription channel from a specific event type
// This prevents memory leaks from abandoned subscriptions
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.subscribers[eventType] = removeSubscription(eb.subscribers[eventType], ch)
}

// UnsubscribeAll removes a subscription channel from all event types
// Use this when cleaning up a subscriber that subscribed to multiple event types
func (eb *EventBus) UnsubscribeAll(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	for eventType, subs := range eb.subscribers {
		eb.subscribers[eventType] = removeSubscription(subs, ch)
	}
	eb.all = removeSubscription(eb.all, ch)
}

// removeSubscription drops ch from subs and releases any reliable send blocked on it.
func removeSubscription(subs []*subscription, ch <-chan Event) []*subscription {
	for i, sub := range subs {
		if sub.ch == ch {
			close(sub.done)
			subs[i] = subs[len(subs)-1]
			return subs[:len(subs)-1]
		}
	}
	return subs
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
// Useful for monitoring and detecting if buffer sizes need adjustment
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}

// ResetDroppedEventCount resets the dropped event counter to zero
// Useful for periodic monitoring windows
func (eb *EventBus) ResetDroppedEventCount() int64 {
	return eb.droppedEvents.Swap(0)
}
