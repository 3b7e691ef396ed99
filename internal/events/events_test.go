package events

import (
	"sync"
	"testing"
	"time"
)

func progress(id string, transferred uint64) *TransferProgressEvent {
	return &TransferProgressEvent{
		BaseEvent:   NewBase(EventTransferProgress),
		TransferID:  id,
		Kind:        "download",
		Transferred: transferred,
		Total:       100,
	}
}

func finished(id, state string) *TransferFinishedEvent {
	return &TransferFinishedEvent{
		BaseEvent:  NewBase(EventTransferFinished),
		TransferID: id,
		State:      state,
	}
}

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventTransferProgress)

	bus.Publish(progress("t1", 32768))

	select {
	case received := <-ch:
		p, ok := received.(*TransferProgressEvent)
		if !ok {
			t.Fatal("Expected TransferProgressEvent")
		}
		if p.TransferID != "t1" {
			t.Errorf("Expected transfer id 't1', got '%s'", p.TransferID)
		}
		if p.Transferred != 32768 {
			t.Errorf("Expected 32768 bytes, got %d", p.Transferred)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for event")
	}
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch1 := bus.Subscribe(EventTransferFinished)
	ch2 := bus.Subscribe(EventTransferFinished)

	bus.Publish(finished("t1", "completed"))

	received1 := false
	received2 := false

	select {
	case <-ch1:
		received1 = true
	case <-time.After(100 * time.Millisecond):
	}

	select {
	case <-ch2:
		received2 = true
	case <-time.After(100 * time.Millisecond):
	}

	if !received1 || !received2 {
		t.Error("Not all subscribers received the event")
	}
}

func TestEventBus_DifferentEventTypes(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	progressCh := bus.Subscribe(EventTransferProgress)
	connCh := bus.Subscribe(EventConnectionState)

	bus.Publish(progress("t1", 1))

	select {
	case <-progressCh:
	case <-time.After(100 * time.Millisecond):
		t.Error("Progress subscriber didn't receive event")
	}

	select {
	case <-connCh:
		t.Error("Connection subscriber received wrong event type")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBus_SubscribeAll(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	allCh := bus.SubscribeAll()

	bus.Publish(progress("t1", 1))
	bus.Publish(&ConnectionEvent{BaseEvent: NewBase(EventConnectionState), ConnectionID: "c1", State: "connected"})

	count := 0
	for i := 0; i < 2; i++ {
		select {
		case <-allCh:
			count++
		case <-time.After(100 * time.Millisecond):
		}
	}

	if count != 2 {
		t.Errorf("Expected to receive 2 events, got %d", count)
	}
}

func TestEventBus_NonBlocking(t *testing.T) {
	bus := NewEventBus(2) // Small buffer
	defer bus.Close()

	ch := bus.Subscribe(EventTransferProgress)

	for i := 0; i < 10; i++ {
		bus.Publish(progress("t1", uint64(i)))
	}

	// Excess events are dropped rather than blocking the publisher
	if dropped := bus.GetDroppedEventCount(); dropped != 8 {
		t.Errorf("Expected 8 dropped events, got %d", dropped)
	}

	count := 0
	for {
		select {
		case <-ch:
			count++
		case <-time.After(10 * time.Millisecond):
			goto done
		}
	}
done:

	if count != 2 {
		t.Errorf("Expected 2 buffered events, got %d", count)
	}
	if reset := bus.ResetDroppedEventCount(); reset != 8 {
		t.Errorf("Expected reset to return 8, got %d", reset)
	}
	if bus.GetDroppedEventCount() != 0 {
		t.Error("Dropped count should be zero after reset")
	}
}

func TestEventBus_PublishReliableWaitsForSpace(t *testing.T) {
	bus := NewEventBus(1)
	defer bus.Close()

	ch := bus.Subscribe(EventTransferFinished)

	// Fill the buffer so the next send has to wait
	bus.Publish(finished("t0", "completed"))

	delivered := make(chan struct{})
	go func() {
		bus.PublishReliable(finished("t1", "failed"))
		close(delivered)
	}()

	select {
	case <-delivered:
		t.Fatal("PublishReliable returned while the subscriber buffer was full")
	case <-time.After(50 * time.Millisecond):
	}

	first := (<-ch).(*TransferFinishedEvent)
	if first.TransferID != "t0" {
		t.Errorf("Expected t0 first, got %s", first.TransferID)
	}

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("PublishReliable did not complete after space was freed")
	}

	second := (<-ch).(*TransferFinishedEvent)
	if second.TransferID != "t1" || second.State != "failed" {
		t.Errorf("Unexpected second event: %+v", second)
	}
	if bus.GetDroppedEventCount() != 0 {
		t.Error("Reliable delivery must not drop events")
	}
}

func TestEventBus_PublishReliableReleasedByUnsubscribe(t *testing.T) {
	bus := NewEventBus(1)
	defer bus.Close()

	stuck := bus.Subscribe(EventTransferFinished)
	bus.Publish(finished("t0", "completed"))

	delivered := make(chan struct{})
	go func() {
		bus.PublishReliable(finished("t1", "completed"))
		close(delivered)
	}()

	time.Sleep(20 * time.Millisecond)
	bus.Unsubscribe(EventTransferFinished, stuck)

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("Unsubscribe did not release a blocked reliable publish")
	}
}

func TestEventBus_CloseReleasesReliablePublish(t *testing.T) {
	bus := NewEventBus(1)
	ch := bus.SubscribeAll()
	bus.Publish(finished("t0", "completed"))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		bus.PublishReliable(finished("t1", "completed"))
	}()

	time.Sleep(20 * time.Millisecond)
	bus.Close()
	wg.Wait()

	// Buffered event is still readable, then the channel is closed
	if _, ok := <-ch; !ok {
		t.Error("Expected buffered event before close")
	}
	if _, ok := <-ch; ok {
		t.Error("Channel should be closed after bus.Close()")
	}
}

func TestEventBus_Close(t *testing.T) {
	bus := NewEventBus(10)

	ch := bus.Subscribe(EventTransferProgress)

	bus.Close()

	_, ok := <-ch
	if ok {
		t.Error("Channel should be closed after bus.Close()")
	}

	// Publishing after close should not panic
	bus.Publish(progress("t1", 1))
	bus.PublishReliable(finished("t1", "completed"))

	// Subscribing after close yields a closed channel
	if _, ok := <-bus.SubscribeAll(); ok {
		t.Error("Subscription after close should be closed")
	}
}

func TestEventBus_UnsubscribeAll(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.SubscribeAll()
	bus.UnsubscribeAll(ch)

	bus.Publish(progress("t1", 1))

	select {
	case <-ch:
		t.Error("Unsubscribed channel received an event")
	case <-time.After(20 * time.Millisecond):
	}
}
