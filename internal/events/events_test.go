package events

import (
	"context"
	"testing"
)

func TestMemoryBusFansOut(t *testing.T) {
	bus := NewMemoryBus()
	a, cancelA := bus.Subscribe(4)
	b, cancelB := bus.Subscribe(4)
	defer cancelB()

	event := Event{Type: TypeRecordCreated, RecordID: 1}
	if err := bus.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for _, ch := range []<-chan Event{a, b} {
		got := <-ch
		if got.Type != TypeRecordCreated || got.RecordID != 1 {
			t.Fatalf("unexpected event %+v", got)
		}
	}

	cancelA()
	cancelA()
	if _, ok := <-a; ok {
		t.Fatalf("expected closed channel after cancel")
	}
	if err := bus.Publish(context.Background(), Event{Type: TypeDecryptionRequested, RecordID: 2}); err != nil {
		t.Fatalf("publish after unsubscribe: %v", err)
	}
	if got := <-b; got.RecordID != 2 {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestMemoryBusDropsForSlowSubscriber(t *testing.T) {
	bus := NewMemoryBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	for i := 0; i < 3; i++ {
		_ = bus.Publish(context.Background(), Event{Type: TypeRecordCreated, RecordID: uint64(i + 1)})
	}
	if got := <-ch; got.RecordID != 1 {
		t.Fatalf("expected first event to be kept, got %+v", got)
	}
	select {
	case extra := <-ch:
		t.Fatalf("expected dropped events, got %+v", extra)
	default:
	}
}
