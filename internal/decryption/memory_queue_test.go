package decryption

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryQueueDeliversToWorkers(t *testing.T) {
	q := NewMemoryQueue(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled atomic.Int32
	done := make(chan struct{})
	go func() {
		_ = q.Consume(ctx, 2, func(_ context.Context, job Job) error {
			if handled.Add(1) == 3 {
				close(done)
			}
			return nil
		})
	}()

	for i := 0; i < 3; i++ {
		if err := q.Publish(ctx, Job{RecordID: uint64(i + 1)}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("only %d jobs handled", handled.Load())
	}
}

func TestMemoryQueueClosed(t *testing.T) {
	q := NewMemoryQueue(1)
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := q.Publish(context.Background(), Job{}); err == nil {
		t.Fatal("expected error after close")
	}
}
