package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/thrau/pymq"
)

func TestPublishSubscribeDelivery(t *testing.T) {
	tr := New()
	ctx := context.Background()
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop()

	received := make(chan []byte, 1)
	tr.SetDeliveryCallback(func(channel string, payload []byte) {
		received <- payload
	})

	if err := tr.Subscribe(ctx, "topic", false); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, err := tr.Publish(ctx, "topic", []byte("hi")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != "hi" {
			t.Fatalf("expected hi got %s", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for delivery")
	}
}

func TestPatternSubscribeUnsupported(t *testing.T) {
	tr := New()
	if err := tr.Subscribe(context.Background(), "to*", true); !errors.Is(err, pymq.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestQueueFIFO(t *testing.T) {
	tr := New()
	q := tr.Queue("jobs")

	if err := q.PutNoWait([]byte("a")); err != nil {
		t.Fatalf("put a: %v", err)
	}
	if err := q.PutNoWait([]byte("b")); err != nil {
		t.Fatalf("put b: %v", err)
	}

	got, err := q.GetNoWait()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "a" {
		t.Fatalf("expected FIFO order, got %s first", got)
	}

	size, err := q.Size(context.Background())
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != 1 {
		t.Fatalf("expected size 1, got %d", size)
	}
}

func TestQueueGetNoWaitEmpty(t *testing.T) {
	tr := New()
	q := tr.Queue("empty")
	if _, err := q.GetNoWait(); !errors.Is(err, pymq.ErrQueueEmpty) {
		t.Fatalf("expected ErrQueueEmpty, got %v", err)
	}
}
