package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/thrau/pymq"
)

func newTestTransport(t *testing.T) (*Transport, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	tr := New(&goredis.Options{Addr: s.Addr()}, "test", zerolog.Nop())
	t.Cleanup(func() { _ = tr.Stop() })
	return tr, s
}

func TestPublishSubscribe(t *testing.T) {
	tr, _ := newTestTransport(t)
	ctx := context.Background()

	received := make(chan []byte, 1)
	tr.SetDeliveryCallback(func(channel string, payload []byte) {
		received <- payload
	})

	if err := tr.Subscribe(ctx, "agent.test", false); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if _, err := tr.Publish(ctx, "agent.test", []byte("hi")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != "hi" {
			t.Fatalf("expected hi got %s", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPatternSubscribe(t *testing.T) {
	tr, _ := newTestTransport(t)
	ctx := context.Background()

	received := make(chan string, 1)
	tr.SetDeliveryCallback(func(channel string, payload []byte) {
		received <- channel
	})

	if err := tr.Subscribe(ctx, "agent.*", true); err != nil {
		t.Fatalf("subscribe pattern: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if _, err := tr.Publish(ctx, "agent.42", []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case channel := <-received:
		if channel != "agent.42" {
			t.Fatalf("expected logical channel agent.42, got %s", channel)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for pattern event")
	}
}

func TestQueuePutGet(t *testing.T) {
	tr, _ := newTestTransport(t)
	q := tr.Queue("jobs")

	if err := q.PutNoWait([]byte("a")); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := q.GetNoWait()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "a" {
		t.Fatalf("expected a, got %s", got)
	}
}

func TestQueueSize(t *testing.T) {
	tr, _ := newTestTransport(t)
	q := tr.Queue("jobs")
	_ = q.PutNoWait([]byte("a"))
	_ = q.PutNoWait([]byte("b"))

	size, err := q.Size(context.Background())
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != 2 {
		t.Fatalf("expected size 2, got %d", size)
	}
}

func TestQueueGetNoWaitEmpty(t *testing.T) {
	tr, _ := newTestTransport(t)
	q := tr.Queue("empty")
	if _, err := q.GetNoWait(); !errors.Is(err, pymq.ErrQueueEmpty) {
		t.Fatalf("expected ErrQueueEmpty, got %v", err)
	}
}

func TestCapabilities(t *testing.T) {
	tr, _ := newTestTransport(t)
	caps := tr.Capabilities()
	if !caps.Patterns || !caps.CrossProcess || !caps.SizeQuery {
		t.Fatalf("expected full capabilities, got %+v", caps)
	}
}
