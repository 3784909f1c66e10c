package ipc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/thrau/pymq"
	"github.com/thrau/pymq/config"
)

func newTestTransport(t *testing.T) *Transport {
	t.Helper()
	cfg := config.IPCConfig{Directory: t.TempDir(), Namespace: "test"}
	tr, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = tr.Stop() })
	return tr
}

func TestPublishSubscribeDelivery(t *testing.T) {
	tr := newTestTransport(t)
	ctx := context.Background()

	received := make(chan []byte, 1)
	tr.SetDeliveryCallback(func(channel string, payload []byte) {
		received <- payload
	})

	if err := tr.Subscribe(ctx, "topic", false); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if _, err := tr.Publish(ctx, "topic", []byte("hi")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != "hi" {
			t.Fatalf("expected hi got %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for delivery")
	}
}

func TestPublishWithNoSubscribersReturnsZero(t *testing.T) {
	tr := newTestTransport(t)
	n, err := tr.Publish(context.Background(), "nobody-home", []byte("x"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 recipients, got %d", n)
	}
}

func TestPatternSubscribeUnsupported(t *testing.T) {
	tr := newTestTransport(t)
	if err := tr.Subscribe(context.Background(), "to*", true); !errors.Is(err, pymq.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestQueuePutGetAcrossTransports(t *testing.T) {
	dir := t.TempDir()
	cfg := config.IPCConfig{Directory: dir, Namespace: "test"}

	server, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new server transport: %v", err)
	}
	defer server.Stop()

	client, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new client transport: %v", err)
	}
	defer client.Stop()

	q := server.Queue("jobs")
	if err := q.PutNoWait([]byte("a")); err != nil {
		t.Fatalf("put: %v", err)
	}

	clientQ := client.Queue("jobs")
	got, err := clientQ.GetNoWait()
	if err != nil {
		t.Fatalf("get from second transport instance: %v", err)
	}
	if string(got) != "a" {
		t.Fatalf("expected a, got %s", got)
	}
}

func TestQueueGetNoWaitEmpty(t *testing.T) {
	tr := newTestTransport(t)
	q := tr.Queue("empty")
	if _, err := q.GetNoWait(); !errors.Is(err, pymq.ErrQueueEmpty) {
		t.Fatalf("expected ErrQueueEmpty, got %v", err)
	}
}

func TestQueueSizeUnsupported(t *testing.T) {
	tr := newTestTransport(t)
	q := tr.Queue("jobs")
	if _, err := q.Size(context.Background()); !errors.Is(err, pymq.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestCapabilities(t *testing.T) {
	tr := newTestTransport(t)
	caps := tr.Capabilities()
	if caps.Patterns || !caps.CrossProcess || caps.SizeQuery {
		t.Fatalf("unexpected capabilities: %+v", caps)
	}
}
