// Package memory implements pymq.Transport over Watermill's in-process
// GoChannel pub/sub, the backend pymq uses for its own test suite and for
// single-process applications that don't need cross-process visibility.
// It reports no pattern-matching support: GoChannel routes by exact topic
// only, matching pymq's original SimpleEventBus, which has no glob
// matching either.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/thrau/pymq"
)

// Transport is the in-memory pymq.Transport. Use New to construct it, or
// Factory as a pymq.ProviderFactory.
type Transport struct {
	mu       sync.Mutex
	gc       *gochannel.GoChannel
	queues   map[string]*queue
	subs     map[string]bool
	delivery pymq.DeliveryFunc
	cancel   context.CancelFunc
	started  bool
}

// Factory is a pymq.ProviderFactory for the in-memory transport.
func Factory() (pymq.Transport, error) {
	return New(), nil
}

// New constructs an in-memory transport. It is not started until Start is
// called by the lifecycle controller.
func New() *Transport {
	return &Transport{
		gc:     gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{}),
		queues: make(map[string]*queue),
		subs:   make(map[string]bool),
	}
}

func (t *Transport) SetDeliveryCallback(fn pymq.DeliveryFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delivery = fn
}

func (t *Transport) Capabilities() pymq.Capabilities {
	return pymq.Capabilities{Patterns: false, CrossProcess: false, SizeQuery: true}
}

func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return nil
	}
	_, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.started = true
	return nil
}

func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return nil
	}
	t.started = false
	if t.cancel != nil {
		t.cancel()
	}
	return t.gc.Close()
}

func (t *Transport) Publish(ctx context.Context, channel string, payload []byte) (int, error) {
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := t.gc.Publish(channel, msg); err != nil {
		return 0, err
	}
	// GoChannel fans out to every current subscriber of channel but does
	// not report how many there were, so this always reports -1
	// ("unknown"). The RPC layer above consults the dispatcher registry to
	// tell "no responder" apart from "some responders"; with responders it
	// relies on its timeout in multi-mode, matching memory's
	// CrossProcess:false / unreliable-count profile.
	return -1, nil
}

func (t *Transport) Subscribe(ctx context.Context, channel string, pattern bool) error {
	if pattern {
		return fmt.Errorf("memory transport: %w: pattern subscriptions", pymq.ErrUnsupported)
	}

	t.mu.Lock()
	if t.subs[channel] {
		t.mu.Unlock()
		return nil
	}
	t.subs[channel] = true
	t.mu.Unlock()

	msgs, err := t.gc.Subscribe(ctx, channel)
	if err != nil {
		return err
	}

	go func() {
		for msg := range msgs {
			t.mu.Lock()
			deliver := t.delivery
			t.mu.Unlock()
			if deliver != nil {
				deliver(channel, msg.Payload)
			}
			msg.Ack()
		}
	}()

	return nil
}

func (t *Transport) Unsubscribe(ctx context.Context, channel string, pattern bool) error {
	// GoChannel has no per-subscriber unsubscribe primitive; the
	// subscriber goroutine started in Subscribe exits once Stop closes
	// gc, and the dispatcher registry (owned above this layer) is the
	// one true source of "who is still subscribed" -- this mirrors
	// pymq's original SimpleEventBus, whose add_listener/remove_listener
	// hooks are no-ops for the same reason.
	return nil
}

func (t *Transport) Queue(name string) pymq.Queue {
	t.mu.Lock()
	defer t.mu.Unlock()
	if q, ok := t.queues[name]; ok {
		return q
	}
	q := newQueue(name)
	t.queues[name] = q
	return q
}
