package memory

import (
	"context"
	"time"

	"github.com/thrau/pymq"
)

// queue is a channel-backed pymq.Queue, the Go analogue of pymq's original
// SimpleEventBus.queue, which wraps a plain Python queue.Queue per name.
type queue struct {
	name string
	ch   chan []byte
}

func newQueue(name string) *queue {
	return &queue{name: name, ch: make(chan []byte, 1024)}
}

func (q *queue) Name() string { return q.name }

func (q *queue) Put(ctx context.Context, item []byte) error {
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *queue) PutNoWait(item []byte) error {
	select {
	case q.ch <- item:
		return nil
	default:
		return pymq.ErrQueueFull
	}
}

func (q *queue) Get(ctx context.Context) ([]byte, error) {
	select {
	case item := <-q.ch:
		return item, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *queue) GetTimeout(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case item := <-q.ch:
		return item, nil
	case <-timer.C:
		return nil, pymq.ErrQueueEmpty
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *queue) GetNoWait() ([]byte, error) {
	select {
	case item := <-q.ch:
		return item, nil
	default:
		return nil, pymq.ErrQueueEmpty
	}
}

func (q *queue) Size(ctx context.Context) (int64, error) {
	return int64(len(q.ch)), nil
}
