package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/thrau/pymq"
)

// queue is a Redis-list-backed pymq.Queue, the Go analogue of pymq's
// original RedisQueue: LPUSH to put, BRPOP to block-get, RPOP to
// non-blocking-get, LLEN for size.
type queue struct {
	name   string
	key    string
	client func() *goredis.Client
}

func (q *queue) Name() string { return q.name }

func (q *queue) Put(ctx context.Context, item []byte) error {
	return q.client().LPush(ctx, q.key, item).Err()
}

func (q *queue) PutNoWait(item []byte) error {
	// Redis lists are unbounded, so a non-blocking put never fails with
	// QueueFull; this matches pymq's original RedisQueue.put, which has
	// no bounded-queue notion either.
	return q.client().LPush(context.Background(), q.key, item).Err()
}

func (q *queue) Get(ctx context.Context) ([]byte, error) {
	res, err := q.client().BRPop(ctx, 0, q.key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, pymq.ErrQueueEmpty
		}
		return nil, err
	}
	// BRPop returns [key, value].
	return []byte(res[1]), nil
}

func (q *queue) GetTimeout(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		// BRPOP treats a zero timeout as "block forever".
		return q.GetNoWait()
	}
	res, err := q.client().BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, pymq.ErrQueueEmpty
		}
		return nil, err
	}
	return []byte(res[1]), nil
}

func (q *queue) GetNoWait() ([]byte, error) {
	res, err := q.client().RPop(context.Background(), q.key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, pymq.ErrQueueEmpty
		}
		return nil, err
	}
	return []byte(res), nil
}

func (q *queue) Size(ctx context.Context) (int64, error) {
	return q.client().LLen(ctx, q.key).Result()
}
