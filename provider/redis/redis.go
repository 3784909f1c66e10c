// Package redis implements pymq.Transport over a shared Redis broker:
// SUBSCRIBE/PSUBSCRIBE for pub/sub delivery, LPUSH/BRPOP/LLEN-backed lists
// for named queues. It continues the teacher's eventbus.RedisBus
// reconnect-on-ping style and blackboard.RedisStore's pattern-watch idiom,
// cross-checked against pymq's original RedisEventBus/RedisQueue for exact
// operation semantics.
package redis

import (
	"context"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/thrau/pymq"
	"github.com/thrau/pymq/config"
)

// Transport is the shared-broker pymq.Transport backed by go-redis.
type Transport struct {
	mu        sync.Mutex
	client    *goredis.Client
	opts      *goredis.Options
	namespace string
	delivery  pymq.DeliveryFunc
	subs      map[subKey]*goredis.PubSub
	queues    map[string]*queue
	logger    zerolog.Logger
	closed    bool
}

type subKey struct {
	channel string
	pattern bool
}

// Factory returns a pymq.ProviderFactory that connects to the Redis
// instance described by cfg.
func Factory(cfg config.RedisConfig, logger zerolog.Logger) func() (pymq.Transport, error) {
	return func() (pymq.Transport, error) {
		opts := &goredis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		}
		return New(opts, cfg.Namespace, logger), nil
	}
}

// New constructs a Transport using an already-built *redis.Options, the
// same entry point the teacher's NewRedisBus/NewRedisStore expose.
func New(opts *goredis.Options, namespace string, logger zerolog.Logger) *Transport {
	if namespace == "" {
		namespace = "global"
	}
	return &Transport{
		client:    goredis.NewClient(opts),
		opts:      opts,
		namespace: namespace,
		subs:      make(map[subKey]*goredis.PubSub),
		queues:    make(map[string]*queue),
		logger:    logger,
	}
}

func (t *Transport) channelPrefix() string {
	return "__eventbus:" + t.namespace + ":"
}

// ensureConnection pings the server and reconnects if necessary, exactly
// as the teacher's RedisBus.ensureConnection does.
func (t *Transport) ensureConnection(ctx context.Context) {
	if err := t.client.Ping(ctx).Err(); err != nil {
		t.logger.Warn().Err(err).Msg("redis transport reconnecting")
		t.client = goredis.NewClient(t.opts)
	}
}

func (t *Transport) SetDeliveryCallback(fn pymq.DeliveryFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delivery = fn
}

func (t *Transport) Capabilities() pymq.Capabilities {
	return pymq.Capabilities{Patterns: true, CrossProcess: true, SizeQuery: true}
}

func (t *Transport) Start(ctx context.Context) error {
	t.ensureConnection(ctx)
	return nil
}

func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for _, ps := range t.subs {
		_ = ps.Close()
	}
	t.subs = make(map[subKey]*goredis.PubSub)
	return t.client.Close()
}

func (t *Transport) Publish(ctx context.Context, channel string, payload []byte) (int, error) {
	t.ensureConnection(ctx)
	redisChannel := t.channelPrefix() + channel
	n, err := t.client.Publish(ctx, redisChannel, payload).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (t *Transport) Subscribe(ctx context.Context, channel string, pattern bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := subKey{channel: channel, pattern: pattern}
	if _, ok := t.subs[key]; ok {
		return nil
	}

	t.ensureConnection(ctx)
	redisChannel := t.channelPrefix() + channel

	var ps *goredis.PubSub
	if pattern {
		ps = t.client.PSubscribe(ctx, redisChannel)
	} else {
		ps = t.client.Subscribe(ctx, redisChannel)
	}
	t.subs[key] = ps

	prefixLen := len(t.channelPrefix())
	go func() {
		ch := ps.Channel()
		for msg := range ch {
			t.mu.Lock()
			deliver := t.delivery
			t.mu.Unlock()
			if deliver == nil {
				continue
			}
			// Re-derive the logical channel by stripping the namespace
			// prefix from msg.Channel, the concrete channel redis reports
			// for both plain and pattern deliveries.
			logical := msg.Channel
			if len(logical) >= prefixLen {
				logical = logical[prefixLen:]
			}
			deliver(logical, []byte(msg.Payload))
		}
	}()

	return nil
}

func (t *Transport) Unsubscribe(ctx context.Context, channel string, pattern bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := subKey{channel: channel, pattern: pattern}
	ps, ok := t.subs[key]
	if !ok {
		return nil
	}
	delete(t.subs, key)
	return ps.Close()
}

func (t *Transport) Queue(name string) pymq.Queue {
	t.mu.Lock()
	defer t.mu.Unlock()
	if q, ok := t.queues[name]; ok {
		return q
	}
	q := &queue{
		name:   name,
		key:    t.channelPrefix() + "queue:" + name,
		client: func() *goredis.Client { return t.client },
	}
	t.queues[name] = q
	return q
}
