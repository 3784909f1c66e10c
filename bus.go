package pymq

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/thrau/pymq/admin"
	"github.com/thrau/pymq/codec"
	"github.com/thrau/pymq/internal/dispatcher"
	"github.com/thrau/pymq/metrics"
)

// ProviderFactory builds and returns a fresh Transport; it is the Go
// analogue of pymq's original `factory` callable passed to `pymq.init`.
type ProviderFactory func() (Transport, error)

// Bus is the lifecycle-controlled facade over a single Transport: the
// explicit handle spec §9's Design Notes recommend offering alongside the
// process-wide default (Init/Shutdown and the package-level functions
// below).
type Bus struct {
	id        string
	transport Transport
	registry  *dispatcher.Registry
	logger    zerolog.Logger
	metrics   *metrics.Set
	admin     *admin.Server

	mu         sync.Mutex
	exposed    map[string]*exposedEntry
	inFlight   map[string]struct{}
	closed     bool
	shutdownCh chan struct{}
}

type initConfig struct {
	logger      zerolog.Logger
	adminAddr   string
	metricsReg  *prometheus.Registry
	metricsSet  *metrics.Set
}

// InitOption configures optional lifecycle behavior for Init (spec §6:
// "Configuration... Not further specified here" -- these are this port's
// concretization).
type InitOption func(*initConfig)

// WithLogger installs a structured logger used by the dispatcher, RPC
// layer, and lifecycle controller.
func WithLogger(logger zerolog.Logger) InitOption {
	return func(c *initConfig) { c.logger = logger }
}

// WithAdminServer starts a /healthz + /metrics HTTP server bound to addr
// alongside the transport.
func WithAdminServer(addr string) InitOption {
	return func(c *initConfig) { c.adminAddr = addr }
}

// WithMetrics installs a caller-provided metrics.Set (and its backing
// registry) instead of the default unregistered one.
func WithMetrics(reg *prometheus.Registry, set *metrics.Set) InitOption {
	return func(c *initConfig) {
		c.metricsReg = reg
		c.metricsSet = set
	}
}

var (
	globalMu  sync.RWMutex
	globalBus *Bus
)

// Init constructs the transport via factory, wires it into a new Bus,
// starts it, and installs the Bus as the process-wide default. A second
// Init call without an intervening Shutdown returns ErrAlreadyInitialized
// (spec §4.6).
func Init(factory ProviderFactory, opts ...InitOption) (*Bus, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalBus != nil {
		return nil, ErrAlreadyInitialized
	}

	b, err := newBus(factory, opts...)
	if err != nil {
		return nil, err
	}

	globalBus = b
	return b, nil
}

// newBus builds and starts a Bus without touching the process-wide
// pointer, for callers that want an explicit handle instead of (or in
// addition to) the default.
func newBus(factory ProviderFactory, opts ...InitOption) (*Bus, error) {
	cfg := initConfig{logger: zerolog.New(os.Stderr).With().Timestamp().Logger()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.metricsReg == nil {
		cfg.metricsReg = prometheus.NewRegistry()
	}
	if cfg.metricsSet == nil {
		cfg.metricsSet = metrics.New(cfg.metricsReg)
	}

	transport, err := factory()
	if err != nil {
		return nil, fmt.Errorf("pymq: build transport: %w", err)
	}

	b := &Bus{
		id:         uuid.NewString(),
		transport:  transport,
		registry:   dispatcher.New(cfg.logger),
		logger:     cfg.logger,
		metrics:    cfg.metricsSet,
		exposed:    make(map[string]*exposedEntry),
		inFlight:   make(map[string]struct{}),
		shutdownCh: make(chan struct{}),
	}

	b.registry.OnPanic(func() { b.metrics.HandlerPanics.Inc() })
	transport.SetDeliveryCallback(b.deliver)

	if cfg.adminAddr != "" {
		b.admin = admin.New(cfg.adminAddr, cfg.metricsReg)
		b.admin.Start()
	}

	if err := transport.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("pymq: start transport: %w", err)
	}

	return b, nil
}

// Shutdown marks the bus as stopping, unsubscribes everything, releases
// pending RPC waiters with ErrShutdown, stops the transport, and clears
// the process-wide reference. Idempotent (spec §4.6, §8).
func Shutdown() error {
	globalMu.Lock()
	b := globalBus
	globalBus = nil
	globalMu.Unlock()

	if b == nil {
		return nil
	}
	return b.Shutdown()
}

// Shutdown tears down this explicit Bus handle. Idempotent.
func (b *Bus) Shutdown() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.shutdownCh)
	b.mu.Unlock()

	b.registry.UnsubscribeAll()

	if b.admin != nil {
		_ = b.admin.Stop(context.Background())
	}

	return b.transport.Stop()
}

func (b *Bus) deliver(channel string, payload []byte) {
	b.registry.Deliver(channel, payload, matchPattern)
}

// typeName derives the canonical channel name for T: its package path plus
// type name, the Go analogue of pymq's `module.ClassName` fullname
// derivation (original_source/pymq/typing.py fullname).
func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}

// handlerID derives a stable identity for a Go function value, standing in
// for Python's ability to compare bound-method identity (spec §3:
// "Handlers are referenced by identity for removal").
func handlerID(fn any) string {
	return fmt.Sprintf("%v", reflect.ValueOf(fn).Pointer())
}

// Publish publishes event on the channel derived from its own type (spec
// §4.3 "Channel resolution"). It returns the number of subscribers the
// transport delivered to, or -1 if the transport cannot count them.
func Publish[T any](event T) (int, error) {
	b, err := current()
	if err != nil {
		return 0, err
	}
	return PublishOn(b, event)
}

// PublishOn is Publish against an explicit Bus handle.
func PublishOn[T any](b *Bus, event T) (int, error) {
	channel := typeName(reflect.TypeOf(event))
	data, err := codec.Encode(event)
	if err != nil {
		return 0, err
	}
	n, err := b.transport.Publish(context.Background(), channel, data)
	if err != nil {
		return 0, err
	}
	b.metrics.EventsPublished.WithLabelValues(channel).Inc()
	return n, nil
}

// Subscribe registers handler for the channel derived from its parameter
// type T (spec §4.3 "Channel resolution"). Re-subscribing the same handler
// value to the same channel is a no-op.
func Subscribe[T any](handler func(T)) error {
	b, err := current()
	if err != nil {
		return err
	}
	return SubscribeOn(b, handler)
}

// SubscribeOn is Subscribe against an explicit Bus handle.
func SubscribeOn[T any](b *Bus, handler func(T)) error {
	return b.subscribe(channelOf[T](), false, handler)
}

// SubscribePattern registers handler for every channel matching pattern
// (glob-style). Transports that report Capabilities().Patterns == false
// fail this call with ErrUnsupported at subscribe time (spec §4.2, §8
// "Boundary behaviors").
func SubscribePattern[T any](pattern string, handler func(T)) error {
	b, err := current()
	if err != nil {
		return err
	}
	return SubscribePatternOn(b, pattern, handler)
}

// SubscribePatternOn is SubscribePattern against an explicit Bus handle.
func SubscribePatternOn[T any](b *Bus, pattern string, handler func(T)) error {
	return b.subscribe(pattern, true, handler)
}

func channelOf[T any]() string {
	var zero T
	return typeName(reflect.TypeOf(zero))
}

func (b *Bus) subscribe(channel string, pattern bool, handler any) error {
	if pattern && !b.transport.Capabilities().Patterns {
		return fmt.Errorf("pymq: subscribe %q: %w", channel, ErrUnsupported)
	}

	hv := reflect.ValueOf(handler)
	ht := hv.Type()
	eventType := ht.In(0)

	h := dispatcher.Handler{
		ID: handlerID(handler),
		New: func() any {
			return reflect.New(eventType).Interface()
		},
		Decode: func(payload []byte, target any) error {
			return codec.DecodeLenient(payload, target)
		},
		Invoke: func(event any) {
			b.metrics.EventsDispatched.WithLabelValues(channel).Inc()
			hv.Call([]reflect.Value{reflect.ValueOf(event).Elem()})
		},
	}

	b.registry.Subscribe(channel, pattern, h)
	if err := b.transport.Subscribe(context.Background(), channel, pattern); err != nil {
		b.registry.Unsubscribe(channel, pattern, h.ID)
		return err
	}
	return nil
}

// Unsubscribe removes handler from the channel derived from T. A no-op if
// handler was never subscribed there (spec §3, §8).
func Unsubscribe[T any](handler func(T)) error {
	b, err := current()
	if err != nil {
		return err
	}
	return UnsubscribeOn(b, handler)
}

// UnsubscribeOn is Unsubscribe against an explicit Bus handle.
func UnsubscribeOn[T any](b *Bus, handler func(T)) error {
	channel := channelOf[T]()
	b.registry.Unsubscribe(channel, false, handlerID(handler))
	if b.registry.HasSubscribers(channel) {
		// Other handlers still listen on this channel; keep the transport
		// subscription that feeds them.
		return nil
	}
	return b.transport.Unsubscribe(context.Background(), channel, false)
}

// GetQueue returns the named queue on the process-wide bus.
func GetQueue(name string) (Queue, error) {
	b, err := current()
	if err != nil {
		return nil, err
	}
	return b.Queue(name), nil
}

// Queue returns the named queue, created lazily on first reference (spec
// §3 "Lifecycles"). The returned Queue observes its own depth into the
// bus's metrics.Set after every mutation, when the transport can answer
// Size at all.
func (b *Bus) Queue(name string) Queue {
	q := b.transport.Queue(name)
	if !b.transport.Capabilities().SizeQuery {
		return q
	}
	return &observedQueue{Queue: q, gauge: b.metrics.QueueDepth.WithLabelValues(name)}
}

// observedQueue wraps a transport Queue to record its post-mutation depth
// into QueueDepth, the way the Invoke closure built by subscribe records
// EventsDispatched for the dispatcher and call records RpcCalls for the RPC
// layer.
type observedQueue struct {
	Queue
	gauge prometheus.Gauge
}

func (q *observedQueue) observe() {
	if n, err := q.Queue.Size(context.Background()); err == nil {
		q.gauge.Set(float64(n))
	}
}

func (q *observedQueue) Put(ctx context.Context, item []byte) error {
	err := q.Queue.Put(ctx, item)
	q.observe()
	return err
}

func (q *observedQueue) PutNoWait(item []byte) error {
	err := q.Queue.PutNoWait(item)
	q.observe()
	return err
}

func (q *observedQueue) Get(ctx context.Context) ([]byte, error) {
	item, err := q.Queue.Get(ctx)
	q.observe()
	return item, err
}

func (q *observedQueue) GetTimeout(ctx context.Context, timeout time.Duration) ([]byte, error) {
	item, err := q.Queue.GetTimeout(ctx, timeout)
	q.observe()
	return item, err
}

func (q *observedQueue) GetNoWait() ([]byte, error) {
	item, err := q.Queue.GetNoWait()
	q.observe()
	return item, err
}

func current() (*Bus, error) {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalBus == nil {
		return nil, ErrNotInitialized
	}
	return globalBus, nil
}

// matchPattern implements the glob-style matching promised for pattern
// subscriptions: '*' matches any run of characters, '?' matches exactly
// one. It is transport-agnostic: the dispatcher calls it with each
// registered pattern and the concrete channel of the incoming message,
// even on transports that already filter by pattern server-side (Redis).
func matchPattern(pattern, channel string) bool {
	return globMatch(pattern, channel)
}

func globMatch(pattern, s string) bool {
	return globMatchRunes([]rune(pattern), []rune(s))
}

func globMatchRunes(pattern, s []rune) bool {
	if len(pattern) == 0 {
		return len(s) == 0
	}
	switch pattern[0] {
	case '*':
		if globMatchRunes(pattern[1:], s) {
			return true
		}
		for i := range s {
			if globMatchRunes(pattern[1:], s[i+1:]) {
				return true
			}
		}
		return false
	case '?':
		if len(s) == 0 {
			return false
		}
		return globMatchRunes(pattern[1:], s[1:])
	default:
		if len(s) == 0 || s[0] != pattern[0] {
			return false
		}
		return globMatchRunes(pattern[1:], s[1:])
	}
}
