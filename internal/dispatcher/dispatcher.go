// Package dispatcher implements the subscription registry and delivery
// machinery described in spec §4.3. It is deliberately transport-agnostic:
// callers feed it raw (channel, payload) pairs via Deliver and it owns
// nothing beyond the registry itself.
package dispatcher

import (
	"reflect"
	"sync"

	"github.com/rs/zerolog"
)

// Handler decodes payload against its own declared type and processes the
// result. New and Decode are supplied by the registrant (it knows the
// target type); the registry only calls them and then Invoke.
type Handler struct {
	// ID uniquely identifies this subscription's handler for idempotent
	// re-subscribe and removal (spec §3: "Invariant: each (channel,
	// handler identity) pair appears at most once").
	ID string

	// New returns a fresh pointer to the handler's declared event type,
	// to be filled in by Decode.
	New func() any

	// Decode reconstructs target (as returned by New) from payload.
	Decode func(payload []byte, target any) error

	// Invoke is called with the decoded value (the concrete type New()
	// returns, already filled in).
	Invoke func(event any)
}

type subscription struct {
	handler Handler
}

// Registry is the channel -> subscriber-set mapping, kept separately for
// exact and pattern channels (spec §4.3 "Registry"). It is safe for
// concurrent use; the lock is never held across handler invocation.
type Registry struct {
	mu       sync.RWMutex
	exact    map[string][]subscription
	patterns map[string][]subscription
	logger   zerolog.Logger
	onPanic  func()
}

// New returns an empty Registry.
func New(logger zerolog.Logger) *Registry {
	return &Registry{
		exact:    make(map[string][]subscription),
		patterns: make(map[string][]subscription),
		logger:   logger,
	}
}

// OnPanic installs a callback invoked whenever a handler panics during
// dispatch, in addition to the panic being logged and contained. Used by
// the lifecycle controller to feed the handler_panics_total metric.
func (r *Registry) OnPanic(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onPanic = fn
}

// Subscribe registers h for channel. Re-subscribing the same handler ID to
// the same (channel, pattern) pair is a no-op, matching spec's idempotence
// law `subscribe(h); subscribe(h) == subscribe(h)`.
func (r *Registry) Subscribe(channel string, pattern bool, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	table := r.exact
	if pattern {
		table = r.patterns
	}

	for _, existing := range table[channel] {
		if existing.handler.ID == h.ID {
			return
		}
	}
	table[channel] = append(table[channel], subscription{handler: h})
}

// Unsubscribe removes h from channel. A no-op if h was never subscribed
// there.
func (r *Registry) Unsubscribe(channel string, pattern bool, handlerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	table := r.exact
	if pattern {
		table = r.patterns
	}

	subs := table[channel]
	for i, existing := range subs {
		if existing.handler.ID == handlerID {
			table[channel] = append(subs[:i], subs[i+1:]...)
			if len(table[channel]) == 0 {
				delete(table, channel)
			}
			return
		}
	}
}

// UnsubscribeAll removes every subscription, across all exact and pattern
// channels. Used by Shutdown.
func (r *Registry) UnsubscribeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exact = make(map[string][]subscription)
	r.patterns = make(map[string][]subscription)
}

// HasSubscribers reports whether channel currently has at least one exact
// subscriber, used by RPC to decide whether a publish had any chance of
// reaching a responder.
func (r *Registry) HasSubscribers(channel string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.exact[channel]) > 0
}

// Deliver dispatches an incoming (channel, payload) message to every exact
// subscriber of channel, then to every pattern subscriber whose pattern
// matches channel (spec §4.3 "Delivery"): these are independent passes --
// a handler subscribed both ways receives two invocations, by design
// (spec §9 Open Questions). Each declared type is decoded at most once per
// delivery and the decoded value is reused across handlers sharing that
// type; "sharing that type" is determined by the handler's New() result
// type via reflection, since handlers in different subscriptions may
// declare the same Go type independently.
func (r *Registry) Deliver(channel string, payload []byte, matches func(pattern, channel string) bool) {
	r.mu.RLock()
	exact := append([]subscription(nil), r.exact[channel]...)
	var matched []subscription
	for pattern, subs := range r.patterns {
		if matches(pattern, channel) {
			matched = append(matched, subs...)
		}
	}
	r.mu.RUnlock()

	cache := make(map[reflect.Type]any)

	deliverTo := func(subs []subscription) {
		for _, sub := range subs {
			r.invokeOne(sub.handler, payload, cache)
		}
	}

	deliverTo(exact)
	deliverTo(matched)
}

func (r *Registry) invokeOne(h Handler, payload []byte, cache map[reflect.Type]any) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Str("handler", h.ID).Msg("handler panicked during dispatch")
			r.mu.RLock()
			onPanic := r.onPanic
			r.mu.RUnlock()
			if onPanic != nil {
				onPanic()
			}
		}
	}()

	target := h.New()
	key := reflect.TypeOf(target)

	if cached, ok := cache[key]; ok {
		h.Invoke(cached)
		return
	}

	if err := h.Decode(payload, target); err != nil {
		r.logger.Error().Err(err).Str("handler", h.ID).Msg("failed to decode delivery payload")
		return
	}

	cache[key] = target
	h.Invoke(target)
}
