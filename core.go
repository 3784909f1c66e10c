// Package pymq unifies publish/subscribe, named work queues, and
// synchronous request/response RPC behind a single facade over pluggable
// transports. It is a Go port of the dispatch core of the Python pymq
// library: the same channel/subscription/RPC-correlation semantics,
// expressed with static types and explicit context-scoped calls instead of
// runtime type hints and decorators.
package pymq

import (
	"context"
	"time"
)

// Capabilities self-reports what a Transport implementation can honor.
// The dispatcher and queue facade consult this rather than attempting an
// operation and hoping it degrades gracefully (spec: operations the active
// transport cannot honor fail with Unsupported, not silently).
type Capabilities struct {
	// Patterns reports whether Subscribe(ctx, pattern, true) is supported.
	Patterns bool
	// CrossProcess reports whether this transport is visible to other
	// OS processes (false only for the in-memory transport).
	CrossProcess bool
	// SizeQuery reports whether Queue.Size is answerable.
	SizeQuery bool
}

// DeliveryFunc is invoked once per message received on a subscribed
// channel. It must be safe to call concurrently from multiple transport
// worker goroutines.
type DeliveryFunc func(channel string, payload []byte)

// Transport is the minimal capability surface the dispatcher and queue
// facade require of a backing message bus (spec §4.2). Three
// implementations ship in this module: provider/memory, provider/redis,
// and provider/ipc.
type Transport interface {
	// Publish fire-and-forgets payload to channel's current subscribers.
	// It returns the number of subscribers the transport delivered to, or
	// -1 if the transport cannot count them (in which case RPC multi-mode
	// callers must rely on their timeout rather than a subscriber count).
	Publish(ctx context.Context, channel string, payload []byte) (int, error)

	// Subscribe begins asynchronous delivery for channel. If pattern is
	// true, channel is a glob-style pattern; transports that report
	// Capabilities().Patterns == false return Unsupported. Idempotent per
	// (channel, pattern).
	Subscribe(ctx context.Context, channel string, pattern bool) error

	// Unsubscribe stops future deliveries for channel. In-flight
	// deliveries may still arrive after this returns.
	Unsubscribe(ctx context.Context, channel string, pattern bool) error

	// Queue returns the named FIFO queue, creating its backing object
	// lazily on first reference.
	Queue(name string) Queue

	// Start begins the background delivery loop. SetDeliveryCallback must
	// be called before Start.
	Start(ctx context.Context) error

	// Stop ends the background delivery loop and releases resources.
	// Idempotent.
	Stop() error

	// SetDeliveryCallback installs the function invoked for every message
	// received on any subscribed channel or pattern.
	SetDeliveryCallback(fn DeliveryFunc)

	// Capabilities reports what this transport instance supports.
	Capabilities() Capabilities
}

// Queue presents a uniform FIFO API over a transport's named-queue
// primitive (spec §4.4). Items carry no a-priori type: encoding/decoding
// of structured payloads is the caller's responsibility via the codec
// package.
type Queue interface {
	// Name returns the queue's identifier.
	Name() string

	// Put blocks only if the transport is bounded and currently full.
	Put(ctx context.Context, item []byte) error

	// PutNoWait fails with QueueFull if the queue cannot accept item
	// immediately.
	PutNoWait(item []byte) error

	// Get blocks until an item arrives or ctx is done.
	Get(ctx context.Context) ([]byte, error)

	// GetTimeout returns the next item, or QueueEmpty once timeout
	// elapses with nothing delivered.
	GetTimeout(ctx context.Context, timeout time.Duration) ([]byte, error)

	// GetNoWait fails with QueueEmpty if the queue has nothing buffered.
	GetNoWait() ([]byte, error)

	// Size returns the current queue length, or Unsupported on
	// transports that cannot answer (spec §4.4, §9 Open Questions).
	Size(ctx context.Context) (int64, error)
}

// RpcRequest is the invocation envelope published on an RPC address's
// invocation channel (spec §3).
type RpcRequest struct {
	ID           string   `json:"id"`
	ReplyChannel string   `json:"reply_channel"`
	Function     string   `json:"function"`
	Args         [][]byte `json:"args"`
}

// RpcResponse is the response envelope published on a request's reply
// channel (spec §3).
type RpcResponse struct {
	ID         string `json:"id"`
	Responder  string `json:"responder"`
	Result     []byte `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	ResultType string `json:"result_type,omitempty"`
}

// Failed reports whether the responder's invocation raised.
func (r RpcResponse) Failed() bool { return r.Error != "" }

// rpcInvocationChannel and rpcReplyChannel derive the transport-visible
// channel names conventioned in spec §6.
func rpcInvocationChannel(address string) string { return "__rpc__." + address }

func rpcReplyChannel(id string) string { return "__rpc_reply__." + id }
