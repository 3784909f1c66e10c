package pymq

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/thrau/pymq/codec"
	"github.com/thrau/pymq/internal/dispatcher"
)

// exposedEntry tracks a function exposed under an RPC address so Unexpose
// can tear down its subscription.
type exposedEntry struct {
	channel   string
	handlerID string
}

// Expose registers fn as the handler for RPC calls to address. fn may
// return nothing, (result), (error) or (result, error); the return shape is
// not validated, and for any other shape the first return value is sent
// as the result.
// Exposing an address that already has a local responder replaces it
// (spec §4.5 invariant: "at most one registered callable per address per
// bus (re-expose replaces)"). A different process concurrently exposing
// the same address over a cross-process transport is a separate
// responder entirely -- both receive invocations (§9 Open Questions).
func Expose(address string, fn any) error {
	b, err := current()
	if err != nil {
		return err
	}
	return b.Expose(address, fn)
}

// Expose is the Bus-scoped equivalent of the package-level Expose.
func (b *Bus) Expose(address string, fn any) error {
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func {
		return fmt.Errorf("pymq: expose %q: not a function", address)
	}
	ft := fv.Type()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrShutdown
	}
	existing, hadPrevious := b.exposed[address]
	b.mu.Unlock()

	if hadPrevious {
		// Replace: drop the previous subscription before installing the
		// new one under a fresh handler ID, since Subscribe is a no-op
		// for an ID already registered and would otherwise keep invoking
		// the old closure.
		b.registry.Unsubscribe(existing.channel, false, existing.handlerID)
	}

	channel := rpcInvocationChannel(address)
	handlerID := fmt.Sprintf("rpc-expose:%s:%s", address, uuid.NewString())

	h := dispatcher.Handler{
		ID: handlerID,
		New: func() any {
			return &RpcRequest{}
		},
		Decode: func(payload []byte, target any) error {
			return codec.DecodeLenient(payload, target)
		},
		Invoke: func(event any) {
			req, ok := event.(*RpcRequest)
			if !ok {
				return
			}
			b.handleInvocation(fv, ft, req)
		},
	}

	b.registry.Subscribe(channel, false, h)
	if err := b.transport.Subscribe(context.Background(), channel, false); err != nil {
		b.registry.Unsubscribe(channel, false, handlerID)
		return err
	}

	b.mu.Lock()
	b.exposed[address] = &exposedEntry{channel: channel, handlerID: handlerID}
	b.mu.Unlock()
	return nil
}

// Unexpose removes the function previously registered under address. A
// no-op if address was never exposed.
func Unexpose(address string) error {
	b, err := current()
	if err != nil {
		return err
	}
	return b.Unexpose(address)
}

// Unexpose is the Bus-scoped equivalent of the package-level Unexpose.
func (b *Bus) Unexpose(address string) error {
	b.mu.Lock()
	entry, ok := b.exposed[address]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	delete(b.exposed, address)
	b.mu.Unlock()

	b.registry.Unsubscribe(entry.channel, false, entry.handlerID)
	return b.transport.Unsubscribe(context.Background(), entry.channel, false)
}

// handleInvocation decodes req's arguments against fn's parameter types,
// calls fn, and publishes an RpcResponse to req.ReplyChannel. A panic
// during the call surfaces to the caller as a failed RpcResponse rather
// than crashing the dispatcher (consistent with the dispatcher's own
// handler panic isolation).
func (b *Bus) handleInvocation(fv reflect.Value, ft reflect.Type, req *RpcRequest) {
	resp := RpcResponse{ID: req.ID, Responder: b.id}

	func() {
		defer func() {
			if r := recover(); r != nil {
				resp.Error = fmt.Sprintf("panic: %v", r)
			}
		}()

		if ft.NumIn() != len(req.Args) {
			resp.Error = fmt.Sprintf("rpc %q: expected %d args, got %d", req.Function, ft.NumIn(), len(req.Args))
			return
		}

		args := make([]reflect.Value, ft.NumIn())
		for i := 0; i < ft.NumIn(); i++ {
			argPtr := reflect.New(ft.In(i))
			if err := codec.DecodeLenient(req.Args[i], argPtr.Interface()); err != nil {
				resp.Error = fmt.Sprintf("rpc %q: decode arg %d: %v", req.Function, i, err)
				return
			}
			args[i] = argPtr.Elem()
		}

		out := fv.Call(args)
		resp.Result, resp.ResultType, resp.Error = encodeRpcResult(out)
	}()

	data, err := codec.Encode(resp)
	if err != nil {
		b.logger.Error().Err(err).Str("id", req.ID).Msg("rpc: failed to encode response")
		return
	}
	if _, err := b.transport.Publish(context.Background(), req.ReplyChannel, data); err != nil {
		b.logger.Error().Err(err).Str("id", req.ID).Msg("rpc: failed to publish response")
	}
}

var errType = reflect.TypeOf((*error)(nil)).Elem()

// encodeRpcResult maps a Go function's return values onto the
// (result, resultType, errorMessage) shape of RpcResponse, honoring the
// (T, error) and (error) and (T) conventions.
func encodeRpcResult(out []reflect.Value) (result []byte, resultType string, errMsg string) {
	if len(out) == 0 {
		return nil, "", ""
	}

	last := out[len(out)-1]
	if last.Type() == errType {
		if !last.IsNil() {
			errMsg = last.Interface().(error).Error()
			return nil, "", errMsg
		}
		out = out[:len(out)-1]
	}
	if len(out) == 0 {
		return nil, "", ""
	}

	v := out[0].Interface()
	data, err := codec.Encode(v)
	if err != nil {
		return nil, "", fmt.Sprintf("encode result: %v", err)
	}
	return data, typeName(out[0].Type()), ""
}

// Call invokes the function exposed under address and decodes the first
// responder's result as R. With zero responders it fails with
// ErrRpcTimeout, matching the original single-responder `rpc` call (spec
// §7, §9 Open Questions).
func Call[R any](ctx context.Context, address string, args ...any) (R, error) {
	var zero R
	b, err := current()
	if err != nil {
		return zero, err
	}
	return CallOn[R](ctx, b, address, args...)
}

// CallOn is Call against an explicit Bus handle.
func CallOn[R any](ctx context.Context, b *Bus, address string, args ...any) (R, error) {
	var zero R
	responses, err := b.call(ctx, address, args, false, 0)
	if err != nil {
		return zero, err
	}
	if len(responses) == 0 {
		return zero, ErrRpcTimeout
	}

	r := responses[0]
	if r.Failed() {
		return zero, &RpcError{Responder: r.Responder, Message: r.Error}
	}
	var out R
	if len(r.Result) == 0 {
		return out, nil
	}
	if err := codec.DecodeLenient(r.Result, &out); err != nil {
		return zero, err
	}
	return out, nil
}

// CallMulti invokes every function exposed under address and collects
// every response that arrives before timeout elapses (or ctx is
// cancelled). Zero responders yields an empty, error-free slice (spec §7:
// "Multi: true" mode never times out on its own absence of listeners).
func CallMulti(ctx context.Context, address string, timeout time.Duration, args ...any) ([]RpcResponse, error) {
	b, err := current()
	if err != nil {
		return nil, err
	}
	return CallMultiOn(ctx, b, address, timeout, args...)
}

// CallMultiOn is CallMulti against an explicit Bus handle.
func CallMultiOn(ctx context.Context, b *Bus, address string, timeout time.Duration, args ...any) ([]RpcResponse, error) {
	return b.call(ctx, address, args, true, timeout)
}

// call implements both Call and CallMulti: it subscribes a collector on a
// fresh reply channel, publishes the invocation envelope, and waits
// according to multi/timeout.
func (b *Bus) call(ctx context.Context, address string, args []any, multi bool, timeout time.Duration) (responses []RpcResponse, err error) {
	outcome := "ok"
	defer func() {
		b.metrics.RpcCalls.WithLabelValues(address, outcome).Inc()
	}()

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		outcome = "shutdown"
		return nil, ErrShutdown
	}

	encodedArgs := make([][]byte, len(args))
	for i, a := range args {
		data, err := codec.Encode(a)
		if err != nil {
			return nil, fmt.Errorf("pymq: encode rpc arg %d: %w", i, err)
		}
		encodedArgs[i] = data
	}

	id := uuid.NewString()
	replyChannel := rpcReplyChannel(id)
	collected := make(chan RpcResponse, 64)

	handlerID := "rpc-reply:" + id
	h := dispatcher.Handler{
		ID: handlerID,
		New: func() any {
			return &RpcResponse{}
		},
		Decode: func(payload []byte, target any) error {
			return codec.DecodeLenient(payload, target)
		},
		Invoke: func(event any) {
			resp, ok := event.(*RpcResponse)
			if !ok {
				return
			}
			select {
			case collected <- *resp:
			default:
				b.logger.Warn().Str("id", id).Msg("rpc: reply buffer full, dropping response")
			}
		},
	}

	b.registry.Subscribe(replyChannel, false, h)
	if err := b.transport.Subscribe(context.Background(), replyChannel, false); err != nil {
		b.registry.Unsubscribe(replyChannel, false, handlerID)
		return nil, err
	}
	defer func() {
		b.registry.Unsubscribe(replyChannel, false, handlerID)
		_ = b.transport.Unsubscribe(context.Background(), replyChannel, false)
	}()

	req := RpcRequest{ID: id, ReplyChannel: replyChannel, Function: address, Args: encodedArgs}
	data, err := codec.Encode(req)
	if err != nil {
		return nil, fmt.Errorf("pymq: encode rpc request: %w", err)
	}

	b.metrics.RpcInFlight.Inc()
	defer b.metrics.RpcInFlight.Dec()

	invocationChannel := rpcInvocationChannel(address)
	n, err := b.transport.Publish(ctx, invocationChannel, data)
	if err != nil {
		outcome = "error"
		return nil, err
	}
	// The memory transport can't report a subscriber count (n == -1); for
	// a non-cross-process transport the local registry is authoritative
	// on whether any responder exists at all, so treat an empty registry
	// the same as n == 0 instead of waiting out the full timeout.
	if n < 0 && !b.transport.Capabilities().CrossProcess && !b.registry.HasSubscribers(invocationChannel) {
		n = 0
	}
	if n == 0 {
		if multi {
			return []RpcResponse{}, nil
		}
		outcome = "timeout"
		b.metrics.RpcTimeouts.Inc()
		return nil, ErrRpcTimeout
	}

	if !multi {
		select {
		case r := <-collected:
			return []RpcResponse{r}, nil
		case <-ctx.Done():
			outcome = "timeout"
			b.metrics.RpcTimeouts.Inc()
			return nil, ErrRpcTimeout
		case <-b.shutdownCh:
			outcome = "shutdown"
			return nil, ErrShutdown
		}
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// n is the count of subscribers the transport delivered to, or -1 if
	// the transport (e.g. memory's GoChannel) cannot report one; in that
	// case every response collected before the deadline is returned.
	target := n
	if target < 0 {
		responses = make([]RpcResponse, 0, 4)
	} else {
		responses = make([]RpcResponse, 0, target)
	}
	for target < 0 || len(responses) < target {
		select {
		case r := <-collected:
			responses = append(responses, r)
		case <-waitCtx.Done():
			return responses, nil
		case <-b.shutdownCh:
			outcome = "shutdown"
			return responses, ErrShutdown
		}
	}
	return responses, nil
}
