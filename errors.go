package pymq

import (
	"errors"
	"fmt"
)

// Sentinel errors comparable with errors.Is. Each corresponds to a member
// of the error taxonomy in spec §7.
var (
	// ErrUnsupported is returned when the active transport cannot honor
	// the requested operation (e.g. pattern subscription on the in-memory
	// or IPC transport, Size() on the IPC transport).
	ErrUnsupported = errors.New("pymq: unsupported on this transport")

	// ErrQueueEmpty is returned by a non-blocking or timed-out Get.
	ErrQueueEmpty = errors.New("pymq: queue empty")

	// ErrQueueFull is returned by a non-blocking Put that cannot enqueue.
	ErrQueueFull = errors.New("pymq: queue full")

	// ErrRpcTimeout is returned when no response arrived within the
	// deadline of a single-mode RPC call. A single-mode call to an
	// address with no responder at all also surfaces as ErrRpcTimeout
	// (there is no distinct "no such remote" error: multi-mode instead
	// reports that case as an empty, error-free slice).
	ErrRpcTimeout = errors.New("pymq: rpc timed out")

	// ErrShutdown is surfaced to any caller whose pending RPC wait was
	// released by lifecycle teardown. Blocked queue operations are not
	// released by Shutdown.
	ErrShutdown = errors.New("pymq: bus is shutting down")

	// ErrAlreadyInitialized is returned by Init when a bus is already
	// active.
	ErrAlreadyInitialized = errors.New("pymq: already initialized")

	// ErrNotInitialized is returned by the package-level facade
	// functions when no bus has been installed via Init.
	ErrNotInitialized = errors.New("pymq: bus not initialized")
)

// RpcError is returned by Call when the remote invocation raised. It
// carries the responder's error text, matching spec §3's response
// envelope "error: error text, or null on success".
type RpcError struct {
	Responder string
	Message   string
}

func (e *RpcError) Error() string {
	return fmt.Sprintf("pymq: rpc error from %s: %s", e.Responder, e.Message)
}
