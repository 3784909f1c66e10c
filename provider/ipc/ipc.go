package ipc

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/thrau/pymq"
	"github.com/thrau/pymq/config"
)

// Transport is the OS-level IPC pymq.Transport: every subscriber listens
// on its own Unix socket under <dir>/<namespace>/pubsub/<channel>/, and
// Publish dials every socket currently registered for a channel, sending
// one length-prefixed frame to each. The directory listing *is* the
// subscriber registry, shared across the process group by the
// filesystem -- there is no in-process fan-out to coordinate.
type Transport struct {
	mu        sync.Mutex
	dir       string
	perm      os.FileMode
	namespace string
	id        string
	delivery  pymq.DeliveryFunc
	listeners map[string]net.Listener // channel -> this process's listener
	queues    map[string]*queue
	logger    zerolog.Logger
	closed    bool
}

// Factory returns a pymq.ProviderFactory for the OS-IPC transport
// described by cfg.
func Factory(cfg config.IPCConfig, logger zerolog.Logger) func() (pymq.Transport, error) {
	return func() (pymq.Transport, error) {
		return New(cfg, logger)
	}
}

// New constructs an IPC transport rooted at cfg.Directory.
func New(cfg config.IPCConfig, logger zerolog.Logger) (*Transport, error) {
	ns := cfg.Namespace
	if ns == "" {
		ns = "global"
	}
	perm := os.FileMode(cfg.Permissions)
	if perm == 0 {
		perm = 0o600
	}
	root := filepath.Join(cfg.Directory, ns)
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("ipc transport: create root dir: %w", err)
	}
	return &Transport{
		dir:       cfg.Directory,
		perm:      perm,
		namespace: ns,
		id:        uuid.NewString(),
		listeners: make(map[string]net.Listener),
		queues:    make(map[string]*queue),
		logger:    logger,
	}, nil
}

func (t *Transport) pubsubDir(channel string) string {
	return filepath.Join(t.dir, t.namespace, "pubsub", sanitize(channel))
}

func (t *Transport) SetDeliveryCallback(fn pymq.DeliveryFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delivery = fn
}

func (t *Transport) Capabilities() pymq.Capabilities {
	return pymq.Capabilities{Patterns: false, CrossProcess: true, SizeQuery: false}
}

func (t *Transport) Start(ctx context.Context) error { return nil }

func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for channel, l := range t.listeners {
		_ = l.Close()
		_ = os.Remove(filepath.Join(t.pubsubDir(channel), t.id+".sock"))
	}
	t.listeners = make(map[string]net.Listener)
	for _, q := range t.queues {
		q.close()
	}
	return nil
}

func (t *Transport) Publish(ctx context.Context, channel string, payload []byte) (int, error) {
	dir := t.pubsubDir(channel)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	delivered := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		sockPath := filepath.Join(dir, e.Name())
		conn, err := net.Dial("unix", sockPath)
		if err != nil {
			// Stale socket file left by a process that exited
			// without cleaning up; ignore it.
			continue
		}
		err = writeFrame(conn, payload)
		conn.Close()
		if err == nil {
			delivered++
		}
	}
	return delivered, nil
}

func (t *Transport) Subscribe(ctx context.Context, channel string, pattern bool) error {
	if pattern {
		return fmt.Errorf("ipc transport: %w: pattern subscriptions", pymq.ErrUnsupported)
	}

	t.mu.Lock()
	if _, ok := t.listeners[channel]; ok {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	dir := t.pubsubDir(channel)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	sockPath := filepath.Join(dir, t.id+".sock")
	_ = os.Remove(sockPath)

	l, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("ipc transport: listen %s: %w", sockPath, err)
	}
	_ = os.Chmod(sockPath, t.perm)

	t.mu.Lock()
	t.listeners[channel] = l
	t.mu.Unlock()

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go t.handlePubsubConn(channel, conn)
		}
	}()

	return nil
}

func (t *Transport) handlePubsubConn(channel string, conn net.Conn) {
	defer conn.Close()
	payload, err := readFrame(conn)
	if err != nil {
		return
	}
	t.mu.Lock()
	deliver := t.delivery
	t.mu.Unlock()
	if deliver != nil {
		deliver(channel, payload)
	}
}

func (t *Transport) Unsubscribe(ctx context.Context, channel string, pattern bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.listeners[channel]
	if !ok {
		return nil
	}
	delete(t.listeners, channel)
	_ = l.Close()
	return os.Remove(filepath.Join(t.pubsubDir(channel), t.id+".sock"))
}

func (t *Transport) Queue(name string) pymq.Queue {
	t.mu.Lock()
	defer t.mu.Unlock()
	if q, ok := t.queues[name]; ok {
		return q
	}
	q := newQueue(filepath.Join(t.dir, t.namespace, "queue", sanitize(name)+".sock"), t.perm, t.logger)
	t.queues[name] = q
	return q
}

func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
