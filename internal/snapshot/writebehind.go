package snapshot

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	writeBehindQueue   = 256
	writeBehindTimeout = 5 * time.Second
)

type remoteOp struct {
	key    string
	value  []byte
	delete bool
}

// WriteBehind mirrors a remote backend in memory. Writes land in the mirror and are applied to
// the remote in order on a background goroutine, so callers on the event loop never wait on the
// network for a write. A key is read from the remote at most once, on its first miss.
type WriteBehind struct {
	remote Backend
	logger *zap.Logger

	mu     sync.Mutex
	mirror map[string][]byte
	known  map[string]bool

	ops     chan remoteOp
	closing sync.Once
	done    chan struct{}
}

// NewWriteBehind starts the writer goroutine. Close flushes pending writes.
func NewWriteBehind(remote Backend, logger *zap.Logger) *WriteBehind {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &WriteBehind{
		remote: remote,
		logger: logger,
		mirror: make(map[string][]byte),
		known:  make(map[string]bool),
		ops:    make(chan remoteOp, writeBehindQueue),
		done:   make(chan struct{}),
	}
	go w.drain()
	return w
}

// Get implements Backend.
func (w *WriteBehind) Get(ctx context.Context, key string) ([]byte, error) {
	w.mu.Lock()
	if w.known[key] {
		v, ok := w.mirror[key]
		w.mu.Unlock()
		if !ok {
			return nil, ErrNotFound
		}
		return append([]byte(nil), v...), nil
	}
	w.mu.Unlock()

	v, err := w.remote.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	// A write that raced the remote read wins.
	if !w.known[key] {
		w.known[key] = true
		if err == nil {
			w.mirror[key] = v
		}
	}
	cur, ok := w.mirror[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), cur...), nil
}

// Set implements Backend.
func (w *WriteBehind) Set(_ context.Context, key string, value []byte) error {
	stored := append([]byte(nil), value...)
	w.mu.Lock()
	w.known[key] = true
	w.mirror[key] = stored
	w.mu.Unlock()
	w.ops <- remoteOp{key: key, value: stored}
	return nil
}

// Delete implements Backend.
func (w *WriteBehind) Delete(_ context.Context, key string) error {
	w.mu.Lock()
	w.known[key] = true
	delete(w.mirror, key)
	w.mu.Unlock()
	w.ops <- remoteOp{key: key, delete: true}
	return nil
}

// Close applies every queued write and stops the writer. The backend must not be written to
// afterwards.
func (w *WriteBehind) Close() {
	w.closing.Do(func() { close(w.ops) })
	<-w.done
}

func (w *WriteBehind) drain() {
	defer close(w.done)
	for op := range w.ops {
		ctx, cancel := context.WithTimeout(context.Background(), writeBehindTimeout)
		var err error
		if op.delete {
			err = w.remote.Delete(ctx, op.key)
		} else {
			err = w.remote.Set(ctx, op.key, op.value)
		}
		cancel()
		if err != nil && !errors.Is(err, ErrNotFound) {
			w.logger.Warn("snapshot write-behind failed", zap.String("key", op.key), zap.Bool("delete", op.delete), zap.Error(err))
		}
	}
}
