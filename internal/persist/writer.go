package persist

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/umamaheshmadala/sync-warp-sub014/internal/logging"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/syncerr"
)

const (
	defaultWriterBuffer = 256
	defaultOpTimeout    = 2 * time.Second
)

// WriterConfig configures a Writer.
type WriterConfig struct {
	// Buffer is the queue depth. Writes beyond it are dropped and logged.
	Buffer int

	// OpTimeout bounds each storage call.
	OpTimeout time.Duration
}

type writeOp struct {
	key    string
	value  string
	remove bool
	done   chan struct{}
}

// Writer applies writes to a Storage asynchronously and in order, from a
// single goroutine. Every failure is logged and swallowed: persistence is
// best-effort and degrades to in-memory only.
type Writer struct {
	storage   Storage
	opTimeout time.Duration
	logger    zerolog.Logger

	mu     sync.RWMutex
	closed bool
	ops    chan writeOp
	wg     sync.WaitGroup

	failures atomic.Int64
	dropped  atomic.Int64
}

// NewWriter starts a Writer over storage.
func NewWriter(storage Storage, cfg WriterConfig) *Writer {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultWriterBuffer
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}
	w := &Writer{
		storage:   storage,
		opTimeout: cfg.OpTimeout,
		logger:    logging.Component("persist"),
		ops:       make(chan writeOp, cfg.Buffer),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Load reads key synchronously. Failures read as a miss.
func (w *Writer) Load(ctx context.Context, key string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, w.opTimeout)
	defer cancel()
	v, ok, err := w.storage.GetItem(ctx, key)
	if err != nil {
		w.failures.Add(1)
		w.logger.Warn().Err(syncerr.Persistence("get_item", err)).Str("key", key).Msg("persisted read failed")
		return "", false
	}
	return v, ok
}

// Save queues value for key. It never blocks.
func (w *Writer) Save(key, value string) {
	w.enqueue(writeOp{key: key, value: value})
}

// Delete queues removal of key. It never blocks.
func (w *Writer) Delete(key string) {
	w.enqueue(writeOp{key: key, remove: true})
}

func (w *Writer) enqueue(op writeOp) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.ops <- op:
	default:
		w.dropped.Add(1)
		w.logger.Warn().Str("key", op.key).Msg("persist queue full, write dropped")
	}
}

// Flush waits until every write queued before the call has been applied.
func (w *Writer) Flush(ctx context.Context) error {
	done := make(chan struct{})
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return nil
	}
	select {
	case w.ops <- writeOp{done: done}:
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}
	w.mu.RUnlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains queued writes and stops the writer.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.ops)
	w.mu.Unlock()

	stopped := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Failures returns how many storage calls failed.
func (w *Writer) Failures() int64 {
	return w.failures.Load()
}

// Dropped returns how many writes were dropped on a full queue.
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

func (w *Writer) run() {
	defer w.wg.Done()
	for op := range w.ops {
		if op.done != nil {
			close(op.done)
			continue
		}
		w.apply(op)
	}
}

func (w *Writer) apply(op writeOp) {
	ctx, cancel := context.WithTimeout(context.Background(), w.opTimeout)
	defer cancel()

	var err error
	action := "set_item"
	if op.remove {
		action = "remove_item"
		err = w.storage.RemoveItem(ctx, op.key)
	} else {
		err = w.storage.SetItem(ctx, op.key, op.value)
	}
	if err != nil {
		w.failures.Add(1)
		w.logger.Warn().Err(syncerr.Persistence(action, err)).Str("key", op.key).Msg("persisted write failed")
	}
}
