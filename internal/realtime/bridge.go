package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/umamaheshmadala/sync-warp-sub014/internal/backend"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/cache"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/logging"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/models"
)

// Bridge errors.
var (
	ErrBridgeAlreadyRunning = errors.New("realtime bridge already running")
	ErrBridgeNotRunning     = errors.New("realtime bridge not running")
	ErrUnroutableTopic      = errors.New("topic has no query key")
)

// Router maps a topic to the query key it feeds.
type Router func(topic string) (models.QueryKey, bool)

// Stats counts push outcomes.
type Stats struct {
	Applied int64
	Stale   int64
	Ignored int64
}

// Bridge subscribes to realtime topics and reconciles every push into the
// cache entry its topic feeds. Pushes for keys with no cached entry are
// ignored; the next fetch brings them in.
type Bridge struct {
	source backend.Realtime
	store  *cache.Store
	route  Router
	logger zerolog.Logger

	applied atomic.Int64
	stale   atomic.Int64
	ignored atomic.Int64

	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	topics  map[string]context.CancelFunc
}

// NewBridge creates a Bridge. A nil route uses models.TopicKey.
func NewBridge(source backend.Realtime, store *cache.Store, route Router) *Bridge {
	if route == nil {
		route = models.TopicKey
	}
	return &Bridge{
		source: source,
		store:  store,
		route:  route,
		logger: logging.Component("realtime"),
		topics: make(map[string]context.CancelFunc),
	}
}

// Start begins delivering pushes for the given topics.
func (b *Bridge) Start(ctx context.Context, topics ...string) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return ErrBridgeAlreadyRunning
	}
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.running = true
	b.mu.Unlock()

	b.logger.Info().Int("topics", len(topics)).Msg("realtime bridge starting")
	for _, topic := range topics {
		if err := b.Watch(topic); err != nil {
			b.Stop()
			return err
		}
	}
	return nil
}

// Stop cancels every subscription and waits for the workers to exit.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return ErrBridgeNotRunning
	}
	b.logger.Info().Msg("realtime bridge stopping")
	b.cancel()
	b.running = false
	b.topics = make(map[string]context.CancelFunc)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info().Msg("realtime bridge stopped")
	return nil
}

// IsRunning returns true while the bridge is started.
func (b *Bridge) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// Watch subscribes to topic. Watching a topic twice is a no-op.
func (b *Bridge) Watch(topic string) error {
	key, ok := b.route(topic)
	if !ok {
		return ErrUnroutableTopic
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return ErrBridgeNotRunning
	}
	if _, ok := b.topics[topic]; ok {
		return nil
	}

	ctx, cancel := context.WithCancel(b.ctx)
	pushes, release, err := b.source.Subscribe(ctx, topic)
	if err != nil {
		cancel()
		return err
	}
	b.topics[topic] = cancel

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer release()
		b.consume(ctx, topic, key, pushes)
	}()
	return nil
}

// Unwatch drops the subscription to topic.
func (b *Bridge) Unwatch(topic string) {
	b.mu.Lock()
	cancel, ok := b.topics[topic]
	delete(b.topics, topic)
	b.mu.Unlock()
	if ok {
		cancel()
	}
}

// Topics lists the watched topics.
func (b *Bridge) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.topics))
	for t := range b.topics {
		out = append(out, t)
	}
	return out
}

func (b *Bridge) consume(ctx context.Context, topic string, key models.QueryKey, pushes <-chan models.Push) {
	logger := logging.WithKey(b.logger, key.String()).With().Str("topic", topic).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		case push, ok := <-pushes:
			if !ok {
				logger.Debug().Msg("realtime subscription closed")
				return
			}
			outcome := b.Apply(key, push)
			logger.Debug().
				Str("record_id", push.Record.ID).
				Str("op", string(push.Op)).
				Stringer("outcome", outcome).
				Msg("realtime push")
		}
	}
}

// Apply reconciles push into the entry at key atomically.
func (b *Bridge) Apply(key models.QueryKey, push models.Push) Outcome {
	outcome := Ignored
	b.store.Update(key, func(cur cache.Entry, exists bool) (cache.Entry, bool) {
		if !exists || cur.Status == cache.StatusIdle {
			return cur, false
		}
		cur.Data, outcome = Reconcile(cur.Data, push)
		return cur, outcome.Changed()
	})

	switch {
	case outcome.Changed():
		b.applied.Add(1)
	case outcome == Stale:
		b.stale.Add(1)
	default:
		b.ignored.Add(1)
	}
	return outcome
}

// Stats returns the outcome counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Applied: b.applied.Load(),
		Stale:   b.stale.Load(),
		Ignored: b.ignored.Load(),
	}
}
