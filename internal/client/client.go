// Package client assembles the sync core for one signed-in user: cache
// store, persistence, mutation coordinator, visibility guard, realtime
// bridge and the chat service.
package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/umamaheshmadala/sync-warp-sub014/internal/backend"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/cache"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/chat"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/config"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/db"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/emoji"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/events"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/logging"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/models"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/mutation"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/persist"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/realtime"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/syncerr"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/visibility"
)

// Deps overrides collaborators Open would otherwise build from config.
// Every field is optional.
type Deps struct {
	// Backend replaces the HTTP backend client.
	Backend backend.Caller

	// Realtime replaces the HTTP watch stream.
	Realtime backend.Realtime

	// Storage replaces the SQLite key/value store.
	Storage persist.Storage

	// Visibility is attached to the guard when set.
	Visibility visibility.Source

	// Notifier receives mutation failures after they are logged and published.
	Notifier mutation.Notifier

	Clock func() time.Time
}

// Client owns every component of the sync core. Close releases them.
type Client struct {
	cfg    *config.Config
	logger zerolog.Logger

	http      *backend.Client
	db        *db.DB
	kv        *db.KVRepository
	writer    *persist.Writer
	publisher *events.Bus
	store     *cache.Store
	coord     *mutation.Coordinator
	chat      *chat.Service
	guard     *visibility.Guard
	bridge    *realtime.Bridge

	closeOnce sync.Once
	closeErr  error
}

// Open builds a Client from cfg. The realtime bridge outlives ctx and
// stops on Close.
func Open(ctx context.Context, cfg *config.Config, deps Deps) (*Client, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, syncerr.Wrap(syncerr.KindValidation, "open", err)
	}
	userID := strings.TrimSpace(cfg.Backend.UserID)
	if userID == "" {
		return nil, syncerr.Validation("open", "backend.user_id is required")
	}

	c := &Client{cfg: cfg, logger: logging.Component("client")}
	ok := false
	defer func() {
		if !ok {
			c.Close(context.Background())
		}
	}()

	caller := deps.Backend
	if caller == nil {
		hc, err := backend.New(backend.Config{
			URL:     cfg.Backend.URL,
			APIKey:  cfg.Backend.APIKey,
			Timeout: cfg.Backend.Timeout,
		})
		if err != nil {
			return nil, err
		}
		hc.SetAccessToken(cfg.Backend.AccessToken)
		c.http = hc
		caller = hc
	}

	storage := deps.Storage
	if storage == nil && cfg.Cache.Persist {
		database, err := db.Open(ctx, db.Config{
			Path:          cfg.DatabasePath(),
			BusyTimeoutMS: cfg.Persistence.BusyTimeoutMs,
		})
		if err != nil {
			// Persistence is best effort: run from memory only.
			c.logger.Warn().Err(syncerr.Persistence("open", err)).
				Str("path", cfg.DatabasePath()).
				Msg("cache database unavailable, continuing without persistence")
		} else {
			c.db = database
			c.kv = db.NewKVRepository(database)
			storage = c.kv
		}
	}

	c.publisher = events.NewBus(nil)
	storeCfg := cache.Config{
		Capacity:   cfg.Cache.Capacity,
		StaleAfter: cfg.Cache.StaleAfter,
		Publisher:  c.publisher,
		Clock:      deps.Clock,
	}
	if storage != nil {
		c.writer = persist.NewWriter(storage, persist.WriterConfig{Buffer: cfg.Persistence.WriteBuffer})
		storeCfg.Persister = c.writer
	}
	store, err := cache.New(storeCfg)
	if err != nil {
		return nil, err
	}
	c.store = store

	coordOpts := []mutation.Option{
		mutation.WithRetainFailed(cfg.Mutation.RetainFailed),
		mutation.WithNotifier(mutation.NotifierFunc(func(f mutation.Failure) {
			c.notifyFailure(f, deps.Notifier)
		})),
	}
	if deps.Clock != nil {
		coordOpts = append(coordOpts, mutation.WithClock(deps.Clock))
	}
	c.coord = mutation.New(store, coordOpts...)

	source := deps.Realtime
	if source == nil && cfg.Realtime.Enabled && c.http != nil {
		source = backend.NewStream(c.http, backend.StreamConfig{
			ReconnectDelay: cfg.Realtime.ReconnectDelay,
			Buffer:         cfg.Realtime.Buffer,
		})
	}
	chatDeps := chat.Deps{
		Backend:     caller,
		Store:       store,
		Coordinator: c.coord,
		Emoji:       emoji.NewLazy(),
		UserID:      userID,
		Clock:       deps.Clock,
	}
	if source != nil && cfg.Realtime.Enabled {
		c.bridge = realtime.NewBridge(source, store, nil)
		chatDeps.Realtime = c.bridge
	}

	svc, err := chat.NewService(chatDeps)
	if err != nil {
		return nil, err
	}
	c.chat = svc

	c.guard = visibility.New(visibility.Config{
		Debounce: cfg.Visibility.Debounce,
		Initial:  visibility.Foreground,
	})
	c.guard.OnForeground(func() { svc.RevalidateForeground() })
	if deps.Visibility != nil {
		c.guard.Attach(deps.Visibility)
	}

	restored := c.hydrate(ctx, userID)

	if c.bridge != nil {
		// Conversations are watched as their messages are loaded.
		if err := c.bridge.Start(context.WithoutCancel(ctx), c.topics(userID)...); err != nil {
			return nil, err
		}
	}

	c.logger.Info().
		Str("user_id", userID).
		Bool("persist", storage != nil).
		Bool("realtime", c.bridge != nil).
		Int("hydrated", restored).
		Msg("sync client opened")
	ok = true
	return c, nil
}

// topics returns the user's own topics followed by the configured extras,
// without duplicates.
func (c *Client) topics(userID string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range append([]string{
		models.FriendRequestsTopic(userID),
		models.NotificationsTopic(userID),
	}, c.cfg.Realtime.Topics...) {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// hydrate restores the user's own queries plus every entry found in the
// SQLite store.
func (c *Client) hydrate(ctx context.Context, userID string) int {
	keys := []models.QueryKey{
		models.FriendRequestsKey(userID),
		models.NotificationsKey(userID),
	}
	if c.kv != nil {
		entries, err := c.kv.List(ctx, cache.StoragePrefix)
		if err != nil {
			c.logger.Warn().Err(err).Msg("list persisted cache entries")
		}
		for _, e := range entries {
			key, err := models.ParseQueryKey(strings.TrimPrefix(e.Key, cache.StoragePrefix))
			if err != nil || len(key) == 0 {
				continue
			}
			keys = append(keys, key)
		}
	}
	return c.store.Hydrate(ctx, keys...)
}

func (c *Client) notifyFailure(f mutation.Failure, next mutation.Notifier) {
	msg := ""
	if f.Err != nil {
		msg = logging.Redact(f.Err.Error())
	}
	c.publisher.Publish(context.Background(), &models.Event{
		Type: models.EventTypeMutationFailed,
		Key:  f.Key,
		Metadata: map[string]string{
			"record_id": f.Record.ID,
			"kind":      string(f.Kind),
			"error":     msg,
		},
	})
	if next != nil {
		next.NotifyFailure(f)
	}
}

// Chat returns the chat service.
func (c *Client) Chat() *chat.Service { return c.chat }

// Store returns the cache store.
func (c *Client) Store() *cache.Store { return c.store }

// Coordinator returns the mutation coordinator.
func (c *Client) Coordinator() *mutation.Coordinator { return c.coord }

// Guard returns the visibility guard.
func (c *Client) Guard() *visibility.Guard { return c.guard }

// Bridge returns the realtime bridge, nil when realtime is disabled.
func (c *Client) Bridge() *realtime.Bridge { return c.bridge }

// Events returns the publisher carrying cache and mutation events.
func (c *Client) Events() *events.Bus { return c.publisher }

// KV returns the SQLite key/value store, nil unless Open created it.
func (c *Client) KV() *db.KVRepository { return c.kv }

// Config returns the configuration the client was opened with.
func (c *Client) Config() *config.Config { return c.cfg }

// Flush waits until pending persisted writes are applied.
func (c *Client) Flush(ctx context.Context) error {
	if c.writer == nil {
		return nil
	}
	return c.writer.Flush(ctx)
}

// Close releases every component in reverse order of construction.
// Persisted entries are kept.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		var errs []error
		if c.bridge != nil && c.bridge.IsRunning() {
			if err := c.bridge.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		if c.guard != nil {
			c.guard.Close()
		}
		if c.store != nil {
			c.store.Close()
		}
		if c.publisher != nil {
			c.publisher.Close()
		}
		if c.writer != nil {
			if err := c.writer.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if c.db != nil {
			if err := c.db.Close(); err != nil {
				errs = append(errs, syncerr.Persistence("close", err))
			}
		}
		c.closeErr = errors.Join(errs...)
		c.logger.Debug().Err(c.closeErr).Msg("sync client closed")
	})
	return c.closeErr
}
