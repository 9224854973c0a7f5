package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/umamaheshmadala/sync-warp-sub014/internal/events"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/logging"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/models"
)

const defaultCapacity = 1024

// StoragePrefix prefixes every persisted entry key.
const StoragePrefix = "cache:"

// Persister receives best-effort copies of confirmed entries so they
// survive reloads. Implementations swallow and log their own failures.
type Persister interface {
	Load(ctx context.Context, key string) (string, bool)
	Save(key, value string)
	Delete(key string)
}

// Fetcher loads the authoritative value of one query.
type Fetcher func(ctx context.Context) (models.Records, error)

// Listener observes the entry at one key after every change.
// ok is false once the entry has been removed.
type Listener func(entry Entry, ok bool)

// Config configures a Store.
type Config struct {
	// Capacity bounds the number of entries held in memory (LRU).
	Capacity int

	// StaleAfter marks success entries stale once older than this (0 = never).
	StaleAfter time.Duration

	// Publisher delivers change notifications. A private one is created if nil.
	Publisher *events.Bus

	// Persister is optional.
	Persister Persister

	// Clock overrides time.Now.
	Clock func() time.Time
}

// Store is the local cache store. It is safe for concurrent use; every
// write is atomic with respect to other writes.
type Store struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *Entry]
	evicted []string
	closed  bool

	staleAfter time.Duration
	publisher  *events.Bus
	persister  Persister
	now        func() time.Time
	fetches    singleflight.Group
	logger     zerolog.Logger
}

// New creates a Store.
func New(cfg Config) (*Store, error) {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	s := &Store{
		staleAfter: cfg.StaleAfter,
		publisher:  cfg.Publisher,
		persister:  cfg.Persister,
		now:        cfg.Clock,
		logger:     logging.Component("cache"),
	}
	if s.publisher == nil {
		s.publisher = events.NewBus(nil)
	}
	if s.now == nil {
		s.now = time.Now
	}

	entries, err := lru.NewWithEvict[string, *Entry](capacity, func(key string, _ *Entry) {
		// Runs synchronously inside Add/Remove while s.mu is held.
		s.evicted = append(s.evicted, key)
	})
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	s.entries = entries
	return s, nil
}

// Get returns a copy of the entry at key.
func (s *Store) Get(key models.QueryKey) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries.Get(key.String())
	if !ok {
		return Entry{}, false
	}
	return e.Clone(), true
}

// Set stores confirmed data at key and marks it fresh.
func (s *Store) Set(key models.QueryKey, data models.Records) {
	s.Update(key, func(cur Entry, _ bool) (Entry, bool) {
		cur.Data = data.Clone()
		cur.Status = StatusSuccess
		cur.Err = nil
		cur.Stale = false
		cur.UpdatedAt = s.now()
		return cur, true
	})
}

// SetStatus changes the status of the entry at key, keeping its data.
// err is recorded only with StatusError.
func (s *Store) SetStatus(key models.QueryKey, status Status, err error) {
	s.updateWithEvent(key, models.EventTypeEntryStatus, func(cur Entry, _ bool) (Entry, bool) {
		cur.Status = status
		cur.Err = nil
		if status == StatusError {
			cur.Err = err
		}
		return cur, true
	})
}

// Update atomically replaces the entry at key with fn's result. fn receives
// a private copy of the current entry (or an empty idle one) and returns
// false to leave the store untouched. The returned entry is what was stored.
func (s *Store) Update(key models.QueryKey, fn func(cur Entry, ok bool) (Entry, bool)) (Entry, bool) {
	return s.updateWithEvent(key, models.EventTypeEntryUpdated, fn)
}

func (s *Store) updateWithEvent(key models.QueryKey, eventType models.EventType, fn func(cur Entry, ok bool) (Entry, bool)) (Entry, bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Entry{}, false
	}
	k := key.String()
	cur, ok := s.entries.Peek(k)
	var in Entry
	if ok {
		in = cur.Clone()
	} else {
		in = Entry{Key: key.Clone(), Status: StatusIdle}
	}

	next, write := fn(in, ok)
	if !write {
		s.mu.Unlock()
		return Entry{}, false
	}
	next.Key = key.Clone()
	stored := next.Clone()
	s.entries.Add(k, &stored)
	s.persistLocked(k, stored)
	evicted := s.drainEvictedLocked(k)
	s.mu.Unlock()

	s.afterWrite(eventType, key, evicted)
	return next, true
}

// Snapshot captures the entry at key for a later Restore.
func (s *Store) Snapshot(key models.QueryKey) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries.Peek(key.String())
	if !ok {
		return Snapshot{entry: Entry{Key: key.Clone(), Status: StatusIdle}}
	}
	return Snapshot{entry: e.Clone(), existed: true}
}

// Restore writes snap back verbatim. A snapshot of an absent entry removes
// the entry so the store is exactly as it was before the snapshot.
func (s *Store) Restore(snap Snapshot) {
	key := snap.entry.Key
	if !snap.existed {
		s.Remove(key)
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	k := key.String()
	stored := snap.entry.Clone()
	s.entries.Add(k, &stored)
	s.persistLocked(k, stored)
	evicted := s.drainEvictedLocked(k)
	s.mu.Unlock()

	s.afterWrite(models.EventTypeEntryUpdated, key, evicted)
}

// Remove drops the entry at key.
func (s *Store) Remove(key models.QueryKey) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	present := s.entries.Remove(key.String())
	evicted := s.drainEvictedLocked("")
	s.mu.Unlock()

	s.deleteEvicted(evicted)
	if present {
		s.publish(models.EventTypeEntryRemoved, key)
	}
}

// Invalidate marks the entry at key stale. The next Fetch refetches it.
func (s *Store) Invalidate(key models.QueryKey) bool {
	s.mu.Lock()
	e, ok := s.entries.Peek(key.String())
	if ok {
		e.Stale = true
	}
	s.mu.Unlock()

	if ok {
		s.publish(models.EventTypeEntryInvalidated, key)
	}
	return ok
}

// InvalidatePrefix marks every entry under prefix stale and returns how
// many were marked.
func (s *Store) InvalidatePrefix(prefix models.QueryKey) int {
	s.mu.Lock()
	var marked []models.QueryKey
	for _, k := range s.entries.Keys() {
		e, ok := s.entries.Peek(k)
		if !ok || !e.Key.HasPrefix(prefix) {
			continue
		}
		e.Stale = true
		marked = append(marked, e.Key.Clone())
	}
	s.mu.Unlock()

	for _, key := range marked {
		s.publish(models.EventTypeEntryInvalidated, key)
	}
	return len(marked)
}

// Keys lists the keys under prefix, least recently used first.
func (s *Store) Keys(prefix models.QueryKey) []models.QueryKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.QueryKey
	for _, k := range s.entries.Keys() {
		if e, ok := s.entries.Peek(k); ok && e.Key.HasPrefix(prefix) {
			out = append(out, e.Key.Clone())
		}
	}
	return out
}

// Len returns the number of entries.
func (s *Store) Len() int {
	return s.entries.Len()
}

// IsStale reports whether e must be refetched.
func (s *Store) IsStale(e Entry) bool {
	if e.Stale {
		return true
	}
	if s.staleAfter <= 0 || e.UpdatedAt.IsZero() {
		return false
	}
	return s.now().Sub(e.UpdatedAt) > s.staleAfter
}

// Subscribe registers l for changes to exactly key. The returned func
// releases the subscription.
func (s *Store) Subscribe(key models.QueryKey, l Listener) (func(), error) {
	if l == nil {
		return nil, events.ErrNilHandler
	}
	return s.publisher.Subscribe(events.Filter{Key: key.Clone()}, func(event *models.Event) {
		entry, ok := s.Get(key)
		l(entry, ok)
	})
}

// Fetch returns the data at key, calling fetcher when the entry is missing,
// stale or not successful. Concurrent fetches of one key share a call,
// and a caller that gives up does not cancel it for the others.
// On failure the previous data is kept and the entry is marked error.
func (s *Store) Fetch(ctx context.Context, key models.QueryKey, fetcher Fetcher) (models.Records, error) {
	if e, ok := s.Get(key); ok && e.Status == StatusSuccess && !s.IsStale(e) {
		return e.Data, nil
	}

	// The shared load outlives any one caller; each caller waits on its
	// own ctx.
	loadCtx := context.WithoutCancel(ctx)
	results := s.fetches.DoChan(key.String(), func() (any, error) {
		s.SetStatus(key, StatusLoading, nil)
		data, err := fetcher(loadCtx)
		if err != nil {
			s.SetStatus(key, StatusError, err)
			s.logger.Debug().Err(err).Str("query_key", key.String()).Msg("fetch failed")
			return nil, err
		}
		stored, _ := s.Update(key, func(cur Entry, _ bool) (Entry, bool) {
			cur.Data = mergeFetched(cur.Data, data)
			cur.Status = StatusSuccess
			cur.Err = nil
			cur.Stale = false
			cur.UpdatedAt = s.now()
			return cur, true
		})
		return stored.Data, nil
	})
	select {
	case res := <-results:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(models.Records).Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// mergeFetched takes fetched as the confirmed state and keeps optimistic
// records the server has not confirmed yet.
func mergeFetched(current, fetched models.Records) models.Records {
	out := fetched.Clone()
	confirmed := make(map[string]struct{}, len(fetched))
	for _, r := range fetched {
		if r.ClientID != "" {
			confirmed[r.ClientID] = struct{}{}
		}
	}
	for _, r := range current.Optimistic() {
		if _, ok := confirmed[r.ID]; ok {
			continue
		}
		out = append(out, r.Clone())
	}
	return out
}

// Close stops further writes and drops all subscriptions. Persisted copies
// are left in place for the next Hydrate.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.publisher.Close()
}

func (s *Store) drainEvictedLocked(keep string) []string {
	if len(s.evicted) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.evicted))
	for _, k := range s.evicted {
		if k != keep {
			out = append(out, k)
		}
	}
	s.evicted = s.evicted[:0]
	return out
}

func (s *Store) afterWrite(eventType models.EventType, key models.QueryKey, evicted []string) {
	s.deleteEvicted(evicted)
	for _, k := range evicted {
		if evictedKey, err := models.ParseQueryKey(k); err == nil {
			s.publish(models.EventTypeEntryRemoved, evictedKey)
		}
	}
	s.publish(eventType, key)
}

func (s *Store) publish(eventType models.EventType, key models.QueryKey) {
	s.publisher.Publish(context.Background(), &models.Event{
		Type: eventType,
		Key:  key.Clone(),
	})
}

// persistedEntry is the storage form of an entry. Only confirmed records
// are kept; optimistic ones could never settle after a reload.
type persistedEntry struct {
	Key       []string       `json:"key"`
	Data      models.Records `json:"data"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (s *Store) persistLocked(k string, e Entry) {
	if s.persister == nil || e.Status != StatusSuccess {
		return
	}
	confirmed := make(models.Records, 0, len(e.Data))
	for _, r := range e.Data {
		if !r.IsOptimistic() {
			confirmed = append(confirmed, r)
		}
	}
	raw, err := json.Marshal(persistedEntry{Key: e.Key, Data: confirmed, UpdatedAt: e.UpdatedAt})
	if err != nil {
		s.logger.Warn().Err(err).Str("query_key", k).Msg("encode cache entry")
		return
	}
	s.persister.Save(StoragePrefix+k, string(raw))
}

func (s *Store) deleteEvicted(keys []string) {
	if s.persister == nil {
		return
	}
	for _, k := range keys {
		s.persister.Delete(StoragePrefix + k)
	}
}

// Hydrate restores persisted entries for keys. Restored entries are marked
// stale so the first Fetch revalidates them. Returns the number restored.
func (s *Store) Hydrate(ctx context.Context, keys ...models.QueryKey) int {
	if s.persister == nil {
		return 0
	}
	restored := 0
	for _, key := range keys {
		raw, ok := s.persister.Load(ctx, StoragePrefix+key.String())
		if !ok {
			continue
		}
		var p persistedEntry
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			s.logger.Warn().Err(err).Str("query_key", key.String()).Msg("decode persisted cache entry")
			continue
		}
		_, wrote := s.Update(key, func(cur Entry, exists bool) (Entry, bool) {
			if exists {
				return cur, false
			}
			return Entry{
				Data:      p.Data,
				Status:    StatusSuccess,
				UpdatedAt: p.UpdatedAt,
				Stale:     true,
			}, true
		})
		if wrote {
			restored++
		}
	}
	return restored
}
