// Package events is the in-process bus carrying cache change notifications,
// mutation failures and realtime pushes between components.
package events

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/umamaheshmadala/sync-warp-sub014/internal/models"
)

var (
	ErrNilHandler = errors.New("events: nil handler")
	ErrBusClosed  = errors.New("events: bus closed")
)

// Handler receives matching events. It runs on the publishing goroutine
// and must not block.
type Handler func(event *models.Event)

// Filter selects events. Zero fields match everything.
type Filter struct {
	EventTypes []models.EventType

	// Key matches one exact cache key.
	Key models.QueryKey

	// KeyPrefix matches every key under a namespace.
	KeyPrefix models.QueryKey

	// Topic matches one realtime topic.
	Topic string
}

// Matches reports whether event passes f.
func (f Filter) Matches(event *models.Event) bool {
	switch {
	case event == nil:
		return false
	case len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, event.Type):
		return false
	case f.Key != nil && !event.Key.Equal(f.Key):
		return false
	case f.KeyPrefix != nil && !event.Key.HasPrefix(f.KeyPrefix):
		return false
	case f.Topic != "" && event.Topic != f.Topic:
		return false
	}
	return true
}

type subscriber struct {
	filter  Filter
	handler Handler
}

// Bus delivers events synchronously to every matching subscriber, in
// subscription order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]subscriber
	nextID uint64
	closed bool
	now    func() time.Time
}

// NewBus creates a Bus. A nil clock uses time.Now.
func NewBus(now func() time.Time) *Bus {
	if now == nil {
		now = time.Now
	}
	return &Bus{subs: make(map[uint64]subscriber), now: now}
}

// Publish stamps event with an ID and time when missing and hands it to
// every matching handler. Handlers run outside the bus lock, so they may
// publish or release subscriptions themselves.
func (b *Bus) Publish(_ context.Context, event *models.Event) {
	if event == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now().UTC()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	ids := make([]uint64, 0, len(b.subs))
	for id, s := range b.subs {
		if s.filter.Matches(event) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]Handler, len(ids))
	for i, id := range ids {
		handlers[i] = b.subs[id].handler
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// Subscribe registers handler for events matching filter. The returned
// release func is idempotent.
func (b *Bus) Subscribe(filter Filter, handler Handler) (func(), error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = subscriber{filter: filter, handler: handler}

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}, nil
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close drops every subscription. Later publishes are ignored and later
// subscriptions fail.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	clear(b.subs)
}
