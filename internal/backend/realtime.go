package backend

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/umamaheshmadala/sync-warp-sub014/internal/events"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/models"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/syncerr"
)

const defaultPushBuffer = 64

// Realtime delivers authoritative pushes for a topic until cancelled.
type Realtime interface {
	Subscribe(ctx context.Context, topic string) (<-chan models.Push, func(), error)
}

// Hub is an in-process Realtime channel. Writers call Publish; every
// subscriber of the push's topic receives it. A subscriber that falls
// behind by more than its buffer loses pushes; foreground revalidation
// recovers them.
type Hub struct {
	publisher *events.Bus
	buffer    int
	dropped   atomic.Int64

	mu      sync.Mutex
	nextID  int
	cancels map[int]func()
}

// NewHub creates a Hub with the given per-subscriber buffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultPushBuffer
	}
	return &Hub{
		publisher: events.NewBus(nil),
		buffer:    buffer,
		cancels:   make(map[int]func()),
	}
}

// Publish fans push out to the subscribers of push.Topic.
func (h *Hub) Publish(ctx context.Context, push models.Push) {
	p := push
	p.Record = push.Record.Clone()
	h.publisher.Publish(ctx, &models.Event{
		Type:  models.EventTypeRealtimePush,
		Topic: push.Topic,
		Push:  &p,
	})
}

// Subscribe implements Realtime.
func (h *Hub) Subscribe(ctx context.Context, topic string) (<-chan models.Push, func(), error) {
	if topic == "" {
		return nil, nil, syncerr.Validation("subscribe", "topic is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	ch := make(chan models.Push, h.buffer)
	var (
		mu     sync.Mutex
		closed bool
	)
	release, err := h.publisher.Subscribe(events.Filter{
		EventTypes: []models.EventType{models.EventTypeRealtimePush},
		Topic:      topic,
	}, func(event *models.Event) {
		if event.Push == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- *event.Push:
		default:
			h.dropped.Add(1)
		}
	})
	if err != nil {
		return nil, nil, syncerr.Wrap(syncerr.KindInternal, "subscribe", err)
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			release()
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
			close(done)
			h.mu.Lock()
			delete(h.cancels, id)
			h.mu.Unlock()
		})
	}
	h.mu.Lock()
	h.cancels[id] = cancel
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return ch, cancel, nil
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	return h.publisher.Subscribers()
}

// Dropped returns how many pushes were lost to full buffers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close ends every subscription, closing their channels.
func (h *Hub) Close() {
	h.mu.Lock()
	cancels := make([]func(), 0, len(h.cancels))
	for _, cancel := range h.cancels {
		cancels = append(cancels, cancel)
	}
	h.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	h.publisher.Close()
}
