package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/umamaheshmadala/sync-warp-sub014/internal/models"
)

type memPersister struct {
	mu    sync.Mutex
	items map[string]string
}

func newMemPersister() *memPersister {
	return &memPersister{items: make(map[string]string)}
}

func (m *memPersister) Load(ctx context.Context, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	return v, ok
}

func (m *memPersister) Save(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
}

func (m *memPersister) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
}

func (m *memPersister) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[key]
	return ok
}

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestStoreSetGet(t *testing.T) {
	s := newTestStore(t, Config{})
	key := models.ConversationMessagesKey("42")

	_, ok := s.Get(key)
	require.False(t, ok)

	s.Set(key, models.Records{{ID: "srv-1", Kind: models.RecordKindMessage, Text: "hi"}})

	// Lookup is structural: a freshly built key finds the entry.
	got, ok := s.Get(models.Key("conversation", "42", "messages"))
	require.True(t, ok)
	require.Equal(t, StatusSuccess, got.Status)
	require.Len(t, got.Data, 1)
	require.False(t, got.UpdatedAt.IsZero())

	// Returned entries are copies.
	got.Data[0].Text = "mutated"
	again, _ := s.Get(key)
	require.Equal(t, "hi", again.Data[0].Text)
}

func TestStoreSetStatusKeepsData(t *testing.T) {
	s := newTestStore(t, Config{})
	key := models.NotificationsKey("u1")
	s.Set(key, models.Records{{ID: "n1", Kind: models.RecordKindNotification}})

	boom := errors.New("boom")
	s.SetStatus(key, StatusError, boom)

	got, _ := s.Get(key)
	require.Equal(t, StatusError, got.Status)
	require.ErrorIs(t, got.Err, boom)
	require.Len(t, got.Data, 1)

	s.SetStatus(key, StatusLoading, boom)
	got, _ = s.Get(key)
	require.NoError(t, got.Err)
}

func TestStoreNotifiesExactKeySubscribers(t *testing.T) {
	s := newTestStore(t, Config{})
	key := models.ConversationMessagesKey("42")
	other := models.ConversationMessagesKey("7")

	var hits atomic.Int32
	var last Entry
	release, err := s.Subscribe(key, func(entry Entry, ok bool) {
		hits.Add(1)
		last = entry
	})
	require.NoError(t, err)

	s.Set(other, nil)
	require.Equal(t, int32(0), hits.Load())

	s.Set(key, models.Records{{ID: "a"}})
	s.SetStatus(key, StatusLoading, nil)
	s.Invalidate(key)
	require.Equal(t, int32(3), hits.Load())
	require.True(t, last.Stale)

	release()
	s.Set(key, nil)
	require.Equal(t, int32(3), hits.Load())
}

func TestStoreSubscribeNilListener(t *testing.T) {
	s := newTestStore(t, Config{})
	_, err := s.Subscribe(models.Key("x"), nil)
	require.Error(t, err)
}

func TestStoreInvalidatePrefix(t *testing.T) {
	s := newTestStore(t, Config{})
	s.Set(models.SettingKey("u1", "theme"), nil)
	s.Set(models.SettingKey("u1", "locale"), nil)
	s.Set(models.SettingKey("u2", "theme"), nil)
	s.Set(models.ConversationMessagesKey("42"), nil)

	n := s.InvalidatePrefix(models.SettingsPrefix("u1"))
	require.Equal(t, 2, n)

	for _, key := range []models.QueryKey{models.SettingKey("u1", "theme"), models.SettingKey("u1", "locale")} {
		e, _ := s.Get(key)
		require.True(t, e.Stale, key.String())
	}
	for _, key := range []models.QueryKey{models.SettingKey("u2", "theme"), models.ConversationMessagesKey("42")} {
		e, _ := s.Get(key)
		require.False(t, e.Stale, key.String())
	}
}

func TestStoreInvalidateMissing(t *testing.T) {
	s := newTestStore(t, Config{})
	require.False(t, s.Invalidate(models.Key("nope")))
}

func TestStoreSnapshotRestore(t *testing.T) {
	s := newTestStore(t, Config{})
	key := models.ConversationMessagesKey("42")
	s.Set(key, models.Records{{ID: "srv-1", Text: "a"}})
	before, _ := s.Get(key)

	snap := s.Snapshot(key)
	require.True(t, snap.Existed())

	s.Set(key, models.Records{{ID: "srv-1", Text: "a"}, {ID: "tmp-2", Text: "b"}})
	s.Restore(snap)

	after, ok := s.Get(key)
	require.True(t, ok)
	require.Equal(t, before, after)
}

func TestStoreRestoreAbsentSnapshotRemoves(t *testing.T) {
	s := newTestStore(t, Config{})
	key := models.ConversationMessagesKey("new")

	snap := s.Snapshot(key)
	require.False(t, snap.Existed())
	require.Equal(t, StatusIdle, snap.Entry().Status)

	s.Set(key, models.Records{{ID: "tmp-1"}})
	s.Restore(snap)

	_, ok := s.Get(key)
	require.False(t, ok)
}

func TestStoreFetch(t *testing.T) {
	s := newTestStore(t, Config{})
	key := models.ConversationMessagesKey("42")
	var calls atomic.Int32
	fetcher := func(ctx context.Context) (models.Records, error) {
		calls.Add(1)
		return models.Records{{ID: "srv-1"}}, nil
	}

	data, err := s.Fetch(context.Background(), key, fetcher)
	require.NoError(t, err)
	require.Len(t, data, 1)

	_, err = s.Fetch(context.Background(), key, fetcher)
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load(), "fresh entry must not refetch")

	s.Invalidate(key)
	_, err = s.Fetch(context.Background(), key, fetcher)
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
}

func TestStoreFetchErrorKeepsData(t *testing.T) {
	s := newTestStore(t, Config{})
	key := models.NotificationsKey("u1")
	s.Set(key, models.Records{{ID: "n1"}})
	s.Invalidate(key)

	boom := errors.New("offline")
	_, err := s.Fetch(context.Background(), key, func(ctx context.Context) (models.Records, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	got, _ := s.Get(key)
	require.Equal(t, StatusError, got.Status)
	require.Len(t, got.Data, 1)
}

func TestStoreFetchKeepsUnconfirmedOptimistic(t *testing.T) {
	s := newTestStore(t, Config{})
	key := models.ConversationMessagesKey("42")
	s.Set(key, models.Records{
		{ID: "srv-1"},
		{ID: "tmp-a", Status: models.StatusSending},
		{ID: "tmp-b", Status: models.StatusSending},
	})
	s.Invalidate(key)

	data, err := s.Fetch(context.Background(), key, func(ctx context.Context) (models.Records, error) {
		return models.Records{{ID: "srv-1"}, {ID: "srv-2", ClientID: "tmp-a"}}, nil
	})
	require.NoError(t, err)

	ids := make([]string, 0, len(data))
	for _, r := range data {
		ids = append(ids, r.ID)
	}
	require.Equal(t, []string{"srv-1", "srv-2", "tmp-b"}, ids)
}

func TestStoreFetchSharesInFlightCall(t *testing.T) {
	s := newTestStore(t, Config{})
	key := models.FriendRequestsKey("u1")
	release := make(chan struct{})
	var calls atomic.Int32

	fetcher := func(ctx context.Context) (models.Records, error) {
		calls.Add(1)
		<-release
		return models.Records{{ID: "fr-1"}}, nil
	}

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Fetch(context.Background(), key, fetcher)
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), calls.Load())
}

func TestStoreFetchSurvivesFirstCallerCancelling(t *testing.T) {
	s := newTestStore(t, Config{})
	key := models.ConversationMessagesKey("42")
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fetcher := func(ctx context.Context) (models.Records, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
			return models.Records{{ID: "srv-1"}}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := s.Fetch(ctx, key, fetcher)
		first <- err
	}()
	<-started

	type result struct {
		data models.Records
		err  error
	}
	second := make(chan result, 1)
	go func() {
		data, err := s.Fetch(context.Background(), key, fetcher)
		second <- result{data, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-first, context.Canceled)

	close(release)
	res := <-second
	require.NoError(t, res.err)
	require.Equal(t, "srv-1", res.data[0].ID)
	e, ok := s.Get(key)
	require.True(t, ok)
	require.Equal(t, StatusSuccess, e.Status)
}

func TestStoreStaleAfter(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, Config{StaleAfter: time.Minute, Clock: func() time.Time { return now }})
	key := models.NotificationsKey("u1")
	s.Set(key, nil)

	e, _ := s.Get(key)
	require.False(t, s.IsStale(e))

	now = now.Add(2 * time.Minute)
	require.True(t, s.IsStale(e))
}

func TestStoreCapacityEvictsAndDeletesPersisted(t *testing.T) {
	p := newMemPersister()
	s := newTestStore(t, Config{Capacity: 2, Persister: p})

	a := models.ConversationMessagesKey("a")
	b := models.ConversationMessagesKey("b")
	c := models.ConversationMessagesKey("c")
	s.Set(a, models.Records{{ID: "1"}})
	s.Set(b, models.Records{{ID: "2"}})
	require.True(t, p.has("cache:"+a.String()))

	var removed atomic.Int32
	release, err := s.Subscribe(a, func(entry Entry, ok bool) {
		if !ok {
			removed.Add(1)
		}
	})
	require.NoError(t, err)
	defer release()

	s.Set(c, models.Records{{ID: "3"}})

	require.Equal(t, 2, s.Len())
	_, ok := s.Get(a)
	require.False(t, ok)
	require.False(t, p.has("cache:"+a.String()))
	require.Equal(t, int32(1), removed.Load())
}

func TestStorePersistAndHydrate(t *testing.T) {
	p := newMemPersister()
	key := models.ConversationMessagesKey("42")

	first := newTestStore(t, Config{Persister: p})
	first.Set(key, models.Records{
		{ID: "srv-1", Text: "hello"},
		{ID: "tmp-2", Text: "pending", Status: models.StatusSending},
	})
	// Non-success status is never persisted over the last good copy.
	first.SetStatus(key, StatusLoading, nil)

	second := newTestStore(t, Config{Persister: p})
	require.Equal(t, 1, second.Hydrate(context.Background(), key, models.NotificationsKey("none")))

	got, ok := second.Get(key)
	require.True(t, ok)
	require.Equal(t, StatusSuccess, got.Status)
	require.True(t, got.Stale)
	require.Equal(t, models.Records{{ID: "srv-1", Text: "hello"}}, got.Data)
}

func TestStoreHydrateSkipsCorruptAndExisting(t *testing.T) {
	p := newMemPersister()
	key := models.ConversationMessagesKey("42")
	p.Save("cache:"+key.String(), "{not json")

	s := newTestStore(t, Config{Persister: p})
	require.Equal(t, 0, s.Hydrate(context.Background(), key))

	s.Set(key, models.Records{{ID: "live"}})
	p.Save("cache:"+key.String(), `{"key":["conversation","42","messages"],"data":[{"id":"old","kind":"message"}]}`)
	require.Equal(t, 0, s.Hydrate(context.Background(), key))
	got, _ := s.Get(key)
	require.Equal(t, "live", got.Data[0].ID)
}

func TestStoreClosedIgnoresWrites(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)
	s.Close()

	s.Set(models.Key("x"), models.Records{{ID: "1"}})
	_, ok := s.Get(models.Key("x"))
	require.False(t, ok)
}

func TestStoreKeys(t *testing.T) {
	s := newTestStore(t, Config{})
	s.Set(models.SettingKey("u1", "theme"), nil)
	s.Set(models.ConversationMessagesKey("42"), nil)

	keys := s.Keys(models.Key(models.NamespaceSettings))
	require.Len(t, keys, 1)
	require.True(t, keys[0].Equal(models.SettingKey("u1", "theme")))
	require.Len(t, s.Keys(nil), 2)
}
