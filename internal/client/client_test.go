package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/umamaheshmadala/sync-warp-sub014/internal/backend"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/config"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/events"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/models"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/mutation"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/syncerr"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/testutil"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/visibility"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Global.DataDir = t.TempDir()
	cfg.Global.ConfigDir = t.TempDir()
	cfg.Backend.UserID = "u1"
	cfg.Cache.Persist = false
	cfg.Realtime.Enabled = false
	return cfg
}

func messageRows(ids ...string) []map[string]any {
	rows := make([]map[string]any, 0, len(ids))
	for i, id := range ids {
		rows = append(rows, map[string]any{
			"id":              id,
			"conversation_id": "42",
			"sender_id":       "u2",
			"content":         "hello " + id,
			"created_at":      t0.Add(time.Duration(i) * time.Second),
		})
	}
	return rows
}

func open(t *testing.T, cfg *config.Config, deps Deps) *Client {
	t.Helper()
	c, err := Open(context.Background(), cfg, deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestOpenRequiresUser(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backend.UserID = " "
	_, err := Open(context.Background(), cfg, Deps{Backend: testutil.NewFakeBackend()})
	require.ErrorIs(t, err, syncerr.ErrValidation)
}

func TestOpenRequiresBackendURL(t *testing.T) {
	_, err := Open(context.Background(), testConfig(t), Deps{})
	require.ErrorIs(t, err, syncerr.ErrValidation)
}

func TestSendAndFetchThroughClient(t *testing.T) {
	fake := testutil.NewFakeBackend()
	fake.Reply("GET messages", messageRows("srv-1"))
	fake.Handle("rpc send_message", func(ctx context.Context, req backend.Request) (any, error) {
		p := testutil.PayloadMap(req)
		return map[string]any{
			"id":              "srv-2",
			"client_id":       p["client_id"],
			"conversation_id": "42",
			"sender_id":       "u1",
			"content":         p["content"],
			"created_at":      t0.Add(time.Minute),
		}, nil
	})
	c := open(t, testConfig(t), Deps{Backend: fake})

	data, err := c.Chat().Messages(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, data, 1)

	rec, err := c.Chat().SendMessage(context.Background(), "42", "hi")
	require.NoError(t, err)
	require.Equal(t, "srv-2", rec.ID)

	entry, ok := c.Store().Get(models.ConversationMessagesKey("42"))
	require.True(t, ok)
	require.Len(t, entry.Data, 2)
	for _, r := range entry.Data {
		require.False(t, r.IsOptimistic(), "temporary id left behind: %s", r.ID)
	}
}

func TestFailureIsPublishedAndForwarded(t *testing.T) {
	fake := testutil.NewFakeBackend()
	fake.Fail("rpc send_message", syncerr.Network("send_message", errors.New("offline")))

	var (
		mu       sync.Mutex
		failures []mutation.Failure
	)
	c := open(t, testConfig(t), Deps{
		Backend: fake,
		Notifier: mutation.NotifierFunc(func(f mutation.Failure) {
			mu.Lock()
			defer mu.Unlock()
			failures = append(failures, f)
		}),
	})

	var published []*models.Event
	release, err := c.Events().Subscribe(events.Filter{
		EventTypes: []models.EventType{models.EventTypeMutationFailed},
		KeyPrefix:  models.Key(models.NamespaceConversation),
	}, func(e *models.Event) { published = append(published, e) })
	require.NoError(t, err)
	defer release()

	_, err = c.Chat().SendMessage(context.Background(), "42", "hi")
	require.ErrorIs(t, err, syncerr.ErrNetwork)

	require.Len(t, published, 1)
	require.Equal(t, string(syncerr.KindNetwork), published[0].Metadata["kind"])
	require.True(t, models.ConversationMessagesKey("42").Equal(published[0].Key))

	mu.Lock()
	require.Len(t, failures, 1)
	mu.Unlock()

	_, ok := c.Store().Get(models.ConversationMessagesKey("42"))
	require.False(t, ok, "rollback must restore the absent entry")
	require.Len(t, c.Coordinator().Failed(models.ConversationMessagesKey("42")), 1)
}

func TestForegroundInvalidatesConversations(t *testing.T) {
	fake := testutil.NewFakeBackend()
	fake.Reply("GET messages", messageRows("srv-1"))
	sw := visibility.NewSwitch()
	c := open(t, testConfig(t), Deps{Backend: fake, Visibility: sw})
	require.Equal(t, 1, sw.Watchers())

	_, err := c.Chat().Messages(context.Background(), "42")
	require.NoError(t, err)

	sw.Set(visibility.Background)
	sw.Set(visibility.Foreground)
	sw.Set(visibility.Background)
	sw.Set(visibility.Foreground)
	require.Equal(t, 1, c.Guard().Fired())

	entry, ok := c.Store().Get(models.ConversationMessagesKey("42"))
	require.True(t, ok)
	require.True(t, entry.Stale)

	_, err = c.Chat().Messages(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, 2, fake.CallCount("GET messages"))

	require.NoError(t, c.Close(context.Background()))
	require.Equal(t, 0, sw.Watchers())
}

func TestRealtimePushReconciled(t *testing.T) {
	fake := testutil.NewFakeBackend()
	fake.Reply("GET messages", messageRows("srv-1"))
	hub := backend.NewHub(8)
	t.Cleanup(hub.Close)

	cfg := testConfig(t)
	cfg.Realtime.Enabled = true
	cfg.Realtime.Topics = []string{models.MessagesTopic("7")}
	c := open(t, cfg, Deps{Backend: fake, Realtime: hub})
	require.NotNil(t, c.Bridge())
	require.Len(t, c.Bridge().Topics(), 3)
	require.NotContains(t, c.Bridge().Topics(), models.MessagesTopic("42"))

	_, err := c.Chat().Messages(context.Background(), "42")
	require.NoError(t, err)
	require.Contains(t, c.Bridge().Topics(), models.MessagesTopic("42"))
	require.Equal(t, 4, hub.Subscribers())

	hub.Publish(context.Background(), models.Push{
		Topic: models.MessagesTopic("42"),
		Op:    models.PushInsert,
		Record: models.Record{
			ID:         "srv-9",
			Kind:       models.RecordKindMessage,
			Text:       "pushed",
			ServerTime: t0.Add(time.Hour),
		},
	})

	key := models.ConversationMessagesKey("42")
	require.Eventually(t, func() bool {
		entry, ok := c.Store().Get(key)
		_, found := entry.Data.Find("srv-9")
		return ok && found
	}, 2*time.Second, 10*time.Millisecond)

	c.Chat().CloseConversation("42")
	require.NotContains(t, c.Bridge().Topics(), models.MessagesTopic("42"))
	require.Eventually(t, func() bool { return hub.Subscribers() == 3 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close(context.Background()))
	require.False(t, c.Bridge().IsRunning())
	require.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestPersistedEntriesHydrateOnReopen(t *testing.T) {
	fake := testutil.NewFakeBackend()
	fake.Reply("GET messages", messageRows("srv-1", "srv-2"))
	cfg := testConfig(t)
	cfg.Cache.Persist = true

	c, err := Open(context.Background(), cfg, Deps{Backend: fake})
	require.NoError(t, err)
	require.NotNil(t, c.KV())
	_, err = c.Chat().Messages(context.Background(), "42")
	require.NoError(t, err)
	require.NoError(t, c.Flush(context.Background()))

	stored, err := c.KV().List(context.Background(), "cache:")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))

	reopened := open(t, cfg, Deps{Backend: fake})
	entry, ok := reopened.Store().Get(models.ConversationMessagesKey("42"))
	require.True(t, ok)
	require.True(t, entry.Stale)
	require.Len(t, entry.Data, 2)
}

func TestOpenFallsBackToMemoryWhenDatabaseUnavailable(t *testing.T) {
	fake := testutil.NewFakeBackend()
	fake.Reply("GET messages", messageRows("srv-1"))

	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	cfg := testConfig(t)
	cfg.Cache.Persist = true
	cfg.Persistence.Path = filepath.Join(blocker, "cache.db")

	c := open(t, cfg, Deps{Backend: fake})
	require.Nil(t, c.KV())

	data, err := c.Chat().Messages(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, data, 1)
	require.NoError(t, c.Flush(context.Background()))
}

func TestOpenWithHTTPBackend(t *testing.T) {
	var auth string
	srv := testutil.NewServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/messages" {
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messageRows("srv-1"))
	}))

	cfg := testConfig(t)
	cfg.Backend.URL = srv.URL
	cfg.Backend.APIKey = "anon"
	cfg.Backend.AccessToken = "user-token"
	c := open(t, cfg, Deps{})

	data, err := c.Chat().Messages(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, data, 1)
	require.Equal(t, "Bearer user-token", auth)
}
