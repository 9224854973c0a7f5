package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/umamaheshmadala/sync-warp-sub014/internal/backend"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/cache"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/models"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/mutation"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/syncerr"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/testutil"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	fake  *testutil.FakeBackend
	store *cache.Store
	coord *mutation.Coordinator
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store, err := cache.New(cache.Config{})
	require.NoError(t, err)
	t.Cleanup(store.Close)
	coord := mutation.New(store)
	fake := testutil.NewFakeBackend()
	svc, err := NewService(Deps{
		Backend:     fake,
		Store:       store,
		Coordinator: coord,
		UserID:      "u1",
		Clock:       func() time.Time { return now },
	})
	require.NoError(t, err)
	return fixture{svc: svc, fake: fake, store: store, coord: coord}
}

func echoSend(id string) testutil.Handler {
	return func(ctx context.Context, req backend.Request) (any, error) {
		p := testutil.PayloadMap(req)
		return messageRow{
			ID:             id,
			ClientID:       p["client_id"].(string),
			ConversationID: p["conversation_id"].(string),
			SenderID:       "u1",
			Content:        p["content"].(string),
			CreatedAt:      now,
		}, nil
	}
}

func ids(rs models.Records) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func TestNewServiceRequiresDeps(t *testing.T) {
	_, err := NewService(Deps{})
	require.ErrorIs(t, err, syncerr.ErrValidation)
}

func TestMessagesFetchesOnce(t *testing.T) {
	f := newFixture(t)
	f.fake.Handle("GET messages", func(ctx context.Context, req backend.Request) (any, error) {
		require.Equal(t, "eq.42", req.Filter["conversation_id"])
		return []messageRow{
			{ID: "srv-1", ConversationID: "42", SenderID: "u2", Content: "hello", CreatedAt: now},
			{ID: "srv-2", ConversationID: "42", SenderID: "u1", Content: "hi", Status: "read", CreatedAt: now.Add(time.Second), Reactions: map[string]string{"u2": "heart"}},
		}, nil
	})

	msgs, err := f.svc.Messages(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, []string{"srv-1", "srv-2"}, ids(msgs))
	require.Equal(t, models.StatusSent, msgs[0].Status)
	require.Equal(t, models.StatusRead, msgs[1].Status)
	require.Equal(t, "heart", msgs[1].Attrs["reaction:u2"])

	_, err = f.svc.Messages(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, 1, f.fake.CallCount("GET messages"))
}

func TestSendMessageConfirms(t *testing.T) {
	f := newFixture(t)
	key := models.ConversationMessagesKey("42")
	f.store.Set(key, models.Records{{ID: "srv-1", Kind: models.RecordKindMessage, Text: "hello", Status: models.StatusSent}})
	f.fake.Handle("rpc send_message", echoSend("srv-99"))

	rec, err := f.svc.SendMessage(context.Background(), "42", "  hi  ")
	require.NoError(t, err)
	require.Equal(t, "srv-99", rec.ID)
	require.True(t, models.IsTempID(rec.ClientID))
	require.Equal(t, "hi", rec.Text)

	msgs, err := f.svc.Messages(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, []string{"srv-1", "srv-99"}, ids(msgs))
	require.Empty(t, msgs.Optimistic())
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SendMessage(context.Background(), "42", "   ")
	require.ErrorIs(t, err, syncerr.ErrValidation)

	long := make([]byte, MaxMessageLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = f.svc.SendMessage(context.Background(), "42", string(long))
	require.ErrorIs(t, err, syncerr.ErrValidation)
	require.Empty(t, f.fake.Calls())
}

func TestSendMessageFailureRetryAndDiscard(t *testing.T) {
	f := newFixture(t)
	key := models.ConversationMessagesKey("42")
	f.store.Set(key, models.Records{})
	f.fake.Fail("rpc send_message", syncerr.Network("send_message", errors.New("offline")))

	_, err := f.svc.SendMessage(context.Background(), "42", "first")
	require.ErrorIs(t, err, syncerr.ErrNetwork)
	_, err = f.svc.SendMessage(context.Background(), "42", "second")
	require.Error(t, err)

	msgs, err := f.svc.Messages(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, models.StatusFailed, msgs[0].Status)
	first, second := msgs[0].ID, msgs[1].ID

	entry, _ := f.store.Get(key)
	require.Empty(t, entry.Data)

	f.fake.Handle("rpc send_message", echoSend("srv-7"))
	rec, err := f.svc.RetryMessage(context.Background(), "42", first)
	require.NoError(t, err)
	require.Equal(t, first, rec.ClientID)
	require.Equal(t, "first", rec.Text)

	require.True(t, f.svc.DiscardFailed("42", second))
	msgs, err = f.svc.Messages(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, []string{"srv-7"}, ids(msgs))

	_, err = f.svc.RetryMessage(context.Background(), "42", second)
	require.ErrorIs(t, err, syncerr.ErrNotFound)
}

func TestMarkRead(t *testing.T) {
	f := newFixture(t)
	key := models.ConversationMessagesKey("42")
	f.store.Set(key, models.Records{{ID: "srv-1", Kind: models.RecordKindMessage, Text: "hello", Status: models.StatusDelivered}})

	f.fake.Fail("rpc mark_message_read", syncerr.New(syncerr.KindAuthorization, "mark_message_read", "denied"))
	_, err := f.svc.MarkRead(context.Background(), "42", "srv-1")
	require.ErrorIs(t, err, syncerr.ErrAuthorization)
	entry, _ := f.store.Get(key)
	require.Equal(t, models.StatusDelivered, entry.Data[0].Status)

	f.fake.Reply("rpc mark_message_read", messageRow{ID: "srv-1", ConversationID: "42", Content: "hello", Status: "read", CreatedAt: now})
	rec, err := f.svc.MarkRead(context.Background(), "42", "srv-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusRead, rec.Status)

	_, err = f.svc.MarkRead(context.Background(), "42", "srv-404")
	require.ErrorIs(t, err, syncerr.ErrNotFound)
}

func TestReact(t *testing.T) {
	f := newFixture(t)
	key := models.ConversationMessagesKey("42")
	f.store.Set(key, models.Records{{ID: "srv-1", Kind: models.RecordKindMessage, Text: "hello", Status: models.StatusSent}})

	_, err := f.svc.React(context.Background(), "42", "srv-1", ":unicorn:")
	require.ErrorIs(t, err, syncerr.ErrValidation)
	require.Empty(t, f.fake.Calls())

	f.fake.Handle("rpc add_reaction", func(ctx context.Context, req backend.Request) (any, error) {
		require.Equal(t, "thumbs_up", testutil.PayloadMap(req)["emoji"])
		return messageRow{ID: "srv-1", ConversationID: "42", Content: "hello", CreatedAt: now, Reactions: map[string]string{"u1": "thumbs_up"}}, nil
	})
	rec, err := f.svc.React(context.Background(), "42", "srv-1", "+1")
	require.NoError(t, err)
	require.Equal(t, "thumbs_up", rec.Attrs["reaction:u1"])
}

func TestRespondFriendRequest(t *testing.T) {
	f := newFixture(t)
	f.fake.Reply("GET friend_requests", []friendRequestRow{
		{ID: "fr-1", SenderID: "u2", ReceiverID: "u1", Status: RequestPending, CreatedAt: now},
	})
	reqs, err := f.svc.FriendRequests(context.Background())
	require.NoError(t, err)
	require.Equal(t, RequestPending, reqs[0].Attrs["state"])

	f.fake.Handle("rpc respond_to_friend_request", func(ctx context.Context, req backend.Request) (any, error) {
		require.Equal(t, true, testutil.PayloadMap(req)["accept"])
		return friendRequestRow{ID: "fr-1", SenderID: "u2", ReceiverID: "u1", Status: RequestAccepted, CreatedAt: now, UpdatedAt: now.Add(time.Minute)}, nil
	})
	rec, err := f.svc.RespondFriendRequest(context.Background(), "fr-1", true)
	require.NoError(t, err)
	require.Equal(t, RequestAccepted, rec.Attrs["state"])

	entry, _ := f.store.Get(models.FriendRequestsKey("u1"))
	require.Equal(t, RequestAccepted, entry.Data[0].Attrs["state"])
}

func TestMarkNotificationRead(t *testing.T) {
	f := newFixture(t)
	f.fake.Reply("GET notifications", []notificationRow{
		{ID: "n-1", Type: "friend_request", Title: "New request", Message: "u2 wants to connect", CreatedAt: now},
	})
	list, err := f.svc.Notifications(context.Background())
	require.NoError(t, err)
	require.Equal(t, "false", list[0].Attrs["read"])

	f.fake.Handle("PATCH notifications", func(ctx context.Context, req backend.Request) (any, error) {
		require.Equal(t, "eq.n-1", req.Filter["id"])
		return notificationRow{ID: "n-1", Type: "friend_request", Message: "u2 wants to connect", IsRead: true, CreatedAt: now}, nil
	})
	rec, err := f.svc.MarkNotificationRead(context.Background(), "n-1")
	require.NoError(t, err)
	require.Equal(t, "true", rec.Attrs["read"])
}

func TestUpdateSettingInvalidatesUserSettings(t *testing.T) {
	f := newFixture(t)
	themeKey := models.SettingKey("u1", "theme")
	f.store.Set(themeKey, models.Records{{ID: "setting:theme", Kind: models.RecordKindSetting, Attrs: map[string]string{"value": "dark"}}})
	otherUser := models.SettingKey("u2", "theme")
	f.store.Set(otherUser, models.Records{{ID: "setting:theme", Kind: models.RecordKindSetting}})

	f.fake.Reply("rpc update_user_setting", settingRow{Setting: "language", Value: "de", UpdatedAt: now})
	rec, err := f.svc.UpdateSetting(context.Background(), "language", "de")
	require.NoError(t, err)
	require.Equal(t, "setting:language", rec.ID)

	value, ok := f.svc.Setting("language")
	require.True(t, ok)
	require.Equal(t, "de", value)

	theme, _ := f.store.Get(themeKey)
	require.True(t, theme.Stale)
	other, _ := f.store.Get(otherUser)
	require.False(t, other.Stale)

	_, err = f.svc.UpdateSetting(context.Background(), " ", "x")
	require.ErrorIs(t, err, syncerr.ErrValidation)
}

func TestRevalidateForeground(t *testing.T) {
	f := newFixture(t)
	f.store.Set(models.ConversationMessagesKey("42"), models.Records{})
	f.store.Set(models.NotificationsKey("u1"), models.Records{})
	f.store.Set(models.SettingKey("u1", "theme"), models.Records{})

	require.Equal(t, 2, f.svc.RevalidateForeground())
	e, _ := f.store.Get(models.SettingKey("u1", "theme"))
	require.False(t, e.Stale)
}

type recordingWatcher struct {
	watched   []string
	unwatched []string
	err       error
}

func (w *recordingWatcher) Watch(topic string) error {
	w.watched = append(w.watched, topic)
	return w.err
}

func (w *recordingWatcher) Unwatch(topic string) {
	w.unwatched = append(w.unwatched, topic)
}

func TestMessagesWatchesConversation(t *testing.T) {
	f := newFixture(t)
	w := &recordingWatcher{}
	f.svc.watcher = w
	f.fake.Reply("GET messages", []messageRow{{ID: "srv-1", ConversationID: "42", SenderID: "u2", Content: "hello", CreatedAt: now}})

	_, err := f.svc.Messages(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, []string{models.MessagesTopic("42")}, w.watched)

	f.svc.CloseConversation("42")
	require.Equal(t, []string{models.MessagesTopic("42")}, w.unwatched)
}

func TestMessagesSurvivesWatchFailure(t *testing.T) {
	f := newFixture(t)
	f.svc.watcher = &recordingWatcher{err: errors.New("not running")}
	f.fake.Reply("GET messages", []messageRow{{ID: "srv-1", ConversationID: "42", SenderID: "u2", Content: "hello", CreatedAt: now}})

	msgs, err := f.svc.Messages(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, []string{"srv-1"}, ids(msgs))
}

func TestMessagesFetchErrorDoesNotWatch(t *testing.T) {
	f := newFixture(t)
	w := &recordingWatcher{}
	f.svc.watcher = w
	f.fake.Fail("GET messages", syncerr.Network("messages", errors.New("offline")))

	_, err := f.svc.Messages(context.Background(), "42")
	require.ErrorIs(t, err, syncerr.ErrNetwork)
	require.Empty(t, w.watched)
}
