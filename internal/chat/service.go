// Package chat implements the chat and social operations on top of the
// optimistic mutation coordinator.
package chat

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/umamaheshmadala/sync-warp-sub014/internal/backend"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/cache"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/emoji"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/lazy"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/logging"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/models"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/mutation"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/syncerr"
)

// Record attribute names.
const (
	attrConversation = "conversation_id"
	attrReceiver     = "receiver_id"
	attrState        = "state"
	attrType         = "type"
	attrTitle        = "title"
	attrRead         = "read"
	attrValue        = "value"
)

// Friend request states.
const (
	RequestPending  = "pending"
	RequestAccepted = "accepted"
	RequestDeclined = "declined"
)

// MaxMessageLength bounds message text.
const MaxMessageLength = 4000

// Deps are the collaborators of a Service.
type Deps struct {
	Backend     backend.Caller
	Store       *cache.Store
	Coordinator *mutation.Coordinator

	// Emoji is loaded on the first reaction. Defaults to the built-in catalog.
	Emoji *lazy.Value[*emoji.Catalog]

	// UserID is the signed-in user.
	UserID string

	// Realtime, when set, is told to watch a conversation once its
	// messages are loaded.
	Realtime Watcher

	Clock func() time.Time
}

// Watcher feeds realtime topics into the cache.
type Watcher interface {
	Watch(topic string) error
	Unwatch(topic string)
}

// Service runs chat and social operations for one signed-in user.
type Service struct {
	backend backend.Caller
	store   *cache.Store
	coord   *mutation.Coordinator
	emoji   *lazy.Value[*emoji.Catalog]
	watcher Watcher
	userID  string
	now     func() time.Time
	logger  zerolog.Logger
}

// NewService creates a Service.
func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Backend == nil:
		return nil, syncerr.Validation("chat", "backend is required")
	case deps.Store == nil:
		return nil, syncerr.Validation("chat", "store is required")
	case deps.Coordinator == nil:
		return nil, syncerr.Validation("chat", "coordinator is required")
	case strings.TrimSpace(deps.UserID) == "":
		return nil, syncerr.Validation("chat", "user id is required")
	}
	s := &Service{
		backend: deps.Backend,
		store:   deps.Store,
		coord:   deps.Coordinator,
		emoji:   deps.Emoji,
		watcher: deps.Realtime,
		userID:  deps.UserID,
		now:     deps.Clock,
		logger:  logging.Component("chat"),
	}
	if s.emoji == nil {
		s.emoji = emoji.NewLazy()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// UserID returns the signed-in user.
func (s *Service) UserID() string {
	return s.userID
}

// Messages returns the conversation timeline: cached or fetched messages
// followed by messages that failed to send.
func (s *Service) Messages(ctx context.Context, conversationID string) (models.Records, error) {
	key := models.ConversationMessagesKey(conversationID)
	data, err := s.store.Fetch(ctx, key, func(ctx context.Context) (models.Records, error) {
		resp, err := s.backend.Call(ctx, backend.Request{
			Table: "messages",
			Filter: map[string]string{
				"conversation_id": "eq." + conversationID,
				"order":           "created_at.asc",
			},
		})
		if err != nil {
			return nil, err
		}
		var rows []messageRow
		if err := resp.Decode(&rows); err != nil {
			return nil, err
		}
		return toRecords(rows), nil
	})
	if err != nil {
		return nil, err
	}
	s.watch(conversationID)
	for _, f := range s.coord.Failed(key) {
		data = append(data, f.Record)
	}
	return data, nil
}

// watch subscribes the conversation to realtime pushes. A failed watch
// leaves the timeline on fetch-only updates.
func (s *Service) watch(conversationID string) {
	if s.watcher == nil {
		return
	}
	if err := s.watcher.Watch(models.MessagesTopic(conversationID)); err != nil {
		logger := logging.WithConversation(conversationID)
		logger.Warn().Err(err).Msg("watch conversation")
	}
}

// CloseConversation stops realtime delivery for a conversation the caller
// no longer shows. Its cached messages stay.
func (s *Service) CloseConversation(conversationID string) {
	if s.watcher != nil {
		s.watcher.Unwatch(models.MessagesTopic(conversationID))
	}
}

// SendMessage optimistically appends a message and sends it.
func (s *Service) SendMessage(ctx context.Context, conversationID, text string) (models.Record, error) {
	text = strings.TrimSpace(text)
	if len(text) > MaxMessageLength {
		return models.Record{}, syncerr.Validation("send_message", "message exceeds %d characters", MaxMessageLength)
	}
	rec := models.Record{
		ID:        models.NewTempID(),
		Kind:      models.RecordKindMessage,
		Status:    models.StatusSending,
		AuthorID:  s.userID,
		Text:      text,
		Attrs:     map[string]string{attrConversation: conversationID},
		CreatedAt: s.now(),
	}
	logger := logging.WithConversation(conversationID)
	logger.Debug().Str("temp_id", rec.ID).Msg("sending message")
	return s.coord.Mutate(ctx, models.ConversationMessagesKey(conversationID), rec, s.sendCall(conversationID, rec))
}

func (s *Service) sendCall(conversationID string, rec models.Record) mutation.ServerCall {
	return func(ctx context.Context) (models.Record, error) {
		resp, err := s.backend.Call(ctx, backend.Request{
			Function: "send_message",
			Payload: map[string]string{
				"conversation_id": conversationID,
				"content":         rec.Text,
				"client_id":       rec.ID,
			},
			Single: true,
		})
		if err != nil {
			return models.Record{}, err
		}
		var row messageRow
		if err := resp.Decode(&row); err != nil {
			return models.Record{}, err
		}
		return row.record(), nil
	}
}

// RetryMessage resends a failed message under its original temporary ID.
func (s *Service) RetryMessage(ctx context.Context, conversationID, tempID string) (models.Record, error) {
	key := models.ConversationMessagesKey(conversationID)
	for _, f := range s.coord.Failed(key) {
		if f.Record.ID == tempID {
			return s.coord.Retry(ctx, key, tempID, s.sendCall(conversationID, f.Record))
		}
	}
	return models.Record{}, syncerr.New(syncerr.KindNotFound, "retry_message", "no failed message "+tempID)
}

// DiscardFailed deletes a failed message from the timeline.
func (s *Service) DiscardFailed(conversationID, tempID string) bool {
	return s.coord.Discard(models.ConversationMessagesKey(conversationID), tempID)
}

// MarkRead marks a received message read.
func (s *Service) MarkRead(ctx context.Context, conversationID, messageID string) (models.Record, error) {
	key := models.ConversationMessagesKey(conversationID)
	rec, err := s.cached(key, messageID, "mark_read")
	if err != nil {
		return models.Record{}, err
	}
	if rec.IsOptimistic() {
		return models.Record{}, syncerr.Validation("mark_read", "message %s is not confirmed yet", messageID)
	}
	rec.Status = rec.Status.Advance(models.StatusRead)

	return s.coord.Mutate(ctx, key, rec, func(ctx context.Context) (models.Record, error) {
		resp, err := s.backend.Call(ctx, backend.Request{
			Function: "mark_message_read",
			Payload:  map[string]string{"message_id": messageID},
			Single:   true,
		})
		if err != nil {
			return models.Record{}, err
		}
		var row messageRow
		if err := resp.Decode(&row); err != nil {
			return models.Record{}, err
		}
		return row.record(), nil
	})
}

// React sets the signed-in user's reaction on a message. The emoji catalog
// is loaded on first use.
func (s *Service) React(ctx context.Context, conversationID, messageID, shortcode string) (models.Record, error) {
	catalog, err := s.emoji.Get(ctx)
	if err != nil {
		return models.Record{}, syncerr.Wrap(syncerr.KindInternal, "react", err)
	}
	e, err := catalog.Validate(shortcode)
	if err != nil {
		return models.Record{}, err
	}

	key := models.ConversationMessagesKey(conversationID)
	rec, err := s.cached(key, messageID, "react")
	if err != nil {
		return models.Record{}, err
	}
	if rec.Attrs == nil {
		rec.Attrs = make(map[string]string)
	}
	rec.Attrs[reactionAttr(s.userID)] = e.Code

	return s.coord.Mutate(ctx, key, rec, func(ctx context.Context) (models.Record, error) {
		resp, err := s.backend.Call(ctx, backend.Request{
			Function: "add_reaction",
			Payload:  map[string]string{"message_id": messageID, "emoji": e.Code},
			Single:   true,
		})
		if err != nil {
			return models.Record{}, err
		}
		var row messageRow
		if err := resp.Decode(&row); err != nil {
			return models.Record{}, err
		}
		return row.record(), nil
	})
}

// FriendRequests returns the signed-in user's incoming friend requests.
func (s *Service) FriendRequests(ctx context.Context) (models.Records, error) {
	return s.store.Fetch(ctx, models.FriendRequestsKey(s.userID), func(ctx context.Context) (models.Records, error) {
		resp, err := s.backend.Call(ctx, backend.Request{
			Table: "friend_requests",
			Filter: map[string]string{
				"receiver_id": "eq." + s.userID,
				"status":      "eq." + RequestPending,
				"order":       "created_at.asc",
			},
		})
		if err != nil {
			return nil, err
		}
		var rows []friendRequestRow
		if err := resp.Decode(&rows); err != nil {
			return nil, err
		}
		return toRecords(rows), nil
	})
}

// RespondFriendRequest accepts or declines a friend request.
func (s *Service) RespondFriendRequest(ctx context.Context, requestID string, accept bool) (models.Record, error) {
	key := models.FriendRequestsKey(s.userID)
	rec, err := s.cached(key, requestID, "respond_friend_request")
	if err != nil {
		return models.Record{}, err
	}
	if rec.Attrs == nil {
		rec.Attrs = make(map[string]string)
	}
	rec.Attrs[attrState] = RequestDeclined
	if accept {
		rec.Attrs[attrState] = RequestAccepted
	}

	return s.coord.Mutate(ctx, key, rec, func(ctx context.Context) (models.Record, error) {
		resp, err := s.backend.Call(ctx, backend.Request{
			Function: "respond_to_friend_request",
			Payload:  map[string]any{"request_id": requestID, "accept": accept},
			Single:   true,
		})
		if err != nil {
			return models.Record{}, err
		}
		var row friendRequestRow
		if err := resp.Decode(&row); err != nil {
			return models.Record{}, err
		}
		return row.record(), nil
	})
}

// Notifications returns the signed-in user's notifications.
func (s *Service) Notifications(ctx context.Context) (models.Records, error) {
	return s.store.Fetch(ctx, models.NotificationsKey(s.userID), func(ctx context.Context) (models.Records, error) {
		resp, err := s.backend.Call(ctx, backend.Request{
			Table: "notifications",
			Filter: map[string]string{
				"user_id": "eq." + s.userID,
				"order":   "created_at.asc",
			},
		})
		if err != nil {
			return nil, err
		}
		var rows []notificationRow
		if err := resp.Decode(&rows); err != nil {
			return nil, err
		}
		return toRecords(rows), nil
	})
}

// MarkNotificationRead marks one notification read.
func (s *Service) MarkNotificationRead(ctx context.Context, notificationID string) (models.Record, error) {
	key := models.NotificationsKey(s.userID)
	rec, err := s.cached(key, notificationID, "mark_notification_read")
	if err != nil {
		return models.Record{}, err
	}
	if rec.Attrs == nil {
		rec.Attrs = make(map[string]string)
	}
	rec.Attrs[attrRead] = strconv.FormatBool(true)

	return s.coord.Mutate(ctx, key, rec, func(ctx context.Context) (models.Record, error) {
		resp, err := s.backend.Call(ctx, backend.Request{
			Table:   "notifications",
			Method:  "PATCH",
			Filter:  map[string]string{"id": "eq." + notificationID},
			Payload: map[string]bool{"is_read": true},
			Single:  true,
		})
		if err != nil {
			return models.Record{}, err
		}
		var row notificationRow
		if err := resp.Decode(&row); err != nil {
			return models.Record{}, err
		}
		return row.record(), nil
	})
}

// UpdateSetting changes one user setting. On success every cached setting
// of the user is invalidated so dependent values refetch.
func (s *Service) UpdateSetting(ctx context.Context, name, value string) (models.Record, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Record{}, syncerr.Validation("update_setting", "setting name is required")
	}
	key := models.SettingKey(s.userID, name)
	rec := models.Record{
		ID:    settingID(name),
		Kind:  models.RecordKindSetting,
		Attrs: map[string]string{attrValue: value},
	}

	confirmed, err := s.coord.Mutate(ctx, key, rec, func(ctx context.Context) (models.Record, error) {
		resp, err := s.backend.Call(ctx, backend.Request{
			Function: "update_user_setting",
			Payload:  map[string]string{"setting": name, "value": value},
			Single:   true,
		})
		if err != nil {
			return models.Record{}, err
		}
		var row settingRow
		if err := resp.Decode(&row); err != nil {
			return models.Record{}, err
		}
		return row.record(), nil
	})
	if err != nil {
		return models.Record{}, err
	}
	n := s.store.InvalidatePrefix(models.SettingsPrefix(s.userID))
	s.logger.Debug().Str("setting", name).Int("invalidated", n).Msg("setting updated")
	return confirmed, nil
}

// Setting returns the cached value of a setting.
func (s *Service) Setting(name string) (string, bool) {
	e, ok := s.store.Get(models.SettingKey(s.userID, name))
	if !ok {
		return "", false
	}
	rec, ok := e.Data.Find(settingID(name))
	if !ok {
		return "", false
	}
	return rec.Attrs[attrValue], true
}

// RevalidateForeground marks the data that goes stale while the app is in
// the background. Conversations and notifications refetch on next read.
func (s *Service) RevalidateForeground() int {
	n := s.store.InvalidatePrefix(models.Key(models.NamespaceConversation))
	n += s.store.InvalidatePrefix(models.Key(models.NamespaceNotifications))
	s.logger.Debug().Int("invalidated", n).Msg("foreground revalidation")
	return n
}

func (s *Service) cached(key models.QueryKey, id, op string) (models.Record, error) {
	e, ok := s.store.Get(key)
	if !ok {
		return models.Record{}, syncerr.New(syncerr.KindNotFound, op, "query "+key.String()+" is not loaded")
	}
	rec, ok := e.Data.Find(id)
	if !ok {
		return models.Record{}, syncerr.New(syncerr.KindNotFound, op, "record "+id+" not found")
	}
	return rec.Clone(), nil
}
