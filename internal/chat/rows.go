package chat

import (
	"strconv"
	"time"

	"github.com/umamaheshmadala/sync-warp-sub014/internal/models"
)

// Backend row shapes. Only the columns the client reads are declared.

type messageRow struct {
	ID             string            `json:"id"`
	ClientID       string            `json:"client_id,omitempty"`
	ConversationID string            `json:"conversation_id"`
	SenderID       string            `json:"sender_id"`
	Content        string            `json:"content"`
	Status         string            `json:"status,omitempty"`
	Reactions      map[string]string `json:"reactions,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at,omitzero"`
}

func (r messageRow) record() models.Record {
	status := models.DeliveryStatus(r.Status)
	if status == "" {
		status = models.StatusSent
	}
	rec := models.Record{
		ID:         r.ID,
		ClientID:   r.ClientID,
		Kind:       models.RecordKindMessage,
		Status:     status,
		AuthorID:   r.SenderID,
		Text:       r.Content,
		Attrs:      map[string]string{attrConversation: r.ConversationID},
		CreatedAt:  r.CreatedAt,
		ServerTime: serverTime(r.CreatedAt, r.UpdatedAt),
	}
	for user, code := range r.Reactions {
		rec.Attrs[reactionAttr(user)] = code
	}
	return rec
}

type friendRequestRow struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at,omitzero"`
}

func (r friendRequestRow) record() models.Record {
	return models.Record{
		ID:       r.ID,
		Kind:     models.RecordKindFriendRequest,
		AuthorID: r.SenderID,
		Attrs: map[string]string{
			attrReceiver: r.ReceiverID,
			attrState:    r.Status,
		},
		CreatedAt:  r.CreatedAt,
		ServerTime: serverTime(r.CreatedAt, r.UpdatedAt),
	}
}

type notificationRow struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

func (r notificationRow) record() models.Record {
	return models.Record{
		ID:   r.ID,
		Kind: models.RecordKindNotification,
		Text: r.Message,
		Attrs: map[string]string{
			attrType:  r.Type,
			attrTitle: r.Title,
			attrRead:  strconv.FormatBool(r.IsRead),
		},
		CreatedAt:  r.CreatedAt,
		ServerTime: serverTime(r.CreatedAt, r.UpdatedAt),
	}
}

type settingRow struct {
	Setting   string    `json:"setting"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r settingRow) record() models.Record {
	return models.Record{
		ID:         settingID(r.Setting),
		Kind:       models.RecordKindSetting,
		Attrs:      map[string]string{attrValue: r.Value},
		ServerTime: r.UpdatedAt,
	}
}

func serverTime(created, updated time.Time) time.Time {
	if updated.After(created) {
		return updated
	}
	return created
}

func settingID(name string) string {
	return "setting:" + name
}

func reactionAttr(userID string) string {
	return "reaction:" + userID
}

func toRecords[T interface{ record() models.Record }](rows []T) models.Records {
	out := make(models.Records, len(rows))
	for i, r := range rows {
		out[i] = r.record()
	}
	return out
}
