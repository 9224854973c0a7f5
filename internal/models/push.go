package models

import "strings"

// PushOp is the change kind delivered by the realtime channel.
type PushOp string

const (
	PushInsert PushOp = "INSERT"
	PushUpdate PushOp = "UPDATE"
	PushDelete PushOp = "DELETE"
)

// Push is one authoritative change from the realtime channel. The record
// carries its canonical ID and server timestamp.
type Push struct {
	Topic  string `json:"topic"`
	Op     PushOp `json:"op"`
	Record Record `json:"record"`
}

// Realtime topic names. Each topic feeds exactly one query key.
const (
	topicMessages       = "messages:"
	topicFriendRequests = "friend_requests:"
	topicNotifications  = "notifications:"
)

// MessagesTopic carries message changes of one conversation.
func MessagesTopic(conversationID string) string {
	return topicMessages + conversationID
}

// FriendRequestsTopic carries friend request changes of one user.
func FriendRequestsTopic(userID string) string {
	return topicFriendRequests + userID
}

// NotificationsTopic carries notifications of one user.
func NotificationsTopic(userID string) string {
	return topicNotifications + userID
}

// TopicKey returns the query key a topic feeds.
func TopicKey(topic string) (QueryKey, bool) {
	switch {
	case strings.HasPrefix(topic, topicMessages) && len(topic) > len(topicMessages):
		return ConversationMessagesKey(strings.TrimPrefix(topic, topicMessages)), true
	case strings.HasPrefix(topic, topicFriendRequests) && len(topic) > len(topicFriendRequests):
		return FriendRequestsKey(strings.TrimPrefix(topic, topicFriendRequests)), true
	case strings.HasPrefix(topic, topicNotifications) && len(topic) > len(topicNotifications):
		return NotificationsKey(strings.TrimPrefix(topic, topicNotifications)), true
	default:
		return nil, false
	}
}
