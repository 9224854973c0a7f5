package models

import (
	"net/url"
	"strings"
)

// QueryKey identifies one cacheable result, e.g. the messages of one
// conversation. Keys compare structurally: two keys are equal iff their
// parts are equal.
type QueryKey []string

// Key builds a QueryKey from its parts.
func Key(parts ...string) QueryKey {
	out := make(QueryKey, len(parts))
	copy(out, parts)
	return out
}

// emptyPart stands for an empty part. Escaping turns every literal "%"
// into "%25", so a lone "%" never comes from a real part.
const emptyPart = "%"

// String encodes the key so that distinct keys never collide. Parts are
// path-escaped and joined with "/"; the empty key encodes as "".
func (k QueryKey) String() string {
	escaped := make([]string, len(k))
	for i, part := range k {
		if part == "" {
			escaped[i] = emptyPart
			continue
		}
		escaped[i] = url.PathEscape(part)
	}
	return strings.Join(escaped, "/")
}

// ParseQueryKey reverses String.
func ParseQueryKey(s string) (QueryKey, error) {
	if s == "" {
		return QueryKey{}, nil
	}
	raw := strings.Split(s, "/")
	out := make(QueryKey, len(raw))
	for i, part := range raw {
		if part == emptyPart {
			continue
		}
		decoded, err := url.PathUnescape(part)
		if err != nil {
			return nil, err
		}
		out[i] = decoded
	}
	return out, nil
}

// Equal reports structural equality.
func (k QueryKey) Equal(other QueryKey) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether the leading parts of k equal prefix.
// Every key has the empty prefix.
func (k QueryKey) HasPrefix(prefix QueryKey) bool {
	if len(prefix) > len(k) {
		return false
	}
	return k[:len(prefix)].Equal(prefix)
}

// Clone returns an independent copy.
func (k QueryKey) Clone() QueryKey {
	return Key(k...)
}

// Well-known key namespaces.
const (
	NamespaceConversation  = "conversation"
	NamespaceFriends       = "friends"
	NamespaceNotifications = "notifications"
	NamespaceSettings      = "settings"
)

// ConversationMessagesKey is the key of a conversation's message list.
func ConversationMessagesKey(conversationID string) QueryKey {
	return Key(NamespaceConversation, conversationID, "messages")
}

// FriendRequestsKey is the key of a user's pending friend requests.
func FriendRequestsKey(userID string) QueryKey {
	return Key(NamespaceFriends, userID, "requests")
}

// NotificationsKey is the key of a user's notification feed.
func NotificationsKey(userID string) QueryKey {
	return Key(NamespaceNotifications, userID)
}

// SettingKey is the key of one user setting.
func SettingKey(userID, name string) QueryKey {
	return Key(NamespaceSettings, userID, name)
}

// SettingsPrefix covers every setting of a user.
func SettingsPrefix(userID string) QueryKey {
	return Key(NamespaceSettings, userID)
}
