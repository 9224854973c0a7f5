package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempIDPrefix marks identifiers minted client-side before server confirmation.
const TempIDPrefix = "tmp-"

// RecordKind identifies the entity type of a cached record.
type RecordKind string

const (
	RecordKindMessage       RecordKind = "message"
	RecordKindFriendRequest RecordKind = "friend_request"
	RecordKindNotification  RecordKind = "notification"
	RecordKindSetting       RecordKind = "setting"
)

// Record is one cached entity. Optimistic records carry a temporary ID;
// confirmed records carry the server ID and echo the temporary ID in ClientID.
type Record struct {
	ID         string            `json:"id"`
	ClientID   string            `json:"client_id,omitempty"`
	Kind       RecordKind        `json:"kind"`
	Status     DeliveryStatus    `json:"status,omitempty"`
	AuthorID   string            `json:"author_id,omitempty"`
	Text       string            `json:"text,omitempty"`
	Attrs      map[string]string `json:"attrs,omitempty"`
	CreatedAt  time.Time         `json:"created_at,omitzero"`
	ServerTime time.Time         `json:"server_time,omitzero"`
}

// NewTempID mints a temporary identifier for an optimistic record.
func NewTempID() string {
	return TempIDPrefix + uuid.New().String()
}

// IsTempID reports whether id was minted client-side.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// IsOptimistic reports whether the record awaits server confirmation.
func (r Record) IsOptimistic() bool {
	return IsTempID(r.ID)
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	if r.Attrs != nil {
		attrs := make(map[string]string, len(r.Attrs))
		for k, v := range r.Attrs {
			attrs[k] = v
		}
		r.Attrs = attrs
	}
	return r
}

// Validate checks the fields every record needs before it is applied.
func (r Record) Validate() error {
	var v FieldErrors
	if strings.TrimSpace(r.ID) == "" {
		v.Reject("id", "record id is required")
	}
	if r.Kind == "" {
		v.Reject("kind", "record kind is required")
	}
	if r.Kind == RecordKindMessage && strings.TrimSpace(r.Text) == "" {
		v.Reject("text", "message text is required")
	}
	if r.Status != "" && !r.Status.IsKnown() {
		v.Reject("status", "unknown delivery status "+string(r.Status))
	}
	return v.Err()
}

// Records is an ordered record list, the data shape of every cache entry.
type Records []Record

// Clone returns a deep copy. A nil list stays nil.
func (rs Records) Clone() Records {
	if rs == nil {
		return nil
	}
	out := make(Records, len(rs))
	for i, r := range rs {
		out[i] = r.Clone()
	}
	return out
}

// IndexOf returns the position of the record with id, or -1.
func (rs Records) IndexOf(id string) int {
	for i, r := range rs {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// Find returns the record with id.
func (rs Records) Find(id string) (Record, bool) {
	if i := rs.IndexOf(id); i >= 0 {
		return rs[i], true
	}
	return Record{}, false
}

// Without returns a copy of rs minus the record with id.
func (rs Records) Without(id string) Records {
	out := make(Records, 0, len(rs))
	for _, r := range rs {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}

// Optimistic returns the records still carrying temporary IDs.
func (rs Records) Optimistic() Records {
	var out Records
	for _, r := range rs {
		if r.IsOptimistic() {
			out = append(out, r)
		}
	}
	return out
}
