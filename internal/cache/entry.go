// Package cache implements the local query cache: the single source of truth
// the UI reads from. Entries are keyed by models.QueryKey and written only by
// the mutation coordinator, the realtime bridge and the fetch path.
package cache

import (
	"time"

	"github.com/umamaheshmadala/sync-warp-sub014/internal/models"
)

// Status is the lifecycle of a cache entry.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Entry is one cached query result.
type Entry struct {
	Key       models.QueryKey
	Data      models.Records
	Status    Status
	Err       error
	UpdatedAt time.Time
	// Stale forces a refetch on the next Fetch.
	Stale bool
}

// Clone returns a deep copy.
func (e Entry) Clone() Entry {
	e.Key = e.Key.Clone()
	e.Data = e.Data.Clone()
	return e
}

// Snapshot is an immutable copy of an entry taken before an optimistic write.
type Snapshot struct {
	entry   Entry
	existed bool
}

// Key returns the key the snapshot was taken for.
func (s Snapshot) Key() models.QueryKey {
	return s.entry.Key.Clone()
}

// Entry returns a copy of the captured entry. Absent entries are
// synthesized as empty idle entries.
func (s Snapshot) Entry() Entry {
	return s.entry.Clone()
}

// Existed reports whether the entry was present when captured.
func (s Snapshot) Existed() bool {
	return s.existed
}
