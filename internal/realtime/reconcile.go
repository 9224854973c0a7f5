// Package realtime merges authoritative pushes into the local cache.
package realtime

import "github.com/umamaheshmadala/sync-warp-sub014/internal/models"

// Outcome describes what a push did to a record list.
type Outcome int

const (
	// Ignored pushes changed nothing (e.g. deleting an unknown record).
	Ignored Outcome = iota
	// Promoted pushes replaced the optimistic record they confirm.
	Promoted
	// Replaced pushes overwrote an older copy of the same record.
	Replaced
	// Inserted pushes added a record the list did not hold.
	Inserted
	// Deleted pushes removed a confirmed record.
	Deleted
	// Stale pushes were older than the stored copy and were dropped.
	Stale
)

func (o Outcome) String() string {
	switch o {
	case Promoted:
		return "promoted"
	case Replaced:
		return "replaced"
	case Inserted:
		return "inserted"
	case Deleted:
		return "deleted"
	case Stale:
		return "stale"
	default:
		return "ignored"
	}
}

// Changed reports whether the list was modified.
func (o Outcome) Changed() bool {
	return o != Ignored && o != Stale
}

// Reconcile applies push to records and returns the new list. records is
// never modified. Ordering is by server time, never arrival order; optimistic
// records the push does not confirm are always kept.
func Reconcile(records models.Records, push models.Push) (models.Records, Outcome) {
	rec := push.Record
	if push.Op == models.PushDelete {
		i := records.IndexOf(rec.ID)
		if i < 0 || records[i].IsOptimistic() {
			return records, Ignored
		}
		if rec.ServerTime.Before(records[i].ServerTime) {
			return records, Stale
		}
		return records.Without(rec.ID), Deleted
	}

	if rec.ClientID != "" {
		if i := records.IndexOf(rec.ClientID); i >= 0 && records[i].IsOptimistic() {
			out := records.Clone()
			out[i] = rec.Clone()
			if j := indexOfOther(out, rec.ID, i); j >= 0 {
				out = append(out[:j], out[j+1:]...)
			}
			return out, Promoted
		}
	}

	if i := records.IndexOf(rec.ID); i >= 0 {
		if rec.ServerTime.Before(records[i].ServerTime) {
			return records, Stale
		}
		out := records.Clone()
		out[i] = rec.Clone()
		return out, Replaced
	}

	pos := len(records)
	for i, r := range records {
		if r.IsOptimistic() || r.ServerTime.After(rec.ServerTime) {
			pos = i
			break
		}
	}
	out := make(models.Records, 0, len(records)+1)
	out = append(out, records[:pos].Clone()...)
	out = append(out, rec.Clone())
	out = append(out, records[pos:].Clone()...)
	return out, Inserted
}

func indexOfOther(rs models.Records, id string, skip int) int {
	for i, r := range rs {
		if i != skip && r.ID == id {
			return i
		}
	}
	return -1
}
