// Package update orchestrates knowledge-base updates: validate a snapshot,
// diff it against the loaded version, back up the source file, re-embed,
// swap the collection atomically, and record the outcome in the ledger.
package update

import (
	"fmt"
	"sort"

	"github.com/epiintel/drkb/internal/event"
)

// ChangeSet partitions an incoming snapshot against the currently loaded
// events by entry id and content hash.
type ChangeSet struct {
	New        []event.Event
	Modified   []event.Event
	Unchanged  []event.Event
	DeletedIDs []string
}

// HasChanges reports whether the snapshot differs from the loaded version.
func (c *ChangeSet) HasChanges() bool {
	return len(c.New) > 0 || len(c.Modified) > 0 || len(c.DeletedIDs) > 0
}

// Summary renders the diff in one line for logs and reports.
func (c *ChangeSet) Summary() string {
	return fmt.Sprintf("%d new, %d modified, %d unchanged, %d deleted",
		len(c.New), len(c.Modified), len(c.Unchanged), len(c.DeletedIDs))
}

// Diff compares incoming events against the previous version's content
// hashes. Any changed field counts as a modification; deleted ids are
// sorted for stable reporting.
func Diff(previous map[string]string, incoming []event.Event) ChangeSet {
	var cs ChangeSet
	seen := make(map[string]struct{}, len(incoming))

	for _, e := range incoming {
		seen[e.EntryID] = struct{}{}

		prevHash, existed := previous[e.EntryID]
		switch {
		case !existed:
			cs.New = append(cs.New, e)
		case prevHash != e.ContentHash():
			cs.Modified = append(cs.Modified, e)
		default:
			cs.Unchanged = append(cs.Unchanged, e)
		}
	}

	for id := range previous {
		if _, ok := seen[id]; !ok {
			cs.DeletedIDs = append(cs.DeletedIDs, id)
		}
	}
	sort.Strings(cs.DeletedIDs)

	return cs
}
