// Package versioning implements the history and deletion engine: it shapes
// history entries on update and tombstones on delete according to the
// configured deletion mode.
package versioning

import (
	"github.com/google/uuid"

	"open-pryv.io/core/model"
)

// Settings carries the versioning configuration.
type Settings struct {
	// ForceKeepHistory appends the prior state of a mutable item to its
	// history on every update.
	ForceKeepHistory bool
	Mode             model.DeletionMode
}

// HistoryEntry snapshots the prior state of an event before an update. The
// entry gets a fresh synthetic id and points back to the head via headId.
func HistoryEntry(prior *model.Event) *model.Event {
	entry := *prior
	entry.HeadID = prior.ID
	entry.ID = uuid.New().String()
	entry.StreamIDs = append([]string(nil), prior.StreamIDs...)
	entry.Attachments = append([]model.Attachment(nil), prior.Attachments...)
	entry.Tags = append([]string(nil), prior.Tags...)
	return &entry
}

// MinimizeHistoryEntry reduces a history entry to the fields kept by the
// keep-authors mode: id, headId, modified, modifiedBy.
func MinimizeHistoryEntry(entry *model.Event) *model.Event {
	return &model.Event{
		ID:      entry.ID,
		HeadID:  entry.HeadID,
		Tracked: model.Tracked{Modified: entry.Modified, ModifiedBy: entry.ModifiedBy},
	}
}

// EventTombstone shapes the head document after deletion according to the
// mode. keep-nothing leaves a bare {id, deleted} marker, keep-authors
// retains authorship, keep-everything keeps all fields and only adds the
// deleted timestamp.
func (s Settings) EventTombstone(head *model.Event, deletedAt float64) *model.Event {
	switch s.Mode {
	case model.KeepEverything:
		t := *head
		t.StreamIDs = append([]string(nil), head.StreamIDs...)
		t.Attachments = append([]model.Attachment(nil), head.Attachments...)
		t.Deleted = &deletedAt
		return &t
	case model.KeepAuthors:
		return &model.Event{
			ID:        head.ID,
			Deleted:   &deletedAt,
			Integrity: head.Integrity,
			Tracked:   model.Tracked{Modified: head.Modified, ModifiedBy: head.ModifiedBy},
		}
	default: // keep-nothing
		return &model.Event{ID: head.ID, Deleted: &deletedAt, Integrity: head.Integrity}
	}
}

// KeepsHistoryOnDelete reports whether existing history entries survive a
// delete (possibly minimized).
func (s Settings) KeepsHistoryOnDelete() bool {
	return s.Mode != model.KeepNothing
}

// MinimizesHistoryOnDelete reports whether history entries are reduced to
// authorship on delete.
func (s Settings) MinimizesHistoryOnDelete() bool {
	return s.Mode == model.KeepAuthors
}
