package versioning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"open-pryv.io/core/model"
)

func sampleEvent() *model.Event {
	return &model.Event{
		ID:        "ev-1",
		StreamIDs: []string{"health"},
		Type:      "mass/kg",
		Time:      1000,
		Content:   80.5,
		Integrity: "sha256-abc",
		Tracked: model.Tracked{
			Created: 1000, CreatedBy: "acc-1",
			Modified: 1200, ModifiedBy: "acc-2",
		},
	}
}

func TestHistoryEntrySnapshotsPriorState(t *testing.T) {
	prior := sampleEvent()
	entry := HistoryEntry(prior)

	assert.NotEqual(t, prior.ID, entry.ID)
	assert.Equal(t, prior.ID, entry.HeadID)
	assert.Equal(t, prior.Content, entry.Content)
	assert.Equal(t, prior.StreamIDs, entry.StreamIDs)

	// The snapshot must not alias the head's slices.
	entry.StreamIDs[0] = "other"
	assert.Equal(t, "health", prior.StreamIDs[0])
}

func TestMinimizeHistoryEntry(t *testing.T) {
	entry := HistoryEntry(sampleEvent())
	min := MinimizeHistoryEntry(entry)

	assert.Equal(t, entry.ID, min.ID)
	assert.Equal(t, entry.HeadID, min.HeadID)
	assert.Equal(t, entry.Modified, min.Modified)
	assert.Equal(t, entry.ModifiedBy, min.ModifiedBy)
	assert.Nil(t, min.Content)
	assert.Empty(t, min.StreamIDs)
	assert.Zero(t, min.Created)
}

func TestEventTombstoneKeepNothing(t *testing.T) {
	s := Settings{Mode: model.KeepNothing}
	tomb := s.EventTombstone(sampleEvent(), 2000)

	require.NotNil(t, tomb.Deleted)
	assert.Equal(t, 2000.0, *tomb.Deleted)
	assert.Equal(t, "ev-1", tomb.ID)
	assert.Equal(t, "sha256-abc", tomb.Integrity)
	assert.Nil(t, tomb.Content)
	assert.Empty(t, tomb.ModifiedBy)

	assert.False(t, s.KeepsHistoryOnDelete())
	assert.False(t, s.MinimizesHistoryOnDelete())
}

func TestEventTombstoneKeepAuthors(t *testing.T) {
	s := Settings{Mode: model.KeepAuthors}
	tomb := s.EventTombstone(sampleEvent(), 2000)

	require.NotNil(t, tomb.Deleted)
	assert.Equal(t, "acc-2", tomb.ModifiedBy)
	assert.Equal(t, 1200.0, tomb.Modified)
	assert.Nil(t, tomb.Content)
	assert.Empty(t, tomb.StreamIDs)

	assert.True(t, s.KeepsHistoryOnDelete())
	assert.True(t, s.MinimizesHistoryOnDelete())
}

func TestEventTombstoneKeepEverything(t *testing.T) {
	s := Settings{Mode: model.KeepEverything}
	head := sampleEvent()
	tomb := s.EventTombstone(head, 2000)

	require.NotNil(t, tomb.Deleted)
	assert.Equal(t, head.Content, tomb.Content)
	assert.Equal(t, head.StreamIDs, tomb.StreamIDs)

	tomb.StreamIDs[0] = "other"
	assert.Equal(t, "health", head.StreamIDs[0])

	assert.True(t, s.KeepsHistoryOnDelete())
	assert.False(t, s.MinimizesHistoryOnDelete())
}
