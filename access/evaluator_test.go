package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"open-pryv.io/core/model"
	"open-pryv.io/core/streams"
)

func strPtr(s string) *string { return &s }

// testTree builds:
//
//	health
//	  health/heart
//	    health/heart/rate
//	  health/sleep
//	work
func testTree(t *testing.T) *streams.Tree {
	t.Helper()
	tree, err := streams.BuildTree([]*model.Stream{
		{ID: "health", Name: "Health"},
		{ID: "health-heart", Name: "Heart", ParentID: strPtr("health")},
		{ID: "health-heart-rate", Name: "Rate", ParentID: strPtr("health-heart")},
		{ID: "health-sleep", Name: "Sleep", ParentID: strPtr("health")},
		{ID: "work", Name: "Work"},
	})
	require.NoError(t, err)
	return tree
}

func TestLevelForInheritsThroughSubtree(t *testing.T) {
	tree := testTree(t)
	a := &model.Access{Type: model.AccessShared, Permissions: []model.Permission{
		{StreamID: "health", Level: model.LevelRead},
	}}
	e := NewEvaluator(a, tree)

	assert.Equal(t, model.LevelRead, e.LevelFor("health"))
	assert.Equal(t, model.LevelRead, e.LevelFor("health-heart-rate"))
	assert.Equal(t, model.LevelNone, e.LevelFor("work"))
}

func TestLevelForTakesMaximumOfOverlappingAtoms(t *testing.T) {
	tree := testTree(t)
	a := &model.Access{Type: model.AccessShared, Permissions: []model.Permission{
		{StreamID: "health", Level: model.LevelRead},
		{StreamID: "health-heart", Level: model.LevelContribute},
	}}
	e := NewEvaluator(a, tree)

	assert.Equal(t, model.LevelRead, e.LevelFor("health-sleep"))
	assert.Equal(t, model.LevelContribute, e.LevelFor("health-heart"))
	assert.Equal(t, model.LevelContribute, e.LevelFor("health-heart-rate"))
}

func TestForcedExclusionOverridesEverything(t *testing.T) {
	tree := testTree(t)
	a := &model.Access{Type: model.AccessApp, Permissions: []model.Permission{
		{StreamID: model.StarStreamID, Level: model.LevelManage},
		{StreamID: "health-heart", Level: model.LevelNone},
	}}
	e := NewEvaluator(a, tree)

	assert.Equal(t, model.LevelManage, e.LevelFor("work"))
	assert.Equal(t, model.LevelNone, e.LevelFor("health-heart"))
	assert.Equal(t, model.LevelNone, e.LevelFor("health-heart-rate"))
	assert.False(t, e.CanReadEvent([]string{"health-heart"}))

	// The exclusion also blocks creation on any of the event's streams.
	assert.False(t, e.CanCreateEvent([]string{"work", "health-heart"}))
	assert.True(t, e.CanCreateEvent([]string{"work"}))
}

func TestPersonalAccessHasFullScope(t *testing.T) {
	tree := testTree(t)
	e := NewEvaluator(&model.Access{Type: model.AccessPersonal}, tree)

	assert.Equal(t, model.LevelManage, e.LevelFor("work"))
	assert.True(t, e.CanManageStream("health-heart-rate"))
	assert.True(t, e.CanCreateEvent([]string{"work"}))
}

func TestCreateOnlyCapabilities(t *testing.T) {
	tree := testTree(t)
	a := &model.Access{Type: model.AccessApp, Permissions: []model.Permission{
		{StreamID: "health", Level: model.LevelCreateOnly},
	}}
	e := NewEvaluator(a, tree)

	assert.False(t, e.CanGetEventsOnStream("health", "local"))
	assert.True(t, e.CanCreateEventsOnStream("health", "local"))
	assert.False(t, e.CanUpdateEventsOnStream("health", "local"))

	// The stream stays listable so clients can target it, but its
	// descendants are hidden.
	assert.True(t, e.CanListStream("health"))
	assert.False(t, e.CanListStreamChildren("health"))
}

func TestCanReadEventNeedsOneReadableStream(t *testing.T) {
	tree := testTree(t)
	a := &model.Access{Type: model.AccessShared, Permissions: []model.Permission{
		{StreamID: "work", Level: model.LevelRead},
	}}
	e := NewEvaluator(a, tree)

	assert.True(t, e.CanReadEvent([]string{"health", "work"}))
	assert.False(t, e.CanReadEvent([]string{"health"}))
}

func TestCanMoveEventToRequiresCreateOnEveryAddedStream(t *testing.T) {
	tree := testTree(t)
	a := &model.Access{Type: model.AccessShared, Permissions: []model.Permission{
		{StreamID: "health", Level: model.LevelContribute},
		{StreamID: "work", Level: model.LevelRead},
	}}
	e := NewEvaluator(a, tree)

	assert.True(t, e.CanMoveEventTo([]string{"health-sleep"}))
	assert.False(t, e.CanMoveEventTo([]string{"health-sleep", "work"}))
}

func TestStarScopeCoversUnknownStreams(t *testing.T) {
	tree := testTree(t)
	a := &model.Access{Type: model.AccessApp, Permissions: []model.Permission{
		{StreamID: model.StarStreamID, Level: model.LevelContribute},
	}}
	e := NewEvaluator(a, tree)

	// '*' covers streams created after the access was issued.
	assert.Equal(t, model.LevelContribute, e.LevelFor("not-yet-created"))
}
