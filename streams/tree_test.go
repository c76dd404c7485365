package streams

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"open-pryv.io/core/model"
)

func strPtr(s string) *string { return &s }

func buildTestTree(t *testing.T) *Tree {
	t.Helper()
	tree, err := BuildTree([]*model.Stream{
		{ID: "a", Name: "A"},
		{ID: "a-1", Name: "A1", ParentID: strPtr("a")},
		{ID: "a-1-x", Name: "A1X", ParentID: strPtr("a-1")},
		{ID: "a-2", Name: "A2", ParentID: strPtr("a"), Trashed: true},
		{ID: "b", Name: "B"},
	})
	require.NoError(t, err)
	return tree
}

func TestBuildTreeRejectsInvalidInput(t *testing.T) {
	_, err := BuildTree([]*model.Stream{{ID: "", Name: "empty"}})
	assert.Error(t, err)

	_, err = BuildTree([]*model.Stream{{ID: "*", Name: "star"}})
	assert.Error(t, err)

	_, err = BuildTree([]*model.Stream{
		{ID: "x", Name: "X"},
		{ID: "x", Name: "X again"},
	})
	assert.Error(t, err)

	_, err = BuildTree([]*model.Stream{
		{ID: "orphan", Name: "O", ParentID: strPtr("missing")},
	})
	assert.Error(t, err)

	_, err = BuildTree([]*model.Stream{
		{ID: "p", Name: "P", ParentID: strPtr("q")},
		{ID: "q", Name: "Q", ParentID: strPtr("p")},
	})
	assert.Error(t, err)
}

func TestTreeNavigation(t *testing.T) {
	tree := buildTestTree(t)

	assert.True(t, tree.Exists("a-1-x"))
	assert.False(t, tree.Exists("nope"))
	assert.Equal(t, "a-1", tree.ParentID("a-1-x"))
	assert.Equal(t, "", tree.ParentID("a"))
	assert.Equal(t, []string{"a-1", "a-2"}, tree.ChildrenIDs("a"))
	assert.Equal(t, []string{"a", "b"}, tree.RootIDs())
}

func TestExpandWithDescendants(t *testing.T) {
	tree := buildTestTree(t)

	assert.Equal(t, []string{"a", "a-1", "a-1-x"}, tree.ExpandWithDescendants("a", false))
	assert.Equal(t, []string{"a", "a-1", "a-1-x", "a-2"}, tree.ExpandWithDescendants("a", true))

	// A trashed stream named explicitly is still expanded.
	assert.Equal(t, []string{"a-2"}, tree.ExpandWithDescendants("a-2", false))
	assert.Nil(t, tree.ExpandWithDescendants("missing", false))
}

func TestIsOrInSubtree(t *testing.T) {
	tree := buildTestTree(t)

	assert.True(t, tree.IsOrInSubtree("a", "a"))
	assert.True(t, tree.IsOrInSubtree("a-1-x", "a"))
	assert.False(t, tree.IsOrInSubtree("a", "a-1"))
	assert.False(t, tree.IsOrInSubtree("b", "a"))
}

func TestForestNesting(t *testing.T) {
	tree := buildTestTree(t)

	forest := tree.Forest(false)
	require.Len(t, forest, 2)
	assert.Equal(t, "a", forest[0].ID)
	require.Len(t, forest[0].Children, 1)
	assert.Equal(t, "a-1", forest[0].Children[0].ID)
	require.Len(t, forest[0].Children[0].Children, 1)
	assert.Equal(t, "a-1-x", forest[0].Children[0].Children[0].ID)

	withTrashed := tree.Forest(true)
	assert.Len(t, withTrashed[0].Children, 2)

	// Forest returns copies; mutating them must not corrupt the tree.
	forest[0].Name = "mutated"
	assert.Equal(t, "A", tree.Get("a").Name)
}

func TestSiblingNameTaken(t *testing.T) {
	tree := buildTestTree(t)

	assert.True(t, tree.SiblingNameTaken(strPtr("a"), "A1", ""))
	assert.False(t, tree.SiblingNameTaken(strPtr("a"), "A1", "a-1"))
	assert.False(t, tree.SiblingNameTaken(strPtr("a"), "Z", ""))
	assert.True(t, tree.SiblingNameTaken(nil, "B", ""))
}
