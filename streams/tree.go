// Package streams implements the per-user stream forest, the system-streams
// registry, the backward-compatibility prefix layer and the stream-query
// compiler used to authorize and filter events.
package streams

import (
	"fmt"
	"sort"

	"open-pryv.io/core/model"
)

const noParent = -1

// node is one arena slot of the tree. Streams are addressed by integer
// index; parent/children hold indices, never pointers.
type node struct {
	stream   *model.Stream
	parent   int
	children []int
}

// Tree is the per-user stream forest as an arena of nodes.
type Tree struct {
	nodes []node
	byID  map[string]int
	roots []int
}

// BuildTree assembles a tree from the flat stream list, validating that
// every parentId resolves and that no cycle is reachable.
func BuildTree(flat []*model.Stream) (*Tree, error) {
	t := &Tree{byID: make(map[string]int, len(flat))}
	for _, s := range flat {
		if s.ID == "" || s.ID == model.StarStreamID {
			return nil, fmt.Errorf("invalid stream id %q", s.ID)
		}
		if _, dup := t.byID[s.ID]; dup {
			return nil, fmt.Errorf("duplicate stream id %q", s.ID)
		}
		t.byID[s.ID] = len(t.nodes)
		t.nodes = append(t.nodes, node{stream: s, parent: noParent})
	}
	for i, s := range flat {
		if s.ParentID == nil {
			t.roots = append(t.roots, i)
			continue
		}
		p, ok := t.byID[*s.ParentID]
		if !ok {
			return nil, fmt.Errorf("stream %q references unknown parent %q", s.ID, *s.ParentID)
		}
		t.nodes[i].parent = p
		t.nodes[p].children = append(t.nodes[p].children, i)
	}
	// Cycle check: every node must reach a root through parent links.
	for i := range t.nodes {
		slow, fast := i, i
		for t.nodes[fast].parent != noParent {
			fast = t.nodes[fast].parent
			if t.nodes[fast].parent == noParent {
				break
			}
			fast = t.nodes[fast].parent
			slow = t.nodes[slow].parent
			if slow == fast {
				return nil, fmt.Errorf("cycle detected at stream %q", t.nodes[i].stream.ID)
			}
		}
	}
	return t, nil
}

// Get returns the stream with the given id, or nil.
func (t *Tree) Get(id string) *model.Stream {
	if i, ok := t.byID[id]; ok {
		return t.nodes[i].stream
	}
	return nil
}

// Exists reports whether id names a stream of this tree.
func (t *Tree) Exists(id string) bool {
	_, ok := t.byID[id]
	return ok
}

// ParentID returns the parent id of the given stream, or "" for roots and
// unknown ids.
func (t *Tree) ParentID(id string) string {
	i, ok := t.byID[id]
	if !ok || t.nodes[i].parent == noParent {
		return ""
	}
	return t.nodes[t.nodes[i].parent].stream.ID
}

// ChildrenIDs returns the ids of the direct children of id.
func (t *Tree) ChildrenIDs(id string) []string {
	i, ok := t.byID[id]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(t.nodes[i].children))
	for _, c := range t.nodes[i].children {
		ids = append(ids, t.nodes[c].stream.ID)
	}
	return ids
}

// RootIDs returns the ids of the top-level streams, in insertion order.
func (t *Tree) RootIDs() []string {
	ids := make([]string, 0, len(t.roots))
	for _, r := range t.roots {
		ids = append(ids, t.nodes[r].stream.ID)
	}
	return ids
}

// ExpandWithDescendants returns id plus all descendants, depth-first. When
// includeTrashed is false, trashed streams and their subtrees are skipped
// unless they are the named stream itself.
func (t *Tree) ExpandWithDescendants(id string, includeTrashed bool) []string {
	i, ok := t.byID[id]
	if !ok {
		return nil
	}
	var out []string
	var walk func(n int, named bool)
	walk = func(n int, named bool) {
		s := t.nodes[n].stream
		if s.Trashed && !includeTrashed && !named {
			return
		}
		out = append(out, s.ID)
		for _, c := range t.nodes[n].children {
			walk(c, false)
		}
	}
	walk(i, true)
	return out
}

// IsOrInSubtree reports whether id equals rootID or descends from it.
func (t *Tree) IsOrInSubtree(id, rootID string) bool {
	i, ok := t.byID[id]
	if !ok {
		return false
	}
	r, ok := t.byID[rootID]
	if !ok {
		return false
	}
	for n := i; n != noParent; n = t.nodes[n].parent {
		if n == r {
			return true
		}
	}
	return false
}

// Forest serializes the tree shape by DFS into nested Stream values with
// Children populated. Trashed subtrees are included only when
// includeTrashed is set.
func (t *Tree) Forest(includeTrashed bool) []*model.Stream {
	var build func(n int) *model.Stream
	build = func(n int) *model.Stream {
		src := t.nodes[n].stream
		s := *src
		s.Children = []*model.Stream{}
		for _, c := range t.nodes[n].children {
			child := t.nodes[c].stream
			if child.Trashed && !includeTrashed {
				continue
			}
			s.Children = append(s.Children, build(c))
		}
		return &s
	}
	var out []*model.Stream
	for _, r := range t.roots {
		s := t.nodes[r].stream
		if s.Trashed && !includeTrashed {
			continue
		}
		out = append(out, build(r))
	}
	return out
}

// SiblingNameTaken reports whether a non-trashed sibling under parentID
// already carries name, excluding the stream with id excludeID.
func (t *Tree) SiblingNameTaken(parentID *string, name, excludeID string) bool {
	var siblings []int
	if parentID == nil {
		siblings = t.roots
	} else if p, ok := t.byID[*parentID]; ok {
		siblings = t.nodes[p].children
	}
	for _, i := range siblings {
		s := t.nodes[i].stream
		if s.ID != excludeID && s.Name == name {
			return true
		}
	}
	return false
}

// AllIDs returns every stream id of the tree, sorted.
func (t *Tree) AllIDs() []string {
	ids := make([]string, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
