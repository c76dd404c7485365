// Package access implements the permission evaluator: given an access and
// the user's stream tree, it answers capability queries on streams and
// events, and verifies the subset relation between a creator access and the
// accesses it delegates.
package access

import (
	"open-pryv.io/core/model"
	"open-pryv.io/core/streams"
)

// Evaluator computes effective permission levels for one access over one
// user's stream tree. It is a pure value; build a fresh one whenever the
// access or the tree changes.
type Evaluator struct {
	access *model.Access
	tree   *streams.Tree
}

// NewEvaluator builds the evaluator for the given access and stream tree.
func NewEvaluator(access *model.Access, tree *streams.Tree) *Evaluator {
	return &Evaluator{access: access, tree: tree}
}

// Access returns the underlying access.
func (e *Evaluator) Access() *model.Access { return e.access }

// LevelFor computes the effective level for a stream: the maximum level
// over all atoms whose scope (the atom's stream plus descendants) contains
// it. A level=none atom is a forced exclusion and overrides everything,
// including a '*'-wide manage.
func (e *Evaluator) LevelFor(streamID string) model.Level {
	if e.access.IsPersonal() {
		return model.LevelManage
	}
	best := model.LevelNone
	for _, p := range e.access.Permissions {
		if p.IsFeature() {
			continue
		}
		if !e.inScope(streamID, p.StreamID) {
			continue
		}
		if p.Level == model.LevelNone {
			return model.LevelNone
		}
		if p.Level.Order() > best.Order() {
			best = p.Level
		}
	}
	return best
}

// inScope reports whether streamID falls inside the scope rooted at
// atomStreamID ('*' covers the entire forest).
func (e *Evaluator) inScope(streamID, atomStreamID string) bool {
	if atomStreamID == model.StarStreamID {
		return true
	}
	if streamID == atomStreamID {
		return true
	}
	if e.tree == nil {
		return false
	}
	return e.tree.IsOrInSubtree(streamID, atomStreamID)
}

// CanGetEventsOnStream reports whether events on the stream may be read.
// Create-only deliberately answers false: it hides pre-existing events.
func (e *Evaluator) CanGetEventsOnStream(streamID, storeID string) bool {
	return e.LevelFor(streamID).CanRead()
}

// CanCreateEventsOnStream reports whether events may be created on the
// stream.
func (e *Evaluator) CanCreateEventsOnStream(streamID, storeID string) bool {
	return e.LevelFor(streamID).CanCreate()
}

// CanUpdateEventsOnStream reports whether events on the stream may be
// updated or deleted.
func (e *Evaluator) CanUpdateEventsOnStream(streamID, storeID string) bool {
	return e.LevelFor(streamID).CanUpdate()
}

// CanManageStream reports whether the stream's structure may be managed.
func (e *Evaluator) CanManageStream(streamID string) bool {
	return e.LevelFor(streamID).CanManage()
}

// CanListStream reports whether the stream may appear in streams.get.
// Create-only blocks listing the stream's descendants but keeps the stream
// itself visible so clients can target it for creation.
func (e *Evaluator) CanListStream(streamID string) bool {
	return e.LevelFor(streamID) != model.LevelNone
}

// CanListStreamChildren reports whether the descendants of the stream may
// be listed.
func (e *Evaluator) CanListStreamChildren(streamID string) bool {
	level := e.LevelFor(streamID)
	return level != model.LevelNone && level != model.LevelCreateOnly
}

// CanReadEvent reports whether an event may be read: read access on at
// least one of its streams.
func (e *Evaluator) CanReadEvent(streamIDs []string) bool {
	for _, id := range streamIDs {
		if e.LevelFor(id).CanRead() {
			return true
		}
	}
	return false
}

// CanCreateEvent reports whether an event may be created on the given
// streams: create on at least one, and none forced-none.
func (e *Evaluator) CanCreateEvent(streamIDs []string) bool {
	if e.anyForcedNone(streamIDs) {
		return false
	}
	for _, id := range streamIDs {
		if e.LevelFor(id).CanCreate() {
			return true
		}
	}
	return false
}

// CanUpdateEvent reports whether an existing event may be updated or
// deleted: contribute on at least one of its streams.
func (e *Evaluator) CanUpdateEvent(streamIDs []string) bool {
	for _, id := range streamIDs {
		if e.LevelFor(id).CanUpdate() {
			return true
		}
	}
	return false
}

// CanMoveEventTo reports whether an event may gain the given streams:
// moving between streams requires the create capability on every added
// stream.
func (e *Evaluator) CanMoveEventTo(addedStreamIDs []string) bool {
	for _, id := range addedStreamIDs {
		if !e.LevelFor(id).CanCreate() {
			return false
		}
	}
	return true
}

// ForcedExclusionStreams returns the scope roots of level=none atoms, so
// query compilation can exclude their subtrees outright.
func (e *Evaluator) ForcedExclusionStreams() []string {
	if e.access.IsPersonal() {
		return nil
	}
	var roots []string
	for _, p := range e.access.Permissions {
		if !p.IsFeature() && p.Level == model.LevelNone {
			roots = append(roots, p.StreamID)
		}
	}
	return roots
}

// anyForcedNone reports whether any of the streams carries an explicit
// forced exclusion.
func (e *Evaluator) anyForcedNone(streamIDs []string) bool {
	if e.access.IsPersonal() {
		return false
	}
	for _, id := range streamIDs {
		for _, p := range e.access.Permissions {
			if !p.IsFeature() && p.Level == model.LevelNone && e.inScope(id, p.StreamID) {
				return true
			}
		}
	}
	return false
}
