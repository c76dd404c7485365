// Package storage defines the persistence interfaces of the server and
// provides two implementations: a CouchDB-backed document store (the
// production backend) and an in-memory store used by tests and development
// setups.
package storage

import (
	"context"
	"errors"

	"open-pryv.io/core/model"
)

// Sentinel errors surfaced by store implementations. The method layer maps
// them onto the API error taxonomy.
var (
	ErrNotFound  = errors.New("item not found")
	ErrDuplicate = errors.New("item already exists")
)

// StreamClause is one conjunct of a stream filter: an event matches when it
// carries at least one id from Any, every id listed in All, and none from
// Not.
type StreamClause struct {
	Any []string `json:"any"`
	All []string `json:"all,omitempty"`
	Not []string `json:"not,omitempty"`
}

// StreamFilter is the canonical store-level filter tree emitted by the
// stream-query compiler: a disjunction of clauses.
type StreamFilter struct {
	Or []StreamClause `json:"or"`
}

// Matches evaluates the filter against an event's stream ids.
func (f *StreamFilter) Matches(streamIDs []string) bool {
	if f == nil {
		return true
	}
	if len(f.Or) == 0 {
		return false
	}
	for _, clause := range f.Or {
		if clause.matches(streamIDs) {
			return true
		}
	}
	return false
}

func (c *StreamClause) matches(streamIDs []string) bool {
	has := make(map[string]bool, len(streamIDs))
	for _, id := range streamIDs {
		has[id] = true
	}
	anyOK := false
	for _, id := range c.Any {
		if has[id] {
			anyOK = true
			break
		}
	}
	if !anyOK {
		return false
	}
	for _, id := range c.All {
		if !has[id] {
			return false
		}
	}
	for _, id := range c.Not {
		if has[id] {
			return false
		}
	}
	return true
}

// ToMango renders the filter as a Mango selector over the streamIds field:
// {$or: [{$and: [{streamIds: {$in: any}}, {streamIds: {$elemMatch: {$eq: all_i}}}..., {streamIds: {$nin: not}}]}]}.
func (f *StreamFilter) ToMango() map[string]interface{} {
	if f == nil {
		return nil
	}
	or := make([]interface{}, 0, len(f.Or))
	for _, clause := range f.Or {
		and := []interface{}{
			map[string]interface{}{"streamIds": map[string]interface{}{"$in": clause.Any}},
		}
		for _, id := range clause.All {
			and = append(and, map[string]interface{}{
				"streamIds": map[string]interface{}{"$elemMatch": map[string]interface{}{"$eq": id}},
			})
		}
		if len(clause.Not) > 0 {
			and = append(and, map[string]interface{}{
				"streamIds": map[string]interface{}{"$nin": clause.Not},
			})
		}
		or = append(or, map[string]interface{}{"$and": and})
	}
	return map[string]interface{}{"$or": or}
}

// Item states selectable on reads.
const (
	StateDefault = "default"
	StateTrashed = "trashed"
	StateAll     = "all"
)

// EventsFilter bounds an events query. A nil Streams filter means
// "no stream restriction"; an empty one matches nothing.
type EventsFilter struct {
	Streams        *StreamFilter
	FromTime       *float64
	ToTime         *float64
	Types          []string
	State          string
	ModifiedSince  *float64
	Limit          int
	Skip           int
	SortAscending  bool
	IncludeHistory bool
}

// UserStore persists user identities.
type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// GetByEmail enforces the unique index on the email account leaf;
	// deleted users do not participate.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	Update(ctx context.Context, user *model.User) error
	Delete(ctx context.Context, username string) error
	AddPasswordHistory(ctx context.Context, username, hash string, at float64) error
	PasswordHistory(ctx context.Context, username string, n int) ([]string, error)
}

// AccessStore persists accesses, including tombstones.
type AccessStore interface {
	Create(ctx context.Context, username string, access *model.Access) error
	Get(ctx context.Context, username, id string) (*model.Access, error)
	GetByToken(ctx context.Context, username, token string) (*model.Access, error)
	// All returns live and tombstoned accesses; callers filter.
	All(ctx context.Context, username string) ([]*model.Access, error)
	Update(ctx context.Context, username string, access *model.Access) error
}

// StreamStore persists the stream forest of each user.
type StreamStore interface {
	// All returns every non-deleted stream, flat (trashed included).
	All(ctx context.Context, username string) ([]*model.Stream, error)
	Get(ctx context.Context, username, id string) (*model.Stream, error)
	Create(ctx context.Context, username string, stream *model.Stream) error
	Update(ctx context.Context, username string, stream *model.Stream) error
	// Delete replaces the stream with a {id, deleted} tombstone.
	Delete(ctx context.Context, username, id string, deletedAt float64) error
	Deletions(ctx context.Context, username string) ([]*model.Stream, error)
}

// EventStore persists events, their tombstones and their history entries.
type EventStore interface {
	Create(ctx context.Context, username string, event *model.Event) error
	Get(ctx context.Context, username, id string) (*model.Event, error)
	Find(ctx context.Context, username string, filter *EventsFilter) ([]*model.Event, error)
	// FindEach streams matching events one at a time in sort order; used by
	// the chunked events.get response to avoid buffering.
	FindEach(ctx context.Context, username string, filter *EventsFilter, fn func(*model.Event) error) error
	Update(ctx context.Context, username string, event *model.Event) error
	Deletions(ctx context.Context, username string, since float64) ([]*model.Event, error)

	AddHistory(ctx context.Context, username string, entry *model.Event) error
	// History returns entries for headID ordered by modified ascending.
	History(ctx context.Context, username, headID string) ([]*model.Event, error)
	UpdateHistory(ctx context.Context, username string, entry *model.Event) error
	DeleteHistory(ctx context.Context, username, headID string) error
}

// SessionStore persists personal-access sessions.
type SessionStore interface {
	Create(ctx context.Context, session *model.Session) error
	Get(ctx context.Context, token string) (*model.Session, error)
	Update(ctx context.Context, session *model.Session) error
	Delete(ctx context.Context, token string) error
}

// ProfileStore persists the per-user profile sets (public, private, app).
type ProfileStore interface {
	Get(ctx context.Context, username, scope string) (map[string]interface{}, error)
	Set(ctx context.Context, username, scope string, content map[string]interface{}) error
}

// FollowedSliceStore persists followed slices.
type FollowedSliceStore interface {
	All(ctx context.Context, username string) ([]*model.FollowedSlice, error)
	Get(ctx context.Context, username, id string) (*model.FollowedSlice, error)
	Create(ctx context.Context, username string, slice *model.FollowedSlice) error
	Update(ctx context.Context, username string, slice *model.FollowedSlice) error
	Delete(ctx context.Context, username, id string) error
}

// WebhookStore persists webhooks.
type WebhookStore interface {
	All(ctx context.Context, username string) ([]*model.Webhook, error)
	Get(ctx context.Context, username, id string) (*model.Webhook, error)
	Create(ctx context.Context, username string, webhook *model.Webhook) error
	Update(ctx context.Context, username string, webhook *model.Webhook) error
	Delete(ctx context.Context, username, id string) error
}

// Stores aggregates every store of the server.
type Stores struct {
	Users          UserStore
	Accesses       AccessStore
	Streams        StreamStore
	Events         EventStore
	Sessions       SessionStore
	Profile        ProfileStore
	FollowedSlices FollowedSliceStore
	Webhooks       WebhookStore
}
