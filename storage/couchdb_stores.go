package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"open-pryv.io/core/model"
)

// Document type discriminators.
const (
	docUser            = "user"
	docAccess          = "access"
	docStream          = "stream"
	docEvent           = "event"
	docEventHistory    = "event-history"
	docSession         = "session"
	docProfile         = "profile"
	docFollowedSlice   = "followedSlice"
	docWebhook         = "webhook"
	docPasswordHistory = "passwordHistory"
)

// NewCouchDBStores wires every store onto a shared CouchDB service.
func NewCouchDBStores(svc *CouchDBService) *Stores {
	return &Stores{
		Users:          &couchUserStore{svc},
		Accesses:       &couchAccessStore{svc},
		Streams:        &couchStreamStore{svc},
		Events:         &couchEventStore{svc},
		Sessions:       &couchSessionStore{svc},
		Profile:        &couchProfileStore{svc},
		FollowedSlices: &couchFollowedSliceStore{svc},
		Webhooks:       &couchWebhookStore{svc},
	}
}

func (c *CouchDBService) findTyped(ctx context.Context, query MangoQuery, fn func(raw json.RawMessage) error) error {
	return c.find(ctx, query, fn)
}

// --- users ---

type couchUserStore struct{ svc *CouchDBService }

func (s *couchUserStore) Create(ctx context.Context, user *model.User) error {
	if _, err := s.GetByUsername(ctx, user.Username); err == nil {
		return ErrDuplicate
	}
	if user.Email != "" {
		if _, err := s.GetByEmail(ctx, user.Email); err == nil {
			return ErrDuplicate
		}
	}
	return s.svc.putDoc(ctx, docID(docUser, user.Username, "head"), docUser, user.Username, user)
}

func (s *couchUserStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	query := NewQueryBuilder().
		Where("@type", "eq", docUser).
		Where("id", "eq", id).
		Limit(1).
		Build()
	return s.findOne(ctx, query)
}

func (s *couchUserStore) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	if err := s.svc.getDoc(ctx, docID(docUser, username, "head"), &user); err != nil {
		return nil, err
	}
	if user.Deleted != nil {
		return nil, ErrNotFound
	}
	return &user, nil
}

func (s *couchUserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	query := NewQueryBuilder().
		Where("@type", "eq", docUser).
		Where("email", "eq", email).
		Where("deleted", "exists", false).
		Limit(1).
		Build()
	return s.findOne(ctx, query)
}

func (s *couchUserStore) findOne(ctx context.Context, query MangoQuery) (*model.User, error) {
	var found *model.User
	err := s.svc.findTyped(ctx, query, func(raw json.RawMessage) error {
		var u model.User
		if err := json.Unmarshal(raw, &u); err != nil {
			return err
		}
		found = &u
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil || found.Deleted != nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (s *couchUserStore) Update(ctx context.Context, user *model.User) error {
	return s.svc.putDoc(ctx, docID(docUser, user.Username, "head"), docUser, user.Username, user)
}

func (s *couchUserStore) Delete(ctx context.Context, username string) error {
	user, err := s.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	now := model.Timestamp()
	user.Deleted = &now
	return s.Update(ctx, user)
}

func (s *couchUserStore) AddPasswordHistory(ctx context.Context, username, hash string, at float64) error {
	entry := map[string]interface{}{"hash": hash, "time": at}
	return s.svc.putDoc(ctx, docID(docPasswordHistory, username, uuid.New().String()), docPasswordHistory, username, entry)
}

func (s *couchUserStore) PasswordHistory(ctx context.Context, username string, n int) ([]string, error) {
	query := NewQueryBuilder().
		Where("@type", "eq", docPasswordHistory).
		Where("username", "eq", username).
		Sort("time", "desc").
		Limit(n).
		Build()
	var hashes []string
	err := s.svc.findTyped(ctx, query, func(raw json.RawMessage) error {
		var entry struct {
			Hash string `json:"hash"`
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			return err
		}
		hashes = append(hashes, entry.Hash)
		return nil
	})
	return hashes, err
}

// --- accesses ---

type couchAccessStore struct{ svc *CouchDBService }

func (s *couchAccessStore) Create(ctx context.Context, username string, access *model.Access) error {
	return s.svc.putDoc(ctx, docID(docAccess, username, access.ID), docAccess, username, access)
}

func (s *couchAccessStore) Get(ctx context.Context, username, id string) (*model.Access, error) {
	var access model.Access
	if err := s.svc.getDoc(ctx, docID(docAccess, username, id), &access); err != nil {
		return nil, err
	}
	return &access, nil
}

func (s *couchAccessStore) GetByToken(ctx context.Context, username, token string) (*model.Access, error) {
	query := NewQueryBuilder().
		Where("@type", "eq", docAccess).
		Where("username", "eq", username).
		Where("token", "eq", token).
		Limit(1).
		Build()
	var found *model.Access
	err := s.svc.findTyped(ctx, query, func(raw json.RawMessage) error {
		var a model.Access
		if err := json.Unmarshal(raw, &a); err != nil {
			return err
		}
		found = &a
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (s *couchAccessStore) All(ctx context.Context, username string) ([]*model.Access, error) {
	query := NewQueryBuilder().
		Where("@type", "eq", docAccess).
		Where("username", "eq", username).
		Build()
	var accesses []*model.Access
	err := s.svc.findTyped(ctx, query, func(raw json.RawMessage) error {
		var a model.Access
		if err := json.Unmarshal(raw, &a); err != nil {
			return err
		}
		accesses = append(accesses, &a)
		return nil
	})
	return accesses, err
}

func (s *couchAccessStore) Update(ctx context.Context, username string, access *model.Access) error {
	return s.svc.putDoc(ctx, docID(docAccess, username, access.ID), docAccess, username, access)
}

// --- streams ---

type couchStreamStore struct{ svc *CouchDBService }

func (s *couchStreamStore) All(ctx context.Context, username string) ([]*model.Stream, error) {
	query := NewQueryBuilder().
		Where("@type", "eq", docStream).
		Where("username", "eq", username).
		Where("deleted", "exists", false).
		Build()
	var result []*model.Stream
	err := s.svc.findTyped(ctx, query, func(raw json.RawMessage) error {
		var st model.Stream
		if err := json.Unmarshal(raw, &st); err != nil {
			return err
		}
		result = append(result, &st)
		return nil
	})
	return result, err
}

func (s *couchStreamStore) Get(ctx context.Context, username, id string) (*model.Stream, error) {
	var st model.Stream
	if err := s.svc.getDoc(ctx, docID(docStream, username, id), &st); err != nil {
		return nil, err
	}
	if st.Deleted != nil {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (s *couchStreamStore) Create(ctx context.Context, username string, stream *model.Stream) error {
	// A tombstoned id may be reused; only a live stream is a conflict.
	if _, err := s.Get(ctx, username, stream.ID); err == nil {
		return ErrDuplicate
	}
	return s.svc.putDoc(ctx, docID(docStream, username, stream.ID), docStream, username, stream)
}

func (s *couchStreamStore) Update(ctx context.Context, username string, stream *model.Stream) error {
	return s.svc.putDoc(ctx, docID(docStream, username, stream.ID), docStream, username, stream)
}

func (s *couchStreamStore) Delete(ctx context.Context, username, id string, deletedAt float64) error {
	tombstone := &model.Stream{ID: id, Deleted: &deletedAt}
	return s.svc.putDoc(ctx, docID(docStream, username, id), docStream, username, tombstone)
}

func (s *couchStreamStore) Deletions(ctx context.Context, username string) ([]*model.Stream, error) {
	query := NewQueryBuilder().
		Where("@type", "eq", docStream).
		Where("username", "eq", username).
		Where("deleted", "exists", true).
		Build()
	var result []*model.Stream
	err := s.svc.findTyped(ctx, query, func(raw json.RawMessage) error {
		var st model.Stream
		if err := json.Unmarshal(raw, &st); err != nil {
			return err
		}
		result = append(result, &st)
		return nil
	})
	return result, err
}

// --- events ---

type couchEventStore struct{ svc *CouchDBService }

func (s *couchEventStore) Create(ctx context.Context, username string, event *model.Event) error {
	existing, err := s.Get(ctx, username, event.ID)
	if err == nil && existing.Deleted == nil {
		return ErrDuplicate
	}
	return s.svc.putDoc(ctx, docID(docEvent, username, event.ID), docEvent, username, event)
}

func (s *couchEventStore) Get(ctx context.Context, username, id string) (*model.Event, error) {
	var e model.Event
	if err := s.svc.getDoc(ctx, docID(docEvent, username, id), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *couchEventStore) buildQuery(username string, filter *EventsFilter) MangoQuery {
	qb := NewQueryBuilder().
		Where("@type", "eq", docEvent).
		Where("username", "eq", username).
		Where("deleted", "exists", false)
	switch filter.State {
	case StateAll:
	case StateTrashed:
		qb.Where("trashed", "eq", true)
	default:
		qb.Where("trashed", "exists", false)
	}
	if filter.FromTime != nil {
		qb.Where("time", "gte", *filter.FromTime)
	}
	if filter.ToTime != nil {
		qb.Where("time", "lte", *filter.ToTime)
	}
	if filter.ModifiedSince != nil {
		qb.Where("modified", "gt", *filter.ModifiedSince)
	}
	if len(filter.Types) > 0 {
		qb.Where("type", "in", filter.Types)
	}
	if filter.Streams != nil {
		qb.WhereRaw(filter.Streams.ToMango())
	}
	dir := "desc"
	if filter.SortAscending {
		dir = "asc"
	}
	qb.Sort("time", dir).Sort("created", dir)
	if filter.Limit > 0 {
		qb.Limit(filter.Limit)
	}
	if filter.Skip > 0 {
		qb.Skip(filter.Skip)
	}
	return qb.Build()
}

func (s *couchEventStore) Find(ctx context.Context, username string, filter *EventsFilter) ([]*model.Event, error) {
	var events []*model.Event
	err := s.FindEach(ctx, username, filter, func(e *model.Event) error {
		events = append(events, e)
		return nil
	})
	return events, err
}

func (s *couchEventStore) FindEach(ctx context.Context, username string, filter *EventsFilter, fn func(*model.Event) error) error {
	if filter.Streams != nil && len(filter.Streams.Or) == 0 {
		// Empty scope: nothing can match.
		return nil
	}
	query := s.buildQuery(username, filter)
	return s.svc.findTyped(ctx, query, func(raw json.RawMessage) error {
		var e model.Event
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		return fn(&e)
	})
}

func (s *couchEventStore) Update(ctx context.Context, username string, event *model.Event) error {
	return s.svc.putDoc(ctx, docID(docEvent, username, event.ID), docEvent, username, event)
}

func (s *couchEventStore) Deletions(ctx context.Context, username string, since float64) ([]*model.Event, error) {
	query := NewQueryBuilder().
		Where("@type", "eq", docEvent).
		Where("username", "eq", username).
		Where("deleted", "gte", since).
		Build()
	var result []*model.Event
	err := s.svc.findTyped(ctx, query, func(raw json.RawMessage) error {
		var e model.Event
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		result = append(result, &e)
		return nil
	})
	return result, err
}

func (s *couchEventStore) AddHistory(ctx context.Context, username string, entry *model.Event) error {
	if entry.ID == "" {
		return fmt.Errorf("history entry requires a synthetic id")
	}
	return s.svc.putDoc(ctx, docID(docEventHistory, username, entry.ID), docEventHistory, username, entry)
}

func (s *couchEventStore) History(ctx context.Context, username, headID string) ([]*model.Event, error) {
	query := NewQueryBuilder().
		Where("@type", "eq", docEventHistory).
		Where("username", "eq", username).
		Where("headId", "eq", headID).
		Sort("modified", "asc").
		Build()
	var result []*model.Event
	err := s.svc.findTyped(ctx, query, func(raw json.RawMessage) error {
		var e model.Event
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		result = append(result, &e)
		return nil
	})
	return result, err
}

func (s *couchEventStore) UpdateHistory(ctx context.Context, username string, entry *model.Event) error {
	return s.svc.putDoc(ctx, docID(docEventHistory, username, entry.ID), docEventHistory, username, entry)
}

func (s *couchEventStore) DeleteHistory(ctx context.Context, username, headID string) error {
	entries, err := s.History(ctx, username, headID)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := s.svc.deleteDoc(ctx, docID(docEventHistory, username, entry.ID)); err != nil {
			return err
		}
	}
	return nil
}

// --- sessions ---

type couchSessionStore struct{ svc *CouchDBService }

func (s *couchSessionStore) Create(ctx context.Context, session *model.Session) error {
	return s.svc.putDoc(ctx, docID(docSession, session.Username, session.Token), docSession, session.Username, session)
}

func (s *couchSessionStore) Get(ctx context.Context, token string) (*model.Session, error) {
	query := NewQueryBuilder().
		Where("@type", "eq", docSession).
		Where("token", "eq", token).
		Limit(1).
		Build()
	var found *model.Session
	err := s.svc.findTyped(ctx, query, func(raw json.RawMessage) error {
		var sess model.Session
		if err := json.Unmarshal(raw, &sess); err != nil {
			return err
		}
		found = &sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (s *couchSessionStore) Update(ctx context.Context, session *model.Session) error {
	return s.svc.putDoc(ctx, docID(docSession, session.Username, session.Token), docSession, session.Username, session)
}

func (s *couchSessionStore) Delete(ctx context.Context, token string) error {
	session, err := s.Get(ctx, token)
	if err != nil {
		if err == ErrNotFound {
			return nil
		}
		return err
	}
	return s.svc.deleteDoc(ctx, docID(docSession, session.Username, session.Token))
}

// --- profile ---

type couchProfileStore struct{ svc *CouchDBService }

func (s *couchProfileStore) Get(ctx context.Context, username, scope string) (map[string]interface{}, error) {
	var doc struct {
		Content map[string]interface{} `json:"content"`
	}
	if err := s.svc.getDoc(ctx, docID(docProfile, username, scope), &doc); err != nil {
		if err == ErrNotFound {
			return map[string]interface{}{}, nil
		}
		return nil, err
	}
	if doc.Content == nil {
		return map[string]interface{}{}, nil
	}
	return doc.Content, nil
}

func (s *couchProfileStore) Set(ctx context.Context, username, scope string, content map[string]interface{}) error {
	doc := map[string]interface{}{"content": content}
	return s.svc.putDoc(ctx, docID(docProfile, username, scope), docProfile, username, doc)
}

// --- followed slices ---

type couchFollowedSliceStore struct{ svc *CouchDBService }

func (s *couchFollowedSliceStore) All(ctx context.Context, username string) ([]*model.FollowedSlice, error) {
	query := NewQueryBuilder().
		Where("@type", "eq", docFollowedSlice).
		Where("username", "eq", username).
		Build()
	var result []*model.FollowedSlice
	err := s.svc.findTyped(ctx, query, func(raw json.RawMessage) error {
		var fs model.FollowedSlice
		if err := json.Unmarshal(raw, &fs); err != nil {
			return err
		}
		result = append(result, &fs)
		return nil
	})
	return result, err
}

func (s *couchFollowedSliceStore) Get(ctx context.Context, username, id string) (*model.FollowedSlice, error) {
	var fs model.FollowedSlice
	if err := s.svc.getDoc(ctx, docID(docFollowedSlice, username, id), &fs); err != nil {
		return nil, err
	}
	return &fs, nil
}

func (s *couchFollowedSliceStore) Create(ctx context.Context, username string, slice *model.FollowedSlice) error {
	return s.svc.putDoc(ctx, docID(docFollowedSlice, username, slice.ID), docFollowedSlice, username, slice)
}

func (s *couchFollowedSliceStore) Update(ctx context.Context, username string, slice *model.FollowedSlice) error {
	return s.svc.putDoc(ctx, docID(docFollowedSlice, username, slice.ID), docFollowedSlice, username, slice)
}

func (s *couchFollowedSliceStore) Delete(ctx context.Context, username, id string) error {
	return s.svc.deleteDoc(ctx, docID(docFollowedSlice, username, id))
}

// --- webhooks ---

type couchWebhookStore struct{ svc *CouchDBService }

func (s *couchWebhookStore) All(ctx context.Context, username string) ([]*model.Webhook, error) {
	query := NewQueryBuilder().
		Where("@type", "eq", docWebhook).
		Where("username", "eq", username).
		Build()
	var result []*model.Webhook
	err := s.svc.findTyped(ctx, query, func(raw json.RawMessage) error {
		var w model.Webhook
		if err := json.Unmarshal(raw, &w); err != nil {
			return err
		}
		result = append(result, &w)
		return nil
	})
	return result, err
}

func (s *couchWebhookStore) Get(ctx context.Context, username, id string) (*model.Webhook, error) {
	var w model.Webhook
	if err := s.svc.getDoc(ctx, docID(docWebhook, username, id), &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *couchWebhookStore) Create(ctx context.Context, username string, webhook *model.Webhook) error {
	return s.svc.putDoc(ctx, docID(docWebhook, username, webhook.ID), docWebhook, username, webhook)
}

func (s *couchWebhookStore) Update(ctx context.Context, username string, webhook *model.Webhook) error {
	return s.svc.putDoc(ctx, docID(docWebhook, username, webhook.ID), docWebhook, username, webhook)
}

func (s *couchWebhookStore) Delete(ctx context.Context, username, id string) error {
	return s.svc.deleteDoc(ctx, docID(docWebhook, username, id))
}
