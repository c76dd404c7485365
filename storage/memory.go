package storage

import (
	"context"
	"sort"
	"sync"

	"open-pryv.io/core/model"
)

// NewMemoryStores builds a fully in-memory Stores, used by tests and by
// development setups running without CouchDB.
func NewMemoryStores() *Stores {
	m := &memory{
		users:     map[string]*model.User{},
		passwords: map[string][]passwordEntry{},
		accesses:  map[string]map[string]*model.Access{},
		streams:   map[string]map[string]*model.Stream{},
		events:    map[string]map[string]*model.Event{},
		history:   map[string]map[string]*model.Event{},
		sessions:  map[string]*model.Session{},
		profiles:  map[string]map[string]map[string]interface{}{},
		slices:    map[string]map[string]*model.FollowedSlice{},
		webhooks:  map[string]map[string]*model.Webhook{},
	}
	return &Stores{
		Users:          (*memUserStore)(m),
		Accesses:       (*memAccessStore)(m),
		Streams:        (*memStreamStore)(m),
		Events:         (*memEventStore)(m),
		Sessions:       (*memSessionStore)(m),
		Profile:        (*memProfileStore)(m),
		FollowedSlices: (*memFollowedSliceStore)(m),
		Webhooks:       (*memWebhookStore)(m),
	}
}

type passwordEntry struct {
	hash string
	time float64
}

type memory struct {
	mu        sync.RWMutex
	users     map[string]*model.User
	passwords map[string][]passwordEntry
	accesses  map[string]map[string]*model.Access
	streams   map[string]map[string]*model.Stream
	events    map[string]map[string]*model.Event
	history   map[string]map[string]*model.Event
	sessions  map[string]*model.Session
	profiles  map[string]map[string]map[string]interface{}
	slices    map[string]map[string]*model.FollowedSlice
	webhooks  map[string]map[string]*model.Webhook
}

// Clone helpers keep callers from aliasing stored state.

func cloneUser(u *model.User) *model.User {
	c := *u
	return &c
}

func cloneAccess(a *model.Access) *model.Access {
	c := *a
	c.Permissions = append([]model.Permission(nil), a.Permissions...)
	return &c
}

func cloneStream(s *model.Stream) *model.Stream {
	c := *s
	c.Children = nil
	if s.ClientData != nil {
		c.ClientData = make(map[string]interface{}, len(s.ClientData))
		for k, v := range s.ClientData {
			c.ClientData[k] = v
		}
	}
	return &c
}

func cloneEvent(e *model.Event) *model.Event {
	c := *e
	c.StreamIDs = append([]string(nil), e.StreamIDs...)
	c.Tags = append([]string(nil), e.Tags...)
	c.Attachments = append([]model.Attachment(nil), e.Attachments...)
	if e.ClientData != nil {
		c.ClientData = make(map[string]interface{}, len(e.ClientData))
		for k, v := range e.ClientData {
			c.ClientData[k] = v
		}
	}
	return &c
}

// --- users ---

type memUserStore memory

func (m *memUserStore) Create(ctx context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.users[user.Username]; ok && existing.Deleted == nil {
		return ErrDuplicate
	}
	if user.Email != "" {
		for _, u := range m.users {
			if u.Deleted == nil && u.Email == user.Email {
				return ErrDuplicate
			}
		}
	}
	m.users[user.Username] = cloneUser(user)
	return nil
}

func (m *memUserStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.ID == id && u.Deleted == nil {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUserStore) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.users[username]; ok && u.Deleted == nil {
		return cloneUser(u), nil
	}
	return nil, ErrNotFound
}

func (m *memUserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email && u.Deleted == nil {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUserStore) Update(ctx context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.Username]; !ok {
		return ErrNotFound
	}
	m.users[user.Username] = cloneUser(user)
	return nil
}

func (m *memUserStore) Delete(ctx context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok || u.Deleted != nil {
		return ErrNotFound
	}
	now := model.Timestamp()
	u.Deleted = &now
	return nil
}

func (m *memUserStore) AddPasswordHistory(ctx context.Context, username, hash string, at float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passwords[username] = append(m.passwords[username], passwordEntry{hash: hash, time: at})
	return nil
}

func (m *memUserStore) PasswordHistory(ctx context.Context, username string, n int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := append([]passwordEntry(nil), m.passwords[username]...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].time > entries[j].time })
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	hashes := make([]string, len(entries))
	for i, e := range entries {
		hashes[i] = e.hash
	}
	return hashes, nil
}

// --- accesses ---

type memAccessStore memory

func (m *memAccessStore) userAccesses(username string) map[string]*model.Access {
	if m.accesses[username] == nil {
		m.accesses[username] = map[string]*model.Access{}
	}
	return m.accesses[username]
}

func (m *memAccessStore) Create(ctx context.Context, username string, access *model.Access) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := m.userAccesses(username)
	if _, ok := byID[access.ID]; ok {
		return ErrDuplicate
	}
	byID[access.ID] = cloneAccess(access)
	return nil
}

func (m *memAccessStore) Get(ctx context.Context, username, id string) (*model.Access, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.accesses[username][id]; ok {
		return cloneAccess(a), nil
	}
	return nil, ErrNotFound
}

func (m *memAccessStore) GetByToken(ctx context.Context, username, token string) (*model.Access, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.accesses[username] {
		if a.Token == token {
			return cloneAccess(a), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memAccessStore) All(ctx context.Context, username string) ([]*model.Access, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*model.Access
	for _, a := range m.accesses[username] {
		result = append(result, cloneAccess(a))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Created < result[j].Created })
	return result, nil
}

func (m *memAccessStore) Update(ctx context.Context, username string, access *model.Access) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := m.userAccesses(username)
	if _, ok := byID[access.ID]; !ok {
		return ErrNotFound
	}
	byID[access.ID] = cloneAccess(access)
	return nil
}

// --- streams ---

type memStreamStore memory

func (m *memStreamStore) userStreams(username string) map[string]*model.Stream {
	if m.streams[username] == nil {
		m.streams[username] = map[string]*model.Stream{}
	}
	return m.streams[username]
}

func (m *memStreamStore) All(ctx context.Context, username string) ([]*model.Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*model.Stream
	for _, s := range m.streams[username] {
		if s.Deleted == nil {
			result = append(result, cloneStream(s))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Created < result[j].Created })
	return result, nil
}

func (m *memStreamStore) Get(ctx context.Context, username, id string) (*model.Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.streams[username][id]; ok && s.Deleted == nil {
		return cloneStream(s), nil
	}
	return nil, ErrNotFound
}

func (m *memStreamStore) Create(ctx context.Context, username string, stream *model.Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := m.userStreams(username)
	if existing, ok := byID[stream.ID]; ok && existing.Deleted == nil {
		return ErrDuplicate
	}
	byID[stream.ID] = cloneStream(stream)
	return nil
}

func (m *memStreamStore) Update(ctx context.Context, username string, stream *model.Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := m.userStreams(username)
	if existing, ok := byID[stream.ID]; !ok || existing.Deleted != nil {
		return ErrNotFound
	}
	byID[stream.ID] = cloneStream(stream)
	return nil
}

func (m *memStreamStore) Delete(ctx context.Context, username, id string, deletedAt float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := m.userStreams(username)
	if _, ok := byID[id]; !ok {
		return ErrNotFound
	}
	byID[id] = &model.Stream{ID: id, Deleted: &deletedAt}
	return nil
}

func (m *memStreamStore) Deletions(ctx context.Context, username string) ([]*model.Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*model.Stream
	for _, s := range m.streams[username] {
		if s.Deleted != nil {
			result = append(result, cloneStream(s))
		}
	}
	return result, nil
}

// --- events ---

type memEventStore memory

func (m *memEventStore) userEvents(username string) map[string]*model.Event {
	if m.events[username] == nil {
		m.events[username] = map[string]*model.Event{}
	}
	return m.events[username]
}

func (m *memEventStore) Create(ctx context.Context, username string, event *model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := m.userEvents(username)
	if existing, ok := byID[event.ID]; ok && existing.Deleted == nil {
		return ErrDuplicate
	}
	byID[event.ID] = cloneEvent(event)
	return nil
}

func (m *memEventStore) Get(ctx context.Context, username, id string) (*model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.events[username][id]; ok {
		return cloneEvent(e), nil
	}
	return nil, ErrNotFound
}

func matchesFilter(e *model.Event, filter *EventsFilter) bool {
	if e.Deleted != nil {
		return false
	}
	switch filter.State {
	case StateAll:
	case StateTrashed:
		if !e.Trashed {
			return false
		}
	default:
		if e.Trashed {
			return false
		}
	}
	if filter.FromTime != nil && e.Time < *filter.FromTime {
		return false
	}
	if filter.ToTime != nil && e.Time > *filter.ToTime {
		return false
	}
	if filter.ModifiedSince != nil && e.Modified <= *filter.ModifiedSince {
		return false
	}
	if len(filter.Types) > 0 {
		found := false
		for _, t := range filter.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return filter.Streams.Matches(e.StreamIDs)
}

func (m *memEventStore) Find(ctx context.Context, username string, filter *EventsFilter) ([]*model.Event, error) {
	var events []*model.Event
	err := m.FindEach(ctx, username, filter, func(e *model.Event) error {
		events = append(events, e)
		return nil
	})
	return events, err
}

func (m *memEventStore) FindEach(ctx context.Context, username string, filter *EventsFilter, fn func(*model.Event) error) error {
	if filter.Streams != nil && len(filter.Streams.Or) == 0 {
		return nil
	}
	m.mu.RLock()
	var matched []*model.Event
	for _, e := range m.events[username] {
		if matchesFilter(e, filter) {
			matched = append(matched, cloneEvent(e))
		}
	}
	m.mu.RUnlock()

	// Time is the primary sort key, created breaks ties; descending by
	// default.
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if filter.SortAscending {
			if a.Time != b.Time {
				return a.Time < b.Time
			}
			return a.Created < b.Created
		}
		if a.Time != b.Time {
			return a.Time > b.Time
		}
		return a.Created > b.Created
	})

	if filter.Skip > 0 {
		if filter.Skip >= len(matched) {
			return nil
		}
		matched = matched[filter.Skip:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	for _, e := range matched {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *memEventStore) Update(ctx context.Context, username string, event *model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := m.userEvents(username)
	if _, ok := byID[event.ID]; !ok {
		return ErrNotFound
	}
	byID[event.ID] = cloneEvent(event)
	return nil
}

func (m *memEventStore) Deletions(ctx context.Context, username string, since float64) ([]*model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*model.Event
	for _, e := range m.events[username] {
		if e.Deleted != nil && *e.Deleted >= since {
			result = append(result, cloneEvent(e))
		}
	}
	return result, nil
}

func (m *memEventStore) AddHistory(ctx context.Context, username string, entry *model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.history[username] == nil {
		m.history[username] = map[string]*model.Event{}
	}
	m.history[username][entry.ID] = cloneEvent(entry)
	return nil
}

func (m *memEventStore) History(ctx context.Context, username, headID string) ([]*model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*model.Event
	for _, e := range m.history[username] {
		if e.HeadID == headID {
			result = append(result, cloneEvent(e))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Modified < result[j].Modified })
	return result, nil
}

func (m *memEventStore) UpdateHistory(ctx context.Context, username string, entry *model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.history[username] == nil || m.history[username][entry.ID] == nil {
		return ErrNotFound
	}
	m.history[username][entry.ID] = cloneEvent(entry)
	return nil
}

func (m *memEventStore) DeleteHistory(ctx context.Context, username, headID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.history[username] {
		if e.HeadID == headID {
			delete(m.history[username], id)
		}
	}
	return nil
}

// --- sessions ---

type memSessionStore memory

func (m *memSessionStore) Create(ctx context.Context, session *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *session
	m.sessions[session.Token] = &c
	return nil
}

func (m *memSessionStore) Get(ctx context.Context, token string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[token]; ok {
		c := *s
		return &c, nil
	}
	return nil, ErrNotFound
}

func (m *memSessionStore) Update(ctx context.Context, session *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.Token]; !ok {
		return ErrNotFound
	}
	c := *session
	m.sessions[session.Token] = &c
	return nil
}

func (m *memSessionStore) Delete(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}

// --- profile ---

type memProfileStore memory

func (m *memProfileStore) Get(ctx context.Context, username, scope string) (map[string]interface{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	content := m.profiles[username][scope]
	result := map[string]interface{}{}
	for k, v := range content {
		result[k] = v
	}
	return result, nil
}

func (m *memProfileStore) Set(ctx context.Context, username, scope string, content map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profiles[username] == nil {
		m.profiles[username] = map[string]map[string]interface{}{}
	}
	copied := map[string]interface{}{}
	for k, v := range content {
		copied[k] = v
	}
	m.profiles[username][scope] = copied
	return nil
}

// --- followed slices ---

type memFollowedSliceStore memory

func (m *memFollowedSliceStore) All(ctx context.Context, username string) ([]*model.FollowedSlice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*model.FollowedSlice
	for _, fs := range m.slices[username] {
		c := *fs
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Created < result[j].Created })
	return result, nil
}

func (m *memFollowedSliceStore) Get(ctx context.Context, username, id string) (*model.FollowedSlice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if fs, ok := m.slices[username][id]; ok {
		c := *fs
		return &c, nil
	}
	return nil, ErrNotFound
}

func (m *memFollowedSliceStore) Create(ctx context.Context, username string, slice *model.FollowedSlice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slices[username] == nil {
		m.slices[username] = map[string]*model.FollowedSlice{}
	}
	if _, ok := m.slices[username][slice.ID]; ok {
		return ErrDuplicate
	}
	c := *slice
	m.slices[username][slice.ID] = &c
	return nil
}

func (m *memFollowedSliceStore) Update(ctx context.Context, username string, slice *model.FollowedSlice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slices[username] == nil || m.slices[username][slice.ID] == nil {
		return ErrNotFound
	}
	c := *slice
	m.slices[username][slice.ID] = &c
	return nil
}

func (m *memFollowedSliceStore) Delete(ctx context.Context, username, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slices[username] == nil || m.slices[username][id] == nil {
		return ErrNotFound
	}
	delete(m.slices[username], id)
	return nil
}

// --- webhooks ---

type memWebhookStore memory

func (m *memWebhookStore) All(ctx context.Context, username string) ([]*model.Webhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*model.Webhook
	for _, w := range m.webhooks[username] {
		c := *w
		c.Runs = append([]model.WebhookRun(nil), w.Runs...)
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Created < result[j].Created })
	return result, nil
}

func (m *memWebhookStore) Get(ctx context.Context, username, id string) (*model.Webhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if w, ok := m.webhooks[username][id]; ok {
		c := *w
		c.Runs = append([]model.WebhookRun(nil), w.Runs...)
		return &c, nil
	}
	return nil, ErrNotFound
}

func (m *memWebhookStore) Create(ctx context.Context, username string, webhook *model.Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.webhooks[username] == nil {
		m.webhooks[username] = map[string]*model.Webhook{}
	}
	if _, ok := m.webhooks[username][webhook.ID]; ok {
		return ErrDuplicate
	}
	c := *webhook
	m.webhooks[username][webhook.ID] = &c
	return nil
}

func (m *memWebhookStore) Update(ctx context.Context, username string, webhook *model.Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.webhooks[username] == nil || m.webhooks[username][webhook.ID] == nil {
		return ErrNotFound
	}
	c := *webhook
	m.webhooks[username][webhook.ID] = &c
	return nil
}

func (m *memWebhookStore) Delete(ctx context.Context, username, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.webhooks[username] == nil || m.webhooks[username][id] == nil {
		return ErrNotFound
	}
	delete(m.webhooks[username], id)
	return nil
}
