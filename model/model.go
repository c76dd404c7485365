// Package model holds the core data types shared across the server: users,
// streams, events, accesses, sessions and the auxiliary per-user resources.
// Timestamps are UNIX epoch seconds as float64, matching the wire format.
package model

import "time"

// Timestamp returns the current time as epoch seconds.
func Timestamp() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Tracked carries the tracking properties maintained on every mutable item.
type Tracked struct {
	Created    float64 `json:"created"`
	CreatedBy  string  `json:"createdBy"`
	Modified   float64 `json:"modified"`
	ModifiedBy string  `json:"modifiedBy"`
}

// InitTracking fills all four tracking properties for a fresh item.
func (t *Tracked) InitTracking(actorID string, now float64) {
	t.Created = now
	t.CreatedBy = actorID
	t.Modified = now
	t.ModifiedBy = actorID
}

// Touch updates the modification tracking properties.
func (t *Tracked) Touch(actorID string, now float64) {
	t.Modified = now
	t.ModifiedBy = actorID
}

// User is the tenant identity owning all other resources.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	// PasswordHash is persisted but must never reach response envelopes;
	// methods build their own account maps.
	PasswordHash string `json:"passwordHash,omitempty"`
	Email        string `json:"email,omitempty"`
	Language     string `json:"language,omitempty"`
	// PasswordChangedAt backs the password-age rules.
	PasswordChangedAt float64  `json:"passwordChangedAt,omitempty"`
	Deleted           *float64 `json:"deleted,omitempty"`
	Tracked
}

// Stream is a node in the per-user ordered forest.
type Stream struct {
	ID             string                 `json:"id"`
	Name           string                 `json:"name"`
	ParentID       *string                `json:"parentId"`
	SingleActivity bool                   `json:"singleActivity,omitempty"`
	Trashed        bool                   `json:"trashed,omitempty"`
	ClientData     map[string]interface{} `json:"clientData,omitempty"`
	Children       []*Stream              `json:"children,omitempty"`
	Deleted        *float64               `json:"deleted,omitempty"`
	Tracked
}

// Attachment describes one file attached to an event.
type Attachment struct {
	ID        string `json:"id"`
	FileName  string `json:"fileName"`
	Type      string `json:"type"`
	Size      int64  `json:"size"`
	ReadToken string `json:"readToken,omitempty"`
	Integrity string `json:"integrity,omitempty"`
}

// Event is a time-stamped datum belonging to one or more streams.
type Event struct {
	ID          string                 `json:"id"`
	StreamIDs   []string               `json:"streamIds"`
	Type        string                 `json:"type"`
	Time        float64                `json:"time"`
	Duration    *float64               `json:"duration,omitempty"`
	Content     interface{}            `json:"content,omitempty"`
	Description string                 `json:"description,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
	Attachments []Attachment           `json:"attachments,omitempty"`
	ClientData  map[string]interface{} `json:"clientData,omitempty"`
	Trashed     bool                   `json:"trashed,omitempty"`
	Deleted     *float64               `json:"deleted,omitempty"`
	Integrity   string                 `json:"integrity,omitempty"`
	// HeadID is set on history entries only and points to the current
	// version of the item.
	HeadID string `json:"headId,omitempty"`
	Tracked
}

// InStream reports whether the event carries the given stream id.
func (e *Event) InStream(streamID string) bool {
	for _, id := range e.StreamIDs {
		if id == streamID {
			return true
		}
	}
	return false
}

// Session backs personal accesses; expiry slides on each use.
type Session struct {
	Token    string  `json:"token"`
	Username string  `json:"username"`
	AppID    string  `json:"appId"`
	Expires  float64 `json:"expires"`
}

// ExpiredAt reports whether the session is past its expiry at the given time.
func (s *Session) ExpiredAt(now float64) bool {
	return s.Expires <= now
}

// FollowedSlice references a slice of another user's data.
type FollowedSlice struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	AccessToken string `json:"accessToken"`
	Tracked
}

// WebhookRun records one delivery attempt.
type WebhookRun struct {
	Status    int     `json:"status"`
	Timestamp float64 `json:"timestamp"`
}

// Webhook is a per-user HTTP change-notification target.
type Webhook struct {
	ID             string       `json:"id"`
	AccessID       string       `json:"accessId"`
	URL            string       `json:"url"`
	State          string       `json:"state"` // active | inactive
	RunCount       int          `json:"runCount"`
	FailCount      int          `json:"failCount"`
	LastRun        *WebhookRun  `json:"lastRun,omitempty"`
	Runs           []WebhookRun `json:"runs"`
	CurrentRetries int          `json:"currentRetries"`
	MinIntervalMs  int          `json:"minIntervalMs"`
	MaxRetries     int          `json:"maxRetries"`
	Tracked
}

// Webhook states.
const (
	WebhookActive   = "active"
	WebhookInactive = "inactive"
)

// DeletionMode controls how much of an item survives deletion.
type DeletionMode string

const (
	KeepNothing    DeletionMode = "keep-nothing"
	KeepAuthors    DeletionMode = "keep-authors"
	KeepEverything DeletionMode = "keep-everything"
)

// ValidDeletionMode reports whether m is one of the recognized modes.
func ValidDeletionMode(m DeletionMode) bool {
	switch m {
	case KeepNothing, KeepAuthors, KeepEverything:
		return true
	}
	return false
}
