package model

// Permission levels, ordered none < read < create-only < contribute < manage.
type Level string

const (
	LevelNone       Level = "none"
	LevelRead       Level = "read"
	LevelCreateOnly Level = "create-only"
	LevelContribute Level = "contribute"
	LevelManage     Level = "manage"
)

var levelOrder = map[Level]int{
	LevelNone:       0,
	LevelRead:       1,
	LevelCreateOnly: 2,
	LevelContribute: 3,
	LevelManage:     4,
}

// Order returns the rank of the level; unknown levels rank below none.
func (l Level) Order() int {
	if o, ok := levelOrder[l]; ok {
		return o
	}
	return -1
}

// Valid reports whether l is a recognized permission level.
func (l Level) Valid() bool {
	_, ok := levelOrder[l]
	return ok
}

// Capability table per level.

// CanRead reports whether the level allows reading events.
// Create-only deliberately hides existing events.
func (l Level) CanRead() bool {
	return l == LevelRead || l == LevelContribute || l == LevelManage
}

// CanCreate reports whether the level allows creating events.
func (l Level) CanCreate() bool {
	return l == LevelCreateOnly || l == LevelContribute || l == LevelManage
}

// CanUpdate reports whether the level allows updating or deleting events.
func (l Level) CanUpdate() bool {
	return l == LevelContribute || l == LevelManage
}

// CanManage reports whether the level allows managing streams and
// delegating permissions.
func (l Level) CanManage() bool {
	return l == LevelManage
}

// StarStreamID denotes the entire stream forest in a stream permission.
const StarStreamID = "*"

// Feature permission names and settings.
const (
	FeatureSelfRevoke = "selfRevoke"
	SettingForbidden  = "forbidden"
)

// Permission is a tagged variant: a stream permission carries StreamID and
// Level, a feature permission carries Feature and Setting.
type Permission struct {
	StreamID string `json:"streamId,omitempty"`
	Level    Level  `json:"level,omitempty"`
	Feature  string `json:"feature,omitempty"`
	Setting  string `json:"setting,omitempty"`
}

// IsFeature reports whether the atom is a feature permission.
func (p Permission) IsFeature() bool { return p.Feature != "" }

// Access types.
const (
	AccessPersonal = "personal"
	AccessApp      = "app"
	AccessShared   = "shared"
)

// Access is a scoped credential binding a token to a set of permission atoms.
type Access struct {
	ID          string                 `json:"id"`
	Token       string                 `json:"token"`
	Type        string                 `json:"type"`
	Name        string                 `json:"name"`
	DeviceName  string                 `json:"deviceName,omitempty"`
	Permissions []Permission           `json:"permissions"`
	Expires     *float64               `json:"expires,omitempty"`
	ClientData  map[string]interface{} `json:"clientData,omitempty"`
	Deleted     *float64               `json:"deleted,omitempty"`
	LastUsed    float64                `json:"lastUsed,omitempty"`
	Tracked
}

// IsPersonal reports whether the access is a personal one (full scope,
// session-bound).
func (a *Access) IsPersonal() bool { return a.Type == AccessPersonal }

// IsApp reports whether the access is an app access.
func (a *Access) IsApp() bool { return a.Type == AccessApp }

// ExpiredAt reports whether the access is past its expiry at the given time.
func (a *Access) ExpiredAt(now float64) bool {
	return a.Expires != nil && *a.Expires <= now
}

// IsDeleted reports whether the access is tombstoned.
func (a *Access) IsDeleted() bool { return a.Deleted != nil }

// CanSelfRevoke reports whether the access may delete itself. Revocation is
// allowed unless a selfRevoke=forbidden feature atom is present.
func (a *Access) CanSelfRevoke() bool {
	for _, p := range a.Permissions {
		if p.Feature == FeatureSelfRevoke && p.Setting == SettingForbidden {
			return false
		}
	}
	return true
}
