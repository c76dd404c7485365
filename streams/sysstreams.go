package streams

import (
	"strings"

	"open-pryv.io/core/model"
)

// Prefix namespaces of system streams. Private streams hold server-internal
// account data; customer streams are visible leaves like email or language.
const (
	PrivatePrefix  = ":_system:"
	CustomerPrefix = ":system:"
	legacyPrefix   = "."
)

// TagRootID is the private stream under which legacy tags are materialized.
const TagRootID = PrivatePrefix + "tag-root"

// SystemStream describes one node of the fixed per-tenant system tree.
type SystemStream struct {
	ID       string
	Name     string
	ParentID string
	// Indexed leaves enforce cross-user uniqueness (e.g. email).
	Indexed bool
	// RequiredAtRegistration leaves must be provided on user creation.
	RequiredAtRegistration bool
	// Visible leaves live in the customer namespace and appear in
	// streams.get; the rest stay private.
	Visible bool
}

// Registry is the fixed set of system streams of a tenant.
type Registry struct {
	byID     map[string]*SystemStream
	byLegacy map[string]*SystemStream
	ordered  []*SystemStream
}

// DefaultRegistry builds the default system-streams tree: account holding
// the identity leaves, storageUsed holding quota counters, plus helpers.
func DefaultRegistry() *Registry {
	r := &Registry{byID: map[string]*SystemStream{}, byLegacy: map[string]*SystemStream{}}
	for _, s := range []*SystemStream{
		{ID: PrivatePrefix + "account", Name: "Account"},
		{ID: CustomerPrefix + "email", Name: "Email", ParentID: PrivatePrefix + "account", Indexed: true, RequiredAtRegistration: true, Visible: true},
		{ID: CustomerPrefix + "language", Name: "Language", ParentID: PrivatePrefix + "account", Visible: true},
		{ID: PrivatePrefix + "passwordHash", Name: "Password Hash", ParentID: PrivatePrefix + "account"},
		{ID: PrivatePrefix + "storageUsed", Name: "Storage Used"},
		{ID: PrivatePrefix + "dbDocuments", Name: "DB Documents", ParentID: PrivatePrefix + "storageUsed"},
		{ID: PrivatePrefix + "attachedFiles", Name: "Attached Files", ParentID: PrivatePrefix + "storageUsed"},
		{ID: PrivatePrefix + "helpers", Name: "Helpers"},
		{ID: PrivatePrefix + "active", Name: "Active", ParentID: PrivatePrefix + "helpers"},
		{ID: TagRootID, Name: "Tags"},
	} {
		r.add(s)
	}
	return r
}

func (r *Registry) add(s *SystemStream) {
	r.byID[s.ID] = s
	r.byLegacy[legacyPrefix+StripPrefix(s.ID)] = s
	r.ordered = append(r.ordered, s)
}

// Get returns the system stream with the given prefixed id, or nil.
func (r *Registry) Get(id string) *SystemStream {
	return r.byID[id]
}

// FromLegacy resolves a legacy ".foo" id to its registered system stream,
// or nil when no system stream matches.
func (r *Registry) FromLegacy(legacyID string) *SystemStream {
	return r.byLegacy[legacyID]
}

// All returns the registered system streams in definition order.
func (r *Registry) All() []*SystemStream {
	return r.ordered
}

// AsStreams renders the registry as stream nodes so the per-user tree can
// host system streams next to user-created ones.
func (r *Registry) AsStreams() []*model.Stream {
	out := make([]*model.Stream, 0, len(r.ordered))
	for _, s := range r.ordered {
		node := &model.Stream{ID: s.ID, Name: s.Name}
		if s.ParentID != "" {
			parentID := s.ParentID
			node.ParentID = &parentID
		}
		out = append(out, node)
	}
	return out
}

// IsSystemID reports whether id belongs to either system namespace.
func IsSystemID(id string) bool {
	return strings.HasPrefix(id, PrivatePrefix) || strings.HasPrefix(id, CustomerPrefix)
}

// IsPrivateID reports whether id belongs to the private namespace.
func IsPrivateID(id string) bool {
	return strings.HasPrefix(id, PrivatePrefix)
}

// StripPrefix removes the system namespace prefix from id, if any.
func StripPrefix(id string) string {
	if strings.HasPrefix(id, PrivatePrefix) {
		return id[len(PrivatePrefix):]
	}
	if strings.HasPrefix(id, CustomerPrefix) {
		return id[len(CustomerPrefix):]
	}
	return id
}
