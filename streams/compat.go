package streams

import (
	"strings"

	"open-pryv.io/core/common"
	"open-pryv.io/core/model"
)

// DisableCompatHeader suppresses egress translation for one request when
// set to "true".
const DisableCompatHeader = "disable-backward-compatibility-prefix"

// Translator implements the backward-compatibility prefix layer. Legacy
// ".foo" stream ids are rewritten to their prefixed system ids on ingress,
// and back on egress unless the client opted out. Only the canonical
// (prefixed) form circulates past this layer.
type Translator struct {
	registry *Registry
	// Active mirrors backwardCompatibility.systemStreams.prefix.isActive.
	Active bool
	// TagsActive enables legacy tags-to-streams mapping.
	TagsActive bool
}

// NewTranslator builds a translator over the system-streams registry.
func NewTranslator(registry *Registry, active, tagsActive bool) *Translator {
	return &Translator{registry: registry, Active: active, TagsActive: tagsActive}
}

// IngressID canonicalizes one stream id arriving from a client.
func (t *Translator) IngressID(id string) string {
	if !t.Active || len(id) == 0 || id[0] != '.' {
		return id
	}
	if s := t.registry.FromLegacy(id); s != nil {
		return s.ID
	}
	return id
}

// EgressID converts one canonical id back to its legacy form for responses.
// The disabled flag carries the per-request opt-out header.
func (t *Translator) EgressID(id string, disabled bool) string {
	if !t.Active || disabled {
		return id
	}
	if s := t.registry.Get(id); s != nil {
		return legacyPrefix + StripPrefix(s.ID)
	}
	return id
}

// IngressIDs canonicalizes a list of stream ids in place order.
func (t *Translator) IngressIDs(ids []string) []string {
	if !t.Active {
		return ids
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = t.IngressID(id)
	}
	return out
}

// EgressEvent rewrites the stream ids of an event for the response.
func (t *Translator) EgressEvent(e *model.Event, disabled bool) {
	if !t.Active || disabled {
		return
	}
	for i, id := range e.StreamIDs {
		e.StreamIDs[i] = t.EgressID(id, disabled)
	}
}

// IngressPermissions canonicalizes the stream ids of permission atoms.
func (t *Translator) IngressPermissions(perms []model.Permission) []model.Permission {
	if !t.Active {
		return perms
	}
	out := make([]model.Permission, len(perms))
	for i, p := range perms {
		if !p.IsFeature() {
			p.StreamID = t.IngressID(p.StreamID)
		}
		out[i] = p
	}
	return out
}

// EgressPermissions converts permission stream ids back to legacy form.
func (t *Translator) EgressPermissions(perms []model.Permission, disabled bool) []model.Permission {
	if !t.Active || disabled {
		return perms
	}
	out := make([]model.Permission, len(perms))
	for i, p := range perms {
		if !p.IsFeature() {
			p.StreamID = t.EgressID(p.StreamID, disabled)
		}
		out[i] = p
	}
	return out
}

// TagStreamID maps a legacy tag onto its stream under the tag root.
func TagStreamID(tag string) string {
	return TagRootID + "-" + common.Slugify(tag)
}

// IsTagStreamID reports whether id is a materialized legacy-tag stream.
func IsTagStreamID(id string) bool {
	return strings.HasPrefix(id, TagRootID+"-")
}

// TagsToStreamIDs maps legacy tags body/query properties onto stream ids
// under the tag root.
func (t *Translator) TagsToStreamIDs(tags []string) []string {
	if !t.TagsActive {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		out = append(out, TagStreamID(tag))
	}
	return out
}
