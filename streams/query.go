package streams

import (
	"encoding/json"
	"fmt"
	"strings"

	"open-pryv.io/core/apierror"
	"open-pryv.io/core/storage"
)

// AccessChecker is the capability surface the compiler uses to mask the
// expanded stream set by the caller's permissions.
type AccessChecker interface {
	CanGetEventsOnStream(streamID, storeID string) bool
	// ForcedExclusionStreams returns the scope roots of level=none atoms.
	// Events carrying any stream of these scopes must never match.
	ForcedExclusionStreams() []string
}

// RawQuery is one parsed conjunct before expansion: events must carry at
// least one id from Any, every id from All, and none from Not.
type RawQuery struct {
	Any     []string
	All     []string
	Not     []string
	StoreID string
}

// NoDescendantsSuffix marks an id as "exactly this stream, no expansion".
const NoDescendantsSuffix = "!"

// CompileOptions tunes query compilation.
type CompileOptions struct {
	// IncludeTrashed expands through trashed streams (state=all).
	IncludeTrashed bool
}

// Compiler parses, expands, validates and masks stream queries, emitting
// the canonical store-level filter tree.
type Compiler struct {
	tree       *Tree
	checker    AccessChecker
	translator *Translator
}

// NewCompiler builds a compiler over the user's stream tree.
func NewCompiler(tree *Tree, checker AccessChecker, translator *Translator) *Compiler {
	return &Compiler{tree: tree, checker: checker, translator: translator}
}

// ParseQueriesParam normalizes the accepted input shapes: a single stream
// id, an array of ids (implicit any), a query object, an array of query
// objects, or any of these JSON-stringified.
func ParseQueriesParam(raw interface{}) ([]map[string]interface{}, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
			var decoded interface{}
			if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
				return nil, apierror.New(apierror.InvalidRequestStructure,
					"Invalid JSON in streams parameter")
			}
			return ParseQueriesParam(decoded)
		}
		return []map[string]interface{}{{"any": []interface{}{v}}}, nil
	case map[string]interface{}:
		return []map[string]interface{}{v}, nil
	case []interface{}:
		if len(v) == 0 {
			return nil, apierror.New(apierror.InvalidRequestStructure,
				"Empty streams parameter")
		}
		if _, ok := v[0].(string); ok {
			// Array of ids: one conjunct with an implicit any.
			ids := make([]interface{}, 0, len(v))
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return nil, apierror.New(apierror.InvalidRequestStructure,
						"streams array must not mix ids and query objects")
				}
				ids = append(ids, s)
			}
			return []map[string]interface{}{{"any": ids}}, nil
		}
		var queries []map[string]interface{}
		for _, item := range v {
			obj, ok := item.(map[string]interface{})
			if !ok {
				return nil, apierror.New(apierror.InvalidRequestStructure,
					"streams array must not mix ids and query objects")
			}
			queries = append(queries, obj)
		}
		return queries, nil
	default:
		return nil, apierror.New(apierror.InvalidRequestStructure,
			fmt.Sprintf("Unsupported streams parameter type %T", raw))
	}
}

// Compile runs the full pipeline on the raw streams parameter and returns
// the canonical filter. A nil input yields a filter covering every stream
// readable by the access.
func (c *Compiler) Compile(raw interface{}, opts CompileOptions) (*storage.StreamFilter, error) {
	queries, err := ParseQueriesParam(raw)
	if err != nil {
		return nil, err
	}
	if queries == nil {
		queries = []map[string]interface{}{{"any": []interface{}{"*"}}}
	}

	filter := &storage.StreamFilter{Or: []storage.StreamClause{}}
	for _, q := range queries {
		rq, err := c.validateShape(q)
		if err != nil {
			return nil, err
		}
		clause, empty, err := c.expandAndMask(rq, opts)
		if err != nil {
			return nil, err
		}
		if !empty {
			filter.Or = append(filter.Or, clause)
		}
	}
	return filter, nil
}

// validateShape checks the query object structure, canonicalizes legacy
// ids and groups the conjunct by store.
func (c *Compiler) validateShape(q map[string]interface{}) (*RawQuery, error) {
	for key := range q {
		switch key {
		case "any", "all", "not":
		default:
			return nil, apierror.New(apierror.InvalidRequestStructure,
				fmt.Sprintf("Unknown property %q in stream query", key))
		}
	}
	anyIDs, err := stringList(q["any"], "any")
	if err != nil {
		return nil, err
	}
	if len(anyIDs) == 0 {
		return nil, apierror.New(apierror.InvalidRequestStructure,
			"Stream query requires a non-empty 'any'")
	}
	allIDs, err := stringList(q["all"], "all")
	if err != nil {
		return nil, err
	}
	notIDs, err := stringList(q["not"], "not")
	if err != nil {
		return nil, err
	}

	star := false
	for _, id := range anyIDs {
		if id == "*" {
			star = true
		}
	}
	if star && len(anyIDs) > 1 {
		return nil, apierror.New(apierror.InvalidRequestStructure,
			"'*' must not be mixed with other ids in 'any'")
	}
	if star && len(allIDs) > 0 {
		return nil, apierror.New(apierror.InvalidRequestStructure,
			"'*' must not be combined with 'all'")
	}

	rq := &RawQuery{
		Any: c.ingressAll(anyIDs),
		All: c.ingressAll(allIDs),
		Not: c.ingressAll(notIDs),
	}

	// All ids of one conjunct must live in the same store.
	storeID := ""
	for _, id := range append(append(append([]string{}, rq.Any...), rq.All...), rq.Not...) {
		if id == "*" {
			continue
		}
		sid, _ := ParseStoreID(strings.TrimSuffix(id, NoDescendantsSuffix))
		if storeID == "" {
			storeID = sid
		} else if sid != storeID {
			return nil, apierror.New(apierror.InvalidRequestStructure,
				fmt.Sprintf("Stream query mixes stores %q and %q", storeID, sid))
		}
	}
	if storeID == "" {
		storeID = LocalStoreID
	}
	rq.StoreID = storeID
	return rq, nil
}

func (c *Compiler) ingressAll(ids []string) []string {
	if c.translator == nil {
		return ids
	}
	return c.translator.IngressIDs(ids)
}

func stringList(raw interface{}, name string) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, apierror.New(apierror.InvalidRequestStructure,
					fmt.Sprintf("'%s' must be an array of strings", name))
			}
			out = append(out, s)
		}
		return out, nil
	case []string:
		return v, nil
	default:
		return nil, apierror.New(apierror.InvalidRequestStructure,
			fmt.Sprintf("'%s' must be an array of strings", name))
	}
}

// expandAndMask expands descendants, verifies referenced ids and subtracts
// streams the access cannot read. An empty clause (matching nothing) is a
// valid outcome for streams swept in by expansion; an id the caller named
// explicitly and cannot read is an error.
func (c *Compiler) expandAndMask(rq *RawQuery, opts CompileOptions) (storage.StreamClause, bool, error) {
	clause := storage.StreamClause{}

	var expandedAny []string
	if len(rq.Any) == 1 && rq.Any[0] == "*" {
		// Entire forest: all non-trashed accessible top-level streams,
		// expanded.
		for _, rootID := range c.tree.RootIDs() {
			root := c.tree.Get(rootID)
			if root.Trashed && !opts.IncludeTrashed {
				continue
			}
			expandedAny = append(expandedAny, c.tree.ExpandWithDescendants(rootID, opts.IncludeTrashed)...)
		}
	} else {
		var unknown, forbidden []string
		for _, id := range rq.Any {
			exact := strings.HasSuffix(id, NoDescendantsSuffix)
			id = strings.TrimSuffix(id, NoDescendantsSuffix)
			storeID, _ := ParseStoreID(id)
			if storeID != LocalStoreID && !IsSystemID(id) {
				// Non-local ids are passed through for the store adapter.
				expandedAny = append(expandedAny, id)
				continue
			}
			if !c.tree.Exists(id) {
				unknown = append(unknown, id)
				continue
			}
			if c.checker != nil && !c.checker.CanGetEventsOnStream(id, rq.StoreID) {
				forbidden = append(forbidden, id)
				continue
			}
			if exact {
				expandedAny = append(expandedAny, id)
				continue
			}
			expandedAny = append(expandedAny, c.tree.ExpandWithDescendants(id, opts.IncludeTrashed)...)
		}
		if len(unknown) > 0 {
			return clause, true, apierror.NewUnknownReferencedResource("stream", unknown)
		}
		if len(forbidden) > 0 {
			return clause, true, apierror.NewWithData(apierror.Forbidden,
				"Insufficient permissions to read events on the referenced stream(s)",
				map[string]interface{}{"streamIds": forbidden})
		}
	}

	// Mask by access.
	seen := map[string]bool{}
	for _, id := range expandedAny {
		if seen[id] {
			continue
		}
		seen[id] = true
		if c.checker == nil || c.checker.CanGetEventsOnStream(id, rq.StoreID) {
			clause.Any = append(clause.Any, id)
		}
	}
	if len(clause.Any) == 0 {
		return clause, true, nil
	}

	// 'all' narrows, so ids are kept exact; they still must resolve.
	for _, id := range rq.All {
		id = strings.TrimSuffix(id, NoDescendantsSuffix)
		storeID, _ := ParseStoreID(id)
		if (storeID == LocalStoreID || IsSystemID(id)) && !c.tree.Exists(id) {
			return clause, true, apierror.NewUnknownReferencedResource("stream", []string{id})
		}
		clause.All = append(clause.All, id)
	}

	// 'not' expands through descendants: excluding a stream excludes its
	// subtree.
	seenNot := map[string]bool{}
	addNot := func(id string, exact bool) {
		expanded := []string{id}
		if c.tree.Exists(id) && !exact {
			expanded = c.tree.ExpandWithDescendants(id, true)
		}
		for _, e := range expanded {
			if !seenNot[e] {
				seenNot[e] = true
				clause.Not = append(clause.Not, e)
			}
		}
	}
	for _, id := range rq.Not {
		exact := strings.HasSuffix(id, NoDescendantsSuffix)
		addNot(strings.TrimSuffix(id, NoDescendantsSuffix), exact)
	}

	// Forced exclusions ride on every clause: a multi-stream event carrying
	// an excluded stream must not match through its other streams.
	if c.checker != nil {
		for _, id := range c.checker.ForcedExclusionStreams() {
			if id == "*" {
				continue
			}
			addNot(id, false)
		}
	}
	return clause, false, nil
}
