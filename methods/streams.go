package methods

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"open-pryv.io/core/api"
	"open-pryv.io/core/apierror"
	"open-pryv.io/core/common"
	"open-pryv.io/core/model"
	"open-pryv.io/core/notifications"
	"open-pryv.io/core/storage"
	"open-pryv.io/core/streams"
	"open-pryv.io/core/versioning"
)

const streamsGetSchema = `{
	"type": "object",
	"properties": {
		"parentId": {"type": "string"},
		"state": {"type": "string", "enum": ["default", "all"]},
		"includeDeletionsSince": {"type": "number"}
	}
}`

const streamsCreateSchema = `{
	"type": "object",
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"name": {"type": "string", "minLength": 1},
		"parentId": {"type": ["string", "null"]},
		"singleActivity": {"type": "boolean"},
		"clientData": {"type": "object"}
	},
	"required": ["name"]
}`

const streamsUpdateSchema = `{
	"type": "object",
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"update": {"type": "object"}
	},
	"required": ["id", "update"]
}`

const streamsDeleteSchema = `{
	"type": "object",
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"mergeEventsWithParent": {"type": ["boolean", "string"]}
	},
	"required": ["id"]
}`

func registerStreams(reg *api.Registry, svc *api.Services) {
	reg.Register("streams.get",
		api.ValidateParams(streamsGetSchema),
		requireAccess,
		streamsGet(svc),
	)
	reg.Register("streams.create",
		api.ValidateParams(streamsCreateSchema),
		requireAccess,
		streamsCreate(svc),
	)
	reg.Register("streams.update",
		api.ValidateParams(streamsUpdateSchema),
		requireAccess,
		streamsUpdate(svc),
	)
	reg.Register("streams.delete",
		api.ValidateParams(streamsDeleteSchema),
		requireAccess,
		streamsDelete(svc),
	)
}

// checkMutableStreamID rejects ids end users may not create or modify.
func checkMutableStreamID(id string) error {
	if streams.IsSystemID(id) {
		return apierror.New(apierror.InvalidOperation,
			fmt.Sprintf("System stream %q cannot be modified", id))
	}
	if strings.HasPrefix(id, ".") || strings.HasPrefix(id, ":") {
		return apierror.New(apierror.InvalidParametersFormat,
			fmt.Sprintf("Stream id %q uses a reserved prefix", id))
	}
	return nil
}

func streamsGet(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		includeTrashed := paramString(params, "state") == storage.StateAll

		var forest []*model.Stream
		if parentID := paramString(params, "parentId"); parentID != "" {
			parentID = c.Translator.IngressID(parentID)
			if !c.Tree.Exists(parentID) {
				return apierror.NewUnknownReferencedResource("stream", []string{parentID})
			}
			for _, node := range c.Tree.Forest(includeTrashed) {
				if sub := findNode(node, parentID); sub != nil {
					forest = sub.Children
					break
				}
			}
		} else {
			forest = c.Tree.Forest(includeTrashed)
		}

		out := pruneForest(c, svc, forest)
		result.Set("streams", out)

		if since := paramFloat(params, "includeDeletionsSince"); since != nil {
			deletions, err := svc.Stores.Streams.Deletions(c.Ctx, c.Username)
			if err != nil {
				return err
			}
			dels := make([]map[string]interface{}, 0, len(deletions))
			for _, d := range deletions {
				if d.Deleted != nil && *d.Deleted >= *since {
					dels = append(dels, map[string]interface{}{"id": d.ID, "deleted": *d.Deleted})
				}
			}
			result.Set("streamDeletions", dels)
		}
		return nil
	}
}

func findNode(node *model.Stream, id string) *model.Stream {
	if node.ID == id {
		return node
	}
	for _, child := range node.Children {
		if found := findNode(child, id); found != nil {
			return found
		}
	}
	return nil
}

// pruneForest applies visibility: private system streams stay hidden,
// unlisted scopes are dropped, and create-only cuts descendants.
func pruneForest(c *api.Context, svc *api.Services, nodes []*model.Stream) []*model.Stream {
	out := []*model.Stream{}
	for _, node := range nodes {
		if sys := svc.SystemStreams.Get(node.ID); sys != nil && !sys.Visible {
			continue
		}
		if !c.Eval.CanListStream(node.ID) {
			continue
		}
		clone := *node
		clone.ID = c.Translator.EgressID(node.ID, c.DisableCompat)
		if c.Eval.CanListStreamChildren(node.ID) {
			clone.Children = pruneForest(c, svc, node.Children)
		} else {
			clone.Children = []*model.Stream{}
		}
		out = append(out, &clone)
	}
	return out
}

func streamsCreate(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		s := &model.Stream{
			ID:             paramString(params, "id"),
			Name:           paramString(params, "name"),
			SingleActivity: paramBool(params, "singleActivity"),
		}
		if cd, ok := params["clientData"].(map[string]interface{}); ok {
			s.ClientData = cd
		}
		if p := paramString(params, "parentId"); p != "" {
			parentID := c.Translator.IngressID(p)
			s.ParentID = &parentID
		}

		if s.ID == "" {
			s.ID = common.Slugify(s.Name)
			if s.ID == "" || c.Tree.Exists(s.ID) {
				s.ID = uuid.New().String()
			}
		}
		if s.ID == model.StarStreamID {
			return apierror.New(apierror.InvalidParametersFormat,
				`Stream id cannot be "*"`)
		}
		if err := checkMutableStreamID(s.ID); err != nil {
			return err
		}

		scope := model.StarStreamID
		if s.ParentID != nil {
			scope = *s.ParentID
			if err := checkMutableStreamID(scope); err != nil {
				return err
			}
			if !c.Tree.Exists(scope) {
				return apierror.NewUnknownReferencedResource("stream", []string{scope})
			}
		}
		if !c.CanManageStream(scope) {
			return apierror.New(apierror.Forbidden,
				"Insufficient permissions to create streams here")
		}
		if c.Tree.Exists(s.ID) {
			return apierror.NewItemAlreadyExists("stream",
				map[string]interface{}{"id": s.ID})
		}
		if c.Tree.SiblingNameTaken(s.ParentID, s.Name, "") {
			return apierror.NewItemAlreadyExists("stream",
				map[string]interface{}{"name": s.Name})
		}

		c.InitTracking(&s.Tracked)
		if err := svc.Stores.Streams.Create(c.Ctx, c.Username, s); err != nil {
			if err == storage.ErrDuplicate {
				return apierror.NewItemAlreadyExists("stream",
					map[string]interface{}{"id": s.ID})
			}
			return err
		}
		if err := c.RefreshTree(); err != nil {
			return err
		}
		svc.Bus.Publish(c.Ctx, notifications.TopicStreamsChanged, c.Username)
		result.Set("stream", s)
		return nil
	}
}

func streamsUpdate(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		id := c.Translator.IngressID(paramString(params, "id"))
		update, _ := params["update"].(map[string]interface{})

		if err := checkMutableStreamID(id); err != nil {
			return err
		}
		s, err := svc.Stores.Streams.Get(c.Ctx, c.Username, id)
		if err == storage.ErrNotFound {
			return apierror.NewUnknownResource("stream", id)
		}
		if err != nil {
			return err
		}
		if !c.CanManageStream(id) {
			return apierror.New(apierror.Forbidden,
				"Insufficient permissions to update this stream")
		}

		if v, has := update["name"].(string); has {
			s.Name = v
		}
		if raw, has := update["parentId"]; has {
			if raw == nil {
				s.ParentID = nil
			} else if p, ok := raw.(string); ok {
				parentID := c.Translator.IngressID(p)
				if parentID == id {
					return apierror.New(apierror.InvalidOperation,
						"A stream cannot be its own parent")
				}
				if !c.Tree.Exists(parentID) {
					return apierror.NewUnknownReferencedResource("stream", []string{parentID})
				}
				if c.Tree.IsOrInSubtree(parentID, id) {
					return apierror.New(apierror.InvalidOperation,
						"Moving a stream under its own descendant would create a cycle")
				}
				if !c.CanManageStream(parentID) {
					return apierror.New(apierror.Forbidden,
						"Insufficient permissions on the target parent stream")
				}
				s.ParentID = &parentID
			}
		}
		if v, has := update["singleActivity"].(bool); has {
			s.SingleActivity = v
		}
		if v, has := update["clientData"].(map[string]interface{}); has {
			s.ClientData = v
		}
		if v, has := update["trashed"].(bool); has {
			s.Trashed = v
		}

		if c.Tree.SiblingNameTaken(s.ParentID, s.Name, s.ID) {
			return apierror.NewItemAlreadyExists("stream",
				map[string]interface{}{"name": s.Name})
		}

		c.Touch(&s.Tracked)
		if err := svc.Stores.Streams.Update(c.Ctx, c.Username, s); err != nil {
			return err
		}
		if err := c.RefreshTree(); err != nil {
			return err
		}
		svc.Bus.Publish(c.Ctx, notifications.TopicStreamsChanged, c.Username)
		result.Set("stream", s)
		return nil
	}
}

func streamsDelete(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		id := c.Translator.IngressID(paramString(params, "id"))
		merge := paramBool(params, "mergeEventsWithParent")

		if err := checkMutableStreamID(id); err != nil {
			return err
		}
		s, err := svc.Stores.Streams.Get(c.Ctx, c.Username, id)
		if err == storage.ErrNotFound {
			return apierror.NewUnknownResource("stream", id)
		}
		if err != nil {
			return err
		}
		if !c.CanManageStream(id) {
			return apierror.New(apierror.Forbidden,
				"Insufficient permissions to delete this stream")
		}
		if !s.Trashed {
			return apierror.New(apierror.InvalidParametersFormat,
				"Streams must be trashed before deletion")
		}
		if merge && s.ParentID == nil {
			return apierror.New(apierror.InvalidOperation,
				"A root stream has no parent to merge events into")
		}

		expanded := c.Tree.ExpandWithDescendants(id, true)
		inScope := make(map[string]bool, len(expanded))
		for _, sid := range expanded {
			inScope[sid] = true
		}

		filter := &storage.EventsFilter{
			Streams: &storage.StreamFilter{Or: []storage.StreamClause{{Any: expanded}}},
			State:   storage.StateAll,
		}
		linked, err := svc.Stores.Events.Find(c.Ctx, c.Username, filter)
		if err != nil {
			return err
		}

		eventsTouched := false
		for _, e := range linked {
			if svc.Versioning.ForceKeepHistory {
				if err := svc.Stores.Events.AddHistory(c.Ctx, c.Username, versioning.HistoryEntry(e)); err != nil {
					return err
				}
			}
			var kept []string
			for _, sid := range e.StreamIDs {
				if !inScope[sid] {
					kept = append(kept, sid)
				}
			}
			if merge {
				kept = append(kept, *s.ParentID)
				e.StreamIDs = dedupe(kept)
				c.Touch(&e.Tracked)
				if err := svc.Stores.Events.Update(c.Ctx, c.Username, e); err != nil {
					return err
				}
			} else if len(kept) == 0 {
				if err := deleteEventFinal(c, svc, e); err != nil {
					return err
				}
			} else {
				e.StreamIDs = kept
				c.Touch(&e.Tracked)
				if err := svc.Stores.Events.Update(c.Ctx, c.Username, e); err != nil {
					return err
				}
			}
			eventsTouched = true
		}

		now := c.Now()
		for _, sid := range expanded {
			if err := svc.Stores.Streams.Delete(c.Ctx, c.Username, sid, now); err != nil {
				return err
			}
		}
		if err := c.RefreshTree(); err != nil {
			return err
		}
		svc.Bus.Publish(c.Ctx, notifications.TopicStreamsChanged, c.Username)
		if eventsTouched {
			svc.Bus.Publish(c.Ctx, notifications.TopicEventsChanged, c.Username)
		}
		result.Set("streamDeletion", map[string]interface{}{"id": id, "deleted": now})
		return nil
	}
}
