package methods

import (
	"fmt"

	"github.com/google/uuid"

	"open-pryv.io/core/api"
	"open-pryv.io/core/apierror"
	"open-pryv.io/core/attachments"
	"open-pryv.io/core/model"
	"open-pryv.io/core/notifications"
	"open-pryv.io/core/storage"
	"open-pryv.io/core/streams"
	"open-pryv.io/core/versioning"
)

const eventsGetSchema = `{
	"type": "object",
	"properties": {
		"streams": {},
		"fromTime": {"type": "number"},
		"toTime": {"type": "number"},
		"types": {"type": "array", "items": {"type": "string"}},
		"state": {"type": "string", "enum": ["default", "trashed", "all"]},
		"modifiedSince": {"type": "number"},
		"includeDeletions": {"type": ["boolean", "string"]},
		"sortAscending": {"type": ["boolean", "string"]},
		"skip": {"type": "number"},
		"limit": {"type": "number"}
	}
}`

const eventsGetOneSchema = `{
	"type": "object",
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"includeHistory": {"type": ["boolean", "string"]}
	},
	"required": ["id"]
}`

const eventsCreateSchema = `{
	"type": "object",
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"streamId": {"type": "string"},
		"streamIds": {"type": "array", "items": {"type": "string"}},
		"type": {"type": "string", "minLength": 1},
		"time": {"type": "number"},
		"duration": {"type": ["number", "null"]},
		"content": {},
		"description": {"type": "string"},
		"tags": {"type": "array", "items": {"type": "string"}},
		"clientData": {"type": "object"}
	},
	"required": ["type"]
}`

const eventsUpdateSchema = `{
	"type": "object",
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"update": {"type": "object"}
	},
	"required": ["id", "update"]
}`

const eventsDeleteSchema = `{
	"type": "object",
	"properties": {
		"id": {"type": "string", "minLength": 1}
	},
	"required": ["id"]
}`

const eventsDeleteAttachmentSchema = `{
	"type": "object",
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"fileId": {"type": "string", "minLength": 1}
	},
	"required": ["id", "fileId"]
}`

// defaultEventsLimit applies when neither a time window nor an explicit
// limit bounds the query.
const defaultEventsLimit = 20

func registerEvents(reg *api.Registry, svc *api.Services) {
	reg.Register("events.get",
		api.ValidateParams(eventsGetSchema),
		requireAccess,
		eventsGet(svc),
	)
	reg.Register("events.getOne",
		api.ValidateParams(eventsGetOneSchema),
		requireAccess,
		eventsGetOne(svc),
	)
	reg.Register("events.create",
		api.ValidateParams(eventsCreateSchema),
		requireAccess,
		eventsCreate(svc),
	)
	reg.Register("events.update",
		api.ValidateParams(eventsUpdateSchema),
		requireAccess,
		eventsUpdate(svc),
	)
	reg.Register("events.delete",
		api.ValidateParams(eventsDeleteSchema),
		requireAccess,
		eventsDelete(svc),
	)
	reg.Register("events.deleteAttachment",
		api.ValidateParams(eventsDeleteAttachmentSchema),
		requireAccess,
		eventsDeleteAttachment(svc),
	)
}

// egressEvent prepares an event for a response: fresh copy, legacy prefix
// translation, attachment read tokens.
func egressEvent(c *api.Context, svc *api.Services, e *model.Event) *model.Event {
	out := *e
	out.StreamIDs = append([]string(nil), e.StreamIDs...)
	out.Attachments = append([]model.Attachment(nil), e.Attachments...)
	c.Translator.EgressEvent(&out, c.DisableCompat)
	secret := svc.Config.Auth.FilesReadTokenSecret
	if secret != "" && c.Access != nil {
		for i := range out.Attachments {
			out.Attachments[i].ReadToken = attachments.BuildReadToken(
				c.Access.ID, c.Access.Token, out.Attachments[i].ID, secret)
		}
	}
	return &out
}

func eventsGet(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		state := paramString(params, "state")
		if state == "" {
			state = storage.StateDefault
		}

		compiler := streams.NewCompiler(c.Tree, c.Eval, c.Translator)
		streamFilter, err := compiler.Compile(params["streams"],
			streams.CompileOptions{IncludeTrashed: state == storage.StateAll})
		if err != nil {
			return err
		}

		filter := &storage.EventsFilter{
			Streams:       streamFilter,
			FromTime:      paramFloat(params, "fromTime"),
			ToTime:        paramFloat(params, "toTime"),
			State:         state,
			ModifiedSince: paramFloat(params, "modifiedSince"),
			Skip:          paramInt(params, "skip", 0),
			Limit:         paramInt(params, "limit", 0),
			SortAscending: paramBool(params, "sortAscending"),
		}
		if types, ok := params["types"].([]interface{}); ok {
			for _, t := range types {
				if s, ok := t.(string); ok {
					filter.Types = append(filter.Types, s)
				}
			}
		}
		if filter.Limit == 0 && filter.FromTime == nil && filter.ToTime == nil {
			filter.Limit = defaultEventsLimit
		}

		result.SetStreamed("events", func(yield func(item interface{}) error) error {
			return svc.Stores.Events.FindEach(c.Ctx, c.Username, filter, func(e *model.Event) error {
				return yield(egressEvent(c, svc, e))
			})
		})

		if paramBool(params, "includeDeletions") {
			since := 0.0
			if filter.ModifiedSince != nil {
				since = *filter.ModifiedSince
			}
			deletions, err := svc.Stores.Events.Deletions(c.Ctx, c.Username, since)
			if err != nil {
				return err
			}
			out := make([]map[string]interface{}, 0, len(deletions))
			for _, d := range deletions {
				out = append(out, map[string]interface{}{"id": d.ID, "deleted": d.Deleted})
			}
			result.Set("eventDeletions", out)
		}
		return nil
	}
}

func eventsGetOne(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		id := paramString(params, "id")
		e, err := svc.Stores.Events.Get(c.Ctx, c.Username, id)
		if err == storage.ErrNotFound {
			return apierror.NewUnknownResource("event", id)
		}
		if err != nil {
			return err
		}
		if e.Deleted != nil {
			return apierror.NewUnknownResource("event", id)
		}
		if !c.Eval.CanReadEvent(e.StreamIDs) {
			return apierror.New(apierror.Forbidden,
				"Insufficient permissions to read this event")
		}
		result.Set("event", egressEvent(c, svc, e))

		if paramBool(params, "includeHistory") {
			history, err := svc.Stores.Events.History(c.Ctx, c.Username, id)
			if err != nil {
				return err
			}
			out := make([]*model.Event, 0, len(history))
			for _, h := range history {
				out = append(out, egressEvent(c, svc, h))
			}
			result.Set("history", out)
		}
		return nil
	}
}

// resolveEventStreamIDs normalizes streamId/streamIds/tags params into the
// canonical stream id set and validates it against the tree.
func resolveEventStreamIDs(c *api.Context, params api.Params) ([]string, error) {
	var ids []string
	if s := paramString(params, "streamId"); s != "" {
		ids = append(ids, s)
	}
	if raw, ok := params["streamIds"].([]interface{}); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				ids = append(ids, s)
			}
		}
	}
	ids = c.Translator.IngressIDs(ids)
	if raw, ok := params["tags"].([]interface{}); ok {
		var tags []string
		for _, v := range raw {
			if s, ok := v.(string); ok {
				tags = append(tags, s)
			}
		}
		ids = append(ids, c.Translator.TagsToStreamIDs(tags)...)
	}
	ids = dedupe(ids)

	if len(ids) == 0 {
		return nil, apierror.New(apierror.InvalidParametersFormat,
			"At least one stream id is required")
	}
	var unknown []string
	for _, id := range ids {
		if streams.IsPrivateID(id) && !streams.IsTagStreamID(id) {
			return nil, apierror.New(apierror.InvalidOperation,
				fmt.Sprintf("Events cannot target the private system stream %q", id))
		}
		storeID, _ := streams.ParseStoreID(id)
		if storeID != streams.LocalStoreID && !streams.IsSystemID(id) {
			continue
		}
		if !c.Tree.Exists(id) && !streams.IsTagStreamID(id) {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return nil, apierror.NewUnknownReferencedResource("stream", unknown)
	}
	return ids, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// checkSingleActivityOverlap rejects a duration-bearing event overlapping
// another one on a singleActivity stream.
func checkSingleActivityOverlap(c *api.Context, svc *api.Services, e *model.Event, excludeID string) error {
	if e.Duration == nil {
		return nil
	}
	for _, id := range e.StreamIDs {
		s := c.Tree.Get(id)
		if s == nil || !s.SingleActivity {
			continue
		}
		filter := &storage.EventsFilter{
			Streams: &storage.StreamFilter{Or: []storage.StreamClause{{Any: []string{id}}}},
			State:   storage.StateDefault,
		}
		existing, err := svc.Stores.Events.Find(c.Ctx, c.Username, filter)
		if err != nil {
			return err
		}
		for _, other := range existing {
			if other.ID == excludeID || other.Duration == nil {
				continue
			}
			if e.Time < other.Time+*other.Duration && other.Time < e.Time+*e.Duration {
				return apierror.NewWithData(apierror.InvalidOperation,
					"Another period event overlaps on a single-activity stream",
					map[string]interface{}{"overlappedId": other.ID, "streamId": id})
			}
		}
	}
	return nil
}

func eventsCreate(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		ids, err := resolveEventStreamIDs(c, params)
		if err != nil {
			return err
		}
		if !c.Eval.CanCreateEvent(ids) {
			return apierror.New(apierror.Forbidden,
				"Insufficient permissions to create events on these streams")
		}

		e := &model.Event{
			ID:          paramString(params, "id"),
			StreamIDs:   ids,
			Type:        paramString(params, "type"),
			Time:        c.Now(),
			Duration:    paramFloat(params, "duration"),
			Content:     params["content"],
			Description: paramString(params, "description"),
		}
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if t := paramFloat(params, "time"); t != nil {
			e.Time = *t
		}
		if cd, ok := params["clientData"].(map[string]interface{}); ok {
			e.ClientData = cd
		}
		c.InitTracking(&e.Tracked)

		if err := checkSingleActivityOverlap(c, svc, e, ""); err != nil {
			return err
		}

		// Staged uploads arrive from the HTTP layer pre-written to the temp
		// area; attaching moves them under the user directory.
		if staged, ok := params["attachedFiles"].([]*attachments.StagedFile); ok {
			for _, sf := range staged {
				if err := svc.Files.Attach(c.Username, e.ID, sf); err != nil {
					return err
				}
				fileName, _ := params["attachedFileNames"].(map[string]string)
				fileTypes, _ := params["attachedFileTypes"].(map[string]string)
				e.Attachments = append(e.Attachments, model.Attachment{
					ID:        sf.ID,
					FileName:  fileName[sf.ID],
					Type:      fileTypes[sf.ID],
					Size:      sf.Size,
					Integrity: sf.Integrity,
				})
			}
		}

		if err := svc.Stores.Events.Create(c.Ctx, c.Username, e); err != nil {
			if err == storage.ErrDuplicate {
				return apierror.NewItemAlreadyExists("event",
					map[string]interface{}{"id": e.ID})
			}
			return err
		}
		svc.Bus.Publish(c.Ctx, notifications.TopicEventsChanged, c.Username)
		result.Set("event", egressEvent(c, svc, e))
		return nil
	}
}

// eventProtectedFields cannot be changed through events.update.
var eventProtectedFields = []string{"id", "attachments", "created", "createdBy", "modified", "modifiedBy"}

func eventsUpdate(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		id := paramString(params, "id")
		update, _ := params["update"].(map[string]interface{})

		prior, err := svc.Stores.Events.Get(c.Ctx, c.Username, id)
		if err == storage.ErrNotFound {
			return apierror.NewUnknownResource("event", id)
		}
		if err != nil {
			return err
		}
		if prior.Deleted != nil {
			return apierror.NewUnknownResource("event", id)
		}
		if !c.Eval.CanUpdateEvent(prior.StreamIDs) {
			return apierror.New(apierror.Forbidden,
				"Insufficient permissions to update this event")
		}

		for _, f := range eventProtectedFields {
			if _, has := update[f]; has {
				if svc.Config.Updates.IgnoreProtectedFields {
					delete(update, f)
					continue
				}
				return apierror.New(apierror.Forbidden,
					fmt.Sprintf("Forbidden update on protected field %q", f))
			}
		}

		updated := *prior
		updated.StreamIDs = append([]string(nil), prior.StreamIDs...)
		updated.Attachments = append([]model.Attachment(nil), prior.Attachments...)
		if err := applyEventUpdate(c, &updated, update); err != nil {
			return err
		}

		// Moving between streams needs the create capability on every added
		// stream.
		added := difference(updated.StreamIDs, prior.StreamIDs)
		if len(added) > 0 {
			var unknown []string
			for _, sid := range added {
				if !c.Tree.Exists(sid) {
					unknown = append(unknown, sid)
				}
			}
			if len(unknown) > 0 {
				return apierror.NewUnknownReferencedResource("stream", unknown)
			}
			if !c.Eval.CanMoveEventTo(added) {
				return apierror.New(apierror.Forbidden,
					"Insufficient permissions on the target streams")
			}
		}
		if len(updated.StreamIDs) == 0 {
			return apierror.New(apierror.InvalidParametersFormat,
				"An event requires at least one stream id")
		}

		if err := checkSingleActivityOverlap(c, svc, &updated, prior.ID); err != nil {
			return err
		}

		if svc.Versioning.ForceKeepHistory {
			if err := svc.Stores.Events.AddHistory(c.Ctx, c.Username, versioning.HistoryEntry(prior)); err != nil {
				return err
			}
		}

		c.Touch(&updated.Tracked)
		if err := svc.Stores.Events.Update(c.Ctx, c.Username, &updated); err != nil {
			return err
		}
		svc.Bus.Publish(c.Ctx, notifications.TopicEventsChanged, c.Username)
		result.Set("event", egressEvent(c, svc, &updated))
		return nil
	}
}

func applyEventUpdate(c *api.Context, e *model.Event, update map[string]interface{}) error {
	if raw, has := update["streamIds"]; has {
		ids, err := decodeStringArray(raw)
		if err != nil {
			return apierror.New(apierror.InvalidParametersFormat,
				"'streamIds' must be an array of strings")
		}
		e.StreamIDs = dedupe(c.Translator.IngressIDs(ids))
	}
	if s, has := update["streamId"].(string); has {
		e.StreamIDs = []string{c.Translator.IngressID(s)}
	}
	if v, has := update["type"].(string); has {
		e.Type = v
	}
	if v, has := update["time"].(float64); has {
		e.Time = v
	}
	if raw, has := update["duration"]; has {
		if raw == nil {
			e.Duration = nil
		} else if v, ok := raw.(float64); ok {
			e.Duration = &v
		}
	}
	if _, has := update["content"]; has {
		e.Content = update["content"]
	}
	if v, has := update["description"].(string); has {
		e.Description = v
	}
	if v, has := update["clientData"].(map[string]interface{}); has {
		e.ClientData = v
	}
	if v, has := update["trashed"].(bool); has {
		e.Trashed = v
	}
	return nil
}

func decodeStringArray(raw interface{}) ([]string, error) {
	arr, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("not an array")
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("not a string array")
		}
		out = append(out, s)
	}
	return out, nil
}

func difference(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, id := range b {
		inB[id] = true
	}
	var out []string
	for _, id := range a {
		if !inB[id] {
			out = append(out, id)
		}
	}
	return out
}

func eventsDelete(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		id := paramString(params, "id")
		e, err := svc.Stores.Events.Get(c.Ctx, c.Username, id)
		if err == storage.ErrNotFound {
			return apierror.NewUnknownResource("event", id)
		}
		if err != nil {
			return err
		}
		if e.Deleted != nil {
			return apierror.NewUnknownResource("event", id)
		}
		if !c.Eval.CanUpdateEvent(e.StreamIDs) {
			return apierror.New(apierror.Forbidden,
				"Insufficient permissions to delete this event")
		}

		if !e.Trashed {
			// First delete trashes; the second one is final.
			if svc.Versioning.ForceKeepHistory {
				if err := svc.Stores.Events.AddHistory(c.Ctx, c.Username, versioning.HistoryEntry(e)); err != nil {
					return err
				}
			}
			e.Trashed = true
			c.Touch(&e.Tracked)
			if err := svc.Stores.Events.Update(c.Ctx, c.Username, e); err != nil {
				return err
			}
			svc.Bus.Publish(c.Ctx, notifications.TopicEventsChanged, c.Username)
			result.Set("event", egressEvent(c, svc, e))
			return nil
		}

		if err := deleteEventFinal(c, svc, e); err != nil {
			return err
		}
		svc.Bus.Publish(c.Ctx, notifications.TopicEventsChanged, c.Username)
		result.Set("eventDeletion", map[string]interface{}{"id": e.ID, "deleted": *e.Deleted})
		return nil
	}
}

// deleteEventFinal applies the configured deletion mode: tombstone shaping,
// history purge or minimization, attachment removal.
func deleteEventFinal(c *api.Context, svc *api.Services, e *model.Event) error {
	now := c.Now()
	switch {
	case !svc.Versioning.KeepsHistoryOnDelete():
		if err := svc.Stores.Events.DeleteHistory(c.Ctx, c.Username, e.ID); err != nil {
			return err
		}
	case svc.Versioning.MinimizesHistoryOnDelete():
		history, err := svc.Stores.Events.History(c.Ctx, c.Username, e.ID)
		if err != nil {
			return err
		}
		for _, h := range history {
			if err := svc.Stores.Events.UpdateHistory(c.Ctx, c.Username, versioning.MinimizeHistoryEntry(h)); err != nil {
				return err
			}
		}
	}
	if len(e.Attachments) > 0 {
		if err := svc.Files.RemoveEvent(c.Username, e.ID); err != nil {
			return err
		}
	}
	tombstone := svc.Versioning.EventTombstone(e, now)
	*e = *tombstone
	return svc.Stores.Events.Update(c.Ctx, c.Username, tombstone)
}

func eventsDeleteAttachment(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		id := paramString(params, "id")
		fileID := paramString(params, "fileId")

		e, err := svc.Stores.Events.Get(c.Ctx, c.Username, id)
		if err == storage.ErrNotFound {
			return apierror.NewUnknownResource("event", id)
		}
		if err != nil {
			return err
		}
		if e.Deleted != nil {
			return apierror.NewUnknownResource("event", id)
		}
		if !c.Eval.CanUpdateEvent(e.StreamIDs) {
			return apierror.New(apierror.Forbidden,
				"Insufficient permissions to update this event")
		}

		idx := -1
		for i, a := range e.Attachments {
			if a.ID == fileID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return apierror.NewUnknownResource("attachment", fileID)
		}

		if svc.Versioning.ForceKeepHistory {
			if err := svc.Stores.Events.AddHistory(c.Ctx, c.Username, versioning.HistoryEntry(e)); err != nil {
				return err
			}
		}
		if err := svc.Files.Remove(c.Username, e.ID, fileID); err != nil {
			return err
		}
		e.Attachments = append(e.Attachments[:idx], e.Attachments[idx+1:]...)
		c.Touch(&e.Tracked)
		if err := svc.Stores.Events.Update(c.Ctx, c.Username, e); err != nil {
			return err
		}
		svc.Bus.Publish(c.Ctx, notifications.TopicEventsChanged, c.Username)
		result.Set("event", egressEvent(c, svc, e))
		return nil
	}
}
