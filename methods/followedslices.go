package methods

import (
	"github.com/google/uuid"

	"open-pryv.io/core/api"
	"open-pryv.io/core/apierror"
	"open-pryv.io/core/model"
	"open-pryv.io/core/notifications"
	"open-pryv.io/core/storage"
)

const followedSlicesCreateSchema = `{
	"type": "object",
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"url": {"type": "string", "minLength": 1},
		"accessToken": {"type": "string", "minLength": 1}
	},
	"required": ["name", "url", "accessToken"]
}`

const followedSlicesUpdateSchema = `{
	"type": "object",
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"update": {"type": "object"}
	},
	"required": ["id", "update"]
}`

const followedSlicesDeleteSchema = `{
	"type": "object",
	"properties": {
		"id": {"type": "string", "minLength": 1}
	},
	"required": ["id"]
}`

func registerFollowedSlices(reg *api.Registry, svc *api.Services) {
	reg.Register("followedSlices.get",
		requirePersonal,
		followedSlicesGet(svc),
	)
	reg.Register("followedSlices.create",
		api.ValidateParams(followedSlicesCreateSchema),
		requirePersonal,
		followedSlicesCreate(svc),
	)
	reg.Register("followedSlices.update",
		api.ValidateParams(followedSlicesUpdateSchema),
		requirePersonal,
		followedSlicesUpdate(svc),
	)
	reg.Register("followedSlices.delete",
		api.ValidateParams(followedSlicesDeleteSchema),
		requirePersonal,
		followedSlicesDelete(svc),
	)
}

func followedSlicesGet(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		slices, err := svc.Stores.FollowedSlices.All(c.Ctx, c.Username)
		if err != nil {
			return err
		}
		if slices == nil {
			slices = []*model.FollowedSlice{}
		}
		result.Set("followedSlices", slices)
		return nil
	}
}

func followedSlicesCreate(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		slice := &model.FollowedSlice{
			ID:          uuid.New().String(),
			Name:        paramString(params, "name"),
			URL:         paramString(params, "url"),
			AccessToken: paramString(params, "accessToken"),
		}

		existing, err := svc.Stores.FollowedSlices.All(c.Ctx, c.Username)
		if err != nil {
			return err
		}
		for _, s := range existing {
			if s.Name == slice.Name {
				return apierror.NewItemAlreadyExists("followed slice",
					map[string]interface{}{"name": slice.Name})
			}
		}

		c.InitTracking(&slice.Tracked)
		if err := svc.Stores.FollowedSlices.Create(c.Ctx, c.Username, slice); err != nil {
			return err
		}
		svc.Bus.Publish(c.Ctx, notifications.TopicFollowedSlicesChanged, c.Username)
		result.Set("followedSlice", slice)
		return nil
	}
}

func followedSlicesUpdate(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		id := paramString(params, "id")
		update, _ := params["update"].(map[string]interface{})

		slice, err := svc.Stores.FollowedSlices.Get(c.Ctx, c.Username, id)
		if err == storage.ErrNotFound {
			return apierror.NewUnknownResource("followed slice", id)
		}
		if err != nil {
			return err
		}

		if v, has := update["name"].(string); has {
			all, err := svc.Stores.FollowedSlices.All(c.Ctx, c.Username)
			if err != nil {
				return err
			}
			for _, s := range all {
				if s.ID != id && s.Name == v {
					return apierror.NewItemAlreadyExists("followed slice",
						map[string]interface{}{"name": v})
				}
			}
			slice.Name = v
		}
		if v, has := update["url"].(string); has {
			slice.URL = v
		}
		if v, has := update["accessToken"].(string); has {
			slice.AccessToken = v
		}

		c.Touch(&slice.Tracked)
		if err := svc.Stores.FollowedSlices.Update(c.Ctx, c.Username, slice); err != nil {
			return err
		}
		svc.Bus.Publish(c.Ctx, notifications.TopicFollowedSlicesChanged, c.Username)
		result.Set("followedSlice", slice)
		return nil
	}
}

func followedSlicesDelete(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		id := paramString(params, "id")
		if _, err := svc.Stores.FollowedSlices.Get(c.Ctx, c.Username, id); err != nil {
			if err == storage.ErrNotFound {
				return apierror.NewUnknownResource("followed slice", id)
			}
			return err
		}
		if err := svc.Stores.FollowedSlices.Delete(c.Ctx, c.Username, id); err != nil {
			return err
		}
		svc.Bus.Publish(c.Ctx, notifications.TopicFollowedSlicesChanged, c.Username)
		result.Set("followedSliceDeletion", map[string]interface{}{"id": id, "deleted": c.Now()})
		return nil
	}
}
