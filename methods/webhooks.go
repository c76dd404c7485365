package methods

import (
	"github.com/google/uuid"

	"open-pryv.io/core/api"
	"open-pryv.io/core/apierror"
	"open-pryv.io/core/model"
	"open-pryv.io/core/storage"
)

const webhooksCreateSchema = `{
	"type": "object",
	"properties": {
		"url": {"type": "string", "minLength": 1}
	},
	"required": ["url"]
}`

const webhooksUpdateSchema = `{
	"type": "object",
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"update": {
			"type": "object",
			"properties": {
				"state": {"type": "string", "enum": ["active", "inactive"]}
			},
			"additionalProperties": false
		}
	},
	"required": ["id", "update"]
}`

const webhooksGetOneSchema = `{
	"type": "object",
	"properties": {
		"id": {"type": "string", "minLength": 1}
	},
	"required": ["id"]
}`

func registerWebhooks(reg *api.Registry, svc *api.Services) {
	reg.Register("webhooks.get",
		requireAccess,
		requireWebhookCapable,
		webhooksGet(svc),
	)
	reg.Register("webhooks.getOne",
		api.ValidateParams(webhooksGetOneSchema),
		requireAccess,
		requireWebhookCapable,
		webhooksGetOne(svc),
	)
	reg.Register("webhooks.create",
		api.ValidateParams(webhooksCreateSchema),
		requireAccess,
		requireWebhookCapable,
		webhooksCreate(svc),
	)
	reg.Register("webhooks.update",
		api.ValidateParams(webhooksUpdateSchema),
		requireAccess,
		requireWebhookCapable,
		webhooksUpdate(svc),
	)
	reg.Register("webhooks.delete",
		api.ValidateParams(webhooksGetOneSchema),
		requireAccess,
		requireWebhookCapable,
		webhooksDelete(svc),
	)
}

// requireWebhookCapable limits webhooks to personal and app accesses.
func requireWebhookCapable(c *api.Context, params api.Params, result *api.Result) error {
	if c.Access.IsPersonal() || c.Access.IsApp() {
		return nil
	}
	return apierror.New(apierror.Forbidden,
		"Shared accesses cannot manage webhooks")
}

// canSeeWebhook: personal sees all, an app access only its own.
func canSeeWebhook(c *api.Context, w *model.Webhook) bool {
	return c.Access.IsPersonal() || w.AccessID == c.Access.ID
}

func webhooksGet(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		all, err := svc.Stores.Webhooks.All(c.Ctx, c.Username)
		if err != nil {
			return err
		}
		out := []*model.Webhook{}
		for _, w := range all {
			if canSeeWebhook(c, w) {
				out = append(out, w)
			}
		}
		result.Set("webhooks", out)
		return nil
	}
}

func webhooksGetOne(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		id := paramString(params, "id")
		w, err := svc.Stores.Webhooks.Get(c.Ctx, c.Username, id)
		if err == storage.ErrNotFound {
			return apierror.NewUnknownResource("webhook", id)
		}
		if err != nil {
			return err
		}
		if !canSeeWebhook(c, w) {
			return apierror.NewUnknownResource("webhook", id)
		}
		result.Set("webhook", w)
		return nil
	}
}

func webhooksCreate(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		url := paramString(params, "url")

		all, err := svc.Stores.Webhooks.All(c.Ctx, c.Username)
		if err != nil {
			return err
		}
		for _, w := range all {
			if w.URL == url && w.AccessID == c.Access.ID {
				return apierror.NewItemAlreadyExists("webhook",
					map[string]interface{}{"url": url})
			}
		}

		w := &model.Webhook{
			ID:            uuid.New().String(),
			AccessID:      c.Access.ID,
			URL:           url,
			State:         model.WebhookActive,
			Runs:          []model.WebhookRun{},
			MinIntervalMs: svc.Config.Webhooks.MinIntervalMs,
			MaxRetries:    svc.Config.Webhooks.MaxRetries,
		}
		c.InitTracking(&w.Tracked)
		if err := svc.Stores.Webhooks.Create(c.Ctx, c.Username, w); err != nil {
			return err
		}
		result.Set("webhook", w)
		return nil
	}
}

func webhooksUpdate(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		id := paramString(params, "id")
		update, _ := params["update"].(map[string]interface{})

		w, err := svc.Stores.Webhooks.Get(c.Ctx, c.Username, id)
		if err == storage.ErrNotFound {
			return apierror.NewUnknownResource("webhook", id)
		}
		if err != nil {
			return err
		}
		if !canSeeWebhook(c, w) {
			return apierror.NewUnknownResource("webhook", id)
		}

		if state, has := update["state"].(string); has {
			w.State = state
			if state == model.WebhookActive {
				// Reactivation resets the retry budget.
				w.CurrentRetries = 0
			}
		}
		c.Touch(&w.Tracked)
		if err := svc.Stores.Webhooks.Update(c.Ctx, c.Username, w); err != nil {
			return err
		}
		result.Set("webhook", w)
		return nil
	}
}

func webhooksDelete(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		id := paramString(params, "id")
		w, err := svc.Stores.Webhooks.Get(c.Ctx, c.Username, id)
		if err == storage.ErrNotFound {
			return apierror.NewUnknownResource("webhook", id)
		}
		if err != nil {
			return err
		}
		if !canSeeWebhook(c, w) {
			return apierror.NewUnknownResource("webhook", id)
		}
		if err := svc.Stores.Webhooks.Delete(c.Ctx, c.Username, id); err != nil {
			return err
		}
		result.Set("webhookDeletion", map[string]interface{}{"id": id, "deleted": c.Now()})
		return nil
	}
}
