package methods

import (
	"open-pryv.io/core/api"
	"open-pryv.io/core/apierror"
)

// Profile scopes.
const (
	ProfilePublic  = "public"
	ProfilePrivate = "private"
	ProfileApp     = "app"
)

const profileGetSchema = `{
	"type": "object",
	"properties": {
		"id": {"type": "string", "enum": ["public", "private", "app"]}
	},
	"required": ["id"]
}`

const profileUpdateSchema = `{
	"type": "object",
	"properties": {
		"id": {"type": "string", "enum": ["public", "private", "app"]},
		"update": {"type": "object"}
	},
	"required": ["id", "update"]
}`

func registerProfile(reg *api.Registry, svc *api.Services) {
	reg.Register("profile.get",
		api.ValidateParams(profileGetSchema),
		requireAccess,
		profileGet(svc),
	)
	reg.Register("profile.update",
		api.ValidateParams(profileUpdateSchema),
		requireAccess,
		profileUpdate(svc),
	)
}

// profileScope resolves the storage scope for the caller, enforcing who may
// touch which profile set. App profiles are keyed by the app access name.
func profileScope(c *api.Context, id string) (string, error) {
	switch id {
	case ProfilePublic, ProfilePrivate:
		if !c.Access.IsPersonal() {
			return "", apierror.New(apierror.Forbidden,
				"Only personal accesses may access this profile set")
		}
		return id, nil
	case ProfileApp:
		if !c.Access.IsApp() {
			return "", apierror.New(apierror.Forbidden,
				"Only app accesses have an app profile set")
		}
		return ProfileApp + ":" + c.Access.Name, nil
	}
	return "", apierror.New(apierror.InvalidParametersFormat, "Unknown profile set")
}

func profileGet(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		scope, err := profileScope(c, paramString(params, "id"))
		if err != nil {
			return err
		}
		content, err := svc.Stores.Profile.Get(c.Ctx, c.Username, scope)
		if err != nil {
			return err
		}
		if content == nil {
			content = map[string]interface{}{}
		}
		result.Set("profile", content)
		return nil
	}
}

func profileUpdate(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		scope, err := profileScope(c, paramString(params, "id"))
		if err != nil {
			return err
		}
		update, _ := params["update"].(map[string]interface{})

		content, err := svc.Stores.Profile.Get(c.Ctx, c.Username, scope)
		if err != nil {
			return err
		}
		if content == nil {
			content = map[string]interface{}{}
		}
		// Merge semantics: null values delete keys.
		for k, v := range update {
			if v == nil {
				delete(content, k)
				continue
			}
			content[k] = v
		}
		if err := svc.Stores.Profile.Set(c.Ctx, c.Username, scope, content); err != nil {
			return err
		}
		result.Set("profile", content)
		return nil
	}
}
