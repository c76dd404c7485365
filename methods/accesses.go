package methods

import (
	"reflect"

	"github.com/google/uuid"

	"open-pryv.io/core/access"
	"open-pryv.io/core/api"
	"open-pryv.io/core/apierror"
	"open-pryv.io/core/common"
	"open-pryv.io/core/model"
	"open-pryv.io/core/notifications"
	"open-pryv.io/core/storage"
)

const accessesGetSchema = `{
	"type": "object",
	"properties": {
		"includeExpired": {"type": ["boolean", "string"]},
		"includeDeletions": {"type": ["boolean", "string"]}
	}
}`

const accessesCreateSchema = `{
	"type": "object",
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"type": {"type": "string", "enum": ["app", "shared"]},
		"deviceName": {"type": "string"},
		"token": {"type": "string", "minLength": 1},
		"permissions": {"type": "array"},
		"expires": {"type": "number"},
		"clientData": {"type": "object"}
	},
	"required": ["name", "permissions"]
}`

const accessesDeleteSchema = `{
	"type": "object",
	"properties": {
		"id": {"type": "string", "minLength": 1}
	},
	"required": ["id"]
}`

const checkAppSchema = `{
	"type": "object",
	"properties": {
		"requestingAppId": {"type": "string", "minLength": 1},
		"requestedPermissions": {"type": "array"},
		"deviceName": {"type": "string"},
		"clientData": {"type": "object"}
	},
	"required": ["requestingAppId", "requestedPermissions"]
}`

func registerAccesses(reg *api.Registry, svc *api.Services) {
	reg.Register("accesses.get",
		api.ValidateParams(accessesGetSchema),
		requireAccess,
		accessesGet(svc),
	)
	reg.Register("accesses.create",
		api.ValidateParams(accessesCreateSchema),
		requireAccess,
		accessesCreate(svc),
	)
	reg.Register("accesses.update",
		func(c *api.Context, params api.Params, result *api.Result) error {
			return apierror.New(apierror.Gone, "accesses.update has been removed; delete and recreate the access")
		},
	)
	reg.Register("accesses.delete",
		api.ValidateParams(accessesDeleteSchema),
		requireAccess,
		accessesDelete(svc),
	)
	reg.Register("accesses.checkApp",
		api.ValidateParams(checkAppSchema),
		requirePersonal,
		accessesCheckApp(svc),
	)
}

// egressAccess renders an access for a response, permissions translated.
func egressAccess(c *api.Context, a *model.Access) map[string]interface{} {
	out := toMap(a)
	if out != nil {
		out["permissions"] = c.Translator.EgressPermissions(a.Permissions, c.DisableCompat)
	}
	return out
}

func accessesGet(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		includeExpired := paramBool(params, "includeExpired")
		includeDeletions := paramBool(params, "includeDeletions")
		now := c.Now()

		all, err := svc.Stores.Accesses.All(c.Ctx, c.Username)
		if err != nil {
			return err
		}

		var accesses []map[string]interface{}
		var deletions []map[string]interface{}
		for _, a := range all {
			if a.IsDeleted() {
				if includeDeletions && c.Access.IsPersonal() {
					deletions = append(deletions, egressAccess(c, a))
				}
				continue
			}
			if !c.Access.IsPersonal() {
				// Non-personal callers see only live, unexpired accesses they
				// created whose permissions they could still delegate.
				if a.CreatedBy != c.Access.ID || a.ExpiredAt(now) {
					continue
				}
				if access.VerifySubset(c.Eval, a.Permissions) != nil {
					continue
				}
			} else if a.ExpiredAt(now) && !includeExpired {
				continue
			}
			accesses = append(accesses, egressAccess(c, a))
		}
		if accesses == nil {
			accesses = []map[string]interface{}{}
		}
		result.Set("accesses", accesses)
		if includeDeletions && c.Access.IsPersonal() {
			if deletions == nil {
				deletions = []map[string]interface{}{}
			}
			result.Set("accessDeletions", deletions)
		}
		return nil
	}
}

func accessesCreate(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		if _, has := params["deleted"]; has {
			return apierror.New(apierror.InvalidParametersFormat,
				"'deleted' cannot be set on access creation")
		}

		perms, err := decodePermissions(params["permissions"])
		if err != nil {
			return err
		}
		perms = c.Translator.IngressPermissions(perms)
		if err := access.VerifySubset(c.Eval, perms); err != nil {
			return err
		}

		a := &model.Access{
			ID:          uuid.New().String(),
			Name:        paramString(params, "name"),
			Type:        paramString(params, "type"),
			DeviceName:  paramString(params, "deviceName"),
			Token:       paramString(params, "token"),
			Permissions: perms,
			Expires:     paramFloat(params, "expires"),
		}
		if a.Type == "" {
			a.Type = model.AccessShared
		}
		if a.Token == "" {
			a.Token = common.RandomToken(24)
		}
		if cd, ok := params["clientData"].(map[string]interface{}); ok {
			a.ClientData = cd
		}
		c.InitTracking(&a.Tracked)

		// (name, type) unique among non-deleted accesses of the user.
		all, err := svc.Stores.Accesses.All(c.Ctx, c.Username)
		if err != nil {
			return err
		}
		for _, existing := range all {
			if !existing.IsDeleted() && existing.Name == a.Name && existing.Type == a.Type {
				return apierror.NewItemAlreadyExists("access",
					map[string]interface{}{"name": a.Name, "type": a.Type})
			}
		}

		if err := svc.Stores.Accesses.Create(c.Ctx, c.Username, a); err != nil {
			if err == storage.ErrDuplicate {
				return apierror.NewItemAlreadyExists("access",
					map[string]interface{}{"name": a.Name, "type": a.Type})
			}
			return err
		}
		svc.Cache.InvalidateUser(c.Ctx, c.Username)
		svc.Bus.Publish(c.Ctx, notifications.TopicAccessesChanged, c.Username)

		result.Set("access", egressAccess(c, a))
		return nil
	}
}

func accessesDelete(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		id := paramString(params, "id")
		target, err := svc.Stores.Accesses.Get(c.Ctx, c.Username, id)
		if err == storage.ErrNotFound {
			return apierror.NewUnknownResource("access", id)
		}
		if err != nil {
			return err
		}
		if target.IsDeleted() {
			return apierror.New(apierror.Forbidden, "Access is already deleted")
		}
		if !c.Access.IsPersonal() {
			switch {
			case target.ID == c.Access.ID:
				if !c.Access.CanSelfRevoke() {
					return apierror.New(apierror.Forbidden,
						"This access is not allowed to revoke itself")
				}
			case target.CreatedBy == c.Access.ID:
				// deleting an access it created is fine
			default:
				return apierror.New(apierror.Forbidden,
					"Insufficient permissions to delete this access")
			}
		}

		now := c.Now()
		target.Deleted = &now
		if err := svc.Stores.Accesses.Update(c.Ctx, c.Username, target); err != nil {
			return err
		}
		result.Set("accessDeletion", map[string]interface{}{"id": target.ID, "deleted": now})

		// Cascade to live, unexpired accesses the target created.
		all, err := svc.Stores.Accesses.All(c.Ctx, c.Username)
		if err != nil {
			return err
		}
		var related []map[string]interface{}
		for _, a := range all {
			if a.IsDeleted() || a.CreatedBy != target.ID || a.ID == target.ID {
				continue
			}
			if a.ExpiredAt(now) {
				continue
			}
			a.Deleted = &now
			if err := svc.Stores.Accesses.Update(c.Ctx, c.Username, a); err != nil {
				return err
			}
			related = append(related, map[string]interface{}{"id": a.ID, "deleted": now})
		}
		if related != nil {
			result.Set("relatedDeletions", related)
		}

		svc.Cache.InvalidateUser(c.Ctx, c.Username)
		svc.Bus.Publish(c.Ctx, notifications.TopicAccessesChanged, c.Username)
		return nil
	}
}

func accessesCheckApp(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		appID := paramString(params, "requestingAppId")
		requested, err := decodePermissions(params["requestedPermissions"])
		if err != nil {
			return err
		}
		requested = c.Translator.IngressPermissions(requested)
		clientData, _ := params["clientData"].(map[string]interface{})

		all, err := svc.Stores.Accesses.All(c.Ctx, c.Username)
		if err != nil {
			return err
		}
		now := c.Now()
		for _, a := range all {
			if a.IsDeleted() || a.Type != model.AccessApp || a.Name != appID || a.ExpiredAt(now) {
				continue
			}
			if permissionsEqual(a.Permissions, requested) && reflect.DeepEqual(a.ClientData, clientData) {
				result.Set("matchingAccess", egressAccess(c, a))
			} else {
				result.Set("mismatchingAccess", egressAccess(c, a))
			}
			break
		}
		result.Set("checkedPermissions",
			c.Translator.EgressPermissions(requested, c.DisableCompat))
		return nil
	}
}

// permissionsEqual compares permission sets ignoring order.
func permissionsEqual(a, b []model.Permission) bool {
	if len(a) != len(b) {
		return false
	}
	matched := make([]bool, len(b))
outer:
	for _, pa := range a {
		for i, pb := range b {
			if !matched[i] && pa == pb {
				matched[i] = true
				continue outer
			}
		}
		return false
	}
	return true
}
