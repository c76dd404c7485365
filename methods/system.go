package methods

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"

	"open-pryv.io/core/api"
	"open-pryv.io/core/apierror"
	"open-pryv.io/core/model"
	"open-pryv.io/core/security"
	"open-pryv.io/core/storage"
)

const createUserSchema = `{
	"type": "object",
	"properties": {
		"username": {"type": "string", "minLength": 5, "maxLength": 60},
		"password": {"type": "string", "minLength": 1},
		"email": {"type": "string", "minLength": 1},
		"language": {"type": "string"}
	},
	"required": ["username", "password", "email"]
}`

const userInfoSchema = `{
	"type": "object",
	"properties": {
		"username": {"type": "string", "minLength": 1}
	},
	"required": ["username"]
}`

var usernameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{3,58}[a-z0-9]$`)

func registerSystem(reg *api.Registry, svc *api.Services) {
	reg.Register("system.createUser",
		api.ValidateParams(createUserSchema),
		systemCreateUser(svc),
	)
	reg.Register("system.getUserInfo",
		api.ValidateParams(userInfoSchema),
		systemGetUserInfo(svc),
	)
	reg.Register("system.deactivateMfa",
		api.ValidateParams(userInfoSchema),
		systemDeactivateMfa(svc),
	)
	reg.Register("system.checkUsername",
		api.ValidateParams(userInfoSchema),
		systemCheckUsername(svc),
	)
	reg.Register("system.checkEmail",
		systemCheckEmail(svc),
	)
}

func systemCreateUser(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		username := paramString(params, "username")
		if !usernameRe.MatchString(username) {
			return apierror.New(apierror.InvalidParametersFormat,
				fmt.Sprintf("Invalid username %q", username))
		}
		email := paramString(params, "email")

		if _, err := svc.Stores.Users.GetByUsername(c.Ctx, username); err == nil {
			return apierror.NewItemAlreadyExists("user",
				map[string]interface{}{"username": username})
		} else if err != storage.ErrNotFound {
			return err
		}
		if existing, err := svc.Stores.Users.GetByEmail(c.Ctx, email); err == nil && existing != nil {
			return apierror.NewItemAlreadyExists("user",
				map[string]interface{}{"email": email})
		} else if err != nil && err != storage.ErrNotFound {
			return err
		}

		hash, err := security.HashPassword(paramString(params, "password"))
		if err != nil {
			return err
		}
		now := model.Timestamp()
		user := &model.User{
			ID:                uuid.New().String(),
			Username:          username,
			PasswordHash:      hash,
			Email:             email,
			Language:          paramString(params, "language"),
			PasswordChangedAt: now,
		}
		user.InitTracking("system", now)
		if err := svc.Stores.Users.Create(c.Ctx, user); err != nil {
			if err == storage.ErrDuplicate {
				return apierror.NewItemAlreadyExists("user",
					map[string]interface{}{"username": username})
			}
			return err
		}
		result.Set("user", map[string]interface{}{
			"id":       user.ID,
			"username": user.Username,
			"email":    user.Email,
			"language": user.Language,
		})
		return nil
	}
}

func systemGetUserInfo(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		username := paramString(params, "username")
		user, err := svc.Stores.Users.GetByUsername(c.Ctx, username)
		if err == storage.ErrNotFound {
			return apierror.NewUnknownResource("user", username)
		}
		if err != nil {
			return err
		}

		events := 0
		attachedFiles := 0
		err = svc.Stores.Events.FindEach(c.Ctx, username,
			&storage.EventsFilter{State: storage.StateAll},
			func(e *model.Event) error {
				events++
				attachedFiles += len(e.Attachments)
				return nil
			})
		if err != nil {
			return err
		}

		result.Set("userInfo", map[string]interface{}{
			"username":    user.Username,
			"email":       user.Email,
			"language":    user.Language,
			"lastAccess":  user.Modified,
			"storageUsed": map[string]interface{}{"dbDocuments": events, "attachedFiles": attachedFiles},
		})
		return nil
	}
}

// systemDeactivateMfa drops the MFA profile entry of the user.
func systemDeactivateMfa(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		username := paramString(params, "username")
		if _, err := svc.Stores.Users.GetByUsername(c.Ctx, username); err != nil {
			if err == storage.ErrNotFound {
				return apierror.NewUnknownResource("user", username)
			}
			return err
		}
		content, err := svc.Stores.Profile.Get(c.Ctx, username, ProfilePrivate)
		if err != nil {
			return err
		}
		if content != nil {
			delete(content, "mfa")
			if err := svc.Stores.Profile.Set(c.Ctx, username, ProfilePrivate, content); err != nil {
				return err
			}
		}
		return nil
	}
}

func systemCheckUsername(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		username := paramString(params, "username")
		reserved := !usernameRe.MatchString(username)
		if !reserved {
			_, err := svc.Stores.Users.GetByUsername(c.Ctx, username)
			if err == nil {
				reserved = true
			} else if err != storage.ErrNotFound {
				return err
			}
		}
		result.Set("reserved", reserved)
		return nil
	}
}

func systemCheckEmail(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		email := paramString(params, "email")
		if email == "" {
			return apierror.New(apierror.InvalidParametersFormat, "Missing email")
		}
		_, err := svc.Stores.Users.GetByEmail(c.Ctx, email)
		switch err {
		case nil:
			result.Set("exists", true)
		case storage.ErrNotFound:
			result.Set("exists", false)
		default:
			return err
		}
		return nil
	}
}
