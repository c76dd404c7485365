package methods

import (
	"fmt"

	"github.com/google/uuid"

	"open-pryv.io/core/api"
	"open-pryv.io/core/apierror"
	"open-pryv.io/core/common"
	"open-pryv.io/core/config"
	"open-pryv.io/core/model"
	"open-pryv.io/core/notifications"
	"open-pryv.io/core/security"
	"open-pryv.io/core/storage"
)

const loginSchema = `{
	"type": "object",
	"properties": {
		"username": {"type": "string", "minLength": 1},
		"password": {"type": "string", "minLength": 1},
		"appId": {"type": "string", "minLength": 1},
		"origin": {"type": "string"}
	},
	"required": ["username", "password", "appId"]
}`

func registerAuth(reg *api.Registry, svc *api.Services) {
	reg.Register("auth.login",
		api.ValidateParams(loginSchema),
		checkTrustedApp(svc),
		login(svc),
	)
	reg.Register("auth.logout",
		requirePersonal,
		logout(svc),
	)
	reg.Register("auth.whoAmI",
		func(c *api.Context, params api.Params, result *api.Result) error {
			return apierror.New(apierror.Gone, "This API method is no longer supported")
		},
	)
	reg.Register("getAccessInfo",
		requireAccess,
		getAccessInfo(svc),
	)
}

// checkTrustedApp verifies the appId@origin pair against auth.trustedApps.
func checkTrustedApp(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		appID := paramString(params, "appId")
		origin := paramString(params, "origin")
		if !config.MatchTrustedApp(svc.TrustedApps, appID, origin) {
			return apierror.New(apierror.InvalidCredentials,
				fmt.Sprintf("The app id %q is not trusted for origin %q", appID, origin))
		}
		return nil
	}
}

func login(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		username := paramString(params, "username")
		password := paramString(params, "password")
		appID := paramString(params, "appId")

		if username != c.Username {
			return apierror.New(apierror.InvalidCredentials,
				"The given username/password pair is invalid")
		}
		if err := security.VerifyPassword(c.User.PasswordHash, password); err != nil {
			return apierror.New(apierror.InvalidCredentials,
				"The given username/password pair is invalid")
		}

		now := c.Now()
		token := common.RandomToken(24)
		session := &model.Session{
			Token:    token,
			Username: username,
			AppID:    appID,
			Expires:  now + svc.Config.Auth.SessionMaxAge.Seconds(),
		}
		if err := svc.Stores.Sessions.Create(c.Ctx, session); err != nil {
			return err
		}

		// One personal access per app id: reuse and re-key, or create.
		personal, err := findPersonalAccess(c, svc, appID)
		if err != nil {
			return err
		}
		if personal != nil {
			personal.Token = token
			c.Touch(&personal.Tracked)
			if err := svc.Stores.Accesses.Update(c.Ctx, username, personal); err != nil {
				return err
			}
		} else {
			personal = &model.Access{
				ID:    uuid.New().String(),
				Token: token,
				Type:  model.AccessPersonal,
				Name:  appID,
			}
			personal.InitTracking(personal.ID, now)
			if err := svc.Stores.Accesses.Create(c.Ctx, username, personal); err != nil {
				return err
			}
		}
		svc.Cache.InvalidateUser(c.Ctx, username)
		svc.Bus.Publish(c.Ctx, notifications.TopicAccessesChanged, username)

		if secret := svc.Config.Auth.SSOCookieSignSecret; secret != "" {
			signed, err := api.SignSSOToken(secret, username, token)
			if err != nil {
				return err
			}
			c.SSOToken = signed
		}

		result.Set("token", token)
		result.Set("apiEndpoint", apiEndpoint(svc, username, token))
		result.Set("preferredLanguage", c.User.Language)
		return nil
	}
}

func findPersonalAccess(c *api.Context, svc *api.Services, appID string) (*model.Access, error) {
	all, err := svc.Stores.Accesses.All(c.Ctx, c.Username)
	if err != nil {
		return nil, err
	}
	for _, a := range all {
		if a.IsPersonal() && a.Name == appID && !a.IsDeleted() {
			return a, nil
		}
	}
	return nil, nil
}

// apiEndpoint renders the per-user endpoint, token embedded, dnsless style.
func apiEndpoint(svc *api.Services, username, token string) string {
	host := svc.Config.Server.Host
	if host == "0.0.0.0" || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s@%s:%d/%s/", token, host, svc.Config.Server.Port, username)
}

func logout(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		if c.Session != nil {
			if err := svc.Stores.Sessions.Delete(c.Ctx, c.Session.Token); err != nil && err != storage.ErrNotFound {
				return err
			}
		}
		svc.Cache.InvalidateUser(c.Ctx, c.Username)
		c.ClearSSO = true
		return nil
	}
}

func getAccessInfo(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		a := c.Access
		perms := a.Permissions
		if a.IsPersonal() {
			perms = []model.Permission{{StreamID: model.StarStreamID, Level: model.LevelManage}}
		}
		perms = c.Translator.EgressPermissions(perms, c.DisableCompat)

		result.Set("id", a.ID)
		result.Set("token", a.Token)
		result.Set("type", a.Type)
		result.Set("name", a.Name)
		if a.DeviceName != "" {
			result.Set("deviceName", a.DeviceName)
		}
		result.Set("permissions", perms)
		if a.Expires != nil {
			result.Set("expires", *a.Expires)
		}
		if a.ClientData != nil {
			result.Set("clientData", a.ClientData)
		}
		result.Set("created", a.Created)
		result.Set("createdBy", a.CreatedBy)
		result.Set("modified", a.Modified)
		result.Set("modifiedBy", a.ModifiedBy)
		result.Set("user", map[string]interface{}{
			"username": c.User.Username,
			"email":    c.User.Email,
			"language": c.User.Language,
		})
		return nil
	}
}
