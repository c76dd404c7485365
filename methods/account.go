package methods

import (
	"fmt"

	"open-pryv.io/core/api"
	"open-pryv.io/core/apierror"
	"open-pryv.io/core/common"
	"open-pryv.io/core/model"
	"open-pryv.io/core/security"
	"open-pryv.io/core/storage"
)

const accountUpdateSchema = `{
	"type": "object",
	"properties": {
		"update": {
			"type": "object",
			"properties": {
				"email": {"type": "string", "minLength": 1},
				"language": {"type": "string"}
			},
			"additionalProperties": false
		}
	},
	"required": ["update"]
}`

const changePasswordSchema = `{
	"type": "object",
	"properties": {
		"oldPassword": {"type": "string", "minLength": 1},
		"newPassword": {"type": "string", "minLength": 1}
	},
	"required": ["oldPassword", "newPassword"]
}`

const requestPasswordResetSchema = `{
	"type": "object",
	"properties": {
		"username": {"type": "string", "minLength": 1},
		"appId": {"type": "string", "minLength": 1},
		"origin": {"type": "string"}
	},
	"required": ["appId"]
}`

const resetPasswordSchema = `{
	"type": "object",
	"properties": {
		"resetToken": {"type": "string", "minLength": 1},
		"newPassword": {"type": "string", "minLength": 1},
		"appId": {"type": "string", "minLength": 1},
		"origin": {"type": "string"}
	},
	"required": ["resetToken", "newPassword", "appId"]
}`

// resetTokenAppPrefix marks password-reset tokens in the session store.
const resetTokenAppPrefix = "password-reset:"

func registerAccount(reg *api.Registry, svc *api.Services) {
	reg.Register("account.get",
		requirePersonal,
		accountGet(svc),
	)
	reg.Register("account.update",
		api.ValidateParams(accountUpdateSchema),
		requirePersonal,
		accountUpdate(svc),
	)
	reg.Register("account.changePassword",
		api.ValidateParams(changePasswordSchema),
		requirePersonal,
		changePassword(svc),
	)
	reg.Register("account.requestPasswordReset",
		api.ValidateParams(requestPasswordResetSchema),
		checkTrustedApp(svc),
		requestPasswordReset(svc),
	)
	reg.Register("account.resetPassword",
		api.ValidateParams(resetPasswordSchema),
		checkTrustedApp(svc),
		resetPassword(svc),
	)
}

func accountMap(u *model.User) map[string]interface{} {
	return map[string]interface{}{
		"username": u.Username,
		"email":    u.Email,
		"language": u.Language,
	}
}

func accountGet(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		result.Set("account", accountMap(c.User))
		return nil
	}
}

func accountUpdate(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		update, _ := params["update"].(map[string]interface{})

		if email, has := update["email"].(string); has && email != c.User.Email {
			existing, err := svc.Stores.Users.GetByEmail(c.Ctx, email)
			if err != nil && err != storage.ErrNotFound {
				return err
			}
			if existing != nil && existing.Username != c.Username {
				return apierror.NewItemAlreadyExists("user",
					map[string]interface{}{"email": email})
			}
			c.User.Email = email
		}
		if language, has := update["language"].(string); has {
			c.User.Language = language
		}

		c.Touch(&c.User.Tracked)
		if err := svc.Stores.Users.Update(c.Ctx, c.User); err != nil {
			if err == storage.ErrDuplicate {
				return apierror.NewItemAlreadyExists("user",
					map[string]interface{}{"email": c.User.Email})
			}
			return err
		}
		result.Set("account", accountMap(c.User))
		return nil
	}
}

// applyNewPassword enforces the password-age and reuse rules, then installs
// the new hash and records the old one in the history.
func applyNewPassword(c *api.Context, svc *api.Services, user *model.User, newPassword string) error {
	now := c.Now()
	auth := svc.Config.Auth

	if auth.PasswordAgeMinDays > 0 && user.PasswordChangedAt > 0 {
		minAge := float64(auth.PasswordAgeMinDays) * 86400
		if now-user.PasswordChangedAt < minAge {
			return apierror.New(apierror.Forbidden, fmt.Sprintf(
				"The current password is younger than %d day(s) and cannot be changed yet",
				auth.PasswordAgeMinDays))
		}
	}
	if n := auth.PasswordPreventReuseHistoryLength; n > 0 {
		hashes, err := svc.Stores.Users.PasswordHistory(c.Ctx, user.Username, n)
		if err != nil {
			return err
		}
		hashes = append(hashes, user.PasswordHash)
		for _, h := range hashes {
			if security.VerifyPassword(h, newPassword) == nil {
				return apierror.New(apierror.InvalidOperation, fmt.Sprintf(
					"The new password matches one of the last %d passwords", n))
			}
		}
	}

	if err := svc.Stores.Users.AddPasswordHistory(c.Ctx, user.Username, user.PasswordHash, now); err != nil {
		return err
	}
	hash, err := security.HashPassword(newPassword)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	user.PasswordChangedAt = now
	user.Touch(c.ActorID(), now)
	return svc.Stores.Users.Update(c.Ctx, user)
}

func changePassword(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		oldPassword := paramString(params, "oldPassword")
		newPassword := paramString(params, "newPassword")

		if err := security.VerifyPassword(c.User.PasswordHash, oldPassword); err != nil {
			return apierror.New(apierror.InvalidOperation,
				"The given password does not match")
		}
		return applyNewPassword(c, svc, c.User, newPassword)
	}
}

func requestPasswordReset(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		appID := paramString(params, "appId")
		token := common.RandomToken(24)
		session := &model.Session{
			Token:    token,
			Username: c.Username,
			AppID:    resetTokenAppPrefix + appID,
			Expires:  c.Now() + svc.Config.Auth.PasswordResetRequestMaxAge.Seconds(),
		}
		if err := svc.Stores.Sessions.Create(c.Ctx, session); err != nil {
			return err
		}
		// Mail delivery is out of scope; the token is surfaced to the
		// trusted app directly.
		result.Set("resetToken", token)
		return nil
	}
}

func resetPassword(svc *api.Services) api.Step {
	return func(c *api.Context, params api.Params, result *api.Result) error {
		token := paramString(params, "resetToken")
		appID := paramString(params, "appId")

		session, err := svc.Stores.Sessions.Get(c.Ctx, token)
		if err == storage.ErrNotFound {
			return apierror.New(apierror.InvalidCredentials, "Invalid reset token")
		}
		if err != nil {
			return err
		}
		if session.ExpiredAt(c.Now()) ||
			session.Username != c.Username ||
			session.AppID != resetTokenAppPrefix+appID {
			return apierror.New(apierror.InvalidCredentials, "Invalid reset token")
		}

		if err := applyNewPassword(c, svc, c.User, paramString(params, "newPassword")); err != nil {
			return err
		}
		return svc.Stores.Sessions.Delete(c.Ctx, token)
	}
}
