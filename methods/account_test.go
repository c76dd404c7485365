package methods

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"open-pryv.io/core/api"
	"open-pryv.io/core/apierror"
)

func TestAccountGetAndUpdate(t *testing.T) {
	e := newEnv(t)
	c := e.personalContext("alice")

	out := e.mustCall(c, "account.get", nil)
	account := out["account"].(map[string]interface{})
	assert.Equal(t, "alice", account["username"])
	assert.Equal(t, "alice@example.test", account["email"])

	out = e.mustCall(c, "account.update", api.Params{
		"update": map[string]interface{}{"email": "new@example.test", "language": "fr"},
	})
	account = out["account"].(map[string]interface{})
	assert.Equal(t, "new@example.test", account["email"])
	assert.Equal(t, "fr", account["language"])

	stored, err := e.svc.Stores.Users.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "new@example.test", stored.Email)
}

func TestAccountUpdateRejectsTakenEmail(t *testing.T) {
	e := newEnv(t)
	e.createUser("bobby")
	c := e.personalContext("alice")

	_, err := e.call(c, "account.update", api.Params{
		"update": map[string]interface{}{"email": "bobby@example.test"},
	})
	assert.Equal(t, apierror.ItemAlreadyExists, errID(t, err))
}

func TestAccountUpdateRejectsUnknownFields(t *testing.T) {
	e := newEnv(t)
	c := e.personalContext("alice")

	_, err := e.call(c, "account.update", api.Params{
		"update": map[string]interface{}{"passwordHash": "sneaky"},
	})
	assert.Equal(t, apierror.InvalidParametersFormat, errID(t, err))
}

func TestChangePassword(t *testing.T) {
	e := newEnv(t)
	c := e.personalContext("alice")

	_, err := e.call(c, "account.changePassword", api.Params{
		"oldPassword": "wrong",
		"newPassword": "brand-new-pass",
	})
	assert.Equal(t, apierror.InvalidOperation, errID(t, err))

	e.mustCall(c, "account.changePassword", api.Params{
		"oldPassword": testPassword,
		"newPassword": "brand-new-pass",
	})

	// The old password no longer logs in; the new one does.
	fresh, err := api.NewContext(context.Background(), e.svc, "alice")
	require.NoError(t, err)
	_, err = e.call(fresh, "auth.login", api.Params{
		"username": "alice", "password": testPassword,
		"appId": testAppID, "origin": testOrigin,
	})
	assert.Equal(t, apierror.InvalidCredentials, errID(t, err))

	out := e.mustCall(fresh, "auth.login", api.Params{
		"username": "alice", "password": "brand-new-pass",
		"appId": testAppID, "origin": testOrigin,
	})
	assert.NotEmpty(t, out["token"])
}

func TestChangePasswordPreventsReuse(t *testing.T) {
	e := newEnv(t)
	e.svc.Config.Auth.PasswordPreventReuseHistoryLength = 2
	c := e.personalContext("alice")

	e.mustCall(c, "account.changePassword", api.Params{
		"oldPassword": testPassword,
		"newPassword": "second-pass",
	})

	// Reusing the current or a recent password is refused.
	_, err := e.call(c, "account.changePassword", api.Params{
		"oldPassword": "second-pass",
		"newPassword": "second-pass",
	})
	assert.Equal(t, apierror.InvalidOperation, errID(t, err))

	_, err = e.call(c, "account.changePassword", api.Params{
		"oldPassword": "second-pass",
		"newPassword": testPassword,
	})
	assert.Equal(t, apierror.InvalidOperation, errID(t, err))
}

func TestPasswordResetFlow(t *testing.T) {
	e := newEnv(t)
	e.createUser("alice")
	c, err := api.NewContext(context.Background(), e.svc, "alice")
	require.NoError(t, err)

	out := e.mustCall(c, "account.requestPasswordReset", api.Params{
		"appId":  testAppID,
		"origin": testOrigin,
	})
	resetToken, ok := out["resetToken"].(string)
	require.True(t, ok)

	_, err = e.call(c, "account.resetPassword", api.Params{
		"resetToken":  "bogus",
		"newPassword": "reset-pass",
		"appId":       testAppID,
		"origin":      testOrigin,
	})
	assert.Equal(t, apierror.InvalidCredentials, errID(t, err))

	// A token issued for one app cannot be redeemed by another.
	_, err = e.call(c, "account.resetPassword", api.Params{
		"resetToken":  resetToken,
		"newPassword": "reset-pass",
		"appId":       "other-app",
		"origin":      testOrigin,
	})
	assert.Equal(t, apierror.InvalidCredentials, errID(t, err))

	e.mustCall(c, "account.resetPassword", api.Params{
		"resetToken":  resetToken,
		"newPassword": "reset-pass",
		"appId":       testAppID,
		"origin":      testOrigin,
	})

	login := e.mustCall(c, "auth.login", api.Params{
		"username": "alice", "password": "reset-pass",
		"appId": testAppID, "origin": testOrigin,
	})
	assert.NotEmpty(t, login["token"])

	// Reset tokens are single use.
	_, err = e.call(c, "account.resetPassword", api.Params{
		"resetToken":  resetToken,
		"newPassword": "again",
		"appId":       testAppID,
		"origin":      testOrigin,
	})
	assert.Equal(t, apierror.InvalidCredentials, errID(t, err))
}
