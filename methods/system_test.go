package methods

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"open-pryv.io/core/api"
	"open-pryv.io/core/apierror"
)

func TestSystemCreateUser(t *testing.T) {
	e := newEnv(t)
	c := e.systemContext()

	out := e.mustCall(c, "system.createUser", api.Params{
		"username": "alice",
		"password": testPassword,
		"email":    "alice@example.test",
		"language": "en",
	})
	user := out["user"].(map[string]interface{})
	assert.Equal(t, "alice", user["username"])
	assert.NotEmpty(t, user["id"])

	stored, err := e.svc.Stores.Users.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.NotEqual(t, testPassword, stored.PasswordHash, "passwords are stored hashed")
}

func TestSystemCreateUserValidation(t *testing.T) {
	e := newEnv(t)
	c := e.systemContext()

	cases := []string{
		"Alice",       // upper case
		"-leading",    // bad first char
		"trailing-",   // bad last char
		"has space x", // invalid char
	}
	for _, username := range cases {
		_, err := e.call(c, "system.createUser", api.Params{
			"username": username,
			"password": testPassword,
			"email":    username + "@example.test",
		})
		assert.Equal(t, apierror.InvalidParametersFormat, errID(t, err), username)
	}
}

func TestSystemCreateUserDuplicates(t *testing.T) {
	e := newEnv(t)
	e.createUser("alice")
	c := e.systemContext()

	_, err := e.call(c, "system.createUser", api.Params{
		"username": "alice",
		"password": testPassword,
		"email":    "different@example.test",
	})
	assert.Equal(t, apierror.ItemAlreadyExists, errID(t, err))

	_, err = e.call(c, "system.createUser", api.Params{
		"username": "alice2",
		"password": testPassword,
		"email":    "alice@example.test",
	})
	assert.Equal(t, apierror.ItemAlreadyExists, errID(t, err))
}

func TestSystemCheckUsernameAndEmail(t *testing.T) {
	e := newEnv(t)
	e.createUser("alice")
	c := e.systemContext()

	out := e.mustCall(c, "system.checkUsername", api.Params{"username": "alice"})
	assert.Equal(t, true, out["reserved"])
	out = e.mustCall(c, "system.checkUsername", api.Params{"username": "bobby"})
	assert.Equal(t, false, out["reserved"])
	out = e.mustCall(c, "system.checkUsername", api.Params{"username": "Not-Valid"})
	assert.Equal(t, true, out["reserved"], "malformed names count as reserved")

	out = e.mustCall(c, "system.checkEmail", api.Params{"email": "alice@example.test"})
	assert.Equal(t, true, out["exists"])
	out = e.mustCall(c, "system.checkEmail", api.Params{"email": "nobody@example.test"})
	assert.Equal(t, false, out["exists"])

	_, err := e.call(c, "system.checkEmail", nil)
	assert.Equal(t, apierror.InvalidParametersFormat, errID(t, err))
}

func TestSystemGetUserInfo(t *testing.T) {
	e := newEnv(t)
	personal := e.personalContext("alice")
	e.mustCall(personal, "streams.create", api.Params{"id": "health", "name": "Health"})
	createEvent(t, e, personal, api.Params{"streamId": "health", "type": "note/txt"})
	createEvent(t, e, personal, api.Params{"streamId": "health", "type": "note/txt"})

	out := e.mustCall(e.systemContext(), "system.getUserInfo", api.Params{"username": "alice"})
	info := out["userInfo"].(map[string]interface{})
	assert.Equal(t, "alice", info["username"])
	storage := info["storageUsed"].(map[string]interface{})
	assert.Equal(t, 2, storage["dbDocuments"])
	assert.Equal(t, 0, storage["attachedFiles"])

	_, err := e.call(e.systemContext(), "system.getUserInfo", api.Params{"username": "ghost"})
	assert.Equal(t, apierror.UnknownResource, errID(t, err))
}

func TestSystemDeactivateMfa(t *testing.T) {
	e := newEnv(t)
	e.createUser("alice")
	ctx := context.Background()

	require.NoError(t, e.svc.Stores.Profile.Set(ctx, "alice", ProfilePrivate,
		map[string]interface{}{"mfa": map[string]interface{}{"method": "totp"}, "other": "kept"}))

	e.mustCall(e.systemContext(), "system.deactivateMfa", api.Params{"username": "alice"})

	content, err := e.svc.Stores.Profile.Get(ctx, "alice", ProfilePrivate)
	require.NoError(t, err)
	assert.NotContains(t, content, "mfa")
	assert.Equal(t, "kept", content["other"])

	_, err = e.call(e.systemContext(), "system.deactivateMfa", api.Params{"username": "ghost"})
	assert.Equal(t, apierror.UnknownResource, errID(t, err))
}
