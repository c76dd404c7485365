package methods

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"open-pryv.io/core/api"
	"open-pryv.io/core/apierror"
	"open-pryv.io/core/model"
)

func TestProfileUpdateMergesAndDeletes(t *testing.T) {
	e := newEnv(t)
	c := e.personalContext("alice")

	out := e.mustCall(c, "profile.get", api.Params{"id": ProfilePublic})
	assert.Empty(t, out["profile"].(map[string]interface{}))

	e.mustCall(c, "profile.update", api.Params{
		"id":     ProfilePublic,
		"update": map[string]interface{}{"avatar": "cat.png", "motto": "hello"},
	})
	out = e.mustCall(c, "profile.update", api.Params{
		"id":     ProfilePublic,
		"update": map[string]interface{}{"motto": nil, "color": "blue"},
	})

	profile := out["profile"].(map[string]interface{})
	assert.Equal(t, "cat.png", profile["avatar"])
	assert.Equal(t, "blue", profile["color"])
	assert.NotContains(t, profile, "motto", "null values delete keys")
}

func TestProfileScopeEnforcement(t *testing.T) {
	e := newEnv(t)
	personal := e.personalContext("alice")
	e.mustCall(personal, "streams.create", api.Params{"id": "health", "name": "Health"})

	app := createAccess(t, e, personal, api.Params{
		"name":        "companion",
		"type":        model.AccessApp,
		"permissions": []interface{}{perm("health", model.LevelRead)},
	})
	appCtx := e.contextFor("alice", app["token"].(string))

	// Private and public sets are personal-only.
	_, err := e.call(appCtx, "profile.get", api.Params{"id": ProfilePrivate})
	assert.Equal(t, apierror.Forbidden, errID(t, err))

	// The app set is app-only, keyed per app.
	_, err = e.call(personal, "profile.get", api.Params{"id": ProfileApp})
	assert.Equal(t, apierror.Forbidden, errID(t, err))

	e.mustCall(appCtx, "profile.update", api.Params{
		"id":     ProfileApp,
		"update": map[string]interface{}{"setting": "on"},
	})
	out := e.mustCall(appCtx, "profile.get", api.Params{"id": ProfileApp})
	assert.Equal(t, "on", out["profile"].(map[string]interface{})["setting"])

	// Another app access sees its own, empty, set.
	other := createAccess(t, e, personal, api.Params{
		"name":        "other-app",
		"type":        model.AccessApp,
		"permissions": []interface{}{perm("health", model.LevelRead)},
	})
	otherCtx := e.contextFor("alice", other["token"].(string))
	out = e.mustCall(otherCtx, "profile.get", api.Params{"id": ProfileApp})
	assert.Empty(t, out["profile"].(map[string]interface{}))
}

func TestFollowedSlicesCRUD(t *testing.T) {
	e := newEnv(t)
	c := e.personalContext("alice")

	out := e.mustCall(c, "followedSlices.create", api.Params{
		"name":        "bob's data",
		"url":         "https://bob.pryv.example/bob/",
		"accessToken": "bob-token",
	})
	slice, ok := out["followedSlice"].(*model.FollowedSlice)
	require.True(t, ok)
	assert.NotEmpty(t, slice.ID)

	_, err := e.call(c, "followedSlices.create", api.Params{
		"name":        "bob's data",
		"url":         "https://elsewhere.example/",
		"accessToken": "x",
	})
	assert.Equal(t, apierror.ItemAlreadyExists, errID(t, err))

	out = e.mustCall(c, "followedSlices.update", api.Params{
		"id":     slice.ID,
		"update": map[string]interface{}{"name": "bob", "accessToken": "rotated"},
	})
	updated := out["followedSlice"].(*model.FollowedSlice)
	assert.Equal(t, "bob", updated.Name)
	assert.Equal(t, "rotated", updated.AccessToken)

	out = e.mustCall(c, "followedSlices.get", nil)
	assert.Len(t, out["followedSlices"].([]*model.FollowedSlice), 1)

	e.mustCall(c, "followedSlices.delete", api.Params{"id": slice.ID})
	out = e.mustCall(c, "followedSlices.get", nil)
	assert.Empty(t, out["followedSlices"].([]*model.FollowedSlice))

	_, err = e.call(c, "followedSlices.delete", api.Params{"id": slice.ID})
	assert.Equal(t, apierror.UnknownResource, errID(t, err))
}

func TestFollowedSlicesPersonalOnly(t *testing.T) {
	e := newEnv(t)
	personal := e.personalContext("alice")
	e.mustCall(personal, "streams.create", api.Params{"id": "health", "name": "Health"})

	app := createAccess(t, e, personal, api.Params{
		"name":        "companion",
		"type":        model.AccessApp,
		"permissions": []interface{}{perm("health", model.LevelRead)},
	})
	appCtx := e.contextFor("alice", app["token"].(string))

	_, err := e.call(appCtx, "followedSlices.get", nil)
	assert.Equal(t, apierror.Forbidden, errID(t, err))
}
