package methods

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"open-pryv.io/core/api"
	"open-pryv.io/core/apierror"
	"open-pryv.io/core/model"
)

func perm(streamID string, level model.Level) map[string]interface{} {
	return map[string]interface{}{"streamId": streamID, "level": string(level)}
}

// createAccess issues accesses.create and returns the created access map.
func createAccess(t *testing.T, e *env, c *api.Context, params api.Params) map[string]interface{} {
	t.Helper()
	out := e.mustCall(c, "accesses.create", params)
	a, ok := out["access"].(map[string]interface{})
	require.True(t, ok)
	return a
}

func TestAccessesCreateAndGet(t *testing.T) {
	e := newEnv(t)
	c := e.personalContext("alice")
	e.mustCall(c, "streams.create", api.Params{"id": "health", "name": "Health"})

	a := createAccess(t, e, c, api.Params{
		"name":        "tracker",
		"permissions": []interface{}{perm("health", model.LevelContribute)},
	})
	assert.Equal(t, model.AccessShared, a["type"], "type defaults to shared")
	assert.NotEmpty(t, a["token"])

	out := e.mustCall(c, "accesses.get", nil)
	accesses, ok := out["accesses"].([]map[string]interface{})
	require.True(t, ok)
	names := []string{}
	for _, entry := range accesses {
		names = append(names, entry["name"].(string))
	}
	// The personal access created by login is listed too.
	assert.Contains(t, names, "tracker")
	assert.Contains(t, names, testAppID)
}

func TestAccessesCreateRejectsDuplicateNameAndType(t *testing.T) {
	e := newEnv(t)
	c := e.personalContext("alice")
	e.mustCall(c, "streams.create", api.Params{"id": "health", "name": "Health"})

	params := api.Params{
		"name":        "tracker",
		"permissions": []interface{}{perm("health", model.LevelRead)},
	}
	createAccess(t, e, c, params)

	_, err := e.call(c, "accesses.create", api.Params{
		"name":        "tracker",
		"permissions": []interface{}{perm("health", model.LevelRead)},
	})
	assert.Equal(t, apierror.ItemAlreadyExists, errID(t, err))

	// Same name under another type is fine.
	_, err = e.call(c, "accesses.create", api.Params{
		"name":        "tracker",
		"type":        model.AccessApp,
		"permissions": []interface{}{perm("health", model.LevelRead)},
	})
	assert.NoError(t, err)
}

func TestAccessesCreateEnforcesSubset(t *testing.T) {
	e := newEnv(t)
	personal := e.personalContext("alice")
	e.mustCall(personal, "streams.create", api.Params{"id": "health", "name": "Health"})
	e.mustCall(personal, "streams.create", api.Params{"id": "work", "name": "Work"})

	app := createAccess(t, e, personal, api.Params{
		"name":        "delegator",
		"type":        model.AccessApp,
		"permissions": []interface{}{perm("health", model.LevelContribute)},
	})
	appCtx := e.contextFor("alice", app["token"].(string))

	// Narrower delegation is accepted.
	_, err := e.call(appCtx, "accesses.create", api.Params{
		"name":        "narrow",
		"permissions": []interface{}{perm("health", model.LevelRead)},
	})
	assert.NoError(t, err)

	// A wider level on the same stream is rejected.
	_, err = e.call(appCtx, "accesses.create", api.Params{
		"name":        "wider",
		"permissions": []interface{}{perm("health", model.LevelManage)},
	})
	assert.Equal(t, apierror.Forbidden, errID(t, err))

	// Out-of-scope streams are rejected.
	_, err = e.call(appCtx, "accesses.create", api.Params{
		"name":        "sideways",
		"permissions": []interface{}{perm("work", model.LevelRead)},
	})
	assert.Equal(t, apierror.Forbidden, errID(t, err))
}

func TestAccessesDeleteCascadesToDelegated(t *testing.T) {
	e := newEnv(t)
	personal := e.personalContext("alice")
	e.mustCall(personal, "streams.create", api.Params{"id": "health", "name": "Health"})

	parent := createAccess(t, e, personal, api.Params{
		"name":        "parent",
		"type":        model.AccessApp,
		"permissions": []interface{}{perm("health", model.LevelManage)},
	})
	parentCtx := e.contextFor("alice", parent["token"].(string))
	child := createAccess(t, e, parentCtx, api.Params{
		"name":        "child",
		"permissions": []interface{}{perm("health", model.LevelRead)},
	})

	out := e.mustCall(personal, "accesses.delete", api.Params{"id": parent["id"]})
	deletion, ok := out["accessDeletion"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, parent["id"], deletion["id"])

	related, ok := out["relatedDeletions"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, related, 1)
	assert.Equal(t, child["id"], related[0]["id"])

	stored, err := e.svc.Stores.Accesses.Get(context.Background(), "alice", child["id"].(string))
	require.NoError(t, err)
	assert.True(t, stored.IsDeleted())
}

func TestAccessesDeleteSelfRevocation(t *testing.T) {
	e := newEnv(t)
	personal := e.personalContext("alice")
	e.mustCall(personal, "streams.create", api.Params{"id": "health", "name": "Health"})

	restricted := createAccess(t, e, personal, api.Params{
		"name": "restricted",
		"type": model.AccessApp,
		"permissions": []interface{}{
			perm("health", model.LevelRead),
			map[string]interface{}{"feature": model.FeatureSelfRevoke, "setting": model.SettingForbidden},
		},
	})
	restrictedCtx := e.contextFor("alice", restricted["token"].(string))
	_, err := e.call(restrictedCtx, "accesses.delete", api.Params{"id": restricted["id"]})
	assert.Equal(t, apierror.Forbidden, errID(t, err),
		"selfRevoke=forbidden blocks self revocation")

	plain := createAccess(t, e, personal, api.Params{
		"name":        "plain",
		"type":        model.AccessApp,
		"permissions": []interface{}{perm("health", model.LevelRead)},
	})
	plainCtx := e.contextFor("alice", plain["token"].(string))
	out := e.mustCall(plainCtx, "accesses.delete", api.Params{"id": plain["id"]})
	deletion := out["accessDeletion"].(map[string]interface{})
	assert.Equal(t, plain["id"], deletion["id"])
}

func TestAccessesGetVisibilityForNonPersonal(t *testing.T) {
	e := newEnv(t)
	personal := e.personalContext("alice")
	e.mustCall(personal, "streams.create", api.Params{"id": "health", "name": "Health"})

	app := createAccess(t, e, personal, api.Params{
		"name":        "delegator",
		"type":        model.AccessApp,
		"permissions": []interface{}{perm("health", model.LevelManage)},
	})
	appCtx := e.contextFor("alice", app["token"].(string))
	createAccess(t, e, appCtx, api.Params{
		"name":        "delegated",
		"permissions": []interface{}{perm("health", model.LevelRead)},
	})

	out := e.mustCall(appCtx, "accesses.get", nil)
	accesses := out["accesses"].([]map[string]interface{})
	require.Len(t, accesses, 1, "non-personal callers see only accesses they created")
	assert.Equal(t, "delegated", accesses[0]["name"])
}

func TestAccessesGetIncludeDeletions(t *testing.T) {
	e := newEnv(t)
	personal := e.personalContext("alice")
	e.mustCall(personal, "streams.create", api.Params{"id": "health", "name": "Health"})

	a := createAccess(t, e, personal, api.Params{
		"name":        "doomed",
		"permissions": []interface{}{perm("health", model.LevelRead)},
	})
	e.mustCall(personal, "accesses.delete", api.Params{"id": a["id"]})

	out := e.mustCall(personal, "accesses.get", nil)
	_, has := out["accessDeletions"]
	assert.False(t, has)

	out = e.mustCall(personal, "accesses.get", api.Params{"includeDeletions": true})
	deletions, ok := out["accessDeletions"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, deletions, 1)
	assert.Equal(t, "doomed", deletions[0]["name"])
}

func TestAccessesUpdateIsGone(t *testing.T) {
	e := newEnv(t)
	_, err := e.call(e.systemContext(), "accesses.update", api.Params{"id": "whatever"})
	assert.Equal(t, apierror.Gone, errID(t, err))
}

func TestAccessesCheckApp(t *testing.T) {
	e := newEnv(t)
	personal := e.personalContext("alice")
	e.mustCall(personal, "streams.create", api.Params{"id": "health", "name": "Health"})

	requested := []interface{}{perm("health", model.LevelRead)}
	out := e.mustCall(personal, "accesses.checkApp", api.Params{
		"requestingAppId":      "companion",
		"requestedPermissions": requested,
	})
	assert.NotContains(t, out, "matchingAccess")
	assert.Contains(t, out, "checkedPermissions")

	createAccess(t, e, personal, api.Params{
		"name":        "companion",
		"type":        model.AccessApp,
		"permissions": requested,
	})

	out = e.mustCall(personal, "accesses.checkApp", api.Params{
		"requestingAppId":      "companion",
		"requestedPermissions": requested,
	})
	match, ok := out["matchingAccess"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "companion", match["name"])

	out = e.mustCall(personal, "accesses.checkApp", api.Params{
		"requestingAppId":      "companion",
		"requestedPermissions": []interface{}{perm("health", model.LevelContribute)},
	})
	mismatch, ok := out["mismatchingAccess"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "companion", mismatch["name"])
}
