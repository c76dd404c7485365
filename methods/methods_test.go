package methods

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"open-pryv.io/core/api"
	"open-pryv.io/core/apierror"
	"open-pryv.io/core/attachments"
	"open-pryv.io/core/cache"
	"open-pryv.io/core/config"
	"open-pryv.io/core/model"
	"open-pryv.io/core/notifications"
	"open-pryv.io/core/storage"
	"open-pryv.io/core/streams"
	"open-pryv.io/core/versioning"
)

const (
	testPassword = "correct-horse"
	testAppID    = "test-app"
	testOrigin   = "https://app.pryv.local"
)

type env struct {
	t   *testing.T
	svc *api.Services
	reg *api.Registry
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.Database.InMemory = true

	dir := t.TempDir()
	files, err := attachments.NewFileStore(
		filepath.Join(dir, "attachments"), filepath.Join(dir, "temp"), true)
	require.NoError(t, err)

	svc := &api.Services{
		Stores:        storage.NewMemoryStores(),
		Cache:         cache.New(nil),
		Bus:           notifications.NewBus(),
		Files:         files,
		Config:        cfg,
		Versioning: versioning.Settings{
			ForceKeepHistory: cfg.Versioning.ForceKeepHistory,
			Mode:             model.DeletionMode(cfg.Versioning.DeletionMode),
		},
		SystemStreams: streams.DefaultRegistry(),
		TrustedApps:   config.ParseTrustedApps(cfg.Auth.TrustedApps),
	}
	reg := api.NewRegistry()
	RegisterAll(reg, svc)
	return &env{t: t, svc: svc, reg: reg}
}

// call runs a method and materializes its result, streamed fields included.
func (e *env) call(c *api.Context, method string, params api.Params) (map[string]interface{}, error) {
	e.t.Helper()
	res := api.NewResult()
	if err := e.reg.Call(c, method, params, res); err != nil {
		return nil, err
	}
	out, err := res.ToMap()
	require.NoError(e.t, err)
	return out, nil
}

func (e *env) mustCall(c *api.Context, method string, params api.Params) map[string]interface{} {
	e.t.Helper()
	out, err := e.call(c, method, params)
	require.NoError(e.t, err)
	return out
}

func (e *env) systemContext() *api.Context {
	e.t.Helper()
	c, err := api.NewSystemContext(context.Background(), e.svc)
	require.NoError(e.t, err)
	return c
}

func (e *env) createUser(username string) {
	e.t.Helper()
	e.mustCall(e.systemContext(), "system.createUser", api.Params{
		"username": username,
		"password": testPassword,
		"email":    username + "@example.test",
		"language": "en",
	})
}

func (e *env) login(username string) string {
	e.t.Helper()
	c, err := api.NewContext(context.Background(), e.svc, username)
	require.NoError(e.t, err)
	out := e.mustCall(c, "auth.login", api.Params{
		"username": username,
		"password": testPassword,
		"appId":    testAppID,
		"origin":   testOrigin,
	})
	token, ok := out["token"].(string)
	require.True(e.t, ok, "login must return a token")
	return token
}

// contextFor builds an authenticated per-request context for the token.
func (e *env) contextFor(username, token string) *api.Context {
	e.t.Helper()
	c, err := api.NewContext(context.Background(), e.svc, username)
	require.NoError(e.t, err)
	require.NoError(e.t, c.AuthenticateToken(token, api.AuthSourceHeader))
	return c
}

// personalContext provisions a user and logs in, in one step.
func (e *env) personalContext(username string) *api.Context {
	e.t.Helper()
	e.createUser(username)
	return e.contextFor(username, e.login(username))
}

func errID(t *testing.T, err error) apierror.ID {
	t.Helper()
	apiErr, ok := apierror.As(err)
	require.True(t, ok, "expected an API error, got %v", err)
	return apiErr.ID
}

func TestLoginCreatesSessionAndPersonalAccess(t *testing.T) {
	e := newEnv(t)
	e.createUser("alice")
	token := e.login("alice")

	session, err := e.svc.Stores.Sessions.Get(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "alice", session.Username)
	assert.Equal(t, testAppID, session.AppID)
	assert.Greater(t, session.Expires, model.Timestamp())

	a, err := e.svc.Stores.Accesses.GetByToken(context.Background(), "alice", token)
	require.NoError(t, err)
	assert.True(t, a.IsPersonal())
	assert.Equal(t, testAppID, a.Name)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	e := newEnv(t)
	e.createUser("alice")
	c, err := api.NewContext(context.Background(), e.svc, "alice")
	require.NoError(t, err)

	_, err = e.call(c, "auth.login", api.Params{
		"username": "alice",
		"password": "wrong",
		"appId":    testAppID,
		"origin":   testOrigin,
	})
	assert.Equal(t, apierror.InvalidCredentials, errID(t, err))
}

func TestLoginRejectsUntrustedApp(t *testing.T) {
	e := newEnv(t)
	e.createUser("alice")
	c, err := api.NewContext(context.Background(), e.svc, "alice")
	require.NoError(t, err)

	_, err = e.call(c, "auth.login", api.Params{
		"username": "alice",
		"password": testPassword,
		"appId":    testAppID,
		"origin":   "https://evil.example",
	})
	assert.Equal(t, apierror.InvalidCredentials, errID(t, err))
}

func TestLoginReusesPersonalAccessPerApp(t *testing.T) {
	e := newEnv(t)
	e.createUser("alice")
	first := e.login("alice")
	second := e.login("alice")
	assert.NotEqual(t, first, second)

	all, err := e.svc.Stores.Accesses.All(context.Background(), "alice")
	require.NoError(t, err)
	personal := 0
	for _, a := range all {
		if a.IsPersonal() && !a.IsDeleted() {
			personal++
			assert.Equal(t, second, a.Token)
		}
	}
	assert.Equal(t, 1, personal, "one personal access per app id")
}

func TestLogoutInvalidatesSession(t *testing.T) {
	e := newEnv(t)
	e.createUser("alice")
	token := e.login("alice")
	c := e.contextFor("alice", token)

	e.mustCall(c, "auth.logout", nil)

	fresh, err := api.NewContext(context.Background(), e.svc, "alice")
	require.NoError(t, err)
	err = fresh.AuthenticateToken(token, api.AuthSourceHeader)
	assert.Equal(t, apierror.InvalidCredentials, errID(t, err))
}

func TestWhoAmIIsGone(t *testing.T) {
	e := newEnv(t)
	_, err := e.call(e.systemContext(), "auth.whoAmI", nil)
	assert.Equal(t, apierror.Gone, errID(t, err))
}

func TestGetAccessInfoPersonal(t *testing.T) {
	e := newEnv(t)
	c := e.personalContext("alice")

	out := e.mustCall(c, "getAccessInfo", nil)
	assert.Equal(t, model.AccessPersonal, out["type"])
	perms, ok := out["permissions"].([]model.Permission)
	require.True(t, ok)
	require.Len(t, perms, 1)
	assert.Equal(t, model.StarStreamID, perms[0].StreamID)
	assert.Equal(t, model.LevelManage, perms[0].Level)

	user, ok := out["user"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "alice", user["username"])
}

func TestUnauthenticatedCallsAreRejected(t *testing.T) {
	e := newEnv(t)
	e.createUser("alice")
	c, err := api.NewContext(context.Background(), e.svc, "alice")
	require.NoError(t, err)

	_, err = e.call(c, "events.get", nil)
	assert.Equal(t, apierror.InvalidCredentials, errID(t, err))
}
