package api

import (
	"context"

	"open-pryv.io/core/access"
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

// sessionTouchDebounce bounds session writes from sliding expiry to at most
// one per token per minute.
const sessionTouchDebounce = 60.0

// Services is the process-wide state constructed once at boot and shared by
// every request.
type Services struct {
	Stores        *storage.Stores
	Cache         *cache.Cache
	Bus           *notifications.Bus
	Files         *attachments.FileStore
	Config        *config.Config
	Versioning    versioning.Settings
	SystemStreams *streams.Registry
	TrustedApps   []config.TrustedApp
}

// Translator builds the backward-compat translator from the configuration.
func (s *Services) Translator() *streams.Translator {
	return streams.NewTranslator(s.SystemStreams,
		s.Config.BackwardCompatibility.SystemStreamsPrefixActive,
		s.Config.BackwardCompatibility.TagsActive)
}

// AuthSource records where the request token came from.
type AuthSource string

const (
	AuthSourceHeader    AuthSource = "header"
	AuthSourceQuery     AuthSource = "query"
	AuthSourceSSOCookie AuthSource = "sso-cookie"
	AuthSourceReadToken AuthSource = "read-token"
)

// Context is the per-request state handed through the method pipeline. It
// is built once per request and not shared between handlers.
type Context struct {
	Ctx      context.Context
	Services *Services

	Username string
	User     *model.User
	Access   *model.Access
	Session  *model.Session
	Eval     *access.Evaluator
	Tree     *streams.Tree

	Translator *streams.Translator
	// DisableCompat carries the per-request backward-compat opt-out header.
	DisableCompat bool

	MethodID   string
	AuthSource AuthSource
	// ReadTokenFileID limits a read-token-authenticated request to one file.
	ReadTokenFileID string

	// SSOToken, when set by auth.login, is written back as the signed SSO
	// cookie; ClearSSO, set by auth.logout, expires it.
	SSOToken string
	ClearSSO bool
}

// NewContext loads the user and stream tree for a request. The access is
// resolved separately by AuthenticateToken.
func NewContext(ctx context.Context, svc *Services, username string) (*Context, error) {
	user, err := svc.Stores.Users.GetByUsername(ctx, username)
	if err == storage.ErrNotFound {
		return nil, apierror.NewUnknownResource("user", username)
	}
	if err != nil {
		return nil, err
	}
	if user.Deleted != nil {
		return nil, apierror.NewUnknownResource("user", username)
	}

	c := &Context{
		Ctx:        ctx,
		Services:   svc,
		Username:   username,
		User:       user,
		Translator: svc.Translator(),
	}
	if err := c.loadTree(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewSystemContext builds a user-less context for system and registration
// methods that carry the target username in their params.
func NewSystemContext(ctx context.Context, svc *Services) (*Context, error) {
	tree, err := streams.BuildTree(nil)
	if err != nil {
		return nil, err
	}
	return &Context{
		Ctx:        ctx,
		Services:   svc,
		Translator: svc.Translator(),
		Tree:       tree,
	}, nil
}

// loadTree materializes the user's stream tree, system streams included,
// from the cache or the store.
func (c *Context) loadTree() error {
	if tree, ok := c.Services.Cache.Tree(c.Username); ok {
		c.Tree = tree
		return nil
	}
	flat, err := c.Services.Stores.Streams.All(c.Ctx, c.Username)
	if err != nil {
		return err
	}
	flat = append(flat, c.Services.SystemStreams.AsStreams()...)
	tree, err := streams.BuildTree(flat)
	if err != nil {
		return err
	}
	c.Services.Cache.SetTree(c.Username, tree)
	c.Tree = tree
	return nil
}

// RefreshTree rebuilds the stream tree after a stream mutation and drops
// the cached copy on every node.
func (c *Context) RefreshTree() error {
	c.Services.Cache.InvalidateUser(c.Ctx, c.Username)
	return c.loadTree()
}

// AuthenticateToken resolves an access token per the token liveness rules:
// personal tokens need an unexpired session (whose expiry then slides),
// app/shared tokens must be neither tombstoned nor past expires.
func (c *Context) AuthenticateToken(token string, source AuthSource) error {
	if token == "" {
		return apierror.New(apierror.InvalidCredentials, "Missing access token")
	}
	now := model.Timestamp()

	a, cached := c.Services.Cache.AccessByToken(c.Username, token)
	if !cached {
		var err error
		a, err = c.Services.Stores.Accesses.GetByToken(c.Ctx, c.Username, token)
		if err == storage.ErrNotFound {
			return apierror.New(apierror.InvalidCredentials, "Invalid access token")
		}
		if err != nil {
			return err
		}
	}
	if a.IsDeleted() {
		return apierror.New(apierror.InvalidCredentials, "Invalid access token")
	}
	if a.ExpiredAt(now) {
		return apierror.New(apierror.InvalidCredentials, "Access has expired")
	}

	if a.IsPersonal() {
		session, err := c.Services.Stores.Sessions.Get(c.Ctx, token)
		if err == storage.ErrNotFound {
			return apierror.New(apierror.InvalidCredentials, "Invalid access token")
		}
		if err != nil {
			return err
		}
		if session.ExpiredAt(now) {
			return apierror.New(apierror.InvalidCredentials, "Access session has expired")
		}
		maxAge := c.Services.Config.Auth.SessionMaxAge.Seconds()
		if session.Expires < now+maxAge-sessionTouchDebounce {
			session.Expires = now + maxAge
			if err := c.Services.Stores.Sessions.Update(c.Ctx, session); err != nil {
				return err
			}
		}
		c.Session = session
	}

	if !cached {
		c.Services.Cache.SetAccess(c.Username, a)
	}
	a.LastUsed = now
	c.Access = a
	c.AuthSource = source
	c.Eval = access.NewEvaluator(a, c.Tree)
	return nil
}

// AuthenticateReadToken resolves a per-attachment read token: it loads the
// referenced access, verifies the HMAC against the file, and limits the
// resulting context to that file.
func (c *Context) AuthenticateReadToken(readToken, fileID string) error {
	accessID, _, ok := attachments.ParseReadToken(readToken)
	if !ok {
		return apierror.New(apierror.InvalidCredentials, "Invalid file read token")
	}
	a, err := c.Services.Stores.Accesses.Get(c.Ctx, c.Username, accessID)
	if err == storage.ErrNotFound {
		return apierror.New(apierror.InvalidCredentials, "Invalid file read token")
	}
	if err != nil {
		return err
	}
	secret := c.Services.Config.Auth.FilesReadTokenSecret
	if !attachments.VerifyReadToken(readToken, a.ID, a.Token, fileID, secret) {
		return apierror.New(apierror.InvalidCredentials, "Invalid file read token")
	}
	if a.IsDeleted() || a.ExpiredAt(model.Timestamp()) {
		return apierror.New(apierror.InvalidCredentials, "Invalid file read token")
	}
	c.Access = a
	c.AuthSource = AuthSourceReadToken
	c.ReadTokenFileID = fileID
	c.Eval = access.NewEvaluator(a, c.Tree)
	return nil
}

// Now returns the request wall clock as epoch seconds.
func (c *Context) Now() float64 { return model.Timestamp() }

// InitTracking fills tracking properties with the calling access as actor.
func (c *Context) InitTracking(t *model.Tracked) {
	t.InitTracking(c.ActorID(), c.Now())
}

// Touch updates modification tracking with the calling access as actor.
func (c *Context) Touch(t *model.Tracked) {
	t.Touch(c.ActorID(), c.Now())
}

// ActorID identifies the calling access in tracking properties.
func (c *Context) ActorID() string {
	if c.Access == nil {
		return "system"
	}
	return c.Access.ID
}

// Capability surface consumed by method steps.

func (c *Context) CanGetEventsOnStream(streamID, storeID string) bool {
	return c.Eval != nil && c.Eval.CanGetEventsOnStream(streamID, storeID)
}

func (c *Context) CanCreateEventsOnStream(streamID, storeID string) bool {
	return c.Eval != nil && c.Eval.CanCreateEventsOnStream(streamID, storeID)
}

func (c *Context) CanUpdateEventsOnStream(streamID, storeID string) bool {
	return c.Eval != nil && c.Eval.CanUpdateEventsOnStream(streamID, storeID)
}

func (c *Context) CanManageStream(streamID string) bool {
	return c.Eval != nil && c.Eval.CanManageStream(streamID)
}

// RequireAccess fails the pipeline when no access was authenticated.
func (c *Context) RequireAccess() error {
	if c.Access == nil {
		return apierror.New(apierror.InvalidCredentials, "Missing access token")
	}
	return nil
}

// RequirePersonal fails unless the caller holds a personal access.
func (c *Context) RequirePersonal() error {
	if err := c.RequireAccess(); err != nil {
		return err
	}
	if !c.Access.IsPersonal() {
		return apierror.New(apierror.Forbidden,
			"This operation requires a personal access")
	}
	return nil
}
