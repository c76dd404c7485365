// Package server wires the HTTP surface: echo routing, token extraction,
// the error envelope, attachment streaming and the webhook dispatcher.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"open-pryv.io/core/api"
	"open-pryv.io/core/apierror"
	"open-pryv.io/core/common"
	"open-pryv.io/core/notifications"
)

// Server hosts the API over echo.
type Server struct {
	echo     *echo.Echo
	services *api.Services
	registry *api.Registry
	webhooks *webhookDispatcher
}

// New builds the server: middleware, error handler, routes, and the
// webhook dispatcher subscribed to the notifications bus.
func New(svc *api.Services, reg *api.Registry) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Debug = svc.Config.Server.Debug

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human})\n",
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("20M"))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			"disable-backward-compatibility-prefix",
		},
	}))
	e.Use(middleware.RequestID())
	e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(1000))))

	s := &Server{
		echo:     e,
		services: svc,
		registry: reg,
		webhooks: newWebhookDispatcher(svc),
	}
	e.HTTPErrorHandler = s.errorHandler
	s.routes()
	s.webhooks.subscribe(svc.Bus)
	return s
}

// Start runs the server until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.services.Config.Server.Host, s.services.Config.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		common.Logger.WithField("addr", addr).Info("starting API server")
		errCh <- s.echo.Start(addr)
	}()
	s.services.Bus.Publish(ctx, notifications.TopicServerReady, "")

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			s.services.Config.Server.ShutdownTimeout)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}

// Handler exposes the echo handler for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// errorHandler serializes every failure as {error: {id, message, data}}
// plus the response meta, redacting password material from logs.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	apiErr := apierror.Wrap(err)
	if httpErr, ok := err.(*echo.HTTPError); ok {
		switch httpErr.Code {
		case http.StatusNotFound:
			apiErr = apierror.New(apierror.UnknownResource, "Unknown route")
		case http.StatusMethodNotAllowed:
			apiErr = apierror.New(apierror.InvalidRequestStructure, "Method not allowed")
		case http.StatusRequestEntityTooLarge:
			apiErr = apierror.New(apierror.InvalidRequestStructure, "Request body too large")
		default:
			apiErr = apierror.New(apierror.UnexpectedError, fmt.Sprintf("%v", httpErr.Message))
		}
	}

	entry := common.Logger.WithField("errorId", apiErr.ID).
		WithField("path", c.Request().URL.Path)
	if apiErr.ID == apierror.UnexpectedError {
		entry.WithError(apiErr.InnerError).Error(apiErr.Message)
	} else {
		entry.Debug(apiErr.Message)
	}

	errBody := map[string]interface{}{
		"id":      apiErr.ID,
		"message": apiErr.Message,
	}
	if apiErr.Data != nil {
		errBody["data"] = apierror.RedactParams(apiErr.Data)
	}
	_ = c.JSON(apiErr.HTTPStatus(), map[string]interface{}{
		"error": errBody,
		"meta":  api.NewMeta(),
	})
}

// writeResult serializes a successful result, setting or clearing the SSO
// cookie when the method asked for it.
func (s *Server) writeResult(c echo.Context, apiCtx *api.Context, result *api.Result, successCode int) error {
	if apiCtx.SSOToken != "" {
		c.SetCookie(&http.Cookie{
			Name:     api.SSOCookieName,
			Value:    apiCtx.SSOToken,
			Domain:   s.services.Config.Auth.SSOCookieDomain,
			Path:     "/",
			MaxAge:   int(s.services.Config.Auth.SessionMaxAge / time.Second),
			HttpOnly: true,
		})
	}
	if apiCtx.ClearSSO {
		c.SetCookie(&http.Cookie{
			Name:     api.SSOCookieName,
			Value:    "",
			Domain:   s.services.Config.Auth.SSOCookieDomain,
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
		})
	}
	return result.WriteToHTTPResponse(c.Response(), successCode)
}
