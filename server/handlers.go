package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"open-pryv.io/core/api"
	"open-pryv.io/core/apierror"
	"open-pryv.io/core/streams"
)

// newContext builds the per-request API context for a /:username/ route and
// resolves the token per the documented order: Authorization header, auth
// query parameter, signed SSO cookie.
func (s *Server) newContext(c echo.Context, authenticate bool) (*api.Context, error) {
	username := c.Param("username")
	apiCtx, err := api.NewContext(c.Request().Context(), s.services, username)
	if err != nil {
		return nil, err
	}
	apiCtx.DisableCompat = c.Request().Header.Get(streams.DisableCompatHeader) == "true"
	if !authenticate {
		return apiCtx, nil
	}

	if token := headerToken(c); token != "" {
		return apiCtx, apiCtx.AuthenticateToken(token, api.AuthSourceHeader)
	}
	if token := c.QueryParam("auth"); token != "" {
		return apiCtx, apiCtx.AuthenticateToken(token, api.AuthSourceQuery)
	}
	if cookie, err := c.Cookie(api.SSOCookieName); err == nil && cookie.Value != "" {
		secret := s.services.Config.Auth.SSOCookieSignSecret
		ssoUser, token, err := api.ParseSSOToken(secret, cookie.Value)
		if err != nil {
			return nil, err
		}
		if ssoUser != username {
			return nil, apierror.New(apierror.InvalidCredentials, "Invalid SSO cookie")
		}
		return apiCtx, apiCtx.AuthenticateToken(token, api.AuthSourceSSOCookie)
	}
	return nil, apierror.New(apierror.InvalidCredentials, "Missing access token")
}

func headerToken(c echo.Context) string {
	raw := c.Request().Header.Get(echo.HeaderAuthorization)
	return strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
}

// handle builds the generic method handler: collect params from path,
// query and body, dispatch, serialize.
func (s *Server) handle(methodID string, successCode int, authenticate bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		apiCtx, err := s.newContext(c, authenticate)
		if err != nil {
			return err
		}
		params, err := s.collectParams(c)
		if err != nil {
			return err
		}
		result := api.NewResult()
		if err := s.registry.Call(apiCtx, methodID, params, result); err != nil {
			return err
		}
		return s.writeResult(c, apiCtx, result, successCode)
	}
}

// collectParams merges the JSON body, query parameters (type-coerced) and
// path parameters into one params map. Path values win over query values,
// query over body.
func (s *Server) collectParams(c echo.Context) (api.Params, error) {
	params := api.Params{}

	req := c.Request()
	if req.Body != nil && req.ContentLength != 0 &&
		strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		var body map[string]interface{}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			return nil, apierror.New(apierror.InvalidRequestStructure, "Malformed JSON body")
		}
		for k, v := range body {
			params[k] = v
		}
	}

	for k, vs := range c.QueryParams() {
		if k == "auth" || len(vs) == 0 {
			continue
		}
		if len(vs) > 1 {
			coerced := make([]interface{}, 0, len(vs))
			for _, v := range vs {
				coerced = append(coerced, coerceQueryValue(v))
			}
			params[k] = coerced
			continue
		}
		params[k] = coerceQueryValue(vs[0])
	}

	for _, name := range c.ParamNames() {
		if name == "username" {
			continue
		}
		params[name] = c.Param(name)
	}
	return params, nil
}

// coerceQueryValue maps query strings onto JSON types: booleans, numbers,
// and bracketed values are decoded, the rest stay strings.
func coerceQueryValue(v string) interface{} {
	switch v {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	if strings.HasPrefix(v, "[") || strings.HasPrefix(v, "{") {
		var decoded interface{}
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			return decoded
		}
	}
	return v
}

// handleLogin injects the Origin header before dispatching auth.login.
func (s *Server) handleLogin(c echo.Context) error {
	apiCtx, err := s.newContext(c, false)
	if err != nil {
		return err
	}
	params, err := s.collectParams(c)
	if err != nil {
		return err
	}
	params["origin"] = c.Request().Header.Get(echo.HeaderOrigin)
	result := api.NewResult()
	if err := s.registry.Call(apiCtx, "auth.login", params, result); err != nil {
		return err
	}
	return s.writeResult(c, apiCtx, result, http.StatusOK)
}

// handleTrustedAppMethod forwards Origin for the password-reset methods.
func (s *Server) handleTrustedAppMethod(methodID string) echo.HandlerFunc {
	return func(c echo.Context) error {
		apiCtx, err := s.newContext(c, false)
		if err != nil {
			return err
		}
		params, err := s.collectParams(c)
		if err != nil {
			return err
		}
		params["origin"] = c.Request().Header.Get(echo.HeaderOrigin)
		result := api.NewResult()
		if err := s.registry.Call(apiCtx, methodID, params, result); err != nil {
			return err
		}
		return s.writeResult(c, apiCtx, result, http.StatusOK)
	}
}

// handleBatch maps POST / onto callBatch with the raw array as calls.
func (s *Server) handleBatch(c echo.Context) error {
	apiCtx, err := s.newContext(c, true)
	if err != nil {
		return err
	}
	var calls interface{}
	if err := json.NewDecoder(c.Request().Body).Decode(&calls); err != nil {
		return apierror.New(apierror.InvalidRequestStructure, "Malformed JSON body")
	}
	result := api.NewResult()
	if err := s.registry.Call(apiCtx, "callBatch", api.Params{"calls": calls}, result); err != nil {
		return err
	}
	return s.writeResult(c, apiCtx, result, http.StatusOK)
}

// handleSystem gates /system/* on the admin access key; every failure,
// including a bad key, surfaces as 404 so the surface stays dark.
func (s *Server) handleSystem(methodID string, successCode int) echo.HandlerFunc {
	notFound := apierror.New(apierror.UnknownResource, "Unknown route")
	return func(c echo.Context) error {
		key := s.services.Config.Auth.AdminAccessKey
		if key == "" || c.Request().Header.Get(echo.HeaderAuthorization) != key {
			return notFound
		}
		apiCtx, err := api.NewSystemContext(c.Request().Context(), s.services)
		if err != nil {
			return notFound
		}
		params, err := s.collectParams(c)
		if err != nil {
			return notFound
		}
		if username := c.Param("username"); username != "" {
			params["username"] = username
		}
		result := api.NewResult()
		if err := s.registry.Call(apiCtx, methodID, params, result); err != nil {
			return notFound
		}
		return s.writeResult(c, apiCtx, result, successCode)
	}
}

// handleRegistration serves the public registration endpoints with a
// user-less context.
func (s *Server) handleRegistration(methodID string, successCode int) echo.HandlerFunc {
	return func(c echo.Context) error {
		apiCtx, err := api.NewSystemContext(c.Request().Context(), s.services)
		if err != nil {
			return err
		}
		params, err := s.collectParams(c)
		if err != nil {
			return err
		}
		if username := c.Param("username"); username != "" {
			params["username"] = username
		}
		result := api.NewResult()
		if err := s.registry.Call(apiCtx, methodID, params, result); err != nil {
			return err
		}
		return s.writeResult(c, apiCtx, result, successCode)
	}
}
