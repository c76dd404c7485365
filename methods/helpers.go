// Package methods registers the API methods: each method is a pipeline of
// steps (params validation first) operating on the request context and
// producing a result envelope.
package methods

import (
	"encoding/json"

	"open-pryv.io/core/api"
	"open-pryv.io/core/apierror"
	"open-pryv.io/core/model"
)

// RegisterAll installs every API method into the registry.
func RegisterAll(reg *api.Registry, svc *api.Services) {
	registerAuth(reg, svc)
	registerAccesses(reg, svc)
	registerEvents(reg, svc)
	registerStreams(reg, svc)
	registerAccount(reg, svc)
	registerProfile(reg, svc)
	registerFollowedSlices(reg, svc)
	registerWebhooks(reg, svc)
	registerSystem(reg, svc)
	registerBatch(reg, svc)
}

// requireAccess is the common step gating authenticated methods.
func requireAccess(c *api.Context, params api.Params, result *api.Result) error {
	return c.RequireAccess()
}

// requirePersonal gates personal-only methods.
func requirePersonal(c *api.Context, params api.Params, result *api.Result) error {
	return c.RequirePersonal()
}

func paramString(params api.Params, key string) string {
	s, _ := params[key].(string)
	return s
}

func paramBool(params api.Params, key string) bool {
	switch v := params[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

func paramFloat(params api.Params, key string) *float64 {
	switch v := params[key].(type) {
	case float64:
		return &v
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return &f
		}
	case int:
		f := float64(v)
		return &f
	}
	return nil
}

func paramInt(params api.Params, key string, def int) int {
	if f := paramFloat(params, key); f != nil {
		return int(*f)
	}
	return def
}

// decodeInto round-trips an untyped params value into a typed struct.
func decodeInto(raw interface{}, target interface{}) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return apierror.New(apierror.InvalidParametersFormat, "Malformed request body")
	}
	if err := json.Unmarshal(data, target); err != nil {
		return apierror.New(apierror.InvalidParametersFormat, "Malformed request body")
	}
	return nil
}

// toMap renders a typed value as the generic map shape used in results.
func toMap(v interface{}) map[string]interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func decodePermissions(raw interface{}) ([]model.Permission, error) {
	if raw == nil {
		return nil, nil
	}
	var perms []model.Permission
	if err := decodeInto(raw, &perms); err != nil {
		return nil, err
	}
	return perms, nil
}
