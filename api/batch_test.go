package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"open-pryv.io/core/apierror"
)

func TestParseBatchCalls(t *testing.T) {
	calls, err := ParseBatchCalls([]interface{}{
		map[string]interface{}{"method": "events.create", "params": map[string]interface{}{"type": "note/txt"}},
		map[string]interface{}{"method": "streams.get"},
	})
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, "events.create", calls[0].Method)
	assert.Equal(t, "note/txt", calls[0].Params["type"])
	assert.Nil(t, calls[1].Params)

	_, err = ParseBatchCalls("not an array")
	require.Error(t, err)

	_, err = ParseBatchCalls([]interface{}{"not an object"})
	require.Error(t, err)

	_, err = ParseBatchCalls([]interface{}{map[string]interface{}{"params": map[string]interface{}{}}})
	require.Error(t, err)
}

func TestExecuteBatchIsolatesFailures(t *testing.T) {
	reg := NewRegistry()
	reg.Register("test.ok", func(c *Context, p Params, r *Result) error {
		r.Set("value", p["in"])
		return nil
	})
	reg.Register("test.fail", func(c *Context, p Params, r *Result) error {
		return apierror.New(apierror.UnknownResource, "missing")
	})

	out := ExecuteBatch(reg, &Context{}, []BatchCall{
		{Method: "test.ok", Params: Params{"in": "a"}},
		{Method: "test.fail"},
		{Method: "test.ok", Params: Params{"in": "b"}},
	})

	raw, ok := out.Get("results")
	require.True(t, ok)
	results := raw.([]interface{})
	require.Len(t, results, 3)

	first := results[0].(map[string]interface{})
	assert.Equal(t, "a", first["value"])

	second := results[1].(map[string]interface{})
	errEntry, ok := second["error"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, apierror.UnknownResource, errEntry["id"])

	// The failure in the middle must not stop the third call.
	third := results[2].(map[string]interface{})
	assert.Equal(t, "b", third["value"])
}

func TestExecuteBatchUnknownMethodCaptured(t *testing.T) {
	out := ExecuteBatch(NewRegistry(), &Context{}, []BatchCall{{Method: "ghost"}})
	raw, _ := out.Get("results")
	results := raw.([]interface{})
	require.Len(t, results, 1)
	entry := results[0].(map[string]interface{})
	assert.Contains(t, entry, "error")
}
