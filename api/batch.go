package api

import (
	"fmt"

	"open-pryv.io/core/apierror"
)

// BatchCall is one entry of a batch request.
type BatchCall struct {
	Method string `json:"method"`
	Params Params `json:"params"`
}

// ParseBatchCalls decodes the raw batch body into calls, rejecting
// malformed entries up front.
func ParseBatchCalls(raw interface{}) ([]BatchCall, error) {
	arr, ok := raw.([]interface{})
	if !ok {
		return nil, apierror.New(apierror.InvalidRequestStructure,
			"Batch body must be an array of {method, params} calls")
	}
	calls := make([]BatchCall, 0, len(arr))
	for i, item := range arr {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, apierror.New(apierror.InvalidRequestStructure,
				fmt.Sprintf("Batch call #%d is not an object", i))
		}
		method, _ := obj["method"].(string)
		if method == "" {
			return nil, apierror.New(apierror.InvalidRequestStructure,
				fmt.Sprintf("Batch call #%d is missing 'method'", i))
		}
		params, _ := obj["params"].(map[string]interface{})
		calls = append(calls, BatchCall{Method: method, Params: Params(params)})
	}
	return calls, nil
}

// ExecuteBatch runs the calls sequentially through the registry under the
// shared context. Each sub-result, success or error, is captured in order;
// a failing call never aborts the batch. No transactional guarantees hold
// across calls.
func ExecuteBatch(reg *Registry, c *Context, calls []BatchCall) *Result {
	results := make([]interface{}, 0, len(calls))
	for _, call := range calls {
		sub := NewResult()
		err := reg.Call(c, call.Method, call.Params, sub)
		if err != nil {
			apiErr := apierror.Wrap(err)
			entry := map[string]interface{}{
				"id":      apiErr.ID,
				"message": apiErr.Message,
			}
			if apiErr.Data != nil {
				entry["data"] = apiErr.Data
			}
			results = append(results, map[string]interface{}{"error": entry})
			continue
		}
		m, err := sub.ToMap()
		if err != nil {
			apiErr := apierror.Wrap(err)
			results = append(results, map[string]interface{}{
				"error": map[string]interface{}{"id": apiErr.ID, "message": apiErr.Message},
			})
			continue
		}
		results = append(results, m)
	}
	out := NewResult()
	out.Set("results", results)
	return out
}
