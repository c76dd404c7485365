package methods

import (
	"open-pryv.io/core/api"
	"open-pryv.io/core/apierror"
)

func registerBatch(reg *api.Registry, svc *api.Services) {
	reg.Register("callBatch",
		requireAccess,
		func(c *api.Context, params api.Params, result *api.Result) error {
			calls, err := api.ParseBatchCalls(params["calls"])
			if err != nil {
				return err
			}
			batch := api.ExecuteBatch(reg, c, calls)
			results, ok := batch.Get("results")
			if !ok {
				return apierror.New(apierror.UnexpectedError, "Batch produced no results")
			}
			result.Set("results", results)
			return nil
		},
	)
}
