package runtime

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/toolport/result"
	"github.com/BaSui01/toolport/types"
)

// BatchResult is the outcome of one request of InvokeAll.
type BatchResult struct {
	Request types.InvocationRequest
	Result  *result.Result
	Err     error
}

// InvokeAll runs reqs with at most limit calls in flight and returns one
// BatchResult per request, in request order. A failing request does not
// cancel the others. limit <= 0 uses the configured batch concurrency.
func (rt *Runtime) InvokeAll(ctx context.Context, reqs []types.InvocationRequest, limit int) []BatchResult {
	if limit <= 0 {
		limit = rt.batchLimit
	}
	if limit <= 0 {
		limit = 1
	}

	out := make([]BatchResult, len(reqs))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, req := range reqs {
		out[i].Request = req
		g.Go(func() error {
			out[i].Result, out[i].Err = rt.InvokeRequest(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
