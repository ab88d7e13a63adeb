package queue

import (
	"context"

	"grounded-query/internal/grounding"
	"grounded-query/internal/retry"
)

// RemoteQuerier runs queries on a worker reachable through a Queue.
type RemoteQuerier struct {
	q      Queue
	policy retry.Policy
}

// NewRemoteQuerier retries per policy only while no worker is listening;
// upstream retries happen inside the worker's own client.
func NewRemoteQuerier(q Queue, policy retry.Policy) *RemoteQuerier {
	return &RemoteQuerier{q: q, policy: policy}
}

func (r *RemoteQuerier) Execute(ctx context.Context, req grounding.QueryRequest) (grounding.QueryResult, error) {
	task, err := NewQueryTask(req)
	if err != nil {
		return grounding.QueryResult{}, &grounding.APIError{Kind: grounding.ErrBadRequest, Err: err}
	}
	body, err := RequestWithRetry(ctx, r.q, task, r.policy)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return grounding.QueryResult{}, &grounding.APIError{Kind: grounding.ErrCancelled, Err: ctxErr}
		}
		return grounding.QueryResult{}, &grounding.APIError{Kind: grounding.ErrNetwork, Err: err}
	}
	return DecodeQueryReply(body)
}
