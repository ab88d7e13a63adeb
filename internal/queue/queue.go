package queue

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"grounded-query/internal/grounding"
	"grounded-query/internal/retry"
)

// TaskType enumerates supported task categories.
type TaskType string

const TaskTypeQuery TaskType = "query"

// ErrNoResponders means no worker is subscribed for the task type.
var ErrNoResponders = errors.New("no workers available")

// Task is a unit of work sent to a worker.
type Task struct {
	ID      uuid.UUID
	Type    TaskType
	Payload []byte
}

// Reply is what a worker sends back. Kind names the grounding error kind, if any;
// Cause, StatusCode and Body carry the rest of a grounding.APIError.
type Reply struct {
	TaskID     uuid.UUID       `json:"task_id"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Kind       string          `json:"kind,omitempty"`
	Cause      string          `json:"cause,omitempty"`
	StatusCode int             `json:"status_code,omitempty"`
	Body       string          `json:"body,omitempty"`
}

// Handler processes a task and returns the reply payload.
type Handler func(context.Context, Task) ([]byte, error)

// Queue dispatches tasks to workers and waits for their reply.
type Queue interface {
	Request(ctx context.Context, task Task) ([]byte, error)
	Worker(ctx context.Context, taskType TaskType, handler Handler) error
}

// QueryPayload is the wire form of a grounding.QueryRequest.
type QueryPayload struct {
	Query             string   `json:"query"`
	SystemInstruction string   `json:"system_instruction"`
	Temperature       *float64 `json:"temperature,omitempty"`
	Grounding         bool     `json:"grounding"`
}

func (p QueryPayload) Request() grounding.QueryRequest {
	return grounding.QueryRequest{
		Query:             p.Query,
		SystemInstruction: p.SystemInstruction,
		Temperature:       p.Temperature,
		GroundingEnabled:  p.Grounding,
	}
}

// NewQueryTask encodes req as a query task.
func NewQueryTask(req grounding.QueryRequest) (Task, error) {
	body, err := json.Marshal(QueryPayload{
		Query:             req.Query,
		SystemInstruction: req.SystemInstruction,
		Temperature:       req.Temperature,
		Grounding:         req.GroundingEnabled,
	})
	if err != nil {
		return Task{}, err
	}
	return Task{ID: uuid.New(), Type: TaskTypeQuery, Payload: body}, nil
}

// QueryHandler adapts a Querier into a worker Handler.
func QueryHandler(q grounding.Querier) Handler {
	return func(ctx context.Context, task Task) ([]byte, error) {
		var payload QueryPayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return nil, &grounding.APIError{Kind: grounding.ErrBadRequest, Err: err}
		}
		result, err := q.Execute(ctx, payload.Request())
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	}
}

// RequestWithRetry retries while no worker is available, using policy's backoff.
func RequestWithRetry(ctx context.Context, q Queue, task Task, policy retry.Policy) ([]byte, error) {
	policy.Retryable = func(err error) bool { return errors.Is(err, ErrNoResponders) }
	var out []byte
	err := policy.Do(ctx, retry.SleepContext, func(ctx context.Context, _ int) error {
		body, err := q.Request(ctx, task)
		if err != nil {
			return err
		}
		out = body
		return nil
	})
	return out, err
}

// DecodeQueryReply unpacks a worker reply into a result, restoring the error kind.
func DecodeQueryReply(body []byte) (grounding.QueryResult, error) {
	var reply Reply
	if err := json.Unmarshal(body, &reply); err != nil {
		return grounding.QueryResult{}, &grounding.APIError{Kind: grounding.ErrMalformedResponse, Err: err}
	}
	if reply.Error != "" {
		apiErr := &grounding.APIError{Kind: kindFromName(reply.Kind), StatusCode: reply.StatusCode, Body: reply.Body}
		if reply.Cause != "" {
			apiErr.Err = errors.New(reply.Cause)
		}
		return grounding.QueryResult{}, apiErr
	}
	var result grounding.QueryResult
	if err := json.Unmarshal(reply.Result, &result); err != nil {
		return grounding.QueryResult{}, &grounding.APIError{Kind: grounding.ErrMalformedResponse, Err: err}
	}
	if result.Sources == nil {
		result.Sources = []grounding.Source{}
	}
	return result, nil
}

var kindNames = map[string]error{
	grounding.ErrAuth.Error():              grounding.ErrAuth,
	grounding.ErrBadRequest.Error():        grounding.ErrBadRequest,
	grounding.ErrRateLimitExceeded.Error(): grounding.ErrRateLimitExceeded,
	grounding.ErrNetwork.Error():           grounding.ErrNetwork,
	grounding.ErrMalformedResponse.Error(): grounding.ErrMalformedResponse,
	grounding.ErrCancelled.Error():         grounding.ErrCancelled,
}

func kindFromName(name string) error {
	if k, ok := kindNames[name]; ok {
		return k
	}
	return grounding.ErrNetwork
}

func encodeReply(taskID uuid.UUID, result []byte, err error) []byte {
	reply := Reply{TaskID: taskID, Result: result}
	if err != nil {
		reply.Result = nil
		reply.Error = err.Error()
		if k := grounding.Kind(err); k != nil {
			reply.Kind = k.Error()
		}
		var apiErr *grounding.APIError
		switch {
		case errors.As(err, &apiErr):
			reply.StatusCode = apiErr.StatusCode
			reply.Body = apiErr.Body
			if apiErr.Err != nil {
				reply.Cause = apiErr.Err.Error()
			}
		default:
			reply.Cause = err.Error()
		}
	}
	body, _ := json.Marshal(reply)
	return body
}
