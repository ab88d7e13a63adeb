package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"grounded-query/internal/grounding"
)

// NewNATS constructs a thin NATS request/reply queue. A worker handles up to
// concurrency tasks at once; values below 1 use DefaultConcurrency.
func NewNATS(log *slog.Logger, nc *nats.Conn, concurrency int) Queue {
	return &natsQueue{log: log, nc: nc, concurrency: concurrency}
}

type natsQueue struct {
	log         *slog.Logger
	nc          *nats.Conn
	concurrency int
}

func subject(t TaskType) string { return "tasks." + string(t) }

func (q *natsQueue) Request(ctx context.Context, task Task) ([]byte, error) {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.Type == "" {
		return nil, errors.New("task type required")
	}
	body, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	msg, err := q.nc.RequestWithContext(ctx, subject(task.Type), body)
	if errors.Is(err, nats.ErrNoResponders) {
		return nil, ErrNoResponders
	}
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

func (q *natsQueue) Worker(ctx context.Context, taskType TaskType, handler Handler) error {
	group := "workers-" + string(taskType)
	// NATS delivers a subscription's messages one at a time; the limiter
	// lets slow upstream calls overlap while the callback applies backpressure.
	lim := newLimiter(q.concurrency)
	sub, err := q.nc.QueueSubscribe(subject(taskType), group, func(msg *nats.Msg) {
		err := lim.Go(ctx, func() { q.handleMessage(ctx, msg, handler) })
		if err != nil {
			q.respond(msg, encodeReply(uuid.Nil, nil, &grounding.APIError{Kind: grounding.ErrCancelled, Err: err}))
		}
	})
	if err != nil {
		return err
	}
	q.log.Info("queue worker subscribed", "subject", subject(taskType), "group", group, "concurrency", q.concurrency)
	<-ctx.Done()
	err = sub.Unsubscribe()
	lim.Wait()
	return err
}

func (q *natsQueue) handleMessage(ctx context.Context, msg *nats.Msg, handler Handler) {
	var task Task
	if err := json.Unmarshal(msg.Data, &task); err != nil {
		q.log.Error("failed to decode task", "err", err)
		q.respond(msg, encodeReply(uuid.Nil, nil, err))
		return
	}

	result, err := handler(ctx, task)
	if err != nil {
		q.log.Warn("task failed", "id", task.ID, "type", task.Type, "err", err)
	}
	q.respond(msg, encodeReply(task.ID, result, err))
}

func (q *natsQueue) respond(msg *nats.Msg, body []byte) {
	if msg.Reply == "" {
		return
	}
	if err := msg.Respond(body); err != nil {
		q.log.Error("failed to send reply", "err", err)
	}
}
