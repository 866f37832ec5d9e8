package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/GoPolymarket/autopilot/internal/model"
	"github.com/hibiken/asynq"
)

const (
	QueueName        = "analytics"
	TypeExecutionLog = "execution:log"
)

// NewExecutionLogTask wraps an execution log for the analytics worker.
func NewExecutionLogTask(entry *model.ExecutionLog) (*asynq.Task, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal failed: %w", err)
	}
	return asynq.NewTask(TypeExecutionLog, payload), nil
}

// Enqueuer is the part of *asynq.Client the sink needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqSink forwards execution logs to the worker queue.
type AsynqSink struct {
	client Enqueuer
	queue  string
}

func NewAsynqSink(client Enqueuer, queue string) *AsynqSink {
	if queue == "" {
		queue = QueueName
	}
	return &AsynqSink{client: client, queue: queue}
}

func (s *AsynqSink) Name() string { return "asynq" }

func (s *AsynqSink) LogExecution(ctx context.Context, entry *model.ExecutionLog) error {
	task, err := NewExecutionLogTask(entry)
	if err != nil {
		return err
	}
	// The log id is the task id, so a repeated publish is deduplicated.
	_, err = s.client.EnqueueContext(ctx, task,
		asynq.Queue(s.queue),
		asynq.TaskID(entry.ID),
		asynq.MaxRetry(10),
		asynq.Timeout(30*time.Second),
		asynq.Retention(24*time.Hour),
	)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("fail to enqueue task, err: %w", err)
	}
	return nil
}
