// Package queue dispatches pipeline runs to workers. Backoff delays live
// here: a task carries the earliest time it may run and the dispatcher holds
// it until then, so the job engine itself never sleeps.
package queue

import (
	"context"
	"time"

	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/json"
	"github.com/google/uuid"
)

// Task asks a worker to execute a pipeline. An empty JobID makes the
// executor create a new job.
type Task struct {
	ID         string    `json:"id"`
	PipelineID string    `json:"pipeline_id"`
	JobID      string    `json:"job_id,omitempty"`
	NotBefore  time.Time `json:"not_before,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// TaskHandle identifies an enqueued task
type TaskHandle struct {
	TaskID string
}

// Handler runs one task on a worker
type Handler func(ctx context.Context, task Task) error

// Dispatcher enqueues tasks and revokes them before they run
type Dispatcher interface {
	Enqueue(ctx context.Context, task Task) (TaskHandle, error)
	Revoke(ctx context.Context, taskID string) error
}

// Worker is a dispatcher that can also consume its own tasks
type Worker interface {
	Dispatcher
	Start(ctx context.Context, handler Handler) error
	Close() error
}

// ErrRevoked is returned when a revoked task is about to run
var ErrRevoked = errors.New(errors.ErrorTypeConflict, "task revoked")

// prepare fills in the task id and enqueue time
func prepare(task Task) (Task, error) {
	if task.PipelineID == "" {
		return task, errors.New(errors.ErrorTypeValidation, "task pipeline id is required")
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	return task, nil
}

// Delay returns how long the task must wait before running
func (t Task) Delay(now time.Time) time.Duration {
	if t.NotBefore.IsZero() || !t.NotBefore.After(now) {
		return 0
	}
	return t.NotBefore.Sub(now)
}

func encodeTask(task Task) ([]byte, error) {
	data, err := json.Marshal(task)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode task")
	}
	return data, nil
}

func decodeTask(data []byte) (Task, error) {
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return task, errors.Wrap(err, errors.ErrorTypeData, "failed to decode task")
	}
	if task.ID == "" || task.PipelineID == "" {
		return task, errors.New(errors.ErrorTypeData, "task is missing id or pipeline id")
	}
	return task, nil
}
