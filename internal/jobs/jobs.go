// Package jobs runs background reconciliation tasks, in process or over Redis via asynq.
package jobs

import (
	"context"
	"errors"
)

// Task is a background job: a stable type name and an opaque payload.
type Task struct {
	Type    string
	Payload []byte
}

// Handler processes a task. A non-nil error asks the backend to retry; handlers must be idempotent.
type Handler func(ctx context.Context, task Task) error

// Queue accepts tasks for background processing.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
}

// Runner executes registered handlers until its context ends.
type Runner interface {
	Register(taskType string, handler Handler)
	Run(ctx context.Context) error
}

var (
	ErrMissingTaskType = errors.New("jobs: task type is required")
	ErrQueueFull       = errors.New("jobs: queue is full")
	ErrQueueClosed     = errors.New("jobs: queue is closed")
)
