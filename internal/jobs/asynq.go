package jobs

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	defaultAsynqQueue       = "default"
	defaultAsynqConcurrency = 10
)

// AsynqQueue enqueues tasks into Redis for AsynqRunner instances to process.
type AsynqQueue struct {
	client   *asynq.Client
	queue    string
	maxRetry int
}

// NewAsynqQueue connects to the Redis instance at redisURL.
func NewAsynqQueue(redisURL string, maxRetry int) (*AsynqQueue, error) {
	options, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	return &AsynqQueue{
		client:   asynq.NewClient(options),
		queue:    defaultAsynqQueue,
		maxRetry: maxRetry,
	}, nil
}

var _ Queue = (*AsynqQueue)(nil)

func (q *AsynqQueue) Enqueue(ctx context.Context, task Task) error {
	if task.Type == "" {
		return ErrMissingTaskType
	}
	options := []asynq.Option{asynq.Queue(q.queue)}
	if q.maxRetry >= 0 {
		options = append(options, asynq.MaxRetry(q.maxRetry))
	}
	_, err := q.client.EnqueueContext(ctx, asynq.NewTask(task.Type, task.Payload), options...)
	return err
}

func (q *AsynqQueue) Close() error {
	return q.client.Close()
}

type AsynqRunnerConfig struct {
	RedisURL    string
	Concurrency int
	// Queues is a weight list such as "critical=6,default=3".
	Queues string
	Logger *zap.Logger
}

// AsynqRunner processes tasks from Redis.
type AsynqRunner struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewAsynqRunner(cfg AsynqRunnerConfig) (*AsynqRunner, error) {
	options, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultAsynqConcurrency
	}
	queues := map[string]int{defaultAsynqQueue: 1}
	if parsed := parseQueueWeights(cfg.Queues); len(parsed) > 0 {
		queues = parsed
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	server := asynq.NewServer(options, asynq.Config{
		Concurrency: concurrency,
		Queues:      queues,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("asynq task failed", zap.String("task_type", task.Type()), zap.Error(err))
		}),
	})
	return &AsynqRunner{server: server, mux: asynq.NewServeMux()}, nil
}

var _ Runner = (*AsynqRunner)(nil)

func (r *AsynqRunner) Register(taskType string, handler Handler) {
	r.mux.HandleFunc(taskType, func(ctx context.Context, task *asynq.Task) error {
		return handler(ctx, Task{Type: task.Type(), Payload: task.Payload()})
	})
}

// Run starts the server and blocks until ctx ends, then shuts down gracefully.
func (r *AsynqRunner) Run(ctx context.Context) error {
	if err := r.server.Start(r.mux); err != nil {
		return err
	}
	<-ctx.Done()
	r.server.Shutdown()
	return nil
}

// parseQueueWeights parses "critical=6,default=3,low" into a weight map; missing or
// invalid weights count as 1.
func parseQueueWeights(raw string) map[string]int {
	weights := make(map[string]int)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pair := strings.SplitN(part, "=", 2)
		name := strings.TrimSpace(pair[0])
		if name == "" {
			continue
		}
		weight := 1
		if len(pair) == 2 {
			if parsed, err := strconv.Atoi(strings.TrimSpace(pair[1])); err == nil && parsed > 0 {
				weight = parsed
			}
		}
		weights[name] = weight
	}
	return weights
}
