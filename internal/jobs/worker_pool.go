package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultWorkers     = 2
	defaultQueueSize   = 256
	defaultBaseBackoff = 200 * time.Millisecond
	maxBackoff         = 30 * time.Second
)

type WorkerPoolConfig struct {
	Workers     int
	QueueSize   int
	MaxRetry    int
	BaseBackoff time.Duration
	Logger      *zap.Logger
}

// WorkerPool is the in-process Queue and Runner. Tasks enqueued before Run are kept
// in the buffer and processed once Run starts.
type WorkerPool struct {
	workers     int
	maxRetry    int
	baseBackoff time.Duration
	logger      *zap.Logger
	tasks       chan Task

	mu       sync.RWMutex
	handlers map[string]Handler
	closed   bool
}

func NewWorkerPool(cfg WorkerPoolConfig) *WorkerPool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	baseBackoff := cfg.BaseBackoff
	if baseBackoff <= 0 {
		baseBackoff = defaultBaseBackoff
	}
	maxRetry := cfg.MaxRetry
	if maxRetry < 0 {
		maxRetry = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerPool{
		workers:     workers,
		maxRetry:    maxRetry,
		baseBackoff: baseBackoff,
		logger:      logger,
		tasks:       make(chan Task, queueSize),
		handlers:    make(map[string]Handler),
	}
}

var (
	_ Queue  = (*WorkerPool)(nil)
	_ Runner = (*WorkerPool)(nil)
)

func (p *WorkerPool) Register(taskType string, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[taskType] = handler
}

// Enqueue buffers the task without blocking.
func (p *WorkerPool) Enqueue(_ context.Context, task Task) error {
	if task.Type == "" {
		return ErrMissingTaskType
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrQueueClosed
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run starts the workers and blocks until ctx ends. Further enqueues fail once it returns.
func (p *WorkerPool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.work(ctx, worker)
		}(i)
	}
	<-ctx.Done()
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	wg.Wait()
	return nil
}

func (p *WorkerPool) work(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-p.tasks:
			p.process(ctx, worker, task)
		}
	}
}

func (p *WorkerPool) process(ctx context.Context, worker int, task Task) {
	p.mu.RLock()
	handler, ok := p.handlers[task.Type]
	p.mu.RUnlock()
	if !ok {
		p.logger.Error("no handler registered for task", zap.String("task_type", task.Type))
		return
	}

	backoff := p.baseBackoff
	for attempt := 0; ; attempt++ {
		err := handler(ctx, task)
		if err == nil {
			return
		}
		if attempt >= p.maxRetry {
			p.logger.Error("task failed permanently",
				zap.String("task_type", task.Type),
				zap.Int("worker", worker),
				zap.Int("attempts", attempt+1),
				zap.Error(err))
			return
		}
		p.logger.Warn("task failed, retrying",
			zap.String("task_type", task.Type),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
