package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskrelay/internal/domain"
	"github.com/phrazzld/taskrelay/internal/events"
	"github.com/phrazzld/taskrelay/internal/resultbus"
)

// publishTimeout bounds how long a worker waits to publish one result.
const publishTimeout = 5 * time.Second

var errTaskCancelled = errors.New("task cancelled during shutdown")

// WorkerPool manages a pool of worker goroutines that process tasks
// from a task queue and publish their results.
type WorkerPool struct {
	queue    *TaskQueue
	registry *Registry

	publisher      resultbus.Publisher
	resultsChannel string

	// workerCount is the number of concurrent workers to start
	workerCount int

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	logger *slog.Logger

	// errorHandler is called when a task execution fails
	// If nil, errors are only logged
	errorHandler func(task Task, err error)

	startOnce sync.Once
	stopOnce  sync.Once
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, defaults to 1
	WorkerCount int

	// QueueSize is the buffer of accepted but not yet running tasks
	QueueSize int

	// ResultsChannel is where completed and error events are published
	ResultsChannel string
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount:    2,
		QueueSize:      100,
		ResultsChannel: "results_queue",
	}
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(
	registry *Registry,
	publisher resultbus.Publisher,
	config WorkerPoolConfig,
	logger *slog.Logger,
) *WorkerPool {
	logger = logger.With("component", "worker_pool")

	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		queue:          NewTaskQueue(config.QueueSize, logger),
		registry:       registry,
		publisher:      publisher,
		resultsChannel: config.ResultsChannel,
		workerCount:    workerCount,
		ctx:            ctx,
		cancel:         cancel,
		logger:         logger,
	}
}

// SetErrorHandler allows setting a custom error handler for task execution failures
func (p *WorkerPool) SetErrorHandler(handler func(task Task, err error)) {
	p.errorHandler = handler
}

// Registry returns the kinds this pool accepts.
func (p *WorkerPool) Registry() *Registry {
	return p.registry
}

// Enqueue validates the submission and queues it for execution.
// The returned id is the task_id of the eventual result event.
func (p *WorkerPool) Enqueue(userID domain.Identity, kind string, params map[string]any) (uuid.UUID, error) {
	if userID.IsZero() {
		return uuid.Nil, domain.ErrMissingIdentity
	}

	k, normalized, err := p.registry.Resolve(kind, params)
	if err != nil {
		return uuid.Nil, err
	}

	j := newJob(userID, k, normalized)
	if err := p.queue.Enqueue(j); err != nil {
		return uuid.Nil, err
	}
	return j.ID(), nil
}

// Start launches the workers. Calling Start more than once has no effect.
func (p *WorkerPool) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("starting worker pool", "worker_count", p.workerCount)
		for i := 0; i < p.workerCount; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
	})
}

// Stop rejects new tasks, signals the workers and waits for them to exit.
// Tasks still queued never run; each gets an error event instead.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("stopping worker pool")
		p.queue.Close()
		p.cancel()
		p.wg.Wait()

		cancelled := 0
		for t := range p.queue.GetChannel() {
			p.publish(p.taskLogger(t), events.NewError(t.UserID(), t.ID().String(), t.Type(), errTaskCancelled.Error()))
			cancelled++
		}
		p.logger.Info("worker pool stopped", "cancelled", cancelled)
	})
}

// QueueLen reports how many tasks are waiting.
func (p *WorkerPool) QueueLen() int {
	return p.queue.Len()
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("starting worker", "worker_id", id)

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug("stopping worker", "worker_id", id)
			return

		case t, ok := <-p.queue.GetChannel():
			if !ok {
				p.logger.Debug("task channel closed, stopping worker", "worker_id", id)
				return
			}
			p.processTask(t, id)
		}
	}
}

func (p *WorkerPool) taskLogger(t Task) *slog.Logger {
	return p.logger.With(
		"task_id", t.ID(),
		"task_type", t.Type(),
		"user_id", t.UserID(),
	)
}

func (p *WorkerPool) processTask(t Task, workerID int) {
	logger := p.taskLogger(t).With("worker_id", workerID)
	logger.Info("processing task")

	result, err := p.execute(t)

	var event events.ResultEvent
	if err != nil {
		logger.Error("task execution failed", "error", err)
		if p.errorHandler != nil {
			p.errorHandler(t, err)
		}
		event = events.NewError(t.UserID(), t.ID().String(), t.Type(), err.Error())
	} else {
		logger.Info("task completed successfully")
		event = events.NewCompleted(t.UserID(), t.ID(), t.Type(), result)
	}
	p.publish(logger, event)
}

func (p *WorkerPool) publish(logger *slog.Logger, event events.ResultEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if _, err := resultbus.PublishEvent(ctx, p.publisher, p.resultsChannel, event); err != nil {
		logger.Error("failed to publish task result", "status", event.Status, "error", err)
	}
}

// execute runs the task and converts a panic into an error.
func (p *WorkerPool) execute(t Task) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	result, err = t.Execute(p.ctx)
	if err == nil && result == nil {
		result = map[string]any{}
	}
	if errors.Is(err, context.Canceled) {
		err = errTaskCancelled
	}
	return result, err
}
