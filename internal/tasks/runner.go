// Package tasks runs the decoupled side effects (history recording,
// notification fan-out, delivery) launched after a primary case write
// commits. Tasks are best-effort: failures and timeouts are logged and
// counted, never surfaced to the caller of the mutation.
package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/communitydesk/casetrack/internal/shared/metrics"
)

// Config bounds the runner.
type Config struct {
	Workers    int
	BufferSize int
	Timeout    time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Workers:    4,
		BufferSize: 1000,
		Timeout:    30 * time.Second,
	}
}

type task struct {
	name string
	fn   func(context.Context) error
}

// Runner executes submitted tasks on a bounded worker pool.
type Runner struct {
	logger *zap.Logger
	config Config

	taskCh chan task

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewRunner creates a new runner
func NewRunner(config Config, logger *zap.Logger) *Runner {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1
	}
	return &Runner{
		logger: logger,
		config: config,
		taskCh: make(chan task, config.BufferSize),
		stopCh: make(chan struct{}),
	}
}

// Start starts the worker pool
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("runner already started")
	}
	r.started = true

	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return nil
}

// Stop drains in-flight tasks and stops the workers.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	r.mu.Unlock()

	close(r.stopCh)
	r.wg.Wait()
}

// Submit queues a task for execution. Returns false when the queue is
// full; the task is dropped and the drop logged, keeping the submitting
// mutation non-blocking.
func (r *Runner) Submit(name string, fn func(context.Context) error) bool {
	select {
	case r.taskCh <- task{name: name, fn: fn}:
		return true
	default:
		r.logger.Warn("task queue full, dropping task", zap.String("task", name))
		metrics.RecordTask(name, false)
		return false
	}
}

func (r *Runner) worker() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			// Drain remaining tasks before exiting.
			for {
				select {
				case t := <-r.taskCh:
					r.run(t)
				default:
					return
				}
			}
		case t := <-r.taskCh:
			r.run(t)
		}
	}
}

func (r *Runner) run(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.Timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("task panicked",
				zap.String("task", t.name),
				zap.Any("panic", rec))
			metrics.RecordTask(t.name, false)
		}
	}()

	if err := t.fn(ctx); err != nil {
		r.logger.Error("task failed",
			zap.String("task", t.name),
			zap.Error(err))
		metrics.RecordTask(t.name, false)
		return
	}
	metrics.RecordTask(t.name, true)
}
