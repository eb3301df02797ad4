package worker

import (
	"context"
	"log/slog"
	"sync"
)

// Task processes the item at index i.
type Task func(ctx context.Context, i int) error

// Pool runs indexed tasks across a bounded number of workers.
type Pool struct {
	workers int
	logger  *slog.Logger
}

// Config holds worker pool configuration.
type Config struct {
	Workers int
}

// NewPool creates a new worker pool.
func NewPool(cfg Config, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		workers: cfg.Workers,
		logger:  logger,
	}
}

// Workers returns the concurrency limit.
func (p *Pool) Workers() int {
	return p.workers
}

// Run calls task for every index in [0, n). Indexes are handed out in
// ascending order; with one worker they also complete in that order.
// The first error cancels the context passed to in-flight tasks, stops
// dispatching, and is returned once all workers have exited.
func (p *Pool) Run(ctx context.Context, n int, task Task) error {
	if n <= 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := p.workers
	if workers > n {
		workers = n
	}

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	jobs := make(chan int)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			logger := p.logger.With("worker_id", id)
			for i := range jobs {
				if ctx.Err() != nil {
					return
				}
				if err := task(ctx, i); err != nil {
					logger.Debug("task failed", "index", i, "error", err)
					fail(err)
					return
				}
			}
		}(w)
	}

dispatch:
	for i := 0; i < n; i++ {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}
