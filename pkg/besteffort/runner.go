// Package besteffort runs post-commit side effects that must never fail the request that
// triggered them.
package besteffort

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// DefaultTimeout bounds a single task
const DefaultTimeout = 30 * time.Second

// Task is a side effect. Its error is logged and dropped.
type Task func(ctx context.Context) error

// Runner starts tasks on their own goroutines. Tasks are detached from the caller's
// cancellation, recover from panics and report failures only to the log.
type Runner struct {
	logger  *slog.Logger
	wg      sync.WaitGroup
	timeout time.Duration
	mu      sync.Mutex
	closed  bool
}

// NewRunner creates a Runner. A nil logger uses slog.Default; a non-positive timeout uses
// DefaultTimeout.
func NewRunner(logger *slog.Logger, timeout time.Duration) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{logger: logger, timeout: timeout}
}

// Go starts task in the background. It returns false only after Drain has been called.
func (r *Runner) Go(ctx context.Context, name string, task Task, attrs ...slog.Attr) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.LogAttrs(ctx, slog.LevelWarn, "side effect dropped after shutdown", append(attrs, slog.String("task", name))...)
		return false
	}
	r.wg.Add(1)
	r.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	go func() {
		defer r.wg.Done()
		r.run(detached, name, task, attrs)
	}()
	return true
}

func (r *Runner) run(ctx context.Context, name string, task Task, attrs []slog.Attr) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	attrs = append(attrs, slog.String("task", name))
	start := time.Now()

	err := safeCall(ctx, task)
	attrs = append(attrs, slog.Duration("duration", time.Since(start)))
	if err != nil {
		r.logger.LogAttrs(ctx, slog.LevelWarn, "side effect failed", append(attrs, slog.Any("error", err))...)
		return
	}
	r.logger.LogAttrs(ctx, slog.LevelDebug, "side effect completed", attrs...)
}

func safeCall(ctx context.Context, task Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return task(ctx)
}

// Wait blocks until every started task has finished
func (r *Runner) Wait() {
	r.wg.Wait()
}

// WaitContext blocks until every started task has finished or ctx is done
func (r *Runner) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain stops accepting tasks and waits for running ones, up to ctx's deadline
func (r *Runner) Drain(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	return r.WaitContext(ctx)
}
