// Package maintenance runs the background pruning loops: lockout windows,
// expired sessions, spent token-set entries, and idle anomaly trackers. Every
// loop stops when the supplied context is canceled, so shutdown is explicit
// rather than fire-and-forget.
package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is one named periodic job.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// Runner schedules tasks until Stop (or context cancellation).
type Runner struct {
	tasks  []Task
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewRunner(logger *slog.Logger, tasks ...Task) *Runner {
	return &Runner{tasks: tasks, logger: logger}
}

// Start launches one goroutine per task. Returns immediately.
func (r *Runner) Start(ctx context.Context) {
	for _, task := range r.tasks {
		r.wg.Add(1)
		go func(t Task) {
			defer r.wg.Done()
			ticker := time.NewTicker(t.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					r.logger.Info("maintenance task stopped", "task", t.Name)
					return
				case <-ticker.C:
					t.Run(ctx)
				}
			}
		}(task)
	}
}

// Wait blocks until every task loop has exited.
func (r *Runner) Wait() {
	r.wg.Wait()
}
