package maintenance

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunner_RunsTasksUntilCanceled(t *testing.T) {
	var runs int64
	runner := NewRunner(slog.New(slog.NewTextHandler(io.Discard, nil)),
		Task{Name: "tick", Interval: 5 * time.Millisecond, Run: func(context.Context) {
			atomic.AddInt64(&runs, 1)
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	runner.Start(ctx)

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&runs) >= 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	runner.Wait()

	// No more runs after shutdown.
	final := atomic.LoadInt64(&runs)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, final, atomic.LoadInt64(&runs))
}

func TestRunner_StartReturnsImmediately(t *testing.T) {
	runner := NewRunner(slog.New(slog.NewTextHandler(io.Discard, nil)),
		Task{Name: "slow", Interval: time.Hour, Run: func(context.Context) {}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start blocked")
	}
	cancel()
	runner.Wait()
}
