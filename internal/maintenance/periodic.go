package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/rmitchellscott/onebit/internal/logging"
)

// PeriodicTask runs a function immediately and then on every tick, retrying
// failed runs up to MaxRetries times
type PeriodicTask struct {
	config  TaskConfig
	run     func(ctx context.Context) error
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// NewPeriodicTask creates a task that calls run on the configured interval
func NewPeriodicTask(config TaskConfig, run func(ctx context.Context) error) *PeriodicTask {
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}
	return &PeriodicTask{config: config, run: run}
}

func (t *PeriodicTask) Name() string {
	return t.config.Name
}

// Start begins the loop. A disabled task is a no-op.
func (t *PeriodicTask) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return nil
	}

	if !t.config.Enabled {
		logging.DebugWithComponent(logging.ComponentMaintenance, "Task disabled, skipping start", "task", t.config.Name)
		return nil
	}

	logging.InfoWithComponent(logging.ComponentMaintenance, "Starting task", "task", t.config.Name, "interval", t.config.Interval)

	var loopCtx context.Context
	loopCtx, t.cancel = context.WithCancel(ctx)
	t.running = true

	t.wg.Add(1)
	go t.loop(loopCtx)

	return nil
}

// Stop cancels the loop and waits for an in-flight run to return
func (t *PeriodicTask) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return nil
	}

	t.cancel()
	t.wg.Wait()
	t.running = false

	logging.InfoWithComponent(logging.ComponentMaintenance, "Task stopped", "task", t.config.Name)
	return nil
}

func (t *PeriodicTask) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *PeriodicTask) loop(ctx context.Context) {
	defer t.wg.Done()

	t.executeWithRetry(ctx)

	ticker := time.NewTicker(t.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.executeWithRetry(ctx)
		}
	}
}

func (t *PeriodicTask) executeWithRetry(ctx context.Context) {
	for attempt := 0; attempt < t.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return
		}

		runCtx := ctx
		cancel := context.CancelFunc(func() {})
		if t.config.Timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, t.config.Timeout)
		}
		err := t.run(runCtx)
		cancel()

		if err == nil {
			return
		}

		logging.WarnWithComponent(logging.ComponentMaintenance, "Task attempt failed",
			"task", t.config.Name, "attempt", attempt+1, "max_attempts", t.config.MaxRetries, "error", err)

		if attempt < t.config.MaxRetries-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(t.config.RetryDelay):
			}
		}
	}

	logging.ErrorWithComponent(logging.ComponentMaintenance, "Task failed after all attempts",
		"task", t.config.Name, "attempts", t.config.MaxRetries)
}
