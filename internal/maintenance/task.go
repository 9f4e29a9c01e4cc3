package maintenance

import (
	"context"
	"time"
)

// Task is a background job run on a fixed interval
type Task interface {
	// Name identifies the task in logs
	Name() string

	// Start begins the run loop in a goroutine
	Start(ctx context.Context) error

	// Stop waits for the loop to exit
	Stop() error

	IsRunning() bool
}

// TaskConfig holds configuration for a periodic task
type TaskConfig struct {
	Name       string
	Interval   time.Duration
	Enabled    bool
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// DefaultConfig returns a task configuration with three attempts per run
func DefaultConfig(name string, interval time.Duration) TaskConfig {
	return TaskConfig{
		Name:       name,
		Interval:   interval,
		Enabled:    interval > 0,
		MaxRetries: 3,
		RetryDelay: 30 * time.Second,
		Timeout:    5 * time.Minute,
	}
}
