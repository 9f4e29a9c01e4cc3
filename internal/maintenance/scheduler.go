package maintenance

import (
	"context"
	"sync"

	"github.com/rmitchellscott/onebit/internal/logging"
)

// Scheduler starts and stops a set of tasks together
type Scheduler struct {
	tasks   map[string]Task
	mu      sync.Mutex
	running bool
}

func NewScheduler() *Scheduler {
	return &Scheduler{tasks: make(map[string]Task)}
}

// Register adds a task. Registering a name twice replaces the first task.
func (s *Scheduler) Register(task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.Name()] = task
	logging.DebugWithComponent(logging.ComponentMaintenance, "Registered task", "task", task.Name())
}

// Start starts every registered task. A task that fails to start is logged
// and skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	s.running = true

	for name, task := range s.tasks {
		if err := task.Start(ctx); err != nil {
			logging.ErrorWithComponent(logging.ComponentMaintenance, "Failed to start task", "task", name, "error", err)
		}
	}
	return nil
}

// Stop stops all tasks concurrently and waits for them
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	var wg sync.WaitGroup
	for name, task := range s.tasks {
		if !task.IsRunning() {
			continue
		}
		wg.Add(1)
		go func(name string, task Task) {
			defer wg.Done()
			if err := task.Stop(); err != nil {
				logging.ErrorWithComponent(logging.ComponentMaintenance, "Error stopping task", "task", name, "error", err)
			}
		}(name, task)
	}
	wg.Wait()

	s.running = false
	return nil
}

// Names returns the registered task names
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	return names
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
