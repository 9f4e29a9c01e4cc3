package maintenance

import (
	"context"
	"time"

	"github.com/rmitchellscott/onebit/internal/logging"
)

// ImageCleaner removes stored images older than a cutoff
type ImageCleaner interface {
	CleanupOldImages(maxAge time.Duration) (int, error)
}

// HistoryPruner removes conversion records older than a cutoff
type HistoryPruner interface {
	DeleteOlderThan(age time.Duration) (int64, error)
}

// NewImageCleanupTask deletes stored images older than maxAge on every run.
// A non-positive maxAge disables the task.
func NewImageCleanupTask(cleaner ImageCleaner, maxAge, interval time.Duration) *PeriodicTask {
	config := DefaultConfig("image-cleanup", interval)
	config.Enabled = config.Enabled && maxAge > 0
	return NewPeriodicTask(config, func(ctx context.Context) error {
		removed, err := cleaner.CleanupOldImages(maxAge)
		if err != nil {
			return err
		}
		if removed > 0 {
			logging.InfoWithComponent(logging.ComponentStorage, "Removed old images", "count", removed, "max_age", maxAge)
		}
		return nil
	})
}

// NewHistoryPruneTask deletes conversion records older than retention.
// A non-positive retention disables the task.
func NewHistoryPruneTask(pruner HistoryPruner, retention, interval time.Duration) *PeriodicTask {
	config := DefaultConfig("history-prune", interval)
	config.Enabled = config.Enabled && retention > 0
	return NewPeriodicTask(config, func(ctx context.Context) error {
		removed, err := pruner.DeleteOlderThan(retention)
		if err != nil {
			return err
		}
		if removed > 0 {
			logging.InfoWithComponent(logging.ComponentDatabase, "Pruned conversion history", "count", removed, "retention", retention)
		}
		return nil
	})
}
