// internal/service/sweep/cleanup.go

package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"spark/internal/logging"
)

// LocationPurger deletes old location samples
type LocationPurger interface {
	PurgeLocationsBefore(ctx context.Context, before time.Time) (int64, error)
}

// CleanupSweep drops location samples past the retention window
type CleanupSweep struct {
	purger    LocationPurger
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewCleanupSweep creates a new cleanup sweep
func NewCleanupSweep(purger LocationPurger, retention time.Duration, logger *slog.Logger) *CleanupSweep {
	return &CleanupSweep{
		purger:    purger,
		retention: retention,
		logger:    logging.Component(logger, "cleanup_sweep"),
		now:       time.Now,
	}
}

// Run purges samples older than the retention window
func (s *CleanupSweep) Run(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	purged, err := s.purger.PurgeLocationsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("error purging locations: %w", err)
	}
	if purged > 0 {
		s.logger.Info("purged location samples", "count", purged, "before", cutoff)
	}
	return purged, nil
}

// Task adapts the sweep to the scheduler
func (s *CleanupSweep) Task() TaskFunc {
	return func(ctx context.Context) error {
		_, err := s.Run(ctx)
		return err
	}
}
