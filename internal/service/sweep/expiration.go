// internal/service/sweep/expiration.go

package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"spark/internal/domain/spark"
	"spark/internal/logging"
)

// ExpirationSweep moves overdue pending sparks to expired. It only ever
// performs pending -> expired, so overlapping runs are harmless.
type ExpirationSweep struct {
	store    spark.Store
	eventBus spark.EventBus
	logger   *slog.Logger
	now      func() time.Time
}

// NewExpirationSweep creates a new expiration sweep
func NewExpirationSweep(store spark.Store, eventBus spark.EventBus, logger *slog.Logger) *ExpirationSweep {
	return &ExpirationSweep{
		store:    store,
		eventBus: eventBus,
		logger:   logging.Component(logger, "expiration_sweep"),
		now:      time.Now,
	}
}

// Run expires overdue sparks and returns them
func (s *ExpirationSweep) Run(ctx context.Context) ([]spark.Spark, error) {
	expired, err := s.store.ExpirePending(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("error expiring sparks: %w", err)
	}

	for _, sp := range expired {
		if err := s.eventBus.Publish(ctx, spark.EventStatusChanged, sp); err != nil {
			s.logger.Warn("error publishing spark event", "spark_id", sp.ID, "topic", spark.EventStatusChanged, "error", err)
		}
	}

	if len(expired) > 0 {
		s.logger.Info("expired pending sparks", "count", len(expired))
	}
	return expired, nil
}

// Task adapts the sweep to the scheduler
func (s *ExpirationSweep) Task() TaskFunc {
	return func(ctx context.Context) error {
		_, err := s.Run(ctx)
		return err
	}
}
