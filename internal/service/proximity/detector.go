// internal/service/proximity/detector.go

package proximity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"spark/internal/domain/geo"
	"spark/internal/domain/spark"
	"spark/internal/logging"
	"spark/internal/metrics"
	"spark/internal/service/dedup"
)

// DetectorConfig contains configuration for proximity detection
type DetectorConfig struct {
	MaxDistanceMeters float64
	Lookback          time.Duration
	Strength          int
	Expiry            time.Duration
}

// DefaultDetectorConfig returns the default detection parameters
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		MaxDistanceMeters: 100,
		Lookback:          3 * time.Hour,
		Strength:          80,
		Expiry:            48 * time.Hour,
	}
}

// Detector turns a location update into proximity sparks
type Detector struct {
	geoQuery spark.GeoQuery
	blocks   spark.BlockList
	store    spark.Store
	guard    *dedup.Guard
	eventBus spark.EventBus
	config   DetectorConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewDetector creates a new proximity detector
func NewDetector(
	geoQuery spark.GeoQuery,
	blocks spark.BlockList,
	store spark.Store,
	guard *dedup.Guard,
	eventBus spark.EventBus,
	config DetectorConfig,
	logger *slog.Logger,
) *Detector {
	return &Detector{
		geoQuery: geoQuery,
		blocks:   blocks,
		store:    store,
		guard:    guard,
		eventBus: eventBus,
		config:   config,
		logger:   logging.Component(logger, "proximity"),
		now:      time.Now,
	}
}

// Detect finds users near loc and creates a spark for each one the dedup guard
// allows. Candidates are processed sequentially by ascending distance so that
// each insert is visible to the next check.
func (d *Detector) Detect(ctx context.Context, userID string, loc geo.Location) ([]spark.Spark, error) {
	if userID == "" {
		return nil, spark.Validation(nil, "user id is required")
	}
	if err := loc.Validate(); err != nil {
		return nil, spark.Validation(err, "invalid location for user %s", userID)
	}

	now := d.now()

	blocked, err := d.blocks.BlockedPairs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error resolving blocks for %s: %w", userID, err)
	}

	exclude := make(map[string]struct{}, len(blocked)+1)
	exclude[userID] = struct{}{}
	for id := range blocked {
		exclude[id] = struct{}{}
	}

	candidates, err := d.geoQuery.FindNearby(ctx, spark.NearbyQuery{
		Center:       loc,
		RadiusMeters: d.config.MaxDistanceMeters,
		Exclude:      exclude,
		Since:        now.Add(-d.config.Lookback),
	})
	if err != nil {
		return nil, fmt.Errorf("error finding users near %s: %w", userID, err)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Distance < candidates[j].Distance
	})

	var created []spark.Spark
	for _, c := range candidates {
		// Excluded users never get a spark, whatever the adapter returned
		if _, skip := exclude[c.UserID]; skip {
			continue
		}

		s, err := d.createSpark(ctx, userID, c, loc, now)
		if err != nil {
			if errors.Is(err, spark.ErrConflict) {
				metrics.DedupSuppressed.WithLabelValues(string(spark.TypeProximity)).Inc()
				d.logger.Debug("proximity spark suppressed", "user_id", userID, "candidate_id", c.UserID, "reason", err)
				continue
			}
			d.logger.Error("error creating proximity spark", "user_id", userID, "candidate_id", c.UserID, "error", err)
			continue
		}

		created = append(created, *s)
	}

	return created, nil
}

func (d *Detector) createSpark(ctx context.Context, userID string, c spark.NearbyUser, loc geo.Location, now time.Time) (*spark.Spark, error) {
	distance := c.Distance
	expiresAt := now.Add(d.config.Expiry)

	s := &spark.Spark{
		ID:        uuid.New().String(),
		User1ID:   userID,
		User2ID:   c.UserID,
		Type:      spark.TypeProximity,
		Status:    spark.StatusPending,
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		Distance:  &distance,
		Strength:  spark.ClampStrength(d.config.Strength),
		Metadata: map[string]interface{}{
			"instantDetection": true,
			"accuracy":         loc.Accuracy,
			"lastSeen":         c.LastSeen,
		},
		ExpiresAt: &expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := d.store.CreateGuarded(ctx, s, d.guard.Lookback(spark.TypeProximity), d.guard.Checker(spark.TypeProximity, now))
	if err != nil {
		return nil, err
	}

	metrics.SparksCreated.WithLabelValues(string(spark.TypeProximity)).Inc()
	logging.WithSpark(d.logger, s.ID, s.User1ID, s.User2ID).Info("proximity spark created", "distance", distance)

	if err := d.eventBus.Publish(ctx, spark.EventDetected, *s); err != nil {
		d.logger.Warn("error publishing spark event", "spark_id", s.ID, "topic", spark.EventDetected, "error", err)
	}

	return s, nil
}
