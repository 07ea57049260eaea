// internal/service/sweep/interest.go

package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"spark/internal/domain/geo"
	"spark/internal/domain/spark"
	"spark/internal/logging"
	"spark/internal/metrics"
	"spark/internal/service/dedup"
)

// InterestConfig contains configuration for interest matching
type InterestConfig struct {
	MinSharedInterests int
	StrengthThreshold  int
	Expiry             time.Duration
}

// DefaultInterestConfig returns the default interest matching parameters
func DefaultInterestConfig() InterestConfig {
	return InterestConfig{
		MinSharedInterests: 3,
		StrengthThreshold:  50,
		Expiry:             72 * time.Hour,
	}
}

// Result summarizes one sweep run
type Result struct {
	Examined int `json:"examined"`
	Created  int `json:"created"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// InterestScore is the outcome of comparing two interest lists
type InterestScore struct {
	Shared        []string
	Compatibility float64
	Strength      int
}

// ScoreInterests compares two interest lists case-insensitively.
// Compatibility is the Jaccard index and strength combines the shared count
// (capped at 50) with the compatibility scaled to 50.
func ScoreInterests(a, b []string) InterestScore {
	setA := normalize(a)
	setB := normalize(b)

	union := make(map[string]struct{}, len(setA)+len(setB))
	var shared []string
	for k := range setA {
		union[k] = struct{}{}
		if _, ok := setB[k]; ok {
			shared = append(shared, k)
		}
	}
	for k := range setB {
		union[k] = struct{}{}
	}
	sort.Strings(shared)

	var compatibility float64
	if len(union) > 0 {
		compatibility = float64(len(shared)) / float64(len(union))
	}

	sharedScore := len(shared) * 10
	if sharedScore > 50 {
		sharedScore = 50
	}

	return InterestScore{
		Shared:        shared,
		Compatibility: compatibility,
		Strength:      spark.ClampStrength(sharedScore + int(math.Round(compatibility*50))),
	}
}

func normalize(interests []string) map[string]struct{} {
	out := make(map[string]struct{}, len(interests))
	for _, i := range interests {
		i = strings.ToLower(strings.TrimSpace(i))
		if i != "" {
			out[i] = struct{}{}
		}
	}
	return out
}

// InterestSweep creates sparks between users with overlapping interests.
// It compares every pair, so it only suits small and medium populations.
type InterestSweep struct {
	users    spark.UserLookup
	blocks   spark.BlockList
	store    spark.Store
	guard    *dedup.Guard
	eventBus spark.EventBus
	config   InterestConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewInterestSweep creates a new interest sweep
func NewInterestSweep(
	users spark.UserLookup,
	blocks spark.BlockList,
	store spark.Store,
	guard *dedup.Guard,
	eventBus spark.EventBus,
	config InterestConfig,
	logger *slog.Logger,
) *InterestSweep {
	return &InterestSweep{
		users:    users,
		blocks:   blocks,
		store:    store,
		guard:    guard,
		eventBus: eventBus,
		config:   config,
		logger:   logging.Component(logger, "interest_sweep"),
		now:      time.Now,
	}
}

// Run examines every unordered pair of users with interests
func (s *InterestSweep) Run(ctx context.Context) (Result, error) {
	var result Result

	users, err := s.users.ListUsersWithInterests(ctx)
	if err != nil {
		return result, fmt.Errorf("error listing users: %w", err)
	}

	now := s.now()
	blockCache := make(map[string]map[string]struct{}, len(users))

	for i := 0; i < len(users); i++ {
		for j := i + 1; j < len(users); j++ {
			if err := ctx.Err(); err != nil {
				return result, err
			}

			a, b := users[i], users[j]
			result.Examined++

			blocked, err := s.blockedFor(ctx, blockCache, a.ID)
			if err != nil {
				result.Failed++
				s.logger.Error("error resolving blocks", "user_id", a.ID, "error", err)
				continue
			}
			if _, ok := blocked[b.ID]; ok {
				result.Skipped++
				continue
			}

			created, err := s.matchPair(ctx, a, b, now)
			switch {
			case err != nil && spark.KindOf(err) == spark.KindConflict:
				metrics.DedupSuppressed.WithLabelValues(string(spark.TypeInterest)).Inc()
				result.Skipped++
			case err != nil:
				result.Failed++
				s.logger.Error("error matching pair", "user1_id", a.ID, "user2_id", b.ID, "error", err)
			case created:
				result.Created++
			default:
				result.Skipped++
			}
		}
	}

	s.logger.Info("interest sweep finished",
		"examined", result.Examined, "created", result.Created,
		"skipped", result.Skipped, "failed", result.Failed)
	return result, nil
}

// Task adapts the sweep to the scheduler
func (s *InterestSweep) Task() TaskFunc {
	return func(ctx context.Context) error {
		_, err := s.Run(ctx)
		return err
	}
}

func (s *InterestSweep) blockedFor(ctx context.Context, cache map[string]map[string]struct{}, userID string) (map[string]struct{}, error) {
	if blocked, ok := cache[userID]; ok {
		return blocked, nil
	}
	blocked, err := s.blocks.BlockedPairs(ctx, userID)
	if err != nil {
		return nil, err
	}
	cache[userID] = blocked
	return blocked, nil
}

func (s *InterestSweep) matchPair(ctx context.Context, a, b spark.User, now time.Time) (bool, error) {
	score := ScoreInterests(a.Interests, b.Interests)
	if len(score.Shared) < s.config.MinSharedInterests {
		return false, nil
	}
	if score.Strength < s.config.StrengthThreshold {
		return false, nil
	}
	if a.LastKnownLocation == nil || b.LastKnownLocation == nil {
		return false, nil
	}

	mid := geo.Midpoint(*a.LastKnownLocation, *b.LastKnownLocation)
	expiresAt := now.Add(s.config.Expiry)

	sp := &spark.Spark{
		ID:        uuid.New().String(),
		User1ID:   a.ID,
		User2ID:   b.ID,
		Type:      spark.TypeInterest,
		Status:    spark.StatusPending,
		Latitude:  mid.Latitude,
		Longitude: mid.Longitude,
		Strength:  score.Strength,
		Metadata: map[string]interface{}{
			"sharedInterests":    score.Shared,
			"compatibilityScore": score.Compatibility,
		},
		ExpiresAt: &expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateGuarded(ctx, sp, s.guard.Lookback(spark.TypeInterest), s.guard.Checker(spark.TypeInterest, now)); err != nil {
		return false, err
	}

	metrics.SparksCreated.WithLabelValues(string(spark.TypeInterest)).Inc()
	logging.WithSpark(s.logger, sp.ID, sp.User1ID, sp.User2ID).Info("interest spark created", "strength", sp.Strength)

	if err := s.eventBus.Publish(ctx, spark.EventDetected, *sp); err != nil {
		s.logger.Warn("error publishing spark event", "spark_id", sp.ID, "topic", spark.EventDetected, "error", err)
	}
	return true, nil
}
