// internal/service/matching/service.go

package matching

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"spark/internal/domain/spark"
	"spark/internal/logging"
	"spark/internal/metrics"
	"spark/internal/service/dedup"
)

// ServiceConfig contains configuration for manual sparks and responses
type ServiceConfig struct {
	ManualStrength   int
	ManualExpiry     time.Duration
	MaxMessageLength int
}

// DefaultServiceConfig returns the default matching parameters
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ManualStrength:   80,
		ManualExpiry:     72 * time.Hour,
		MaxMessageLength: 500,
	}
}

// SendRequest describes a manual spark
type SendRequest struct {
	SenderID      string `json:"senderId"`
	ReceiverID    string `json:"receiverId"`
	Message       string `json:"message,omitempty"`
	RelatedSpotID string `json:"relatedSpotId,omitempty"`
}

// RespondResult is the outcome of a response
type RespondResult struct {
	Spark      spark.Spark `json:"spark"`
	ChatRoomID string      `json:"chatRoomId,omitempty"`
}

// Service sends manual sparks and runs the mutual-acceptance state machine
type Service struct {
	store       spark.Store
	users       spark.UserLookup
	blocks      spark.BlockList
	provisioner *Provisioner
	guard       *dedup.Guard
	eventBus    spark.EventBus
	config      ServiceConfig
	logger      *slog.Logger
	now         func() time.Time
}

// NewService creates a new matching service
func NewService(
	store spark.Store,
	users spark.UserLookup,
	blocks spark.BlockList,
	provisioner *Provisioner,
	guard *dedup.Guard,
	eventBus spark.EventBus,
	config ServiceConfig,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:       store,
		users:       users,
		blocks:      blocks,
		provisioner: provisioner,
		guard:       guard,
		eventBus:    eventBus,
		config:      config,
		logger:      logging.Component(logger, "matching"),
		now:         time.Now,
	}
}

// SendManualSpark creates a spark from sender to receiver. The sender's
// acceptance is implicit.
func (s *Service) SendManualSpark(ctx context.Context, req SendRequest) (*spark.Spark, error) {
	if req.SenderID == "" || req.ReceiverID == "" {
		return nil, spark.Validation(nil, "sender and receiver are required")
	}
	if req.SenderID == req.ReceiverID {
		return nil, spark.Forbidden("cannot spark yourself")
	}
	message := strings.TrimSpace(req.Message)
	if s.config.MaxMessageLength > 0 && len(message) > s.config.MaxMessageLength {
		return nil, spark.Validation(nil, "message exceeds %d characters", s.config.MaxMessageLength)
	}

	sender, err := s.users.GetUser(ctx, req.SenderID)
	if err != nil {
		return nil, err
	}
	if _, err := s.users.GetUser(ctx, req.ReceiverID); err != nil {
		return nil, err
	}

	blocked, err := s.blocks.BlockedPairs(ctx, req.SenderID)
	if err != nil {
		return nil, fmt.Errorf("error resolving blocks: %w", err)
	}
	if _, ok := blocked[req.ReceiverID]; ok {
		return nil, spark.Forbidden("cannot spark a blocked user")
	}

	now := s.now()
	expiresAt := now.Add(s.config.ManualExpiry)

	var lat, lng float64
	if sender.LastKnownLocation != nil {
		lat = sender.LastKnownLocation.Latitude
		lng = sender.LastKnownLocation.Longitude
	}

	metadata := map[string]interface{}{}
	if message != "" {
		metadata["message"] = message
	}
	if req.RelatedSpotID != "" {
		metadata["relatedSpotId"] = req.RelatedSpotID
	}

	sp := &spark.Spark{
		ID:            uuid.New().String(),
		User1ID:       req.SenderID,
		User2ID:       req.ReceiverID,
		Type:          spark.TypeManual,
		Status:        spark.StatusPending,
		Latitude:      lat,
		Longitude:     lng,
		Strength:      spark.ClampStrength(s.config.ManualStrength),
		Metadata:      metadata,
		User1Accepted: true,
		ExpiresAt:     &expiresAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.store.CreateGuarded(ctx, sp, s.guard.Lookback(spark.TypeManual), s.guard.Checker(spark.TypeManual, now))
	if err != nil {
		if spark.KindOf(err) == spark.KindConflict {
			metrics.DedupSuppressed.WithLabelValues(string(spark.TypeManual)).Inc()
			return nil, err
		}
		return nil, fmt.Errorf("error creating manual spark: %w", err)
	}

	metrics.SparksCreated.WithLabelValues(string(spark.TypeManual)).Inc()
	logging.WithSpark(s.logger, sp.ID, sp.User1ID, sp.User2ID).Info("manual spark sent")
	s.publish(ctx, spark.EventSent, *sp)

	return sp, nil
}

// RespondToSpark records an accept or reject from a participant. The
// read-decide-write runs under the store's row lock.
func (s *Service) RespondToSpark(ctx context.Context, sparkID, userID string, accept bool) (*RespondResult, error) {
	now := s.now()
	var previous spark.Status

	updated, err := s.store.Update(ctx, sparkID, func(sp *spark.Spark) error {
		if !sp.HasUser(userID) {
			return spark.Forbidden("user %s is not part of spark %s", userID, sparkID)
		}
		if sp.Type == spark.TypeManual && sp.User1ID == userID {
			return spark.Conflict("cannot accept your own spark")
		}
		if sp.Status != spark.StatusPending {
			return spark.Conflict("spark %s is %s", sparkID, sp.Status)
		}
		if sp.ExpiresAt != nil && sp.ExpiresAt.Before(now) {
			return spark.Conflict("spark %s has expired", sparkID)
		}

		previous = sp.Status
		applyResponse(sp, userID, accept, now)
		return nil
	})
	if err != nil {
		metrics.Responses.WithLabelValues("failed").Inc()
		return nil, err
	}

	result := &RespondResult{Spark: *updated}
	logger := logging.WithSpark(s.logger, updated.ID, updated.User1ID, updated.User2ID)

	switch updated.Status {
	case spark.StatusMatched:
		roomID, err := s.provisioner.ProvisionRoom(ctx, updated.User1ID, updated.User2ID, updated.ID)
		if err != nil {
			metrics.Responses.WithLabelValues("matched").Inc()
			s.publish(ctx, spark.EventStatusChanged, *updated)
			return result, fmt.Errorf("spark matched but chat room provisioning failed: %w", err)
		}
		result.ChatRoomID = roomID
		metrics.Responses.WithLabelValues("matched").Inc()
		logger.Info("spark matched", "chat_room_id", roomID)

		s.publish(ctx, spark.EventMatched, spark.MatchedEvent{
			SparkID:    updated.ID,
			User1ID:    updated.User1ID,
			User2ID:    updated.User2ID,
			ChatRoomID: roomID,
		})

	case spark.StatusRejected:
		metrics.Responses.WithLabelValues("rejected").Inc()
		logger.Info("spark rejected", "rejected_by", userID)

	default:
		metrics.Responses.WithLabelValues("partial").Inc()
		logger.Info("spark partially accepted", "accepted_by", userID)
		s.publish(ctx, spark.EventPartiallyAccepted, spark.PartiallyAcceptedEvent{
			SparkID:    updated.ID,
			AcceptedBy: userID,
			WaitingFor: updated.OtherUser(userID),
		})
	}

	if updated.Status != previous {
		s.publish(ctx, spark.EventStatusChanged, *updated)
	}

	return result, nil
}

// applyResponse mutates sp for a response from userID
func applyResponse(sp *spark.Spark, userID string, accept bool, now time.Time) {
	at := now
	if sp.User1ID == userID {
		sp.User1Accepted = accept
		sp.User1ResponseAt = &at
	} else {
		sp.User2Accepted = accept
		sp.User2ResponseAt = &at
	}
	sp.UpdatedAt = now

	switch {
	case !accept:
		sp.Status = spark.StatusRejected
	case sp.Type == spark.TypeManual:
		sp.User1Accepted = true
		sp.User2Accepted = true
		sp.Status = spark.StatusMatched
	case sp.User1Accepted && sp.User2Accepted:
		sp.Status = spark.StatusMatched
	}
}

// GetSpark returns a spark visible to userID
func (s *Service) GetSpark(ctx context.Context, sparkID, userID string) (*spark.Spark, error) {
	sp, err := s.store.Get(ctx, sparkID)
	if err != nil {
		return nil, err
	}
	if userID != "" && !sp.HasUser(userID) {
		return nil, spark.Forbidden("user %s is not part of spark %s", userID, sparkID)
	}
	return sp, nil
}

// ListSparks returns the sparks of a user, newest first
func (s *Service) ListSparks(ctx context.Context, userID string, filter spark.ListFilter) ([]spark.Spark, error) {
	if userID == "" {
		return nil, spark.Validation(nil, "user id is required")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, spark.Validation(nil, "unknown status %q", filter.Status)
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, spark.Validation(nil, "unknown type %q", filter.Type)
	}
	return s.store.ListForUser(ctx, userID, filter)
}

// ChatRoomFor returns the chat room of a matched spark, provisioning it if a
// previous attempt failed. The matched event is published once the room
// exists, so subscribers that missed it at match time learn the room id.
func (s *Service) ChatRoomFor(ctx context.Context, sparkID, userID string) (string, error) {
	sp, err := s.GetSpark(ctx, sparkID, userID)
	if err != nil {
		return "", err
	}
	if sp.Status != spark.StatusMatched {
		return "", spark.Conflict("spark %s is %s", sparkID, sp.Status)
	}

	roomID, created, err := s.provisioner.provision(ctx, sp.User1ID, sp.User2ID, sp.ID)
	if err != nil {
		return "", err
	}
	if created {
		logging.WithSpark(s.logger, sp.ID, sp.User1ID, sp.User2ID).Info("chat room provisioned after match", "chat_room_id", roomID)
		s.publish(ctx, spark.EventMatched, spark.MatchedEvent{
			SparkID:    sp.ID,
			User1ID:    sp.User1ID,
			User2ID:    sp.User2ID,
			ChatRoomID: roomID,
		})
	}
	return roomID, nil
}

func (s *Service) publish(ctx context.Context, topic string, payload interface{}) {
	if err := s.eventBus.Publish(ctx, topic, payload); err != nil {
		s.logger.Warn("error publishing spark event", "topic", topic, "error", err)
	}
}
