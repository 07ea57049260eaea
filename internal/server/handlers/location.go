// internal/server/handlers/location.go

package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"spark/internal/domain/geo"
	"spark/internal/domain/spark"
	"spark/internal/logging"
)

// LocationRecorder persists location samples
type LocationRecorder interface {
	RecordLocation(ctx context.Context, sample spark.LocationSample) error
}

// LocationEnqueuer schedules proximity detection for an update
type LocationEnqueuer interface {
	Enqueue(ctx context.Context, userID string, loc geo.Location) error
}

// LocationHandler accepts location updates from clients
type LocationHandler struct {
	recorder LocationRecorder
	queue    LocationEnqueuer
	limiter  *LocationLimiter
	logger   *slog.Logger
	now      func() time.Time
}

// NewLocationHandler creates a new location handler. limiter may be nil.
func NewLocationHandler(recorder LocationRecorder, queue LocationEnqueuer, limiter *LocationLimiter, logger *slog.Logger) *LocationHandler {
	return &LocationHandler{
		recorder: recorder,
		queue:    queue,
		limiter:  limiter,
		logger:   logging.Component(logger, "location_handler"),
		now:      time.Now,
	}
}

// locationRequest is the body of a location update
type locationRequest struct {
	UserID    string    `json:"userId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// UpdateLocation records a sample and queues detection. Detection outcome is
// not reported back; sparks arrive as events.
func (h *LocationHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.UserID == "" {
		respondWithError(w, http.StatusBadRequest, "userId is required")
		return
	}

	if h.limiter != nil && !h.limiter.Allow(req.UserID) {
		w.Header().Set("Retry-After", "1")
		respondWithError(w, http.StatusTooManyRequests, "Too many location updates")
		return
	}

	loc := geo.Location{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Accuracy:  req.Accuracy,
		Timestamp: req.Timestamp,
	}
	if loc.Timestamp.IsZero() {
		loc.Timestamp = h.now()
	}
	if err := loc.Validate(); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.recorder.RecordLocation(r.Context(), spark.LocationSample{UserID: req.UserID, Location: loc}); err != nil {
		respondWithDomainError(w, h.logger, err)
		return
	}

	if err := h.queue.Enqueue(r.Context(), req.UserID, loc); err != nil {
		respondWithDomainError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
