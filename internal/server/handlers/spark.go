// internal/server/handlers/spark.go

package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"spark/internal/domain/spark"
	"spark/internal/logging"
	"spark/internal/service/matching"
)

// SparkService is the matching surface the handler drives
type SparkService interface {
	SendManualSpark(ctx context.Context, req matching.SendRequest) (*spark.Spark, error)
	RespondToSpark(ctx context.Context, sparkID, userID string, accept bool) (*matching.RespondResult, error)
	GetSpark(ctx context.Context, sparkID, userID string) (*spark.Spark, error)
	ListSparks(ctx context.Context, userID string, filter spark.ListFilter) ([]spark.Spark, error)
	ChatRoomFor(ctx context.Context, sparkID, userID string) (string, error)
}

// SparkHandler handles spark-related HTTP requests
type SparkHandler struct {
	service SparkService
	logger  *slog.Logger
}

// NewSparkHandler creates a new spark handler
func NewSparkHandler(service SparkService, logger *slog.Logger) *SparkHandler {
	return &SparkHandler{
		service: service,
		logger:  logging.Component(logger, "spark_handler"),
	}
}

// respondRequest is the body of a respond call
type respondRequest struct {
	UserID string `json:"userId"`
	Accept *bool  `json:"accept"`
}

// respondResponse carries a result even when room provisioning failed
type respondResponse struct {
	matching.RespondResult
	Warning string `json:"warning,omitempty"`
}

// ListSparks returns the sparks of a user
func (h *SparkHandler) ListSparks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := spark.ListFilter{
		Status: spark.Status(q.Get("status")),
		Type:   spark.Type(q.Get("type")),
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			respondWithError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		filter.Limit = limit
	}

	sparks, err := h.service.ListSparks(r.Context(), q.Get("user_id"), filter)
	if err != nil {
		respondWithDomainError(w, h.logger, err)
		return
	}
	if sparks == nil {
		sparks = []spark.Spark{}
	}

	respondWithJSON(w, http.StatusOK, sparks)
}

// GetSpark returns a specific spark by ID
func (h *SparkHandler) GetSpark(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sp, err := h.service.GetSpark(r.Context(), id, r.URL.Query().Get("user_id"))
	if err != nil {
		respondWithDomainError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, sp)
}

// SendSpark creates a manual spark
func (h *SparkHandler) SendSpark(w http.ResponseWriter, r *http.Request) {
	var req matching.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	sp, err := h.service.SendManualSpark(r.Context(), req)
	if err != nil {
		respondWithDomainError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, sp)
}

// RespondToSpark records an accept or reject
func (h *SparkHandler) RespondToSpark(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.UserID == "" || req.Accept == nil {
		respondWithError(w, http.StatusBadRequest, "userId and accept are required")
		return
	}

	result, err := h.service.RespondToSpark(r.Context(), id, req.UserID, *req.Accept)
	if err != nil && result == nil {
		respondWithDomainError(w, h.logger, err)
		return
	}

	resp := respondResponse{RespondResult: *result}
	if err != nil {
		// The response is recorded; the chat room can be fetched again later
		h.logger.Error("chat room provisioning failed", "spark_id", id, "error", err)
		resp.Warning = "chat room not ready, retry via the chat-room endpoint"
	}

	respondWithJSON(w, http.StatusOK, resp)
}

// GetChatRoom returns the chat room of a matched spark
func (h *SparkHandler) GetChatRoom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	roomID, err := h.service.ChatRoomFor(r.Context(), id, r.URL.Query().Get("user_id"))
	if err != nil {
		respondWithDomainError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"chatRoomId": roomID})
}
