// internal/server/handlers/respond.go

package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"spark/internal/domain/spark"
)

// Helper for JSON responses
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Failed to marshal response"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// Helper for error responses
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithDomainError maps an error kind to its status code. Anything
// without a kind is logged and reported as a 500.
func respondWithDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch spark.KindOf(err) {
	case spark.KindNotFound:
		respondWithError(w, http.StatusNotFound, err.Error())
	case spark.KindForbidden:
		respondWithError(w, http.StatusForbidden, err.Error())
	case spark.KindConflict:
		respondWithError(w, http.StatusConflict, err.Error())
	case spark.KindValidation:
		respondWithError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error("request failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}
