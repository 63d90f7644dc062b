package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/facesnap/internal/clustering"
	"github.com/kozaktomas/facesnap/internal/database"
	"github.com/rs/zerolog/log"
)

const (
	// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
	errInvalidRequestBody = "invalid request body"

	maxRequestBody = 4 << 20
)

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a size-limited JSON body into v and answers the request
// itself when that fails.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return false
	}
	return true
}

// eventParam returns the {eventID} path parameter.
func eventParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	eventID := strings.TrimSpace(chi.URLParam(r, "eventID"))
	if eventID == "" {
		respondError(w, http.StatusBadRequest, "event id is required")
		return "", false
	}
	return eventID, true
}

// clusterParam returns the {clusterID} path parameter.
func clusterParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "clusterID"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid cluster id")
		return 0, false
	}
	return id, true
}

// respondEngineError maps engine and store errors to HTTP responses.
// Infrastructure failures are logged, caller mistakes are not.
func respondEngineError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, clustering.ErrDimensionMismatch),
		errors.Is(err, clustering.ErrInvalidEmbedding),
		errors.Is(err, clustering.ErrInvalidEvent):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, clustering.ErrNoCandidates):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case clustering.IsRetryable(err):
		log.Warn().Err(err).Str("op", op).Str("path", sanitizeForLog(r.URL.Path)).Msg("temporarily unavailable")
		w.Header().Set("Retry-After", "1")
		respondError(w, http.StatusServiceUnavailable, fmt.Sprintf("%s: temporarily unavailable", op))
	default:
		log.Error().Err(err).Str("op", op).Str("path", sanitizeForLog(r.URL.Path)).Msg("request failed")
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("%s failed", op))
	}
}

// respondStoreError reports a failed direct store read or write.
func respondStoreError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	respondEngineError(w, r, op, &clustering.StoreError{Op: op, Err: err})
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
