package handlers

import (
	"net/http"

	"github.com/kozaktomas/facesnap/internal/database"
	"github.com/rs/zerolog/log"
)

// EventsHandler handles event-level statistics and cleanup
type EventsHandler struct {
	store  database.EncodingStore
	search *database.FaceSearch
}

// NewEventsHandler creates a new events handler. search may be nil.
func NewEventsHandler(store database.EncodingStore, search *database.FaceSearch) *EventsHandler {
	return &EventsHandler{store: store, search: search}
}

// StatsResponse represents the statistics of one event
type StatsResponse struct {
	EventID      string `json:"event_id"`
	Revision     int64  `json:"revision"`
	ClusterCount int    `json:"cluster_count"`
	FaceCount    int    `json:"face_count"`
}

// Stats returns cluster and face counts for the event
func (h *EventsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventParam(w, r)
	if !ok {
		return
	}

	stats, err := h.store.EventStats(r.Context(), eventID)
	if err != nil {
		respondStoreError(w, r, "event stats", err)
		return
	}

	respondJSON(w, http.StatusOK, StatsResponse{
		EventID:      eventID,
		Revision:     stats.Revision,
		ClusterCount: stats.ClusterCount,
		FaceCount:    stats.FaceCount,
	})
}

// Delete removes every cluster and face of the event
func (h *EventsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventParam(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteEvent(r.Context(), eventID); err != nil {
		respondStoreError(w, r, "delete event", err)
		return
	}
	if h.search != nil {
		h.search.Forget(eventID)
	}

	log.Info().Str("event_id", sanitizeForLog(eventID)).Msg("event deleted")
	respondJSON(w, http.StatusOK, map[string]any{
		"event_id": eventID,
		"deleted":  true,
	})
}
