package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/facesnap/internal/database"
	"github.com/kozaktomas/facesnap/internal/database/memory"
	"github.com/kozaktomas/facesnap/internal/database/mock"
	"github.com/kozaktomas/facesnap/internal/embedding"
)

func TestEventsHandler_Stats(t *testing.T) {
	store := memory.New()
	seedEvent(t, newTestEngine(t, store))
	handler := NewEventsHandler(store, nil)

	recorder := httptest.NewRecorder()
	handler.Stats(recorder, jsonRequest(t, "GET", "/api/v1/events/gala/stats", nil, galaParams))

	assertStatusCode(t, recorder, http.StatusOK)
	var resp StatsResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.EventID != "gala" || resp.ClusterCount != 2 || resp.FaceCount != 4 || resp.Revision != 2 {
		t.Errorf("unexpected stats %+v", resp)
	}
}

func TestEventsHandler_Stats_StoreError(t *testing.T) {
	store := mock.NewMockStore()
	store.StatsError = errors.New("connection reset")
	handler := NewEventsHandler(store, nil)

	recorder := httptest.NewRecorder()
	handler.Stats(recorder, jsonRequest(t, "GET", "/api/v1/events/gala/stats", nil, galaParams))

	assertStatusCode(t, recorder, http.StatusServiceUnavailable)
}

func TestEventsHandler_Delete(t *testing.T) {
	store := memory.New()
	search := database.NewFaceSearch(store, database.NewFaceIndex())
	seedEvent(t, newTestEngine(t, store))
	ctx := context.Background()

	// Load the event into the index so deletion has something to drop.
	if _, err := search.Similar(ctx, "gala", embedding.Vector{0, 0}, 1); err != nil {
		t.Fatalf("Similar failed: %v", err)
	}

	handler := NewEventsHandler(store, search)
	recorder := httptest.NewRecorder()
	handler.Delete(recorder, jsonRequest(t, "DELETE", "/api/v1/events/gala", nil, galaParams))
	assertStatusCode(t, recorder, http.StatusOK)

	stats, err := store.EventStats(ctx, "gala")
	if err != nil {
		t.Fatalf("EventStats failed: %v", err)
	}
	if stats.ClusterCount != 0 || stats.FaceCount != 0 {
		t.Errorf("expected empty event after delete, got %+v", stats)
	}

	hits, err := search.Similar(ctx, "gala", embedding.Vector{0, 0}, 1)
	if err != nil {
		t.Fatalf("Similar failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected deleted faces to be gone from the index, got %d hits", len(hits))
	}
}

func TestEventsHandler_Delete_StoreError(t *testing.T) {
	store := mock.NewMockStore()
	store.DeleteEventError = errors.New("connection reset")
	handler := NewEventsHandler(store, nil)

	recorder := httptest.NewRecorder()
	handler.Delete(recorder, jsonRequest(t, "DELETE", "/api/v1/events/gala", nil, galaParams))

	assertStatusCode(t, recorder, http.StatusServiceUnavailable)
}
