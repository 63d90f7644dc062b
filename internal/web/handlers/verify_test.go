package handlers

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/facesnap/internal/database/memory"
	"github.com/kozaktomas/facesnap/internal/embedding"
)

func TestVerifyHandler_FaceCount(t *testing.T) {
	handler := NewVerifyHandler(newTestEngine(t, memory.New()))

	tests := []struct {
		name       string
		embeddings [][]float64
		message    string
	}{
		{"no face", nil, "no face detected"},
		{"multiple faces", [][]float64{{0, 0}, {1, 1}}, "multiple faces detected"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			handler.Verify(recorder, jsonRequest(t, "POST", "/api/v1/events/gala/verify",
				VerifyRequest{Embeddings: tc.embeddings}, galaParams))

			assertStatusCode(t, recorder, http.StatusUnprocessableEntity)
			assertJSONError(t, recorder, tc.message)
		})
	}
}

func TestVerifyHandler_Matched(t *testing.T) {
	store := memory.New()
	engine := newTestEngine(t, store)
	a, err := engine.Assign(context.Background(), "gala", embedding.Vector{0, 0})
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	handler := NewVerifyHandler(engine)

	recorder := httptest.NewRecorder()
	handler.Verify(recorder, jsonRequest(t, "POST", "/api/v1/events/gala/verify",
		VerifyRequest{Embeddings: [][]float64{{0.3, 0}}}, galaParams))

	assertStatusCode(t, recorder, http.StatusOK)
	var resp VerifyResponse
	parseJSONResponse(t, recorder, &resp)
	if !resp.Matched || resp.ClusterID != a.ClusterID || resp.MemberCount != 1 {
		t.Errorf("unexpected verify response %+v", resp)
	}
	if math.Abs(resp.Confidence-0.7) > 1e-9 {
		t.Errorf("expected confidence 0.7, got %g", resp.Confidence)
	}
}

func TestVerifyHandler_NoSufficientMatch(t *testing.T) {
	store := memory.New()
	engine := newTestEngine(t, store)
	if _, err := engine.Assign(context.Background(), "gala", embedding.Vector{0, 0}); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	handler := NewVerifyHandler(engine)

	recorder := httptest.NewRecorder()
	handler.Verify(recorder, jsonRequest(t, "POST", "/api/v1/events/gala/verify",
		VerifyRequest{Embeddings: [][]float64{{0, 2}}}, galaParams))

	assertStatusCode(t, recorder, http.StatusOK)
	var resp VerifyResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.Matched || resp.ClusterID != 0 || resp.Reason == "" {
		t.Errorf("expected an unmatched response with a reason, got %+v", resp)
	}
	if resp.Distance != 2 {
		t.Errorf("expected closest distance 2, got %g", resp.Distance)
	}
}

func TestVerifyHandler_NoCandidates(t *testing.T) {
	handler := NewVerifyHandler(newTestEngine(t, memory.New()))

	recorder := httptest.NewRecorder()
	handler.Verify(recorder, jsonRequest(t, "POST", "/api/v1/events/empty/verify",
		VerifyRequest{Embeddings: [][]float64{{0, 0}}}, map[string]string{"eventID": "empty"}))

	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestVerifyHandler_WrongDimension(t *testing.T) {
	handler := NewVerifyHandler(newTestEngine(t, memory.New()))

	recorder := httptest.NewRecorder()
	handler.Verify(recorder, jsonRequest(t, "POST", "/api/v1/events/gala/verify",
		VerifyRequest{Embeddings: [][]float64{{0, 0, 0}}}, galaParams))

	assertStatusCode(t, recorder, http.StatusBadRequest)
}
