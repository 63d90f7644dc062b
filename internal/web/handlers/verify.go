package handlers

import (
	"errors"
	"net/http"

	"github.com/kozaktomas/facesnap/internal/clustering"
	"github.com/kozaktomas/facesnap/internal/embedding"
)

// VerifyHandler answers "who is this" queries against an event
type VerifyHandler struct {
	engine *clustering.Engine
}

// NewVerifyHandler creates a new verify handler
func NewVerifyHandler(engine *clustering.Engine) *VerifyHandler {
	return &VerifyHandler{engine: engine}
}

// VerifyRequest carries every face detected in the query image. Exactly one
// is required.
type VerifyRequest struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// VerifyResponse is the verification outcome
type VerifyResponse struct {
	Matched     bool    `json:"matched"`
	ClusterID   int64   `json:"cluster_id,omitempty"`
	Distance    float64 `json:"distance"`
	Confidence  float64 `json:"confidence"`
	MemberCount int     `json:"member_count,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

// Verify matches a single query face to the nearest cluster of the event
func (h *VerifyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventParam(w, r)
	if !ok {
		return
	}

	var req VerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	switch len(req.Embeddings) {
	case 0:
		respondError(w, http.StatusUnprocessableEntity, "no face detected")
		return
	case 1:
	default:
		respondError(w, http.StatusUnprocessableEntity, "multiple faces detected")
		return
	}

	m, err := h.engine.Verify(r.Context(), eventID, embedding.Vector(req.Embeddings[0]))
	if errors.Is(err, clustering.ErrNoSufficientMatch) {
		respondJSON(w, http.StatusOK, VerifyResponse{
			Distance: m.Distance,
			Reason:   err.Error(),
		})
		return
	}
	if err != nil {
		respondEngineError(w, r, "verify", err)
		return
	}

	respondJSON(w, http.StatusOK, VerifyResponse{
		Matched:     true,
		ClusterID:   m.ClusterID,
		Distance:    m.Distance,
		Confidence:  m.Confidence,
		MemberCount: m.MemberCount,
	})
}
