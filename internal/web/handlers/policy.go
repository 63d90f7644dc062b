package handlers

import (
	"fmt"
	"net/http"

	"github.com/kozaktomas/facesnap/internal/clustering"
	"github.com/rs/zerolog/log"
)

// PolicyHandler reads and replaces the clustering policy at runtime
type PolicyHandler struct {
	engine *clustering.Engine
}

// NewPolicyHandler creates a new policy handler
func NewPolicyHandler(engine *clustering.Engine) *PolicyHandler {
	return &PolicyHandler{engine: engine}
}

// Get returns the active policy
func (h *PolicyHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.engine.Policy())
}

// Update applies a partial policy. Fields missing from the body keep their
// current values. The embedding dimension is fixed per deployment.
func (h *PolicyHandler) Update(w http.ResponseWriter, r *http.Request) {
	current := h.engine.Policy()
	p := current
	if !decodeJSON(w, r, &p) {
		return
	}
	if p.Dimension != current.Dimension {
		respondError(w, http.StatusBadRequest,
			fmt.Sprintf("dimension cannot be changed at runtime (configured %d)", current.Dimension))
		return
	}

	if err := h.engine.SetPolicy(p); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Info().
		Int("dimension", p.Dimension).
		Float64("similarity_threshold", p.SimilarityThreshold).
		Float64("tie_break_gap", p.TieBreakGap).
		Float64("population_ratio", p.PopulationRatio).
		Int("max_conflict_retries", p.MaxConflictRetries).
		Msg("clustering policy updated")
	respondJSON(w, http.StatusOK, p)
}
