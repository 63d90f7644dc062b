package handlers

import (
	"net/http"
	"time"

	"github.com/kozaktomas/facesnap/internal/clustering"
	"github.com/kozaktomas/facesnap/internal/database"
	"github.com/kozaktomas/facesnap/internal/embedding"
	"github.com/rs/zerolog/log"
)

const (
	defaultSimilarLimit = 10
	maxSimilarLimit     = 100
)

// FacesHandler handles face assignment and similarity search
type FacesHandler struct {
	engine *clustering.Engine
	search *database.FaceSearch
}

// NewFacesHandler creates a new faces handler
func NewFacesHandler(engine *clustering.Engine, search *database.FaceSearch) *FacesHandler {
	return &FacesHandler{engine: engine, search: search}
}

// AssignRequest is one detected face. Without an image reference the face is
// clustered but not recorded.
type AssignRequest struct {
	ImageRef  string    `json:"image_ref"`
	FaceIndex int       `json:"face_index"`
	Embedding []float64 `json:"embedding"`
}

// AssignResponse describes where a face was placed. FaceRecorded is false when
// no image reference was given or the audit write failed after the cluster
// was updated; in the latter case Error says so.
type AssignResponse struct {
	ClusterID    int64   `json:"cluster_id"`
	Created      bool    `json:"created"`
	Distance     float64 `json:"distance"`
	MemberCount  int     `json:"member_count"`
	FaceID       string  `json:"face_id,omitempty"`
	FaceRecorded bool    `json:"face_recorded"`
	Error        string  `json:"error,omitempty"`
}

func assignResponse(a clustering.Assignment) AssignResponse {
	return AssignResponse{
		ClusterID:    a.ClusterID,
		Created:      a.Created,
		Distance:     a.Distance,
		MemberCount:  a.MemberCount,
		FaceID:       a.FaceID,
		FaceRecorded: a.FaceID != "",
	}
}

// Assign places a face into a cluster of the event
func (h *FacesHandler) Assign(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventParam(w, r)
	if !ok {
		return
	}

	var req AssignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Embedding) == 0 {
		respondError(w, http.StatusBadRequest, "embedding is required")
		return
	}

	var (
		a   clustering.Assignment
		err error
	)
	if req.ImageRef == "" {
		a, err = h.engine.Assign(r.Context(), eventID, embedding.Vector(req.Embedding))
	} else {
		a, err = h.engine.AssignDetected(r.Context(), eventID, clustering.Face{
			ImageRef:  req.ImageRef,
			Index:     req.FaceIndex,
			Embedding: embedding.Vector(req.Embedding),
		})
	}
	if err != nil && a.ClusterID != 0 {
		// The cluster already holds the face. A resend would count it twice,
		// so report the committed assignment without a retry hint.
		log.Error().Err(err).
			Str("event_id", sanitizeForLog(eventID)).
			Int64("cluster_id", a.ClusterID).
			Str("image_ref", sanitizeForLog(req.ImageRef)).
			Msg("face assigned but not recorded")
		resp := assignResponse(a)
		resp.Error = "face assigned but not recorded"
		respondJSON(w, http.StatusInternalServerError, resp)
		return
	}
	if err != nil {
		respondEngineError(w, r, "assign", err)
		return
	}

	status := http.StatusOK
	if a.Created {
		status = http.StatusCreated
	}
	respondJSON(w, status, assignResponse(a))
}

// SimilarRequest is a nearest-faces query
type SimilarRequest struct {
	Embedding []float64 `json:"embedding"`
	Limit     int       `json:"limit"`
}

// FaceResponse is a recorded face without its embedding
type FaceResponse struct {
	ID        string    `json:"id"`
	ClusterID int64     `json:"cluster_id"`
	ImageRef  string    `json:"image_ref"`
	FaceIndex int       `json:"face_index"`
	Distance  *float64  `json:"distance,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func faceResponse(f database.FaceRecord) FaceResponse {
	return FaceResponse{
		ID:        f.ID,
		ClusterID: f.ClusterID,
		ImageRef:  f.ImageRef,
		FaceIndex: f.FaceIndex,
		CreatedAt: f.CreatedAt,
	}
}

// SimilarResponse lists the nearest recorded faces, closest first
type SimilarResponse struct {
	Faces   []FaceResponse `json:"faces"`
	Indexed bool           `json:"indexed"`
}

// Similar returns the recorded faces of the event closest to an embedding
func (h *FacesHandler) Similar(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventParam(w, r)
	if !ok {
		return
	}

	var req SimilarRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	query := embedding.Vector(req.Embedding)
	if err := embedding.CheckDim(query, h.engine.Policy().Dimension); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultSimilarLimit
	}
	limit = min(limit, maxSimilarLimit)

	hits, err := h.search.Similar(r.Context(), eventID, query, limit)
	if err != nil {
		respondEngineError(w, r, "similar faces", err)
		return
	}

	resp := SimilarResponse{Faces: make([]FaceResponse, 0, len(hits)), Indexed: h.search.Indexed()}
	for _, hit := range hits {
		f := faceResponse(hit.Face)
		d := hit.Distance
		f.Distance = &d
		resp.Faces = append(resp.Faces, f)
	}
	respondJSON(w, http.StatusOK, resp)
}
