package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/kozaktomas/facesnap/internal/database"
)

// ClustersHandler exposes the clusters of an event for galleries
type ClustersHandler struct {
	store database.EncodingStore
}

// NewClustersHandler creates a new clusters handler
func NewClustersHandler(store database.EncodingStore) *ClustersHandler {
	return &ClustersHandler{store: store}
}

// ClusterResponse is one cluster. The centroid is only included on request.
type ClusterResponse struct {
	ID          int64     `json:"id"`
	EventID     string    `json:"event_id"`
	MemberCount int       `json:"member_count"`
	Centroid    []float64 `json:"centroid,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func clusterResponse(c database.Cluster, withCentroid bool) ClusterResponse {
	resp := ClusterResponse{
		ID:          c.ID,
		EventID:     c.EventID,
		MemberCount: c.MemberCount,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
	if withCentroid {
		resp.Centroid = c.Centroid
	}
	return resp
}

// ClusterListResponse lists an event's clusters, largest first
type ClusterListResponse struct {
	EventID  string            `json:"event_id"`
	Revision int64             `json:"revision"`
	Clusters []ClusterResponse `json:"clusters"`
}

func wantCentroids(r *http.Request) bool {
	return r.URL.Query().Get("centroids") == "true"
}

// List returns every cluster of the event ordered by member count
func (h *ClustersHandler) List(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventParam(w, r)
	if !ok {
		return
	}

	snap, err := h.store.ListClusters(r.Context(), eventID)
	if err != nil {
		respondStoreError(w, r, "list clusters", err)
		return
	}

	withCentroid := wantCentroids(r)
	resp := ClusterListResponse{
		EventID:  eventID,
		Revision: snap.Revision,
		Clusters: make([]ClusterResponse, 0, len(snap.Clusters)),
	}
	for _, c := range snap.Clusters {
		resp.Clusters = append(resp.Clusters, clusterResponse(c, withCentroid))
	}
	respondJSON(w, http.StatusOK, resp)
}

// getCluster loads a cluster and checks it belongs to the event in the path.
func (h *ClustersHandler) getCluster(w http.ResponseWriter, r *http.Request) (database.Cluster, bool) {
	eventID, ok := eventParam(w, r)
	if !ok {
		return database.Cluster{}, false
	}
	clusterID, ok := clusterParam(w, r)
	if !ok {
		return database.Cluster{}, false
	}

	c, err := h.store.GetCluster(r.Context(), clusterID)
	if err == nil && c.EventID != eventID {
		err = database.ErrNotFound
	}
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "cluster not found")
		return database.Cluster{}, false
	}
	if err != nil {
		respondStoreError(w, r, "get cluster", err)
		return database.Cluster{}, false
	}
	return c, true
}

// Get returns a single cluster
func (h *ClustersHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, ok := h.getCluster(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, clusterResponse(c, wantCentroids(r)))
}

// ClusterFacesResponse lists the recorded faces of a cluster, oldest first
type ClusterFacesResponse struct {
	ClusterID int64          `json:"cluster_id"`
	Faces     []FaceResponse `json:"faces"`
}

// Faces returns the faces recorded for a cluster
func (h *ClustersHandler) Faces(w http.ResponseWriter, r *http.Request) {
	c, ok := h.getCluster(w, r)
	if !ok {
		return
	}

	faces, err := h.store.ListFaces(r.Context(), c.EventID, c.ID)
	if err != nil {
		respondStoreError(w, r, "list faces", err)
		return
	}

	resp := ClusterFacesResponse{ClusterID: c.ID, Faces: make([]FaceResponse, 0, len(faces))}
	for _, f := range faces {
		resp.Faces = append(resp.Faces, faceResponse(f))
	}
	respondJSON(w, http.StatusOK, resp)
}
