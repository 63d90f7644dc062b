package database

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/coder/hnsw"
	"github.com/kozaktomas/facesnap/internal/embedding"
)

// ErrIndexNotBuilt is returned when searching an event that was never loaded.
var ErrIndexNotBuilt = errors.New("face index not built for event")

// FaceHit is a face returned by a similarity search.
type FaceHit struct {
	Face     FaceRecord `json:"face"`
	Distance float64    `json:"distance"`
}

type eventGraph struct {
	graph *hnsw.Graph[string]
	dim   int
}

// FaceIndex keeps one HNSW graph per event over the face audit records.
// Faces are append-only so the graphs only grow until an event is dropped.
type FaceIndex struct {
	mu     sync.RWMutex
	events map[string]*eventGraph
	faces  map[string]FaceRecord // face ID -> record
}

// NewFaceIndex creates a new empty face index.
func NewFaceIndex() *FaceIndex {
	return &FaceIndex{
		events: make(map[string]*eventGraph),
		faces:  make(map[string]FaceRecord),
	}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors)
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.EuclideanDistance
	return g
}

// Build replaces the event's graph with one built from faces.
func (x *FaceIndex) Build(eventID string, faces []FaceRecord) error {
	eg := &eventGraph{graph: newGraph()}
	for _, face := range faces {
		if len(face.Embedding) == 0 {
			continue
		}
		if eg.dim == 0 {
			eg.dim = len(face.Embedding)
		}
		if len(face.Embedding) != eg.dim {
			return fmt.Errorf("face %s: %w: got %d, want %d",
				face.ID, embedding.ErrDimensionMismatch, len(face.Embedding), eg.dim)
		}
		eg.graph.Add(hnsw.MakeNode(face.ID, face.Embedding.Float32()))
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	x.dropLocked(eventID)
	x.events[eventID] = eg
	for _, face := range faces {
		if len(face.Embedding) > 0 {
			x.faces[face.ID] = face
		}
	}
	return nil
}

// Add indexes a single face. It is a no-op for events that were never built,
// those are loaded in full on first search.
func (x *FaceIndex) Add(face FaceRecord) error {
	if len(face.Embedding) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	eg, ok := x.events[face.EventID]
	if !ok {
		return nil
	}
	if eg.dim == 0 {
		eg.dim = len(face.Embedding)
	}
	if len(face.Embedding) != eg.dim {
		return fmt.Errorf("face %s: %w: got %d, want %d",
			face.ID, embedding.ErrDimensionMismatch, len(face.Embedding), eg.dim)
	}
	if _, exists := x.faces[face.ID]; exists {
		return nil
	}

	eg.graph.Add(hnsw.MakeNode(face.ID, face.Embedding.Float32()))
	x.faces[face.ID] = face
	return nil
}

// Has reports whether the event's graph is loaded.
func (x *FaceIndex) Has(eventID string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.events[eventID]
	return ok
}

// Search finds up to k faces of the event nearest to query. Distances are
// recomputed on the stored float64 embeddings and results are sorted ascending.
func (x *FaceIndex) Search(eventID string, query embedding.Vector, k int) ([]FaceHit, error) {
	if k <= 0 {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	eg, ok := x.events[eventID]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", eventID, ErrIndexNotBuilt)
	}
	if eg.graph.Len() == 0 {
		return nil, nil
	}
	if len(query) != eg.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", embedding.ErrDimensionMismatch, len(query), eg.dim)
	}

	neighbors := eg.graph.Search(query.Float32(), k*HNSWSearchMultiplier)

	hits := make([]FaceHit, 0, len(neighbors))
	for _, n := range neighbors {
		face, ok := x.faces[n.Key]
		if !ok {
			continue
		}
		d, err := embedding.Distance(query, face.Embedding)
		if err != nil {
			return nil, err
		}
		hits = append(hits, FaceHit{Face: face, Distance: d})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Count returns the number of indexed faces of an event.
func (x *FaceIndex) Count(eventID string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	eg, ok := x.events[eventID]
	if !ok {
		return 0
	}
	return eg.graph.Len()
}

// Drop forgets an event.
func (x *FaceIndex) Drop(eventID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.dropLocked(eventID)
}

func (x *FaceIndex) dropLocked(eventID string) {
	if _, ok := x.events[eventID]; !ok {
		return
	}
	delete(x.events, eventID)
	for id, face := range x.faces {
		if face.EventID == eventID {
			delete(x.faces, id)
		}
	}
}
