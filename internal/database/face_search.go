package database

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kozaktomas/facesnap/internal/embedding"
)

// FaceSearch answers "which recorded faces look like this one" for an event.
// With an index it loads each event's faces into the HNSW graph on first use
// and keeps it current through Observe; without one it scans the audit log.
type FaceSearch struct {
	faces FaceReader
	index *FaceIndex // nil disables the index

	// mu orders lazy builds against Observe so a face recorded while its
	// event is being loaded is not lost.
	mu sync.Mutex
}

// NewFaceSearch creates a face search. index may be nil.
func NewFaceSearch(faces FaceReader, index *FaceIndex) *FaceSearch {
	return &FaceSearch{faces: faces, index: index}
}

// Indexed reports whether searches use the HNSW index.
func (s *FaceSearch) Indexed() bool {
	return s.index != nil
}

// Similar returns up to k faces of the event nearest to query, closest first.
func (s *FaceSearch) Similar(ctx context.Context, eventID string, query embedding.Vector, k int) ([]FaceHit, error) {
	if k <= 0 {
		return nil, nil
	}
	if s.index == nil {
		return s.scan(ctx, eventID, query, k)
	}

	if err := s.ensureLoaded(ctx, eventID); err != nil {
		return nil, err
	}
	return s.index.Search(eventID, query, k)
}

func (s *FaceSearch) ensureLoaded(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index.Has(eventID) {
		return nil
	}
	faces, err := s.faces.ListEventFaces(ctx, eventID)
	if err != nil {
		return fmt.Errorf("loading faces for index: %w", err)
	}
	if err := s.index.Build(eventID, faces); err != nil {
		return fmt.Errorf("building face index: %w", err)
	}
	return nil
}

func (s *FaceSearch) scan(ctx context.Context, eventID string, query embedding.Vector, k int) ([]FaceHit, error) {
	faces, err := s.faces.ListEventFaces(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("listing faces: %w", err)
	}

	hits := make([]FaceHit, 0, len(faces))
	for _, face := range faces {
		d, err := embedding.Distance(query, face.Embedding)
		if err != nil {
			return nil, fmt.Errorf("face %s: %w", face.ID, err)
		}
		hits = append(hits, FaceHit{Face: face, Distance: d})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Observe adds a freshly recorded face to the index of its event, if loaded.
func (s *FaceSearch) Observe(face FaceRecord) error {
	if s.index == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Add(face)
}

// Forget drops an event from the index.
func (s *FaceSearch) Forget(eventID string) {
	if s.index == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index.Drop(eventID)
}
