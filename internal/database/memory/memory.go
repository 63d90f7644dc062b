// Package memory provides a process-local implementation of database.EncodingStore.
// Data is lost when the process exits.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/facesnap/internal/database"
	"github.com/kozaktomas/facesnap/internal/embedding"
)

type event struct {
	revision int64
	clusters []int64
	faces    []database.FaceRecord
}

// Store keeps clusters and faces in maps guarded by a single RWMutex.
type Store struct {
	mu       sync.RWMutex
	nextID   int64
	events   map[string]*event
	clusters map[int64]*database.Cluster
	now      func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		events:   make(map[string]*event),
		clusters: make(map[int64]*database.Cluster),
		now:      time.Now,
	}
}

// ListClusters returns all clusters of an event ordered by member count
// (largest first), then by ID.
func (s *Store) ListClusters(ctx context.Context, eventID string) (database.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return database.Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := database.Snapshot{EventID: eventID}
	ev, ok := s.events[eventID]
	if !ok {
		return snap, nil
	}
	snap.Revision = ev.revision
	snap.Clusters = make([]database.Cluster, 0, len(ev.clusters))
	for _, id := range ev.clusters {
		snap.Clusters = append(snap.Clusters, s.clusters[id].Clone())
	}
	database.SortClusters(snap.Clusters)
	return snap, nil
}

// GetCluster returns a cluster by ID.
func (s *Store) GetCluster(ctx context.Context, clusterID int64) (database.Cluster, error) {
	if err := ctx.Err(); err != nil {
		return database.Cluster{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clusters[clusterID]
	if !ok {
		return database.Cluster{}, fmt.Errorf("cluster %d: %w", clusterID, database.ErrNotFound)
	}
	return c.Clone(), nil
}

// CreateCluster inserts a new cluster if the event revision is unchanged.
func (s *Store) CreateCluster(ctx context.Context, eventID string, centroid embedding.Vector, expectedRevision int64) (database.Cluster, error) {
	if err := ctx.Err(); err != nil {
		return database.Cluster{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := s.eventLocked(eventID)
	if ev.revision != expectedRevision {
		return database.Cluster{}, fmt.Errorf("event %s revision %d, expected %d: %w",
			eventID, ev.revision, expectedRevision, database.ErrConflict)
	}

	s.nextID++
	now := s.now()
	c := &database.Cluster{
		ID:          s.nextID,
		EventID:     eventID,
		Centroid:    centroid.Clone(),
		MemberCount: 1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.clusters[c.ID] = c
	ev.clusters = append(ev.clusters, c.ID)
	ev.revision++
	return c.Clone(), nil
}

// UpdateCluster replaces centroid and count if the count is unchanged.
func (s *Store) UpdateCluster(ctx context.Context, update database.ClusterUpdate) (database.Cluster, error) {
	if err := ctx.Err(); err != nil {
		return database.Cluster{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clusters[update.ID]
	if !ok {
		return database.Cluster{}, fmt.Errorf("cluster %d: %w", update.ID, database.ErrNotFound)
	}
	if c.MemberCount != update.ExpectedCount {
		return database.Cluster{}, fmt.Errorf("cluster %d member count %d, expected %d: %w",
			update.ID, c.MemberCount, update.ExpectedCount, database.ErrConflict)
	}
	c.Centroid = update.Centroid.Clone()
	c.MemberCount = update.MemberCount
	c.UpdatedAt = s.now()
	return c.Clone(), nil
}

// RecordFace appends a face record.
func (s *Store) RecordFace(ctx context.Context, face database.FaceRecord) (database.FaceRecord, error) {
	if err := ctx.Err(); err != nil {
		return database.FaceRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clusters[face.ClusterID]
	if !ok {
		return database.FaceRecord{}, fmt.Errorf("cluster %d: %w", face.ClusterID, database.ErrNotFound)
	}
	if face.EventID == "" {
		face.EventID = c.EventID
	}
	if face.EventID != c.EventID {
		return database.FaceRecord{}, fmt.Errorf("cluster %d belongs to event %s, not %s",
			face.ClusterID, c.EventID, face.EventID)
	}
	if face.ID == "" {
		face.ID = uuid.NewString()
	}
	face.Embedding = face.Embedding.Clone()
	face.CreatedAt = s.now()

	ev := s.eventLocked(face.EventID)
	ev.faces = append(ev.faces, face)
	return face, nil
}

// ListFaces returns faces of a cluster, oldest first.
func (s *Store) ListFaces(ctx context.Context, eventID string, clusterID int64) ([]database.FaceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[eventID]
	if !ok {
		return nil, nil
	}
	var faces []database.FaceRecord
	for _, f := range ev.faces {
		if f.ClusterID == clusterID {
			f.Embedding = f.Embedding.Clone()
			faces = append(faces, f)
		}
	}
	return faces, nil
}

// ListEventFaces returns all faces of an event, oldest first.
func (s *Store) ListEventFaces(ctx context.Context, eventID string) ([]database.FaceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[eventID]
	if !ok {
		return nil, nil
	}
	faces := make([]database.FaceRecord, len(ev.faces))
	for i, f := range ev.faces {
		f.Embedding = f.Embedding.Clone()
		faces[i] = f
	}
	return faces, nil
}

// EventStats returns cluster and face counts.
func (s *Store) EventStats(ctx context.Context, eventID string) (database.EventStats, error) {
	if err := ctx.Err(); err != nil {
		return database.EventStats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := database.EventStats{EventID: eventID}
	if ev, ok := s.events[eventID]; ok {
		stats.Revision = ev.revision
		stats.ClusterCount = len(ev.clusters)
		stats.FaceCount = len(ev.faces)
	}
	return stats, nil
}

// DeleteEvent removes all clusters and faces of an event. The revision is
// kept and bumped so snapshots taken before the delete fail their CAS.
func (s *Store) DeleteEvent(ctx context.Context, eventID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[eventID]
	if !ok {
		return nil
	}
	for _, id := range ev.clusters {
		delete(s.clusters, id)
	}
	ev.clusters = nil
	ev.faces = nil
	ev.revision++
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func (s *Store) eventLocked(eventID string) *event {
	ev, ok := s.events[eventID]
	if !ok {
		ev = &event{}
		s.events[eventID] = ev
	}
	return ev
}

var _ database.EncodingStore = (*Store)(nil)
