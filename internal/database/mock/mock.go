// Package mock provides a database.EncodingStore test double with error injection.
package mock

import (
	"context"
	"sync"

	"github.com/kozaktomas/facesnap/internal/database"
	"github.com/kozaktomas/facesnap/internal/database/memory"
	"github.com/kozaktomas/facesnap/internal/embedding"
)

// MockStore wraps an in-memory store. Every operation returns its injected
// error when set; otherwise it is delegated.
type MockStore struct {
	*memory.Store

	mu sync.Mutex

	// Error injection
	ListError        error
	GetError         error
	CreateError      error
	UpdateError      error
	RecordError      error
	ListFacesError   error
	StatsError       error
	DeleteEventError error

	// CreateConflicts and UpdateConflicts make the next N writes fail with
	// database.ErrConflict without touching the store.
	CreateConflicts int
	UpdateConflicts int

	// BeforeCreate and BeforeUpdate run before a delegated write, after any
	// injected error. Tests use them to simulate a concurrent writer.
	BeforeCreate func(eventID string)
	BeforeUpdate func(update database.ClusterUpdate)

	calls map[string]int
}

// NewMockStore creates a new mock store backed by an empty memory store.
func NewMockStore() *MockStore {
	return &MockStore{
		Store: memory.New(),
		calls: make(map[string]int),
	}
}

func (m *MockStore) record(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
}

// Calls returns how many times op was invoked.
func (m *MockStore) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// ListClusters returns ListError or delegates.
func (m *MockStore) ListClusters(ctx context.Context, eventID string) (database.Snapshot, error) {
	m.record("ListClusters")
	if m.ListError != nil {
		return database.Snapshot{}, m.ListError
	}
	return m.Store.ListClusters(ctx, eventID)
}

// GetCluster returns GetError or delegates.
func (m *MockStore) GetCluster(ctx context.Context, clusterID int64) (database.Cluster, error) {
	m.record("GetCluster")
	if m.GetError != nil {
		return database.Cluster{}, m.GetError
	}
	return m.Store.GetCluster(ctx, clusterID)
}

// CreateCluster returns CreateError, an injected conflict, or delegates.
func (m *MockStore) CreateCluster(ctx context.Context, eventID string, centroid embedding.Vector, expectedRevision int64) (database.Cluster, error) {
	m.record("CreateCluster")
	if m.CreateError != nil {
		return database.Cluster{}, m.CreateError
	}
	if m.takeConflict(&m.CreateConflicts) {
		return database.Cluster{}, database.ErrConflict
	}
	if m.BeforeCreate != nil {
		m.BeforeCreate(eventID)
	}
	return m.Store.CreateCluster(ctx, eventID, centroid, expectedRevision)
}

// UpdateCluster returns UpdateError, an injected conflict, or delegates.
func (m *MockStore) UpdateCluster(ctx context.Context, update database.ClusterUpdate) (database.Cluster, error) {
	m.record("UpdateCluster")
	if m.UpdateError != nil {
		return database.Cluster{}, m.UpdateError
	}
	if m.takeConflict(&m.UpdateConflicts) {
		return database.Cluster{}, database.ErrConflict
	}
	if m.BeforeUpdate != nil {
		m.BeforeUpdate(update)
	}
	return m.Store.UpdateCluster(ctx, update)
}

// RecordFace returns RecordError or delegates.
func (m *MockStore) RecordFace(ctx context.Context, face database.FaceRecord) (database.FaceRecord, error) {
	m.record("RecordFace")
	if m.RecordError != nil {
		return database.FaceRecord{}, m.RecordError
	}
	return m.Store.RecordFace(ctx, face)
}

// ListFaces returns ListFacesError or delegates.
func (m *MockStore) ListFaces(ctx context.Context, eventID string, clusterID int64) ([]database.FaceRecord, error) {
	m.record("ListFaces")
	if m.ListFacesError != nil {
		return nil, m.ListFacesError
	}
	return m.Store.ListFaces(ctx, eventID, clusterID)
}

// ListEventFaces returns ListFacesError or delegates.
func (m *MockStore) ListEventFaces(ctx context.Context, eventID string) ([]database.FaceRecord, error) {
	m.record("ListEventFaces")
	if m.ListFacesError != nil {
		return nil, m.ListFacesError
	}
	return m.Store.ListEventFaces(ctx, eventID)
}

// EventStats returns StatsError or delegates.
func (m *MockStore) EventStats(ctx context.Context, eventID string) (database.EventStats, error) {
	m.record("EventStats")
	if m.StatsError != nil {
		return database.EventStats{}, m.StatsError
	}
	return m.Store.EventStats(ctx, eventID)
}

// DeleteEvent returns DeleteEventError or delegates.
func (m *MockStore) DeleteEvent(ctx context.Context, eventID string) error {
	m.record("DeleteEvent")
	if m.DeleteEventError != nil {
		return m.DeleteEventError
	}
	return m.Store.DeleteEvent(ctx, eventID)
}

func (m *MockStore) takeConflict(counter *int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if *counter <= 0 {
		return false
	}
	*counter--
	return true
}

var _ database.EncodingStore = (*MockStore)(nil)
