package database

import (
	"context"

	"github.com/kozaktomas/facesnap/internal/embedding"
)

// ClusterReader provides read-only access to an event's clusters
type ClusterReader interface {
	// ListClusters returns a consistent snapshot of all clusters of an event.
	// An unknown event yields an empty snapshot with revision 0.
	ListClusters(ctx context.Context, eventID string) (Snapshot, error)
	// GetCluster returns a single cluster, or ErrNotFound
	GetCluster(ctx context.Context, clusterID int64) (Cluster, error)
}

// ClusterWriter mutates clusters. Both writes are atomic: centroid and
// member count are always committed together.
type ClusterWriter interface {
	ClusterReader

	// CreateCluster inserts a cluster with member count 1 if the event revision
	// still equals expectedRevision, otherwise it returns ErrConflict.
	CreateCluster(ctx context.Context, eventID string, centroid embedding.Vector, expectedRevision int64) (Cluster, error)

	// UpdateCluster writes a new centroid and count if the stored member count
	// still equals ExpectedCount, otherwise it returns ErrConflict.
	UpdateCluster(ctx context.Context, update ClusterUpdate) (Cluster, error)
}

// FaceReader provides read-only access to face records
type FaceReader interface {
	// ListFaces returns the faces of one cluster, oldest first
	ListFaces(ctx context.Context, eventID string, clusterID int64) ([]FaceRecord, error)
	// ListEventFaces returns every face recorded for an event, oldest first
	ListEventFaces(ctx context.Context, eventID string) ([]FaceRecord, error)
}

// FaceRecorder appends face records
type FaceRecorder interface {
	FaceReader

	// RecordFace stores an audit record for a face assigned to a cluster
	RecordFace(ctx context.Context, face FaceRecord) (FaceRecord, error)
}

// EncodingStore is the full persistence contract used by the clustering engine
// and its callers.
type EncodingStore interface {
	ClusterWriter
	FaceRecorder

	// EventStats returns cluster and face counts for an event
	EventStats(ctx context.Context, eventID string) (EventStats, error)
	// DeleteEvent removes all clusters and faces of an event
	DeleteEvent(ctx context.Context, eventID string) error
	// Close releases the underlying resources
	Close() error
}
