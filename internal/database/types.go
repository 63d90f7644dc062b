package database

import (
	"sort"
	"time"

	"github.com/kozaktomas/facesnap/internal/embedding"
)

// Cluster is one identity within an event. Centroid is the running mean of
// every embedding assigned to the cluster.
type Cluster struct {
	ID          int64
	EventID     string
	Centroid    embedding.Vector
	MemberCount int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Clone returns a deep copy of the cluster.
func (c Cluster) Clone() Cluster {
	c.Centroid = c.Centroid.Clone()
	return c
}

// Snapshot is a consistent read of all clusters in an event.
type Snapshot struct {
	EventID string
	// Revision counts clusters ever created in the event. CreateCluster only
	// succeeds when the caller's expected revision still matches.
	Revision int64
	Clusters []Cluster
}

// ClusterUpdate is a compare-and-swap write of a cluster's centroid and count.
type ClusterUpdate struct {
	ID            int64
	Centroid      embedding.Vector
	MemberCount   int
	ExpectedCount int // member_count the update was computed from
}

// FaceRecord is one detected face assigned to a cluster (append-only audit).
type FaceRecord struct {
	ID        string // UUID, assigned by the store when empty
	EventID   string
	ClusterID int64
	ImageRef  string
	FaceIndex int
	Embedding embedding.Vector
	CreatedAt time.Time
}

// EventStats summarizes an event's stored data.
type EventStats struct {
	EventID      string
	Revision     int64
	ClusterCount int
	FaceCount    int
}

// SortClusters orders clusters by member count descending, then by ID. This is
// the snapshot order every store returns.
func SortClusters(clusters []Cluster) {
	sort.SliceStable(clusters, func(i, j int) bool {
		if clusters[i].MemberCount != clusters[j].MemberCount {
			return clusters[i].MemberCount > clusters[j].MemberCount
		}
		return clusters[i].ID < clusters[j].ID
	})
}
