package clustering

import (
	"context"
	"errors"

	"github.com/kozaktomas/facesnap/internal/database"
	"github.com/kozaktomas/facesnap/internal/embedding"
)

// Maintainer applies the two cluster mutations. Both are compare-and-swap
// writes; a lost race surfaces as database.ErrConflict.
type Maintainer struct {
	store database.ClusterWriter
}

// NewMaintainer creates a maintainer over store.
func NewMaintainer(store database.ClusterWriter) *Maintainer {
	return &Maintainer{store: store}
}

// Create inserts a cluster with centroid vec and one member, provided no other
// cluster was created in the event since expectedRevision was read.
func (m *Maintainer) Create(ctx context.Context, eventID string, vec embedding.Vector, expectedRevision int64) (database.Cluster, error) {
	c, err := m.store.CreateCluster(ctx, eventID, vec.Clone(), expectedRevision)
	if err != nil {
		return database.Cluster{}, storeErr("create cluster", err)
	}
	return c, nil
}

// Update folds vec into the cluster's running mean and increments its member
// count, provided the count has not changed since cluster was read.
func (m *Maintainer) Update(ctx context.Context, cluster database.Cluster, vec embedding.Vector) (database.Cluster, error) {
	centroid, err := embedding.RunningMean(cluster.Centroid, cluster.MemberCount, vec)
	if err != nil {
		return database.Cluster{}, err
	}

	c, err := m.store.UpdateCluster(ctx, database.ClusterUpdate{
		ID:            cluster.ID,
		Centroid:      centroid,
		MemberCount:   cluster.MemberCount + 1,
		ExpectedCount: cluster.MemberCount,
	})
	if err != nil {
		return database.Cluster{}, storeErr("update cluster", err)
	}
	return c, nil
}

// storeErr wraps err in a StoreError unless it is a conflict, which the
// engine handles by re-reading.
func storeErr(op string, err error) error {
	if errors.Is(err, database.ErrConflict) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
