// Package storetest holds the behavioural tests every database.EncodingStore
// implementation must pass.
package storetest

import (
	"context"
	"sync"
	"testing"

	"github.com/kozaktomas/facesnap/internal/database"
	"github.com/kozaktomas/facesnap/internal/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. The store is closed by the suite.
type Factory func(t *testing.T) database.EncodingStore

// Run executes the contract suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("EmptyEvent", func(t *testing.T) { testEmptyEvent(t, newStore(t)) })
	t.Run("CreateAndList", func(t *testing.T) { testCreateAndList(t, newStore(t)) })
	t.Run("CreateConflict", func(t *testing.T) { testCreateConflict(t, newStore(t)) })
	t.Run("UpdateCompareAndSwap", func(t *testing.T) { testUpdateCAS(t, newStore(t)) })
	t.Run("UpdateMissingCluster", func(t *testing.T) { testUpdateMissing(t, newStore(t)) })
	t.Run("EventsAreIsolated", func(t *testing.T) { testEventIsolation(t, newStore(t)) })
	t.Run("RecordAndListFaces", func(t *testing.T) { testFaces(t, newStore(t)) })
	t.Run("DeleteEvent", func(t *testing.T) { testDeleteEvent(t, newStore(t)) })
	t.Run("ConcurrentCreateSingleWinner", func(t *testing.T) { testConcurrentCreate(t, newStore(t)) })
}

func vec(values ...float64) embedding.Vector {
	return embedding.Vector(values)
}

func testEmptyEvent(t *testing.T, store database.EncodingStore) {
	defer store.Close()
	ctx := context.Background()

	snap, err := store.ListClusters(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Revision)
	assert.Empty(t, snap.Clusters)

	stats, err := store.EventStats(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.ClusterCount)
	assert.Equal(t, 0, stats.FaceCount)

	_, err = store.GetCluster(ctx, 424242)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func testCreateAndList(t *testing.T, store database.EncodingStore) {
	defer store.Close()
	ctx := context.Background()

	c1, err := store.CreateCluster(ctx, "wedding", vec(0.1, 0.2, 0.3), 0)
	require.NoError(t, err)
	assert.Equal(t, "wedding", c1.EventID)
	assert.Equal(t, 1, c1.MemberCount)
	assert.Equal(t, vec(0.1, 0.2, 0.3), c1.Centroid)
	assert.False(t, c1.CreatedAt.IsZero())

	c2, err := store.CreateCluster(ctx, "wedding", vec(0.9, 0.8, 0.7), 1)
	require.NoError(t, err)
	assert.NotEqual(t, c1.ID, c2.ID)

	// Grow c2 so it sorts first.
	_, err = store.UpdateCluster(ctx, database.ClusterUpdate{
		ID: c2.ID, Centroid: vec(0.8, 0.8, 0.8), MemberCount: 2, ExpectedCount: 1,
	})
	require.NoError(t, err)

	snap, err := store.ListClusters(ctx, "wedding")
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Revision)
	require.Len(t, snap.Clusters, 2)
	assert.Equal(t, c2.ID, snap.Clusters[0].ID)
	assert.Equal(t, 2, snap.Clusters[0].MemberCount)
	assert.Equal(t, vec(0.8, 0.8, 0.8), snap.Clusters[0].Centroid)
	assert.Equal(t, c1.ID, snap.Clusters[1].ID)

	got, err := store.GetCluster(ctx, c1.ID)
	require.NoError(t, err)
	assert.Equal(t, c1.Centroid, got.Centroid)
}

func testCreateConflict(t *testing.T, store database.EncodingStore) {
	defer store.Close()
	ctx := context.Background()

	_, err := store.CreateCluster(ctx, "party", vec(1, 0), 0)
	require.NoError(t, err)

	// Stale revision: somebody else created a cluster since our snapshot.
	_, err = store.CreateCluster(ctx, "party", vec(0, 1), 0)
	assert.ErrorIs(t, err, database.ErrConflict)

	snap, err := store.ListClusters(ctx, "party")
	require.NoError(t, err)
	assert.Len(t, snap.Clusters, 1)
	assert.Equal(t, int64(1), snap.Revision)
}

func testUpdateCAS(t *testing.T, store database.EncodingStore) {
	defer store.Close()
	ctx := context.Background()

	c, err := store.CreateCluster(ctx, "party", vec(1, 1), 0)
	require.NoError(t, err)

	updated, err := store.UpdateCluster(ctx, database.ClusterUpdate{
		ID: c.ID, Centroid: vec(2, 2), MemberCount: 2, ExpectedCount: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.MemberCount)
	assert.Equal(t, vec(2, 2), updated.Centroid)

	// A writer that read the old count must lose.
	_, err = store.UpdateCluster(ctx, database.ClusterUpdate{
		ID: c.ID, Centroid: vec(9, 9), MemberCount: 2, ExpectedCount: 1,
	})
	assert.ErrorIs(t, err, database.ErrConflict)

	got, err := store.GetCluster(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MemberCount)
	assert.Equal(t, vec(2, 2), got.Centroid)
}

func testUpdateMissing(t *testing.T, store database.EncodingStore) {
	defer store.Close()

	_, err := store.UpdateCluster(context.Background(), database.ClusterUpdate{
		ID: 999, Centroid: vec(1), MemberCount: 2, ExpectedCount: 1,
	})
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func testEventIsolation(t *testing.T, store database.EncodingStore) {
	defer store.Close()
	ctx := context.Background()

	_, err := store.CreateCluster(ctx, "a", vec(1, 0), 0)
	require.NoError(t, err)
	// Each event keeps its own revision.
	_, err = store.CreateCluster(ctx, "b", vec(0, 1), 0)
	require.NoError(t, err)

	snapA, err := store.ListClusters(ctx, "a")
	require.NoError(t, err)
	snapB, err := store.ListClusters(ctx, "b")
	require.NoError(t, err)

	require.Len(t, snapA.Clusters, 1)
	require.Len(t, snapB.Clusters, 1)
	assert.Equal(t, vec(1, 0), snapA.Clusters[0].Centroid)
	assert.Equal(t, vec(0, 1), snapB.Clusters[0].Centroid)
}

func testFaces(t *testing.T, store database.EncodingStore) {
	defer store.Close()
	ctx := context.Background()

	c1, err := store.CreateCluster(ctx, "gala", vec(1, 0), 0)
	require.NoError(t, err)
	c2, err := store.CreateCluster(ctx, "gala", vec(0, 1), 1)
	require.NoError(t, err)

	f1, err := store.RecordFace(ctx, database.FaceRecord{
		EventID: "gala", ClusterID: c1.ID, ImageRef: "uploads/gala/a.jpg", Embedding: vec(1, 0),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, f1.ID)
	assert.False(t, f1.CreatedAt.IsZero())

	_, err = store.RecordFace(ctx, database.FaceRecord{
		EventID: "gala", ClusterID: c2.ID, ImageRef: "uploads/gala/b.jpg", FaceIndex: 1, Embedding: vec(0, 1),
	})
	require.NoError(t, err)
	_, err = store.RecordFace(ctx, database.FaceRecord{
		EventID: "gala", ClusterID: c1.ID, ImageRef: "uploads/gala/c.jpg", Embedding: vec(0.9, 0.1),
	})
	require.NoError(t, err)

	faces, err := store.ListFaces(ctx, "gala", c1.ID)
	require.NoError(t, err)
	require.Len(t, faces, 2)
	assert.Equal(t, "uploads/gala/a.jpg", faces[0].ImageRef)
	assert.Equal(t, "uploads/gala/c.jpg", faces[1].ImageRef)
	// Audit embeddings may be stored at reduced precision.
	assert.InDeltaSlice(t, vec(0.9, 0.1), faces[1].Embedding, 1e-6)

	all, err := store.ListEventFaces(ctx, "gala")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	stats, err := store.EventStats(ctx, "gala")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ClusterCount)
	assert.Equal(t, 3, stats.FaceCount)

	_, err = store.RecordFace(ctx, database.FaceRecord{EventID: "gala", ClusterID: 777, ImageRef: "x"})
	assert.Error(t, err)
}

func testDeleteEvent(t *testing.T, store database.EncodingStore) {
	defer store.Close()
	ctx := context.Background()

	c, err := store.CreateCluster(ctx, "old", vec(1, 1), 0)
	require.NoError(t, err)
	_, err = store.RecordFace(ctx, database.FaceRecord{EventID: "old", ClusterID: c.ID, ImageRef: "x", Embedding: vec(1, 1)})
	require.NoError(t, err)
	_, err = store.CreateCluster(ctx, "keep", vec(1, 1), 0)
	require.NoError(t, err)

	before, err := store.ListClusters(ctx, "old")
	require.NoError(t, err)

	require.NoError(t, store.DeleteEvent(ctx, "old"))

	snap, err := store.ListClusters(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, snap.Clusters)
	assert.Greater(t, snap.Revision, before.Revision)

	// A snapshot from before the delete must not win the create CAS.
	_, err = store.CreateCluster(ctx, "old", vec(2, 2), before.Revision)
	assert.ErrorIs(t, err, database.ErrConflict)
	fresh, err := store.CreateCluster(ctx, "old", vec(2, 2), snap.Revision)
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.MemberCount)
	_, err = store.GetCluster(ctx, c.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)

	faces, err := store.ListEventFaces(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, faces)

	keep, err := store.ListClusters(ctx, "keep")
	require.NoError(t, err)
	assert.Len(t, keep.Clusters, 1)

	// Deleting an unknown event is not an error.
	assert.NoError(t, store.DeleteEvent(ctx, "never-existed"))
}

func testConcurrentCreate(t *testing.T, store database.EncodingStore) {
	defer store.Close()
	ctx := context.Background()

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.CreateCluster(ctx, "race", vec(0.5, 0.5), 0)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case assert.ErrorIs(t, err, database.ErrConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)

	snap, err := store.ListClusters(ctx, "race")
	require.NoError(t, err)
	assert.Len(t, snap.Clusters, 1)
}
