package database_test

import (
	"context"
	"testing"

	"github.com/kozaktomas/facesnap/internal/database"
	"github.com/kozaktomas/facesnap/internal/database/memory"
	"github.com/kozaktomas/facesnap/internal/embedding"
)

func seedFaces(t *testing.T, store *memory.Store, eventID string, points ...embedding.Vector) int64 {
	t.Helper()
	ctx := context.Background()
	c, err := store.CreateCluster(ctx, eventID, points[0], 0)
	if err != nil {
		t.Fatalf("CreateCluster failed: %v", err)
	}
	for i, p := range points {
		_, err := store.RecordFace(ctx, database.FaceRecord{
			EventID: eventID, ClusterID: c.ID, ImageRef: "img.jpg", FaceIndex: i, Embedding: p,
		})
		if err != nil {
			t.Fatalf("RecordFace failed: %v", err)
		}
	}
	return c.ID
}

func TestFaceSearch_IndexedAndScanAgree(t *testing.T) {
	store := memory.New()
	seedFaces(t, store, "gala",
		embedding.Vector{0, 0}, embedding.Vector{3, 0}, embedding.Vector{1, 0}, embedding.Vector{0, 2})

	query := embedding.Vector{0.9, 0}
	for _, search := range []*database.FaceSearch{
		database.NewFaceSearch(store, database.NewFaceIndex()),
		database.NewFaceSearch(store, nil),
	} {
		hits, err := search.Similar(context.Background(), "gala", query, 2)
		if err != nil {
			t.Fatalf("Similar (indexed=%v) failed: %v", search.Indexed(), err)
		}
		if len(hits) != 2 {
			t.Fatalf("Expected 2 hits (indexed=%v), got %d", search.Indexed(), len(hits))
		}
		if hits[0].Face.FaceIndex != 2 || hits[1].Face.FaceIndex != 0 {
			t.Errorf("Unexpected order (indexed=%v): %d, %d",
				search.Indexed(), hits[0].Face.FaceIndex, hits[1].Face.FaceIndex)
		}
	}
}

func TestFaceSearch_ObserveAfterLoad(t *testing.T) {
	store := memory.New()
	clusterID := seedFaces(t, store, "gala", embedding.Vector{0, 0})
	search := database.NewFaceSearch(store, database.NewFaceIndex())
	ctx := context.Background()

	if _, err := search.Similar(ctx, "gala", embedding.Vector{0, 0}, 1); err != nil {
		t.Fatalf("Similar failed: %v", err)
	}

	rec, err := store.RecordFace(ctx, database.FaceRecord{
		EventID: "gala", ClusterID: clusterID, ImageRef: "new.jpg", Embedding: embedding.Vector{4, 4},
	})
	if err != nil {
		t.Fatalf("RecordFace failed: %v", err)
	}
	if err := search.Observe(rec); err != nil {
		t.Fatalf("Observe failed: %v", err)
	}

	hits, err := search.Similar(ctx, "gala", embedding.Vector{4, 4}, 1)
	if err != nil {
		t.Fatalf("Similar failed: %v", err)
	}
	if len(hits) != 1 || hits[0].Face.ID != rec.ID {
		t.Errorf("Expected observed face as nearest, got %+v", hits)
	}

	search.Forget("gala")
	if err := store.DeleteEvent(ctx, "gala"); err != nil {
		t.Fatalf("DeleteEvent failed: %v", err)
	}
	hits, err = search.Similar(ctx, "gala", embedding.Vector{4, 4}, 1)
	if err != nil {
		t.Fatalf("Similar after forget failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("Expected no hits after event deletion, got %d", len(hits))
	}
}
