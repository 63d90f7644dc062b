package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/kozaktomas/facesnap/internal/clustering"
	"github.com/kozaktomas/facesnap/internal/database/memory"
	"github.com/kozaktomas/facesnap/internal/database/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRecords(t *testing.T) {
	input := `{"image_ref": "uploads/a.jpg", "embedding": [0.1, 0.2]}

{"image_ref": "uploads/b.jpg", "embedding": [0.3, 0.4], "face_index": 2}
`
	records, err := ReadRecords(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "uploads/a.jpg", records[0].ImageRef)
	assert.Equal(t, []float64{0.1, 0.2}, records[0].Embedding)
	assert.Equal(t, 1, records[0].Line)
	assert.Equal(t, 0, records[0].FaceIndex)

	assert.Equal(t, 2, records[1].FaceIndex)
	assert.Equal(t, 3, records[1].Line)
}

func TestReadRecords_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"malformed json", "{\"image_ref\": \"a\", \"embedding\": [1]}\n{oops", "line 2"},
		{"missing image ref", `{"embedding": [1, 2]}`, "image_ref is required"},
		{"missing embedding", `{"image_ref": "a.jpg"}`, "embedding is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadRecords(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func newEngine(t *testing.T, store clustering.Store) *clustering.Engine {
	t.Helper()
	p := clustering.DefaultPolicy()
	p.Dimension = 2
	p.MaxConflictRetries = 64
	e, err := clustering.New(store, p, clustering.WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }))
	require.NoError(t, err)
	return e
}

func TestRun_AssignsAllRecords(t *testing.T) {
	store := memory.New()
	e := newEngine(t, store)

	records := []Record{
		{ImageRef: "a1.jpg", Embedding: []float64{0, 0}, Line: 1},
		{ImageRef: "a2.jpg", Embedding: []float64{0.05, 0}, Line: 2},
		{ImageRef: "a3.jpg", Embedding: []float64{0, 0.05}, Line: 3},
		{ImageRef: "b1.jpg", Embedding: []float64{5, 5}, Line: 4},
		{ImageRef: "b2.jpg", Embedding: []float64{5, 5.05}, Line: 5},
	}

	var (
		mu      sync.Mutex
		results []Result
	)
	// One worker keeps creation order deterministic.
	summary, err := Run(context.Background(), e, "gala", records, Options{
		Workers: 1,
		OnResult: func(r Result) {
			mu.Lock()
			defer mu.Unlock()
			results = append(results, r)
		},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, summary.BatchID)
	assert.Equal(t, 5, summary.Faces)
	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, 2, summary.Clusters)
	assert.Zero(t, summary.Skipped)
	assert.Len(t, results, 5)

	faces, err := store.ListEventFaces(context.Background(), "gala")
	require.NoError(t, err)
	assert.Len(t, faces, 5)
}

func TestRun_ParallelWorkers(t *testing.T) {
	store := memory.New()
	e := newEngine(t, store)

	var records []Record
	for i := 0; i < 40; i++ {
		records = append(records, Record{ImageRef: "x.jpg", Embedding: []float64{0.001 * float64(i), 0}, Line: i + 1})
	}

	summary, err := Run(context.Background(), e, "gala", records, Options{Workers: 8})
	require.NoError(t, err)
	assert.Equal(t, 40, summary.Faces)
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 1, summary.Clusters)

	snap, err := store.ListClusters(context.Background(), "gala")
	require.NoError(t, err)
	require.Len(t, snap.Clusters, 1)
	assert.Equal(t, 40, snap.Clusters[0].MemberCount)
}

func TestRun_SkipsInvalidRecords(t *testing.T) {
	e := newEngine(t, memory.New())

	records := []Record{
		{ImageRef: "ok.jpg", Embedding: []float64{0, 0}, Line: 1},
		{ImageRef: "bad.jpg", Embedding: []float64{0, 0, 0}, Line: 2},
	}

	var failed []Result
	summary, err := Run(context.Background(), e, "gala", records, Options{
		Workers: 1,
		OnResult: func(r Result) {
			if r.Err != nil {
				failed = append(failed, r)
			}
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Faces)
	assert.Equal(t, 1, summary.Skipped)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, clustering.ErrDimensionMismatch)
	assert.Equal(t, 2, failed[0].Record.Line)
}

func TestRun_StoreFailureAborts(t *testing.T) {
	store := mock.NewMockStore()
	store.ListError = errors.New("connection reset")
	e := newEngine(t, store)

	records := []Record{
		{ImageRef: "a.jpg", Embedding: []float64{0, 0}, Line: 1},
		{ImageRef: "b.jpg", Embedding: []float64{1, 1}, Line: 2},
	}

	summary, err := Run(context.Background(), e, "gala", records, Options{Workers: 1})
	var storeErr *clustering.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Contains(t, err.Error(), "line 1")
	assert.Zero(t, summary.Faces)
	assert.Zero(t, summary.Skipped)
	// The batch stops at the first infrastructure failure.
	assert.Equal(t, 1, store.Calls("ListClusters"))
}

func TestRun_CanceledContext(t *testing.T) {
	e := newEngine(t, memory.New())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, e, "gala", []Record{{ImageRef: "a.jpg", Embedding: []float64{0, 0}, Line: 1}}, Options{Workers: 2})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_Empty(t *testing.T) {
	e := newEngine(t, memory.New())

	summary, err := Run(context.Background(), e, "gala", nil, Options{})
	require.NoError(t, err)
	assert.Zero(t, summary.Faces)
	assert.Zero(t, summary.Clusters)
}
