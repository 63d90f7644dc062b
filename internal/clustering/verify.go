package clustering

import (
	"context"
	"fmt"

	"github.com/kozaktomas/facesnap/internal/embedding"
)

// Match is the outcome of Verify.
type Match struct {
	ClusterID   int64
	Distance    float64
	Confidence  float64
	MemberCount int
}

// Verify finds the cluster nearest to vec. It succeeds only when that
// distance is below the similarity threshold; confidence is 1 - distance.
// On ErrNoSufficientMatch the returned Match carries the closest distance and
// no cluster.
//
// Verify never mutates the store and applies no tie-break.
func (e *Engine) Verify(ctx context.Context, eventID string, vec embedding.Vector) (Match, error) {
	p := e.Policy()
	if err := checkInput(p, eventID, vec); err != nil {
		return Match{}, err
	}

	snap, err := e.store.ListClusters(ctx, eventID)
	if err != nil {
		return Match{}, &StoreError{Op: "list clusters", Err: err}
	}
	if len(snap.Clusters) == 0 {
		return Match{}, ErrNoCandidates
	}

	var best candidate
	for i, c := range snap.Clusters {
		d, err := embedding.Distance(c.Centroid, vec)
		if err != nil {
			return Match{}, fmt.Errorf("cluster %d: %w", c.ID, err)
		}
		if i == 0 || d < best.distance {
			best = candidate{cluster: c, distance: d}
		}
	}

	if best.distance >= p.SimilarityThreshold {
		return Match{Distance: best.distance}, ErrNoSufficientMatch
	}
	return Match{
		ClusterID:   best.cluster.ID,
		Distance:    best.distance,
		Confidence:  1 - best.distance,
		MemberCount: best.cluster.MemberCount,
	}, nil
}
