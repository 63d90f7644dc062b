package clustering

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/cenkalti/backoff/v4"
	"github.com/kozaktomas/facesnap/internal/database"
	"github.com/kozaktomas/facesnap/internal/embedding"
)

// Assignment is the outcome of Assign.
type Assignment struct {
	ClusterID int64
	// Created is true when the face started a new cluster.
	Created bool
	// Distance to the chosen centroid before the update; 0 for new clusters.
	Distance    float64
	MemberCount int
	// FaceID is set by AssignFace and AssignDetected.
	FaceID string
}

// Face is one detected face of an image.
type Face struct {
	ImageRef  string
	Index     int
	Embedding embedding.Vector
}

// Assign places vec into the nearest cluster of the event, or starts a new
// cluster when none is within the similarity threshold. Concurrent
// modifications of the event cause the decision to be re-run on a fresh
// snapshot, up to Policy.MaxConflictRetries times.
func (e *Engine) Assign(ctx context.Context, eventID string, vec embedding.Vector) (Assignment, error) {
	p := e.Policy()
	if err := checkInput(p, eventID, vec); err != nil {
		return Assignment{}, err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(e.newBackOff(), uint64(p.MaxConflictRetries)), ctx)
	a, err := backoff.RetryWithData[Assignment](func() (Assignment, error) {
		a, err := e.assignOnce(ctx, p, eventID, vec)
		if err != nil && !errors.Is(err, database.ErrConflict) {
			return Assignment{}, backoff.Permanent(err)
		}
		return a, err
	}, b)
	if errors.Is(err, database.ErrConflict) {
		return Assignment{}, fmt.Errorf("%w: event %s after %d retries", ErrContention, eventID, p.MaxConflictRetries)
	}
	if err != nil {
		return Assignment{}, err
	}
	return a, nil
}

func (e *Engine) assignOnce(ctx context.Context, p Policy, eventID string, vec embedding.Vector) (Assignment, error) {
	snap, err := e.store.ListClusters(ctx, eventID)
	if err != nil {
		return Assignment{}, &StoreError{Op: "list clusters", Err: err}
	}

	candidates, err := rank(snap.Clusters, vec)
	if err != nil {
		return Assignment{}, err
	}

	if len(candidates) == 0 || candidates[0].distance >= p.SimilarityThreshold {
		c, err := e.maintainer.Create(ctx, eventID, vec, snap.Revision)
		if err != nil {
			return Assignment{}, err
		}
		return Assignment{ClusterID: c.ID, Created: true, MemberCount: c.MemberCount}, nil
	}

	chosen := choose(candidates, p)
	c, err := e.maintainer.Update(ctx, chosen.cluster, vec)
	if err != nil {
		return Assignment{}, err
	}
	return Assignment{ClusterID: c.ID, Distance: chosen.distance, MemberCount: c.MemberCount}, nil
}

// rank computes the distance from vec to every cluster and sorts ascending.
// Equal distances keep the snapshot order.
func rank(clusters []database.Cluster, vec embedding.Vector) ([]candidate, error) {
	candidates := make([]candidate, 0, len(clusters))
	for _, c := range clusters {
		d, err := embedding.Distance(c.Centroid, vec)
		if err != nil {
			return nil, fmt.Errorf("cluster %d: %w", c.ID, err)
		}
		candidates = append(candidates, candidate{cluster: c, distance: d})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].distance < candidates[j].distance
	})
	return candidates, nil
}

// choose picks the nearest candidate unless the runner-up is a near tie with
// a substantially larger population. Only the top two are compared.
func choose(candidates []candidate, p Policy) candidate {
	best := candidates[0]
	if len(candidates) < 2 {
		return best
	}
	second := candidates[1]
	if second.distance-best.distance < p.TieBreakGap &&
		second.distance < p.SimilarityThreshold &&
		float64(second.cluster.MemberCount) > float64(best.cluster.MemberCount)*p.PopulationRatio {
		return second
	}
	return best
}

// AssignFace assigns vec and records the face against the chosen cluster.
func (e *Engine) AssignFace(ctx context.Context, eventID, imageRef string, vec embedding.Vector) (Assignment, error) {
	return e.AssignDetected(ctx, eventID, Face{ImageRef: imageRef, Embedding: vec})
}

// AssignDetected assigns a detected face and records it. If recording fails
// the cluster has already been updated; the assignment is returned together
// with the error.
func (e *Engine) AssignDetected(ctx context.Context, eventID string, face Face) (Assignment, error) {
	a, err := e.Assign(ctx, eventID, face.Embedding)
	if err != nil {
		return Assignment{}, err
	}

	rec, err := e.store.RecordFace(ctx, database.FaceRecord{
		EventID:   eventID,
		ClusterID: a.ClusterID,
		ImageRef:  face.ImageRef,
		FaceIndex: face.Index,
		Embedding: face.Embedding.Clone(),
	})
	if err != nil {
		return a, &StoreError{Op: "record face", Err: err}
	}
	a.FaceID = rec.ID
	if e.onFace != nil {
		e.onFace(rec)
	}
	return a, nil
}
