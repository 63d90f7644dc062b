package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/kozaktomas/facesnap/internal/clustering"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Assigner is the part of the clustering engine ingestion uses.
type Assigner interface {
	AssignDetected(ctx context.Context, eventID string, face clustering.Face) (clustering.Assignment, error)
}

// Result is the outcome for one record.
type Result struct {
	Record     Record
	Assignment clustering.Assignment
	Err        error
}

// Summary totals a batch.
type Summary struct {
	BatchID  string
	Faces    int // records assigned and recorded
	Created  int // records that started a new cluster
	Skipped  int // records rejected as invalid input
	Clusters int // distinct clusters touched
}

// Options control a batch run.
type Options struct {
	Workers int
	// OnResult is called once per record, serialized.
	OnResult func(Result)
}

// Run assigns every record to a cluster of eventID using parallel workers.
// Records with invalid embeddings are skipped and counted; infrastructure
// failures (store errors, contention) stop the batch and are returned.
func Run(ctx context.Context, a Assigner, eventID string, records []Record, opts Options) (Summary, error) {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	summary := Summary{BatchID: uuid.NewString()}
	logger := log.With().Str("batch", summary.BatchID).Str("event", eventID).Logger()
	logger.Info().Int("records", len(records)).Int("workers", workers).Msg("Ingest started")

	var (
		mu       sync.Mutex
		clusters = make(map[int64]struct{})
	)
	report := func(res Result, fatal bool) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case res.Err == nil:
			summary.Faces++
			if res.Assignment.Created {
				summary.Created++
			}
			clusters[res.Assignment.ClusterID] = struct{}{}
		case !fatal:
			summary.Skipped++
		}
		if opts.OnResult != nil {
			opts.OnResult(res)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, rec := range records {
		if gctx.Err() != nil {
			break
		}
		rec := rec
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			assignment, err := a.AssignDetected(gctx, eventID, clustering.Face{
				ImageRef:  rec.ImageRef,
				Index:     rec.FaceIndex,
				Embedding: rec.Vector(),
			})
			fatal := err != nil && isFatal(err)
			report(Result{Record: rec, Assignment: assignment, Err: err}, fatal)

			switch {
			case err == nil:
				return nil
			case fatal:
				return fmt.Errorf("line %d (%s): %w", rec.Line, rec.ImageRef, err)
			default:
				logger.Warn().Err(err).Int("line", rec.Line).Str("image_ref", rec.ImageRef).Msg("Skipping face")
				return nil
			}
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	summary.Clusters = len(clusters)

	if err != nil {
		logger.Error().Err(err).Int("faces", summary.Faces).Msg("Ingest aborted")
		return summary, err
	}
	logger.Info().
		Int("faces", summary.Faces).
		Int("created", summary.Created).
		Int("skipped", summary.Skipped).
		Int("clusters", summary.Clusters).
		Msg("Ingest finished")
	return summary, nil
}

// isFatal separates infrastructure failures, which abort the batch, from bad
// input, which only skips the record.
func isFatal(err error) bool {
	return clustering.IsRetryable(err) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
