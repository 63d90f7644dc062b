package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/facesnap/internal/database"
)

// Store combines the cluster and face repositories into a database.EncodingStore.
type Store struct {
	*ClusterRepository
	*FaceRepository

	pool *Pool
}

// NewStore creates a PostgreSQL EncodingStore on an initialized pool.
func NewStore(pool *Pool) *Store {
	return &Store{
		ClusterRepository: NewClusterRepository(pool),
		FaceRepository:    NewFaceRepository(pool),
		pool:              pool,
	}
}

// EventStats returns the event revision and its cluster and face counts.
func (s *Store) EventStats(ctx context.Context, eventID string) (database.EventStats, error) {
	stats := database.EventStats{EventID: eventID}
	err := s.pool.QueryRow(ctx, `
		SELECT e.revision,
		       (SELECT COUNT(*) FROM clusters c WHERE c.event_id = e.id),
		       (SELECT COUNT(*) FROM face_records f WHERE f.event_id = e.id)
		FROM events e
		WHERE e.id = $1
	`, eventID).Scan(&stats.Revision, &stats.ClusterCount, &stats.FaceCount)
	if errors.Is(err, sql.ErrNoRows) {
		return stats, nil
	}
	if err != nil {
		return database.EventStats{}, fmt.Errorf("query event stats: %w", err)
	}
	return stats, nil
}

// DeleteEvent removes the event's clusters (faces cascade) and bumps the
// revision in the same transaction. The event row is kept so a snapshot taken
// before the delete fails the create CAS.
func (s *Store) DeleteEvent(ctx context.Context, eventID string) error {
	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "UPDATE events SET revision = revision + 1 WHERE id = $1", eventID)
	if err != nil {
		return fmt.Errorf("bump event revision: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("bump event revision: %w", err)
	} else if n == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM clusters WHERE event_id = $1", eventID); err != nil {
		return fmt.Errorf("delete clusters: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

var _ database.EncodingStore = (*Store)(nil)
