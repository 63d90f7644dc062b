package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/facesnap/internal/database"
	"github.com/kozaktomas/facesnap/internal/embedding"
	"github.com/lib/pq"
)

// ClusterRepository provides PostgreSQL-backed cluster storage.
type ClusterRepository struct {
	pool *Pool
}

// NewClusterRepository creates a new PostgreSQL cluster repository.
func NewClusterRepository(pool *Pool) *ClusterRepository {
	return &ClusterRepository{pool: pool}
}

const clusterColumns = `id, event_id, centroid, member_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCluster(row rowScanner) (database.Cluster, error) {
	var (
		c        database.Cluster
		centroid []float64
	)
	if err := row.Scan(&c.ID, &c.EventID, pq.Array(&centroid), &c.MemberCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return database.Cluster{}, err
	}
	c.Centroid = embedding.Vector(centroid)
	return c, nil
}

// ListClusters reads the event revision and its clusters in one repeatable-read
// transaction so both come from the same snapshot.
func (r *ClusterRepository) ListClusters(ctx context.Context, eventID string) (database.Snapshot, error) {
	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return database.Snapshot{}, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	snap := database.Snapshot{EventID: eventID}
	err = tx.QueryRowContext(ctx, "SELECT revision FROM events WHERE id = $1", eventID).Scan(&snap.Revision)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, nil
	}
	if err != nil {
		return database.Snapshot{}, fmt.Errorf("query event revision: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT `+clusterColumns+`
		FROM clusters
		WHERE event_id = $1
		ORDER BY member_count DESC, id
	`, eventID)
	if err != nil {
		return database.Snapshot{}, fmt.Errorf("query clusters: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return database.Snapshot{}, fmt.Errorf("scan cluster: %w", err)
		}
		snap.Clusters = append(snap.Clusters, c)
	}
	if err := rows.Err(); err != nil {
		return database.Snapshot{}, fmt.Errorf("iterate clusters: %w", err)
	}
	return snap, nil
}

// GetCluster retrieves a cluster by ID.
func (r *ClusterRepository) GetCluster(ctx context.Context, clusterID int64) (database.Cluster, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+clusterColumns+" FROM clusters WHERE id = $1", clusterID)
	c, err := scanCluster(row)
	if errors.Is(err, sql.ErrNoRows) {
		return database.Cluster{}, fmt.Errorf("cluster %d: %w", clusterID, database.ErrNotFound)
	}
	if err != nil {
		return database.Cluster{}, fmt.Errorf("get cluster: %w", err)
	}
	return c, nil
}

// CreateCluster bumps the event revision with a compare-and-swap and inserts
// the cluster in the same transaction. A concurrent creator blocks on the
// event row and then fails the revision check.
func (r *ClusterRepository) CreateCluster(ctx context.Context, eventID string, centroid embedding.Vector, expectedRevision int64) (database.Cluster, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return database.Cluster{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "INSERT INTO events (id) VALUES ($1) ON CONFLICT (id) DO NOTHING", eventID); err != nil {
		return database.Cluster{}, fmt.Errorf("ensure event: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE events SET revision = revision + 1 WHERE id = $1 AND revision = $2",
		eventID, expectedRevision,
	)
	if err != nil {
		return database.Cluster{}, fmt.Errorf("bump event revision: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return database.Cluster{}, fmt.Errorf("bump event revision: %w", err)
	}
	if affected == 0 {
		return database.Cluster{}, fmt.Errorf("event %s revision changed since %d: %w",
			eventID, expectedRevision, database.ErrConflict)
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO clusters (event_id, centroid, dim, encoding_version, member_count)
		VALUES ($1, $2, $3, $4, 1)
		RETURNING `+clusterColumns,
		eventID, pq.Array([]float64(centroid)), len(centroid), embedding.CodecVersion,
	)
	c, err := scanCluster(row)
	if err != nil {
		return database.Cluster{}, fmt.Errorf("insert cluster: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return database.Cluster{}, fmt.Errorf("commit transaction: %w", err)
	}
	return c, nil
}

// UpdateCluster writes centroid and count in one statement guarded by the
// expected member count.
func (r *ClusterRepository) UpdateCluster(ctx context.Context, update database.ClusterUpdate) (database.Cluster, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE clusters
		SET centroid = $2, dim = $3, member_count = $4, updated_at = NOW()
		WHERE id = $1 AND member_count = $5
		RETURNING `+clusterColumns,
		update.ID, pq.Array([]float64(update.Centroid)), len(update.Centroid), update.MemberCount, update.ExpectedCount,
	)
	c, err := scanCluster(row)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return database.Cluster{}, fmt.Errorf("update cluster: %w", err)
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM clusters WHERE id = $1)", update.ID).Scan(&exists); err != nil {
		return database.Cluster{}, fmt.Errorf("check cluster exists: %w", err)
	}
	if !exists {
		return database.Cluster{}, fmt.Errorf("cluster %d: %w", update.ID, database.ErrNotFound)
	}
	return database.Cluster{}, fmt.Errorf("cluster %d member count is no longer %d: %w",
		update.ID, update.ExpectedCount, database.ErrConflict)
}
