package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kozaktomas/facesnap/internal/database"
	"github.com/kozaktomas/facesnap/internal/embedding"
	"github.com/pgvector/pgvector-go"
)

// FaceRepository provides PostgreSQL-backed face record storage.
type FaceRepository struct {
	pool *Pool
}

// NewFaceRepository creates a new PostgreSQL face repository.
func NewFaceRepository(pool *Pool) *FaceRepository {
	return &FaceRepository{pool: pool}
}

// RecordFace inserts an audit record for a face. The event is taken from the
// owning cluster when not set.
func (r *FaceRepository) RecordFace(ctx context.Context, face database.FaceRecord) (database.FaceRecord, error) {
	if len(face.Embedding) == 0 {
		return database.FaceRecord{}, errors.New("face embedding is required")
	}

	var clusterEvent string
	err := r.pool.QueryRow(ctx, "SELECT event_id FROM clusters WHERE id = $1", face.ClusterID).Scan(&clusterEvent)
	if errors.Is(err, sql.ErrNoRows) {
		return database.FaceRecord{}, fmt.Errorf("cluster %d: %w", face.ClusterID, database.ErrNotFound)
	}
	if err != nil {
		return database.FaceRecord{}, fmt.Errorf("lookup cluster event: %w", err)
	}
	if face.EventID == "" {
		face.EventID = clusterEvent
	}
	if face.EventID != clusterEvent {
		return database.FaceRecord{}, fmt.Errorf("cluster %d belongs to event %s, not %s",
			face.ClusterID, clusterEvent, face.EventID)
	}
	if face.ID == "" {
		face.ID = uuid.NewString()
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO face_records (id, event_id, cluster_id, image_ref, face_index, embedding, dim)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, face.ID, face.EventID, face.ClusterID, face.ImageRef, face.FaceIndex,
		pgvector.NewVector(face.Embedding.Float32()), len(face.Embedding),
	).Scan(&face.CreatedAt)
	if err != nil {
		return database.FaceRecord{}, fmt.Errorf("insert face record: %w", err)
	}
	return face, nil
}

const faceColumns = `id, event_id, cluster_id, image_ref, face_index, embedding, created_at`

// ListFaces retrieves the faces of a cluster, oldest first.
func (r *FaceRepository) ListFaces(ctx context.Context, eventID string, clusterID int64) ([]database.FaceRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+faceColumns+`
		FROM face_records
		WHERE event_id = $1 AND cluster_id = $2
		ORDER BY seq
	`, eventID, clusterID)
	if err != nil {
		return nil, fmt.Errorf("query cluster faces: %w", err)
	}
	defer rows.Close()

	return scanFaces(rows)
}

// ListEventFaces retrieves every face of an event, oldest first.
func (r *FaceRepository) ListEventFaces(ctx context.Context, eventID string) ([]database.FaceRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+faceColumns+`
		FROM face_records
		WHERE event_id = $1
		ORDER BY seq
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query event faces: %w", err)
	}
	defer rows.Close()

	return scanFaces(rows)
}

func scanFaces(rows *sql.Rows) ([]database.FaceRecord, error) {
	var faces []database.FaceRecord
	for rows.Next() {
		var (
			face database.FaceRecord
			vec  pgvector.Vector
		)
		if err := rows.Scan(&face.ID, &face.EventID, &face.ClusterID, &face.ImageRef,
			&face.FaceIndex, &vec, &face.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		face.Embedding = embedding.FromFloat32(vec.Slice())
		faces = append(faces, face)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faces: %w", err)
	}
	return faces, nil
}
