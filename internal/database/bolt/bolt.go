// Package bolt implements database.EncodingStore on top of an embedded bbolt file,
// for single-node deployments without PostgreSQL.
//
// Layout:
//
//	events/<event_id>/meta            revision counter
//	events/<event_id>/clusters/<id>   clusterRecord (JSON)
//	events/<event_id>/faces/<seq>     faceRecord (JSON)
//	cluster_index/<id>                event_id
//
// Vectors are stored with the versioned embedding codec.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/facesnap/internal/database"
	"github.com/kozaktomas/facesnap/internal/embedding"
	"go.etcd.io/bbolt"
)

var (
	bucketEvents       = []byte("events")
	bucketClusterIndex = []byte("cluster_index")
	bucketClusters     = []byte("clusters")
	bucketFaces        = []byte("faces")
	keyRevision        = []byte("revision")
)

type clusterRecord struct {
	MemberCount int       `json:"member_count"`
	Centroid    []byte    `json:"centroid"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type faceRecord struct {
	ID        string    `json:"id"`
	ClusterID int64     `json:"cluster_id"`
	ImageRef  string    `json:"image_ref"`
	FaceIndex int       `json:"face_index"`
	Embedding []byte    `json:"embedding"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a bbolt-backed EncodingStore. bbolt allows a single writer at a
// time, which serializes every create and update.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the database file at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketEvents, bucketClusterIndex} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database file.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing bolt db: %w", err)
	}
	return nil
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v)) //nolint:gosec // IDs are positive
	return b
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b)) //nolint:gosec // IDs are positive
}

func revisionOf(ev *bbolt.Bucket) int64 {
	if ev == nil {
		return 0
	}
	if v := ev.Get(keyRevision); v != nil {
		return btoi(v)
	}
	return 0
}

func decodeCluster(eventID string, id int64, data []byte) (database.Cluster, error) {
	var rec clusterRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return database.Cluster{}, fmt.Errorf("decode cluster %d: %w", id, err)
	}
	centroid, err := embedding.Decode(rec.Centroid)
	if err != nil {
		return database.Cluster{}, fmt.Errorf("decode centroid of cluster %d: %w", id, err)
	}
	return database.Cluster{
		ID:          id,
		EventID:     eventID,
		Centroid:    centroid,
		MemberCount: rec.MemberCount,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}, nil
}

func putCluster(b *bbolt.Bucket, c database.Cluster) error {
	data, err := json.Marshal(clusterRecord{
		MemberCount: c.MemberCount,
		Centroid:    embedding.Encode(c.Centroid),
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode cluster %d: %w", c.ID, err)
	}
	return b.Put(itob(c.ID), data)
}

func decodeFace(eventID string, data []byte) (database.FaceRecord, error) {
	var rec faceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return database.FaceRecord{}, fmt.Errorf("decode face: %w", err)
	}
	var vec embedding.Vector
	if len(rec.Embedding) > 0 {
		var err error
		vec, err = embedding.Decode(rec.Embedding)
		if err != nil {
			return database.FaceRecord{}, fmt.Errorf("decode embedding of face %s: %w", rec.ID, err)
		}
	}
	return database.FaceRecord{
		ID:        rec.ID,
		EventID:   eventID,
		ClusterID: rec.ClusterID,
		ImageRef:  rec.ImageRef,
		FaceIndex: rec.FaceIndex,
		Embedding: vec,
		CreatedAt: rec.CreatedAt,
	}, nil
}

// lookupCluster resolves a cluster ID to its event bucket and clusters bucket.
func lookupCluster(tx *bbolt.Tx, id int64) (string, *bbolt.Bucket, error) {
	eventID := tx.Bucket(bucketClusterIndex).Get(itob(id))
	if eventID == nil {
		return "", nil, fmt.Errorf("cluster %d: %w", id, database.ErrNotFound)
	}
	ev := tx.Bucket(bucketEvents).Bucket(eventID)
	if ev == nil || ev.Bucket(bucketClusters) == nil {
		return "", nil, fmt.Errorf("cluster %d: event %s missing: %w", id, eventID, database.ErrNotFound)
	}
	return string(eventID), ev.Bucket(bucketClusters), nil
}

// ListClusters returns all clusters of an event from a single read transaction.
func (s *Store) ListClusters(ctx context.Context, eventID string) (database.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return database.Snapshot{}, err
	}
	snap := database.Snapshot{EventID: eventID}
	err := s.db.View(func(tx *bbolt.Tx) error {
		ev := tx.Bucket(bucketEvents).Bucket([]byte(eventID))
		if ev == nil {
			return nil
		}
		snap.Revision = revisionOf(ev)
		clusters := ev.Bucket(bucketClusters)
		if clusters == nil {
			return nil
		}
		return clusters.ForEach(func(k, v []byte) error {
			c, err := decodeCluster(eventID, btoi(k), v)
			if err != nil {
				return err
			}
			snap.Clusters = append(snap.Clusters, c)
			return nil
		})
	})
	if err != nil {
		return database.Snapshot{}, fmt.Errorf("list clusters: %w", err)
	}
	database.SortClusters(snap.Clusters)
	return snap, nil
}

// GetCluster returns a cluster by ID.
func (s *Store) GetCluster(ctx context.Context, clusterID int64) (database.Cluster, error) {
	if err := ctx.Err(); err != nil {
		return database.Cluster{}, err
	}
	var c database.Cluster
	err := s.db.View(func(tx *bbolt.Tx) error {
		eventID, clusters, err := lookupCluster(tx, clusterID)
		if err != nil {
			return err
		}
		data := clusters.Get(itob(clusterID))
		if data == nil {
			return fmt.Errorf("cluster %d: %w", clusterID, database.ErrNotFound)
		}
		c, err = decodeCluster(eventID, clusterID, data)
		return err
	})
	return c, err
}

// CreateCluster inserts a new cluster if the event revision still matches.
func (s *Store) CreateCluster(ctx context.Context, eventID string, centroid embedding.Vector, expectedRevision int64) (database.Cluster, error) {
	if err := ctx.Err(); err != nil {
		return database.Cluster{}, err
	}
	var c database.Cluster
	err := s.db.Update(func(tx *bbolt.Tx) error {
		ev, err := tx.Bucket(bucketEvents).CreateBucketIfNotExists([]byte(eventID))
		if err != nil {
			return fmt.Errorf("create event bucket: %w", err)
		}
		revision := revisionOf(ev)
		if revision != expectedRevision {
			return fmt.Errorf("event %s revision %d, expected %d: %w",
				eventID, revision, expectedRevision, database.ErrConflict)
		}
		clusters, err := ev.CreateBucketIfNotExists(bucketClusters)
		if err != nil {
			return fmt.Errorf("create clusters bucket: %w", err)
		}

		index := tx.Bucket(bucketClusterIndex)
		seq, err := index.NextSequence()
		if err != nil {
			return fmt.Errorf("allocate cluster id: %w", err)
		}

		now := time.Now().UTC()
		c = database.Cluster{
			ID:          int64(seq), //nolint:gosec // sequence stays far below MaxInt64
			EventID:     eventID,
			Centroid:    centroid.Clone(),
			MemberCount: 1,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := putCluster(clusters, c); err != nil {
			return err
		}
		if err := index.Put(itob(c.ID), []byte(eventID)); err != nil {
			return fmt.Errorf("index cluster: %w", err)
		}
		return ev.Put(keyRevision, itob(revision+1))
	})
	if err != nil {
		return database.Cluster{}, err
	}
	return c, nil
}

// UpdateCluster writes a new centroid and count if the count still matches.
func (s *Store) UpdateCluster(ctx context.Context, update database.ClusterUpdate) (database.Cluster, error) {
	if err := ctx.Err(); err != nil {
		return database.Cluster{}, err
	}
	var c database.Cluster
	err := s.db.Update(func(tx *bbolt.Tx) error {
		eventID, clusters, err := lookupCluster(tx, update.ID)
		if err != nil {
			return err
		}
		data := clusters.Get(itob(update.ID))
		if data == nil {
			return fmt.Errorf("cluster %d: %w", update.ID, database.ErrNotFound)
		}
		current, err := decodeCluster(eventID, update.ID, data)
		if err != nil {
			return err
		}
		if current.MemberCount != update.ExpectedCount {
			return fmt.Errorf("cluster %d member count %d, expected %d: %w",
				update.ID, current.MemberCount, update.ExpectedCount, database.ErrConflict)
		}
		current.Centroid = update.Centroid.Clone()
		current.MemberCount = update.MemberCount
		current.UpdatedAt = time.Now().UTC()
		c = current
		return putCluster(clusters, c)
	})
	if err != nil {
		return database.Cluster{}, err
	}
	return c, nil
}

// RecordFace appends a face record to its event.
func (s *Store) RecordFace(ctx context.Context, face database.FaceRecord) (database.FaceRecord, error) {
	if err := ctx.Err(); err != nil {
		return database.FaceRecord{}, err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		eventID, _, err := lookupCluster(tx, face.ClusterID)
		if err != nil {
			return err
		}
		if face.EventID == "" {
			face.EventID = eventID
		}
		if face.EventID != eventID {
			return fmt.Errorf("cluster %d belongs to event %s, not %s", face.ClusterID, eventID, face.EventID)
		}
		faces, err := tx.Bucket(bucketEvents).Bucket([]byte(eventID)).CreateBucketIfNotExists(bucketFaces)
		if err != nil {
			return fmt.Errorf("create faces bucket: %w", err)
		}
		seq, err := faces.NextSequence()
		if err != nil {
			return fmt.Errorf("allocate face sequence: %w", err)
		}
		if face.ID == "" {
			face.ID = uuid.NewString()
		}
		face.CreatedAt = time.Now().UTC()

		rec := faceRecord{
			ID:        face.ID,
			ClusterID: face.ClusterID,
			ImageRef:  face.ImageRef,
			FaceIndex: face.FaceIndex,
			CreatedAt: face.CreatedAt,
		}
		if len(face.Embedding) > 0 {
			rec.Embedding = embedding.Encode(face.Embedding)
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode face: %w", err)
		}
		return faces.Put(itob(int64(seq)), data) //nolint:gosec // sequence stays far below MaxInt64
	})
	if err != nil {
		return database.FaceRecord{}, err
	}
	face.Embedding = face.Embedding.Clone()
	return face, nil
}

func (s *Store) listFaces(ctx context.Context, eventID string, keep func(database.FaceRecord) bool) ([]database.FaceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []database.FaceRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		ev := tx.Bucket(bucketEvents).Bucket([]byte(eventID))
		if ev == nil || ev.Bucket(bucketFaces) == nil {
			return nil
		}
		return ev.Bucket(bucketFaces).ForEach(func(_, v []byte) error {
			f, err := decodeFace(eventID, v)
			if err != nil {
				return err
			}
			if keep(f) {
				out = append(out, f)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list faces: %w", err)
	}
	return out, nil
}

// ListFaces returns the faces of a cluster in insertion order.
func (s *Store) ListFaces(ctx context.Context, eventID string, clusterID int64) ([]database.FaceRecord, error) {
	return s.listFaces(ctx, eventID, func(f database.FaceRecord) bool { return f.ClusterID == clusterID })
}

// ListEventFaces returns every face of an event in insertion order.
func (s *Store) ListEventFaces(ctx context.Context, eventID string) ([]database.FaceRecord, error) {
	return s.listFaces(ctx, eventID, func(database.FaceRecord) bool { return true })
}

// EventStats returns cluster and face counts.
func (s *Store) EventStats(ctx context.Context, eventID string) (database.EventStats, error) {
	if err := ctx.Err(); err != nil {
		return database.EventStats{}, err
	}
	stats := database.EventStats{EventID: eventID}
	err := s.db.View(func(tx *bbolt.Tx) error {
		ev := tx.Bucket(bucketEvents).Bucket([]byte(eventID))
		if ev == nil {
			return nil
		}
		stats.Revision = revisionOf(ev)
		if b := ev.Bucket(bucketClusters); b != nil {
			stats.ClusterCount = b.Stats().KeyN
		}
		if b := ev.Bucket(bucketFaces); b != nil {
			stats.FaceCount = b.Stats().KeyN
		}
		return nil
	})
	if err != nil {
		return database.EventStats{}, fmt.Errorf("event stats: %w", err)
	}
	return stats, nil
}

// DeleteEvent drops the event's clusters, faces and cluster index entries.
// The event bucket stays behind with a bumped revision so a snapshot taken
// before the delete cannot pass the create CAS afterwards.
func (s *Store) DeleteEvent(ctx context.Context, eventID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		ev := tx.Bucket(bucketEvents).Bucket([]byte(eventID))
		if ev == nil {
			return nil
		}
		if clusters := ev.Bucket(bucketClusters); clusters != nil {
			index := tx.Bucket(bucketClusterIndex)
			var ids [][]byte
			if err := clusters.ForEach(func(k, _ []byte) error {
				ids = append(ids, append([]byte(nil), k...))
				return nil
			}); err != nil {
				return err
			}
			for _, id := range ids {
				if err := index.Delete(id); err != nil {
					return fmt.Errorf("unindex cluster: %w", err)
				}
			}
		}
		for _, name := range [][]byte{bucketClusters, bucketFaces} {
			if ev.Bucket(name) == nil {
				continue
			}
			if err := ev.DeleteBucket(name); err != nil {
				return fmt.Errorf("delete %s bucket: %w", name, err)
			}
		}
		return ev.Put(keyRevision, itob(revisionOf(ev)+1))
	})
}

var _ database.EncodingStore = (*Store)(nil)
