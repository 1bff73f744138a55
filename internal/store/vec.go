package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/vthunder/cogmem/internal/logging"
)

func init() {
	sqlite_vec.Auto() // registers the vec0 virtual table with go-sqlite3
}

// vecIndex tracks the optional sqlite-vec ANN index over documents. It is
// only available with the cgo driver.
type vecIndex struct {
	mu        sync.Mutex
	available bool
	dim       int // 0 = table not created yet
}

func (s *Store) initVec(ctx context.Context) {
	if s.driver != DriverSQLite3 {
		return
	}

	var version string
	if err := s.db.QueryRowContext(ctx, "SELECT vec_version()").Scan(&version); err != nil {
		logging.Info("store", "sqlite-vec not available: %v, falling back to full scan", err)
		return
	}
	logging.Info("store", "sqlite-vec %s loaded", version)
	s.vec.available = true

	// restore the dimension from existing documents
	var embBytes []byte
	err := s.db.QueryRowContext(ctx, `SELECT embedding FROM documents LIMIT 1`).Scan(&embBytes)
	if err != nil {
		return
	}
	var emb []float64
	if err := json.Unmarshal(embBytes, &emb); err != nil || len(emb) == 0 {
		return
	}
	if err := s.ensureVecTable(ctx, len(emb)); err != nil {
		logging.Warn("store", "vec init: %v", err)
	}
}

// VecAvailable reports whether KNN queries go through sqlite-vec
func (s *Store) VecAvailable() bool {
	s.vec.mu.Lock()
	defer s.vec.mu.Unlock()
	return s.vec.available
}

// ensureVecTable creates doc_vec for dim and backfills it from documents.
// Idempotent for the same dimension.
//
// vec0 rows are keyed by the documents rowid with the document id kept as an
// auxiliary column.
func (s *Store) ensureVecTable(ctx context.Context, dim int) error {
	s.vec.mu.Lock()
	defer s.vec.mu.Unlock()

	if !s.vec.available || s.vec.dim == dim {
		return nil
	}
	if s.vec.dim != 0 {
		return fmt.Errorf("embedding dim %d doesn't match vec table dim %d", dim, s.vec.dim)
	}

	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS doc_vec USING vec0(
			embedding float[%d],
			+doc_id TEXT
		)
	`, dim))
	if err != nil {
		return fmt.Errorf("failed to create doc_vec(float[%d]): %w", dim, err)
	}
	s.vec.dim = dim

	rows, err := s.db.QueryContext(ctx, `SELECT rowid, id, embedding FROM documents`)
	if err != nil {
		return nil // backfill failure is non-fatal
	}
	type pending struct {
		rowid int64
		id    string
		emb   []float64
	}
	var backlog []pending
	for rows.Next() {
		var p pending
		var embBytes []byte
		if err := rows.Scan(&p.rowid, &p.id, &embBytes); err != nil {
			continue
		}
		if err := json.Unmarshal(embBytes, &p.emb); err != nil || len(p.emb) != dim {
			continue
		}
		backlog = append(backlog, p)
	}
	rows.Close()

	count := 0
	for _, p := range backlog {
		if err := s.upsertVec(ctx, p.rowid, p.id, p.emb); err != nil {
			logging.Warn("store", "vec backfill failed for %s: %v", p.id, err)
			continue
		}
		count++
	}
	if count > 0 {
		logging.Info("store", "vec backfill: indexed %d documents (dim=%d)", count, dim)
	}
	return nil
}

// upsertVec writes one normalized embedding into doc_vec
func (s *Store) upsertVec(ctx context.Context, rowid int64, id string, emb []float64) error {
	serialized, err := sqlite_vec.SerializeFloat32(normalizeFloat32(emb))
	if err != nil {
		return err
	}
	// vec0 does not reliably support INSERT OR REPLACE; use DELETE + INSERT.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM doc_vec WHERE rowid = ?`, rowid); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO doc_vec(rowid, embedding, doc_id) VALUES (?, ?, ?)`, rowid, serialized, id)
	return err
}

// knn returns document rowids and L2 distances of the k nearest neighbours
func (s *Store) knn(ctx context.Context, emb []float64, k int) ([]int64, []float64, error) {
	serialized, err := sqlite_vec.SerializeFloat32(normalizeFloat32(emb))
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT rowid, distance FROM doc_vec WHERE embedding MATCH ? AND k = ? ORDER BY distance`,
		serialized, k)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var ids []int64
	var dists []float64
	for rows.Next() {
		var id int64
		var d float64
		if err := rows.Scan(&id, &d); err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
		dists = append(dists, d)
	}
	return ids, dists, rows.Err()
}

// normalizeFloat32 returns a unit-length float32 copy of v. On unit vectors
// L2 distance maps to cosine similarity as sim = 1 - L2²/2.
func normalizeFloat32(v []float64) []float32 {
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	out := make([]float32, len(v))
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, x := range v {
		out[i] = float32(x / norm)
	}
	return out
}

// l2ToCosineSim converts an L2 distance on normalized vectors to cosine similarity
func l2ToCosineSim(l2dist float64) float64 {
	return 1.0 - (l2dist*l2dist)/2.0
}
